package kv

import (
	"context"
	"os"
	"testing"
)

// Requires a live server; set NETPULSE_TEST_REDIS_ADDR to run.
func TestRedisStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("NETPULSE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("NETPULSE_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	s, err := NewRedisStore(RedisConfig{Address: addr, KeyPrefix: "netpulse_test:"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	if err := s.Set(ctx, "requestData_1", []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	defer s.Delete(ctx, "requestData_1")

	got, ok, err := s.Get(ctx, "requestData_1")
	if err != nil || !ok || string(got) != "v" {
		t.Fatalf("get: %q ok=%v err=%v", got, ok, err)
	}

	keys, err := s.Keys(ctx, "requestData_")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "requestData_1" {
		t.Errorf("expected prefix-stripped key, got %v", keys)
	}
}
