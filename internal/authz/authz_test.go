package authz

import (
	"context"
	"testing"

	"github.com/rcliao/netpulse/internal/kv"
)

func TestIsAuthorized(t *testing.T) {
	ctx := context.Background()
	s := NewDomainStore(kv.NewMemoryStore())

	if _, err := s.Add(ctx, "Example.com", "api.other.org:443"); err != nil {
		t.Fatalf("add: %v", err)
	}

	tests := []struct {
		domain string
		want   bool
	}{
		{"example.com", true},
		{"cdn.example.com", true},
		{"EXAMPLE.COM", true},
		{"example.com:8080", true},
		{"notexample.com", false},
		{"other.org", false},
		{"api.other.org", true},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			got, err := s.IsAuthorized(ctx, tt.domain)
			if err != nil {
				t.Fatalf("is authorized: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsAuthorized(%q) = %v, want %v", tt.domain, got, tt.want)
			}
		})
	}
}

func TestAddRemoveList(t *testing.T) {
	ctx := context.Background()
	s := NewDomainStore(kv.NewMemoryStore())

	s.Add(ctx, "b.com", "a.com", "a.com")
	list, _ := s.List(ctx)
	if len(list) != 2 || list[0] != "a.com" {
		t.Fatalf("expected [a.com b.com], got %v", list)
	}

	list, err := s.Remove(ctx, "A.com")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(list) != 1 || list[0] != "b.com" {
		t.Errorf("expected [b.com], got %v", list)
	}

	ok, _ := s.IsAuthorized(ctx, "a.com")
	if ok {
		t.Error("expected a.com to be revoked")
	}
}

func TestEmptyStore(t *testing.T) {
	s := NewDomainStore(kv.NewMemoryStore())
	ok, err := s.IsAuthorized(context.Background(), "example.com")
	if err != nil || ok {
		t.Errorf("expected unauthorized with no error, got ok=%v err=%v", ok, err)
	}
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	s := NewDomainStore(store)

	if err := s.Seed(ctx, []string{"seeded.dev"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// A second DomainStore over the same kv sees the seeded domain
	ok, _ := NewDomainStore(store).IsAuthorized(ctx, "www.seeded.dev")
	if !ok {
		t.Error("expected seeded domain to persist")
	}
}
