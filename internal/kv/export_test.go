package kv

import (
	"context"
	"encoding/json"
	"testing"
)

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := NewMemoryStore()
	src.Set(ctx, "requestData_1", []byte(`{"r1":{"tabId":1}}`))
	src.Set(ctx, "requestData_2", []byte(`{}`))
	src.Set(ctx, "aiAnalysisCache", []byte(`{"entries":{}}`))

	entries, err := Export(ctx, src, "requestData_")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(entries) != 2 || entries[0].Key != "requestData_1" {
		t.Fatalf("entries = %+v", entries)
	}

	dst := NewMemoryStore()
	n, err := Import(ctx, dst, entries)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 2 {
		t.Errorf("imported = %d, want 2", n)
	}
	v, ok, _ := dst.Get(ctx, "requestData_1")
	if !ok || string(v) != `{"r1":{"tabId":1}}` {
		t.Errorf("value = %s, ok = %v", v, ok)
	}
}

func TestImportRejectsInvalidJSON(t *testing.T) {
	ctx := context.Background()
	dst := NewMemoryStore()
	_, err := Import(ctx, dst, []Entry{
		{Key: "a", Value: json.RawMessage(`{}`)},
		{Key: "b", Value: json.RawMessage(`{nope`)},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if keys, _ := dst.Keys(ctx, ""); len(keys) != 0 {
		t.Errorf("partial import wrote %v", keys)
	}
}

func TestDescribeMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Set(ctx, "requestData_1", []byte(`{}`))
	s.Set(ctx, "requestData_9", []byte(`{}`))
	s.Set(ctx, "authorizedDomains", []byte(`[]`))

	st, err := Describe(ctx, s)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if st.Driver != DriverMemory || st.TotalKeys != 3 {
		t.Errorf("stats = %+v", st)
	}
	found := false
	for _, p := range st.Prefixes {
		if p.Prefix == "requestData" && p.Count == 2 {
			found = true
		}
	}
	if !found {
		t.Errorf("prefixes = %+v", st.Prefixes)
	}
}
