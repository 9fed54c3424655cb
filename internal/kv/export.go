package kv

import (
	"context"
	"encoding/json"
	"fmt"
)

// Entry is one exported key and its JSON value.
type Entry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Export returns every entry whose key starts with prefix, sorted by key.
func Export(ctx context.Context, s Store, prefix string) ([]Entry, error) {
	keys, err := s.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		v, ok, err := s.Get(ctx, k)
		if err != nil {
			return out, fmt.Errorf("export %s: %w", k, err)
		}
		if !ok {
			continue
		}
		out = append(out, Entry{Key: k, Value: v})
	}
	return out, nil
}

// Import writes entries into s, replacing existing keys. Entries whose
// value is not valid JSON are rejected before anything is written.
func Import(ctx context.Context, s Store, entries []Entry) (int, error) {
	for _, e := range entries {
		if e.Key == "" {
			return 0, fmt.Errorf("import: entry with empty key")
		}
		if !json.Valid(e.Value) {
			return 0, fmt.Errorf("import %s: value is not valid JSON", e.Key)
		}
	}
	imported := 0
	for _, e := range entries {
		if err := s.Set(ctx, e.Key, e.Value); err != nil {
			return imported, fmt.Errorf("import %s: %w", e.Key, err)
		}
		imported++
	}
	return imported, nil
}

// Describe returns statistics for any Store. SQLite stores also report
// their file path and size.
func Describe(ctx context.Context, s Store) (*Stats, error) {
	if sq, ok := s.(*SQLiteStore); ok {
		return sq.Stats(ctx)
	}
	st := &Stats{Driver: driverOf(s)}
	keys, err := s.Keys(ctx, "")
	if err != nil {
		return st, err
	}
	st.TotalKeys = len(keys)
	st.Prefixes = groupPrefixes(keys)
	return st, nil
}

func driverOf(s Store) string {
	switch s.(type) {
	case *RedisStore:
		return DriverRedis
	case *MemoryStore:
		return DriverMemory
	}
	return "unknown"
}
