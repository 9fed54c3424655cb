package kv

import (
	"context"
	"os"
	"strings"
)

// Stats holds durable store statistics.
type Stats struct {
	Driver      string        `json:"driver"`
	DBPath      string        `json:"db_path,omitempty"`
	DBSizeBytes int64         `json:"db_size_bytes,omitempty"`
	TotalKeys   int           `json:"total_keys"`
	Prefixes    []PrefixStats `json:"prefixes"`
}

// PrefixStats holds per key-family counts.
type PrefixStats struct {
	Prefix string `json:"prefix"`
	Count  int    `json:"count"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Driver: DriverSQLite, DBPath: s.path}

	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv`).Scan(&st.TotalKeys)

	keys, err := s.Keys(ctx, "")
	if err != nil {
		return st, err
	}
	st.Prefixes = groupPrefixes(keys)
	return st, nil
}

// groupPrefixes counts keys by the part before the first underscore,
// so requestData_12 and requestData_40 fall under requestData.
func groupPrefixes(keys []string) []PrefixStats {
	var out []PrefixStats
	idx := map[string]int{}
	for _, k := range keys {
		p := k
		if i := strings.IndexByte(k, '_'); i > 0 {
			p = k[:i]
		}
		if j, ok := idx[p]; ok {
			out[j].Count++
			continue
		}
		idx[p] = len(out)
		out = append(out, PrefixStats{Prefix: p, Count: 1})
	}
	return out
}
