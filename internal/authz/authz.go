// Package authz holds the set of user-approved domains that gates request
// tracking.
package authz

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/rcliao/netpulse/internal/kv"
)

// StorageKey is the durable key holding the approved domain list.
const StorageKey = "authorizedDomains"

// Authorizer answers whether a domain may be tracked.
type Authorizer interface {
	IsAuthorized(ctx context.Context, domain string) (bool, error)
}

// DomainStore persists approved domains in a kv.Store. A domain is
// authorized when it equals an approved entry or is a subdomain of one.
type DomainStore struct {
	mu    sync.Mutex
	store kv.Store
}

// NewDomainStore returns a DomainStore backed by store.
func NewDomainStore(store kv.Store) *DomainStore {
	return &DomainStore{store: store}
}

// Normalize lowercases a domain and strips any port and trailing dot.
func Normalize(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	if host, _, err := net.SplitHostPort(d); err == nil {
		d = host
	}
	return strings.TrimSuffix(d, ".")
}

// List returns the approved domains, sorted.
func (s *DomainStore) List(ctx context.Context) ([]string, error) {
	domains, _, err := kv.GetJSON[[]string](ctx, s.store, StorageKey)
	if err != nil {
		return nil, fmt.Errorf("load domains: %w", err)
	}
	sort.Strings(domains)
	return domains, nil
}

// Add approves domains. Already-approved entries are ignored.
func (s *DomainStore) Add(ctx context.Context, domains ...string) ([]string, error) {
	return s.update(ctx, func(set map[string]bool) {
		for _, d := range domains {
			if d = Normalize(d); d != "" {
				set[d] = true
			}
		}
	})
}

// Remove revokes domains. Records already captured for them are kept.
func (s *DomainStore) Remove(ctx context.Context, domains ...string) ([]string, error) {
	return s.update(ctx, func(set map[string]bool) {
		for _, d := range domains {
			delete(set, Normalize(d))
		}
	})
}

// Seed approves the configured startup domains.
func (s *DomainStore) Seed(ctx context.Context, domains []string) error {
	if len(domains) == 0 {
		return nil
	}
	_, err := s.Add(ctx, domains...)
	return err
}

func (s *DomainStore) update(ctx context.Context, fn func(map[string]bool)) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(current))
	for _, d := range current {
		set[d] = true
	}
	fn(set)

	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	if err := kv.SetJSON(ctx, s.store, StorageKey, out); err != nil {
		return nil, fmt.Errorf("save domains: %w", err)
	}
	return out, nil
}

// IsAuthorized reports whether domain is approved.
func (s *DomainStore) IsAuthorized(ctx context.Context, domain string) (bool, error) {
	d := Normalize(domain)
	if d == "" {
		return false, nil
	}
	approved, err := s.List(ctx)
	if err != nil {
		return false, err
	}
	for _, a := range approved {
		if d == a || strings.HasSuffix(d, "."+a) {
			return true, nil
		}
	}
	return false, nil
}
