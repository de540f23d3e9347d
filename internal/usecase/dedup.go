package usecase

import (
	"context"
	"fmt"

	"TournamentScanner/internal/domain"
	"TournamentScanner/internal/ports"
)

// DedupIndex tracks identity keys already known to the store or seen earlier
// in the current run. Matching is exact and case-sensitive on (name, start date).
// It is owned by a single orchestrating loop and is not safe for concurrent use.
type DedupIndex struct {
	keys map[domain.IdentityKey]struct{}
}

// NewDedupIndex seeds the index with keys.
func NewDedupIndex(keys ...domain.IdentityKey) *DedupIndex {
	idx := &DedupIndex{keys: make(map[domain.IdentityKey]struct{}, len(keys))}
	for _, k := range keys {
		idx.keys[k] = struct{}{}
	}
	return idx
}

// LoadDedupIndex seeds the index from the repository's stored keys.
func LoadDedupIndex(ctx context.Context, repo ports.TournamentRepository) (*DedupIndex, error) {
	keys, err := repo.IdentityKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("load identity keys: %w", err)
	}
	return NewDedupIndex(keys...), nil
}

// Exists reports whether key is known.
func (d *DedupIndex) Exists(key domain.IdentityKey) bool {
	_, ok := d.keys[key]
	return ok
}

// Record marks key as known for the remainder of the run.
func (d *DedupIndex) Record(key domain.IdentityKey) {
	d.keys[key] = struct{}{}
}

// Len returns the number of known keys.
func (d *DedupIndex) Len() int {
	return len(d.keys)
}
