package usecase

import (
	"context"
	"testing"

	"TournamentScanner/internal/domain"
)

func TestDedupIndex(t *testing.T) {
	t.Parallel()

	known := domain.IdentityKey{Name: "Tata Steel Chess 2025", StartDate: "2025-01-10"}
	idx := NewDedupIndex(known)

	if !idx.Exists(known) {
		t.Fatalf("seeded key must exist")
	}

	fresh := domain.IdentityKey{Name: "Berlin Rapid Open", StartDate: "2025-09-05"}
	if idx.Exists(fresh) {
		t.Fatalf("unseen key must not exist")
	}
	idx.Record(fresh)
	if !idx.Exists(fresh) || idx.Len() != 2 {
		t.Fatalf("recorded key must exist, len=%d", idx.Len())
	}

	for _, k := range []domain.IdentityKey{
		{Name: "berlin rapid open", StartDate: "2025-09-05"},
		{Name: "Berlin Rapid Open ", StartDate: "2025-09-05"},
		{Name: "Berlin Rapid Open", StartDate: "2025-09-06"},
	} {
		if idx.Exists(k) {
			t.Fatalf("lookup must be exact, %v matched", k)
		}
	}
}

func TestLoadDedupIndex(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository(
		domain.IdentityKey{Name: "A", StartDate: "2025-01-01"},
		domain.IdentityKey{Name: "B", StartDate: "2025-01-02"},
	)
	idx, err := LoadDedupIndex(context.Background(), repo)
	if err != nil {
		t.Fatalf("LoadDedupIndex: %v", err)
	}
	if idx.Len() != 2 || !idx.Exists(domain.IdentityKey{Name: "B", StartDate: "2025-01-02"}) {
		t.Fatalf("unexpected index contents, len=%d", idx.Len())
	}
}
