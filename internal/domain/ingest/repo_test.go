package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestInMemoryOutcomeRepository_ListNewestFirst(t *testing.T) {
	repo := NewInMemoryOutcomeRepository()
	ctx := context.Background()

	for _, o := range []*Outcome{
		{DocumentID: "a", Status: StatusSuccess},
		{DocumentID: "b", Status: StatusRejected},
		{DocumentID: "c", Status: StatusSuccess},
	} {
		if err := repo.Create(ctx, o); err != nil {
			t.Fatal(err)
		}
		if o.ID == uuid.Nil {
			t.Error("expected an assigned id")
		}
	}

	items, total, err := repo.List(ctx, OutcomeFilter{}, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(items) != 2 {
		t.Fatalf("total=%d len=%d", total, len(items))
	}
	if items[0].DocumentID != "c" || items[1].DocumentID != "b" {
		t.Errorf("order = %s,%s", items[0].DocumentID, items[1].DocumentID)
	}

	items, total, _ = repo.List(ctx, OutcomeFilter{Status: StatusSuccess}, 10, 1)
	if total != 2 || len(items) != 1 || items[0].DocumentID != "a" {
		t.Errorf("filtered page = %d items, total %d", len(items), total)
	}

	items, _, _ = repo.List(ctx, OutcomeFilter{}, 10, 50)
	if items == nil || len(items) != 0 {
		t.Errorf("expected empty page, got %v", items)
	}
}

func TestInMemoryOutcomeRepository_GetByID(t *testing.T) {
	repo := NewInMemoryOutcomeRepository()
	ctx := context.Background()

	o := &Outcome{DocumentID: "doc", Status: StatusSkipped}
	if err := repo.Create(ctx, o); err != nil {
		t.Fatal(err)
	}
	got, err := repo.GetByID(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DocumentID != "doc" {
		t.Errorf("document_id = %q", got.DocumentID)
	}

	if _, err := repo.GetByID(ctx, uuid.New()); !errors.Is(err, ErrOutcomeNotFound) {
		t.Errorf("expected ErrOutcomeNotFound, got %v", err)
	}
}

func TestOutcomeWhere(t *testing.T) {
	where, args := outcomeWhere(OutcomeFilter{})
	if where != "" || args != nil {
		t.Errorf("empty filter = %q %v", where, args)
	}

	where, args = outcomeWhere(OutcomeFilter{Status: StatusRejected, DocumentID: "d1"})
	if where != " WHERE status = $1 AND document_id = $2" {
		t.Errorf("where = %q", where)
	}
	if len(args) != 2 {
		t.Errorf("args = %v", args)
	}
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range []Status{StatusRejected, StatusSkipped, StatusSuccess} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Status("PENDING").Valid() {
		t.Error("PENDING should be invalid")
	}
}
