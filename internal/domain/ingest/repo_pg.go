package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type outcomeRepoPG struct{ db queryable }

// NewOutcomeRepoPG stores outcomes in the intake_outcome table.
func NewOutcomeRepoPG(pool *pgxpool.Pool) OutcomeRepository {
	return &outcomeRepoPG{db: pool}
}

const outcomeCols = `id, document_id, status, reason, items_processed, chunks_audited,
	ignored_legal_chunks, used_placeholder_identifier, gender, source_agent, auditor_model,
	resource_id, provenance_id, dry_run, duration_ms, created_at`

func scanOutcome(row pgx.Row) (*Outcome, error) {
	var o Outcome
	err := row.Scan(&o.ID, &o.DocumentID, &o.Status, &o.Reason, &o.ItemsProcessed, &o.ChunksAudited,
		&o.IgnoredLegalChunks, &o.UsedPlaceholderIdentifier, &o.Gender, &o.SourceAgent, &o.AuditorModel,
		&o.ResourceID, &o.ProvenanceID, &o.DryRun, &o.DurationMS, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *outcomeRepoPG) Create(ctx context.Context, o *Outcome) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO intake_outcome (id, document_id, status, reason, items_processed, chunks_audited,
			ignored_legal_chunks, used_placeholder_identifier, gender, source_agent, auditor_model,
			resource_id, provenance_id, dry_run, duration_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at`,
		o.ID, o.DocumentID, o.Status, o.Reason, o.ItemsProcessed, o.ChunksAudited,
		o.IgnoredLegalChunks, o.UsedPlaceholderIdentifier, o.Gender, o.SourceAgent, o.AuditorModel,
		o.ResourceID, o.ProvenanceID, o.DryRun, o.DurationMS).Scan(&o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

func (r *outcomeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Outcome, error) {
	o, err := scanOutcome(r.db.QueryRow(ctx, `SELECT `+outcomeCols+` FROM intake_outcome WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOutcomeNotFound
	}
	return o, err
}

func (r *outcomeRepoPG) List(ctx context.Context, filter OutcomeFilter, limit, offset int) ([]*Outcome, int, error) {
	where, args := outcomeWhere(filter)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM intake_outcome`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count outcomes: %w", err)
	}

	n := len(args)
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM intake_outcome%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, outcomeCols, where, n+1, n+2),
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	items := []*Outcome{}
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}

// outcomeWhere renders filter as a parameterised WHERE clause.
func outcomeWhere(filter OutcomeFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.DocumentID != "" {
		args = append(args, filter.DocumentID)
		conds = append(conds, fmt.Sprintf("document_id = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
