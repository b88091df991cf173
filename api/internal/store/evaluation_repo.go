package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"inkboard/api/internal/recognize"
)

var ErrNotFound = sql.ErrNoRows

const schema = `
create table if not exists evaluations (
  id          bigserial primary key,
  created_at  timestamptz not null default now(),
  image_hash  text not null,
  engine      text not null,
  model       text not null,
  formatted   text not null,
  solution    text not null,
  result_json jsonb not null,
  unique (image_hash, engine, model)
)`

type EvaluationRepo struct{ DB *sql.DB }

func NewEvaluationRepo(db *sql.DB) *EvaluationRepo { return &EvaluationRepo{DB: db} }

// EvaluationRow is one remembered recognition.
type EvaluationRow struct {
	ID         int64                `json:"id"`
	CreatedAt  time.Time            `json:"created_at"`
	ImageHash  string               `json:"image_hash"`
	Engine     string               `json:"engine"`
	Model      string               `json:"model"`
	Prediction recognize.Prediction `json:"prediction"`
}

func (r *EvaluationRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, schema)
	return err
}

// FindByHash returns the latest row for (image_hash, engine, model).
// With maxAge > 0 an older row counts as not found.
func (r *EvaluationRepo) FindByHash(ctx context.Context, imageHash, engine, model string, maxAge time.Duration) (*EvaluationRow, error) {
	const q = `
select id, created_at, image_hash, engine, model, result_json
from evaluations
where image_hash = $1 and engine = $2 and model = $3
order by created_at desc
limit 1`
	var (
		row EvaluationRow
		js  []byte
	)
	err := r.DB.QueryRowContext(ctx, q, imageHash, engine, model).
		Scan(&row.ID, &row.CreatedAt, &row.ImageHash, &row.Engine, &row.Model, &js)
	if err != nil {
		return nil, err
	}
	if maxAge > 0 && time.Since(row.CreatedAt) > maxAge {
		return nil, ErrNotFound
	}
	if err := json.Unmarshal(js, &row.Prediction); err != nil {
		// a broken row is treated as a miss
		return nil, ErrNotFound
	}
	return &row, nil
}

// Upsert stores p, replacing the row for the same (image_hash, engine, model).
func (r *EvaluationRepo) Upsert(ctx context.Context, imageHash, engine, model string, p recognize.Prediction) error {
	js, err := json.Marshal(p)
	if err != nil {
		return err
	}
	const q = `
insert into evaluations (image_hash, engine, model, formatted, solution, result_json)
values ($1,$2,$3,$4,$5,$6)
on conflict (image_hash, engine, model) do update
set formatted = excluded.formatted,
    solution = excluded.solution,
    result_json = excluded.result_json,
    created_at = now()`
	_, err = r.DB.ExecContext(ctx, q, imageHash, engine, model, p.FormattedEquation, p.Solution, js)
	return err
}

// Recent lists the newest rows first.
func (r *EvaluationRepo) Recent(ctx context.Context, limit int) ([]EvaluationRow, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
select id, created_at, image_hash, engine, model, result_json
from evaluations
order by created_at desc
limit $1`
	rows, err := r.DB.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EvaluationRow
	for rows.Next() {
		var (
			row EvaluationRow
			js  []byte
		)
		if err := rows.Scan(&row.ID, &row.CreatedAt, &row.ImageHash, &row.Engine, &row.Model, &js); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(js, &row.Prediction)
		out = append(out, row)
	}
	return out, rows.Err()
}

// PurgeOlderThan deletes rows older than olderThan.
func (r *EvaluationRepo) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().Add(-olderThan)
	const q = `delete from evaluations where created_at < $1`
	res, err := r.DB.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	aff, _ := res.RowsAffected()
	return aff, nil
}
