package emailrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yanqian/faq-pipeline/internal/domain/batch"
	"github.com/yanqian/faq-pipeline/internal/domain/inbox"
)

// PostgresRepository reads and updates the emails table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository constructs the repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) InsertEmail(ctx context.Context, email batch.Email) (batch.Email, error) {
	var receivedAt *time.Time
	if !email.ReceivedAt.IsZero() {
		receivedAt = &email.ReceivedAt
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO emails (subject, body, body_key, thread_context, received_at, processed)
		VALUES ($1, $2, NULLIF($3, ''), $4, COALESCE($5, NOW()), FALSE)
		RETURNING id, received_at
	`, email.Subject, email.Body, email.BodyKey, email.ThreadContext, receivedAt)
	if err := row.Scan(&email.ID, &email.ReceivedAt); err != nil {
		return batch.Email{}, err
	}
	email.Processed = false
	return email, nil
}

// ListUnprocessed returns the oldest unprocessed emails first.
func (r *PostgresRepository) ListUnprocessed(ctx context.Context, limit int) ([]batch.Email, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, subject, body, COALESCE(body_key, ''), COALESCE(thread_context, ''), processed, received_at
		FROM emails
		WHERE NOT processed
		ORDER BY received_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []batch.Email
	for rows.Next() {
		var (
			email batch.Email
			body  *string
		)
		if err := rows.Scan(&email.ID, &email.Subject, &body, &email.BodyKey, &email.ThreadContext, &email.Processed, &email.ReceivedAt); err != nil {
			return nil, err
		}
		if body != nil {
			email.Body = *body
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) IsProcessed(ctx context.Context, id int64) (bool, error) {
	var processed bool
	err := r.pool.QueryRow(ctx, `SELECT processed FROM emails WHERE id = $1`, id).Scan(&processed)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("email %d not found", id)
	}
	return processed, err
}

func (r *PostgresRepository) MarkProcessed(ctx context.Context, id int64, outcome batch.Outcome) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE emails
		SET processed = TRUE,
		    processed_at = NOW(),
		    question_count = $2,
		    processing_error = NULLIF($3, '')
		WHERE id = $1
	`, id, outcome.QuestionCount, outcome.Err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("email %d not found", id)
	}
	return nil
}

var (
	_ batch.EmailRepository = (*PostgresRepository)(nil)
	_ inbox.EmailWriter     = (*PostgresRepository)(nil)
)
