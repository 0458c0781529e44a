package faqrepo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/yanqian/faq-pipeline/internal/domain/batch"
	"github.com/yanqian/faq-pipeline/internal/domain/faq"
)

// PostgresRepository stores questions, faq_groups and question_groups with
// pgvector embedding columns.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository constructs the repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const questionColumns = `id, email_id, question_text, answer_text, confidence, is_customer_question, embedding, created_at`

const groupColumns = `id, title, representative_question, consolidated_answer, question_count, frequency_score,
	avg_confidence, representative_embedding, is_published, category, tags, created_at, updated_at`

// SaveQuestions implements batch.QuestionSink.
func (r *PostgresRepository) SaveQuestions(ctx context.Context, emailID int64, questions []batch.NewQuestion) ([]int64, error) {
	if len(questions) == 0 {
		return nil, nil
	}
	b := &pgx.Batch{}
	for _, q := range questions {
		b.Queue(`
			INSERT INTO questions (email_id, question_text, answer_text, confidence, is_customer_question, created_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			RETURNING id
		`, emailID, q.Text, q.Answer, q.Confidence, q.IsCustomerQuestion)
	}
	results := r.pool.SendBatch(ctx, b)
	defer results.Close()
	ids := make([]int64, 0, len(questions))
	for range questions {
		var id int64
		if err := results.QueryRow().Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *PostgresRepository) ListClusterable(ctx context.Context, minConfidence float64) ([]faq.Question, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+questionColumns+`
		FROM questions
		WHERE embedding IS NOT NULL
		  AND is_customer_question
		  AND confidence >= $1
		ORDER BY id
	`, minConfidence)
	if err != nil {
		return nil, err
	}
	return collectQuestions(rows)
}

func (r *PostgresRepository) ListMissingEmbeddings(ctx context.Context, limit int) ([]faq.Question, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+questionColumns+`
		FROM questions
		WHERE embedding IS NULL AND is_customer_question
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return collectQuestions(rows)
}

func (r *PostgresRepository) UpdateQuestionEmbedding(ctx context.Context, id int64, embedding []float32, confidence float64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE questions SET embedding = $1, confidence = $2 WHERE id = $3
	`, pgvector.NewVector(embedding), confidence, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("question %d not found", id)
	}
	return nil
}

func (r *PostgresRepository) FindGroupsByQuestions(ctx context.Context, questionIDs []int64) (map[int64]int64, error) {
	out := make(map[int64]int64)
	if len(questionIDs) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT question_id, MIN(group_id)
		FROM question_groups
		WHERE question_id = ANY($1)
		GROUP BY question_id
	`, questionIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var questionID, groupID int64
		if err := rows.Scan(&questionID, &groupID); err != nil {
			return nil, err
		}
		out[questionID] = groupID
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ListMemberships(ctx context.Context, groupIDs []int64) ([]faq.Membership, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT question_id, group_id, similarity_score, is_representative
		FROM question_groups
		WHERE group_id = ANY($1)
		ORDER BY group_id, question_id
	`, groupIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []faq.Membership
	for rows.Next() {
		var m faq.Membership
		if err := rows.Scan(&m.QuestionID, &m.GroupID, &m.SimilarityScore, &m.IsRepresentative); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetGroup(ctx context.Context, id int64) (faq.Group, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+groupColumns+` FROM faq_groups WHERE id = $1`, id)
	g, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return faq.Group{}, false, nil
		}
		return faq.Group{}, false, err
	}
	return g, true, nil
}

func (r *PostgresRepository) ListGroups(ctx context.Context, filter faq.GroupFilter) ([]faq.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM faq_groups`
	var args []any
	if filter.PublishedOnly {
		query += ` WHERE is_published`
	}
	query += ` ORDER BY frequency_score DESC, id ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []faq.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// WithinTx wraps fn in a database transaction.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(tx faq.GroupTx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// statsUpdate recomputes statistics from question_groups. It is shared by
// RefreshGroupStats and RecountGroup so both apply the same formula.
const statsUpdate = `
	WITH stats AS (
		SELECT g.id AS group_id,
		       COUNT(q.id)::int AS cnt,
		       COALESCE(AVG(q.confidence), 0)::float8 AS avg_conf
		FROM faq_groups g
		LEFT JOIN question_groups qg ON qg.group_id = g.id
		LEFT JOIN questions q ON q.id = qg.question_id
		WHERE g.id = ANY($1)
		GROUP BY g.id
	)
	UPDATE faq_groups g
	SET question_count = stats.cnt,
	    avg_confidence = stats.avg_conf,
	    frequency_score = stats.cnt * stats.avg_conf,
	    updated_at = NOW()
	FROM stats
	WHERE g.id = stats.group_id
	RETURNING g.id, g.title, g.representative_question, g.consolidated_answer, g.question_count, g.frequency_score,
	          g.avg_confidence, g.representative_embedding, g.is_published, g.category, g.tags, g.created_at, g.updated_at
`

func (r *PostgresRepository) RefreshGroupStats(ctx context.Context, groupIDs []int64) ([]faq.Group, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, statsUpdate, groupIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []faq.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) CreateGroup(ctx context.Context, g faq.Group) (faq.Group, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO faq_groups (title, representative_question, consolidated_answer, question_count, frequency_score,
			avg_confidence, representative_embedding, is_published, category, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+groupColumns,
		g.Title, g.RepresentativeQuestion, g.ConsolidatedAnswer, g.QuestionCount, g.FrequencyScore,
		g.AvgConfidence, vectorArg(g.RepresentativeEmbedding), g.IsPublished, g.Category, tagsArg(g.Tags), g.CreatedAt, g.UpdatedAt)
	return scanGroup(row)
}

func (t *postgresTx) UpdateGroup(ctx context.Context, g faq.Group) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE faq_groups
		SET title = $1, representative_question = $2, consolidated_answer = $3, question_count = $4,
		    frequency_score = $5, avg_confidence = $6, representative_embedding = $7, is_published = $8,
		    category = $9, tags = $10, updated_at = $11
		WHERE id = $12
	`, g.Title, g.RepresentativeQuestion, g.ConsolidatedAnswer, g.QuestionCount,
		g.FrequencyScore, g.AvgConfidence, vectorArg(g.RepresentativeEmbedding), g.IsPublished,
		g.Category, tagsArg(g.Tags), g.UpdatedAt, g.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("group %d not found", g.ID)
	}
	return nil
}

func (t *postgresTx) UpsertMemberships(ctx context.Context, rows []faq.Membership) error {
	if len(rows) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, row := range rows {
		if row.IsRepresentative {
			b.Queue(`
				UPDATE question_groups SET is_representative = FALSE
				WHERE group_id = $1 AND question_id <> $2 AND is_representative
			`, row.GroupID, row.QuestionID)
		}
		b.Queue(`
			INSERT INTO question_groups (question_id, group_id, similarity_score, is_representative)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (question_id, group_id)
			DO UPDATE SET similarity_score = EXCLUDED.similarity_score,
			              is_representative = EXCLUDED.is_representative
		`, row.QuestionID, row.GroupID, row.SimilarityScore, row.IsRepresentative)
	}
	return t.tx.SendBatch(ctx, b).Close()
}

func (t *postgresTx) MoveMemberships(ctx context.Context, from []int64, to int64) error {
	if len(from) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO question_groups (question_id, group_id, similarity_score, is_representative)
		SELECT question_id, $2, similarity_score, FALSE
		FROM question_groups
		WHERE group_id = ANY($1)
		ON CONFLICT (question_id, group_id) DO NOTHING
	`, from, to)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `DELETE FROM question_groups WHERE group_id = ANY($1)`, from)
	return err
}

func (t *postgresTx) DeleteGroups(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM faq_groups WHERE id = ANY($1)`, ids)
	return err
}

func (t *postgresTx) RecountGroup(ctx context.Context, id int64) (faq.Group, error) {
	return scanGroup(t.tx.QueryRow(ctx, statsUpdate, []int64{id}))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func collectQuestions(rows pgx.Rows) ([]faq.Question, error) {
	defer rows.Close()
	var out []faq.Question
	for rows.Next() {
		var (
			q            faq.Question
			embeddingRaw any
		)
		if err := rows.Scan(&q.ID, &q.EmailID, &q.Text, &q.Answer, &q.Confidence, &q.IsCustomerQuestion, &embeddingRaw, &q.CreatedAt); err != nil {
			return nil, err
		}
		embedding, err := normalizeEmbedding(embeddingRaw)
		if err != nil {
			return nil, err
		}
		q.Embedding = embedding
		out = append(out, q)
	}
	return out, rows.Err()
}

func scanGroup(row rowScanner) (faq.Group, error) {
	var (
		g            faq.Group
		embeddingRaw any
		category     *string
	)
	if err := row.Scan(&g.ID, &g.Title, &g.RepresentativeQuestion, &g.ConsolidatedAnswer, &g.QuestionCount, &g.FrequencyScore,
		&g.AvgConfidence, &embeddingRaw, &g.IsPublished, &category, &g.Tags, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return faq.Group{}, err
	}
	embedding, err := normalizeEmbedding(embeddingRaw)
	if err != nil {
		return faq.Group{}, err
	}
	g.RepresentativeEmbedding = embedding
	if category != nil {
		g.Category = *category
	}
	return g, nil
}

func vectorArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func tagsArg(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// normalizeEmbedding accepts the shapes pgx hands back for a vector column
// depending on whether the pgvector type is registered on the connection.
func normalizeEmbedding(raw any) ([]float32, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case pgvector.Vector:
		return append([]float32(nil), v.Slice()...), nil
	case []float32:
		return append([]float32(nil), v...), nil
	case []float64:
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}
		return out, nil
	case string:
		trimmed := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(v), "["), "]")
		if trimmed == "" {
			return nil, nil
		}
		parts := strings.Split(trimmed, ",")
		out := make([]float32, 0, len(parts))
		for _, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
			if err != nil {
				return nil, err
			}
			out = append(out, float32(f))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported embedding type %T", raw)
	}
}

var (
	_ faq.Repository     = (*PostgresRepository)(nil)
	_ batch.QuestionSink = (*PostgresRepository)(nil)
)
