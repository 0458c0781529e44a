package faq

import "context"

// Repository is the persistence boundary for questions, FAQ groups and
// their associations.
type Repository interface {
	// ListClusterable returns customer questions with an embedding and a
	// confidence at or above minConfidence.
	ListClusterable(ctx context.Context, minConfidence float64) ([]Question, error)
	// ListMissingEmbeddings returns customer questions that still lack an embedding.
	ListMissingEmbeddings(ctx context.Context, limit int) ([]Question, error)
	UpdateQuestionEmbedding(ctx context.Context, id int64, embedding []float32, confidence float64) error

	// FindGroupsByQuestions maps question ids to the group they belong to.
	FindGroupsByQuestions(ctx context.Context, questionIDs []int64) (map[int64]int64, error)
	ListMemberships(ctx context.Context, groupIDs []int64) ([]Membership, error)
	GetGroup(ctx context.Context, id int64) (Group, bool, error)
	ListGroups(ctx context.Context, filter GroupFilter) ([]Group, error)

	// WithinTx runs fn atomically. Nothing fn wrote survives an error.
	WithinTx(ctx context.Context, fn func(tx GroupTx) error) error
	// RefreshGroupStats recomputes count, average confidence and frequency
	// score of the given groups from the association rows.
	RefreshGroupStats(ctx context.Context, groupIDs []int64) ([]Group, error)
}

// GroupTx is the write side available inside WithinTx.
type GroupTx interface {
	CreateGroup(ctx context.Context, group Group) (Group, error)
	UpdateGroup(ctx context.Context, group Group) error
	UpsertMemberships(ctx context.Context, rows []Membership) error
	MoveMemberships(ctx context.Context, from []int64, to int64) error
	DeleteGroups(ctx context.Context, ids []int64) error
	RecountGroup(ctx context.Context, id int64) (Group, error)
}

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// AnswerConsolidator merges member questions and answers into one answer.
type AnswerConsolidator interface {
	Consolidate(ctx context.Context, req ConsolidationRequest) (string, error)
}
