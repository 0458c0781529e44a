package emailrepo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/faq-pipeline/internal/domain/batch"
)

func TestMemoryRepositoryQueueOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	late, err := repo.InsertEmail(ctx, batch.Email{Subject: "late", ReceivedAt: base.Add(time.Hour)})
	require.NoError(t, err)
	early, err := repo.InsertEmail(ctx, batch.Email{Subject: "early", ReceivedAt: base})
	require.NoError(t, err)
	_, err = repo.InsertEmail(ctx, batch.Email{Subject: "later", ReceivedAt: base.Add(2 * time.Hour)})
	require.NoError(t, err)

	emails, err := repo.ListUnprocessed(ctx, 2)
	require.NoError(t, err)
	require.Len(t, emails, 2)
	require.Equal(t, early.ID, emails[0].ID)
	require.Equal(t, late.ID, emails[1].ID)
}

func TestMemoryRepositoryMarkProcessed(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	email, err := repo.InsertEmail(ctx, batch.Email{Subject: "hello"})
	require.NoError(t, err)

	processed, err := repo.IsProcessed(ctx, email.ID)
	require.NoError(t, err)
	require.False(t, processed)

	require.NoError(t, repo.MarkProcessed(ctx, email.ID, batch.Outcome{Err: "timeout"}))
	processed, err = repo.IsProcessed(ctx, email.ID)
	require.NoError(t, err)
	require.True(t, processed)

	outcome, ok := repo.Outcome(email.ID)
	require.True(t, ok)
	require.Equal(t, "timeout", outcome.Err)

	remaining, err := repo.ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, remaining)

	require.Error(t, repo.MarkProcessed(ctx, 999, batch.Outcome{}))
}
