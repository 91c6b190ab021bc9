package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
)

func enriched(t *testing.T, ref string) crawler.JobRecord {
	t.Helper()
	rec, err := crawler.NewJobRecord(ref, crawler.Summary{Title: "Go Engineer", DetailURL: "https://uk.indeed.com/viewjob?jk=" + ref}).
		Enrich(crawler.Details{
			Description: "Write Go.",
			Metadata:    crawler.Metadata{Salary: "£50k", JobTypes: []string{"Full-time"}},
			FetchedAt:   time.Unix(1700000000, 0),
		})
	require.NoError(t, err)
	return rec
}

func TestStoreGetAdd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()

	_, found, err := s.Get(ctx, "board", "jk1")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.Add(ctx, "board", enriched(t, "jk1")))
	job, found, err := s.Get(ctx, "board", "jk1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Go Engineer", job.Title)
	require.NotNil(t, job.IndexedAt)

	require.ErrorIs(t, s.Add(ctx, "board", enriched(t, "jk1")), ErrAlreadyIndexed)

	// Catalogs are independent.
	_, found, err = s.Get(ctx, "other", "jk1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestAddIfAbsent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()

	added, err := s.AddIfAbsent(ctx, "board", enriched(t, "jk1"))
	require.NoError(t, err)
	require.True(t, added)
	added, err = s.AddIfAbsent(ctx, "board", enriched(t, "jk1"))
	require.NoError(t, err)
	require.False(t, added)

	docs := s.Documents("board")
	require.Len(t, docs, 1)
	require.Equal(t, "Write Go.", docs[0].Description)
	require.Equal(t, []string{"Full-time"}, docs[0].JobTypes)

	_, err = s.AddIfAbsent(ctx, "board", crawler.JobRecord{})
	require.Error(t, err)
}
