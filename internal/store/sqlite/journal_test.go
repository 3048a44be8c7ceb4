package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

func openClock(t *testing.T) (*Journal, *time.Time) {
	t.Helper()
	j, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	now := time.Unix(1_700_000_000, 0).UTC()
	j.now = func() time.Time { return now }
	return j, &now
}

func TestJournal_LogAndList(t *testing.T) {
	j, now := openClock(t)
	ctx := context.Background()

	require.NoError(t, j.Log(ctx, "market_created", map[string]any{"market_id": "0x01"}))
	*now = now.Add(time.Second)
	require.NoError(t, j.Log(ctx, "shares_bought", map[string]any{"shares": 10}))

	entries, err := j.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "shares_bought", entries[0].Event)
	assert.Equal(t, float64(10), entries[0].Detail["shares"])
	assert.Equal(t, "market_created", entries[1].Event)
	assert.Equal(t, "0x01", entries[1].Detail["market_id"])
	assert.True(t, now.Equal(entries[0].CreatedAt))
}

func TestJournal_ListWindowAndPaging(t *testing.T) {
	j, now := openClock(t)
	ctx := context.Background()
	start := *now
	for i := 0; i < 5; i++ {
		require.NoError(t, j.Log(ctx, "e", map[string]any{"i": i}))
		*now = now.Add(time.Minute)
	}

	since := start.Add(2 * time.Minute)
	entries, err := j.List(ctx, domain.ListOpts{Since: &since})
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	page, err := j.List(ctx, domain.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, float64(3), page[0].Detail["i"])

	tail, err := j.List(ctx, domain.ListOpts{Offset: 4})
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, float64(0), tail[0].Detail["i"])
}

func TestJournal_Prune(t *testing.T) {
	j, now := openClock(t)
	ctx := context.Background()

	require.NoError(t, j.Log(ctx, "old", nil))
	*now = now.Add(48 * time.Hour)
	require.NoError(t, j.Log(ctx, "fresh", nil))

	n, err := j.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := j.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fresh", entries[0].Event)
}
