package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.DiscardHandler)

type countingSweeper struct {
	finalize atomic.Int32
	archive  atomic.Int32
}

func (c *countingSweeper) FinalizeDue(context.Context) (int, error) {
	c.finalize.Add(1)
	return 0, nil
}

func (c *countingSweeper) ArchiveSettled(context.Context) (int, error) {
	c.archive.Add(1)
	return 0, errors.New("bucket unavailable")
}

func TestRunner_AddRejectsBadSpec(t *testing.T) {
	r := New(discard, 0)
	_, err := r.Add("bad", "not a spec", func(context.Context) error { return nil })
	assert.ErrorContains(t, err, "scheduler: add bad")
	assert.Zero(t, r.Entries())
}

func TestRegister(t *testing.T) {
	r := New(discard, 0)
	require.NoError(t, Register(r, DefaultSchedules, &countingSweeper{}, nil))
	assert.Equal(t, 2, r.Entries())

	r = New(discard, 0)
	prune := func(context.Context) (int64, error) { return 0, nil }
	require.NoError(t, Register(r, Schedules{Finalize: "@every 1s", Prune: "@daily"}, &countingSweeper{}, prune))
	assert.Equal(t, 2, r.Entries())
}

func TestRunner_RunsJobs(t *testing.T) {
	r := New(discard, time.Second)
	sw := &countingSweeper{}
	require.NoError(t, Register(r, Schedules{Finalize: "* * * * * *", Archive: "* * * * * *"}, sw, nil))

	r.Start()
	require.Eventually(t, func() bool {
		return sw.finalize.Load() > 0 && sw.archive.Load() > 0
	}, 3*time.Second, 20*time.Millisecond)
	r.Stop()
}

func TestRunner_StopCancelsJobContext(t *testing.T) {
	r := New(discard, 0)
	started := make(chan struct{})
	cancelled := make(chan struct{})
	_, err := r.Add("block", "* * * * * *", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
			return nil
		}
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	require.NoError(t, err)

	r.Start()
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}
	r.Stop()
	select {
	case <-cancelled:
	default:
		t.Fatal("job context not cancelled by Stop")
	}
}
