package outbox

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	coreerr "github.com/aevon-lab/sliceflow/internal/core/errors"
	"github.com/aevon-lab/sliceflow/internal/core/storage/memory"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestWorker(t *testing.T, h Handler, cfg Config) (*Worker, *memory.Store, *clock) {
	t.Helper()
	s := memory.NewStore()
	clk := &clock{now: epoch}
	cfg.WorkerID = "w1"
	w := NewWorker(s, h, cfg, nil)
	w.nowFn = clk.Now
	w.randFn = func() float64 { return 0.5 }
	return w, s, clk
}

func insert(t *testing.T, s *memory.Store, id, eventType string) {
	t.Helper()
	require.NoError(t, s.InsertOutbox(context.Background(), &v1.OutboxEntry{
		ID: id, EventType: eventType, Status: v1.OutboxPending, CreatedAt: epoch, Payload: []byte(`{}`),
	}))
}

func status(t *testing.T, s *memory.Store, id string) *v1.OutboxEntry {
	t.Helper()
	e, err := s.GetOutbox(context.Background(), id)
	require.NoError(t, err)
	return e
}

func TestWorker_Processes(t *testing.T) {
	var seen []string
	router := NewRouter()
	router.Register("A", HandlerFunc(func(_ context.Context, e *v1.OutboxEntry) error {
		seen = append(seen, e.ID)
		return nil
	}))
	w, s, _ := newTestWorker(t, router, Config{})
	insert(t, s, "1", "A")
	insert(t, s, "2", "A")

	n, err := w.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"1", "2"}, seen)
	assert.Equal(t, v1.OutboxProcessed, status(t, s, "1").Status)
	assert.NotNil(t, status(t, s, "2").ProcessedAt)

	n, err = w.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWorker_RetryThenDLQ(t *testing.T) {
	failing := HandlerFunc(func(context.Context, *v1.OutboxEntry) error { return errors.New("sink down") })
	w, s, clk := newTestWorker(t, failing, Config{
		MaxRetries: 3,
		Backoff:    Backoff{InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2, JitterFactor: 0.1},
	})
	insert(t, s, "1", "A")
	ctx := context.Background()

	var lastDelay time.Duration
	for retry := 1; retry < 3; retry++ {
		n, err := w.PollOnce(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		e := status(t, s, "1")
		require.Equal(t, v1.OutboxPending, e.Status)
		assert.Equal(t, retry, e.RetryCount)
		assert.Equal(t, "sink down", *e.FailureReason)

		delay := e.NextRetryAt.Sub(clk.Now())
		assert.Equal(t, time.Duration(float64(time.Second)*float64(int(1)<<retry)), delay)
		assert.Greater(t, delay, lastDelay, "delays grow with retry count")
		lastDelay = delay

		n, _ = w.PollOnce(ctx)
		assert.Zero(t, n, "not due before next_retry_at")
		clk.Advance(delay)
	}

	_, err := w.PollOnce(ctx)
	require.NoError(t, err)
	e := status(t, s, "1")
	assert.Equal(t, v1.OutboxDLQ, e.Status)
	assert.Equal(t, 3, e.RetryCount)
}

func TestWorker_NonRetryableGoesStraightToDLQ(t *testing.T) {
	w, s, _ := newTestWorker(t, NewRouter(), Config{})
	insert(t, s, "1", "Unknown")

	_, err := w.PollOnce(context.Background())
	require.NoError(t, err)
	e := status(t, s, "1")
	assert.Equal(t, v1.OutboxDLQ, e.Status)
	assert.Zero(t, e.RetryCount)
	assert.Contains(t, *e.FailureReason, "no handler registered")

	contractErr := HandlerFunc(func(context.Context, *v1.OutboxEntry) error {
		return &coreerr.ContractStatusError{Kind: "RULESET", ID: "x", Version: "1.0.0", Status: "ARCHIVED"}
	})
	w2, s2, _ := newTestWorker(t, contractErr, Config{})
	insert(t, s2, "2", "A")
	_, err = w2.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, v1.OutboxDLQ, status(t, s2, "2").Status)
}

func TestWorker_TimeoutLeavesEntryForSweep(t *testing.T) {
	slow := HandlerFunc(func(ctx context.Context, _ *v1.OutboxEntry) error {
		<-ctx.Done()
		return ctx.Err()
	})
	w, s, clk := newTestWorker(t, slow, Config{HandlerTimeout: 10 * time.Millisecond, StaleTimeout: time.Minute, MaxRetries: 2})
	insert(t, s, "1", "A")

	_, err := w.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, v1.OutboxProcessing, status(t, s, "1").Status)

	released, dead, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, released+dead, "claim is not stale yet")

	clk.Advance(2 * time.Minute)
	released, dead, err = w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, released)
	assert.Zero(t, dead)
	e := status(t, s, "1")
	assert.Equal(t, v1.OutboxPending, e.Status)
	assert.Equal(t, 1, e.RetryCount)

	_, err = w.PollOnce(context.Background())
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)
	_, dead, err = w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, dead)
	assert.Equal(t, v1.OutboxDLQ, status(t, s, "1").Status)
}

func TestWorker_ShutdownReleasesUnstarted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var handled []string
	h := HandlerFunc(func(hctx context.Context, e *v1.OutboxEntry) error {
		handled = append(handled, e.ID)
		cancel() // shutdown arrives while the first entry is in flight
		require.NoError(t, hctx.Err(), "in-flight entry keeps running during drain")
		return nil
	})
	w, s, _ := newTestWorker(t, h, Config{DrainTimeout: time.Second})
	insert(t, s, "1", "A")
	insert(t, s, "2", "A")
	insert(t, s, "3", "A")

	n, err := w.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"1"}, handled)
	assert.Equal(t, v1.OutboxProcessed, status(t, s, "1").Status)
	assert.Equal(t, v1.OutboxPending, status(t, s, "2").Status)
	assert.Zero(t, status(t, s, "3").RetryCount, "release does not count a retry")
}

func TestWorker_StartStops(t *testing.T) {
	done := make(chan struct{})
	h := HandlerFunc(func(context.Context, *v1.OutboxEntry) error {
		close(done)
		return nil
	})
	w, s, _ := newTestWorker(t, h, Config{IdleInterval: 5 * time.Millisecond})
	insert(t, s, "1", "A")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("entry was not handled")
	}
	cancel()
	require.NoError(t, <-errCh)
}

func TestBackoff(t *testing.T) {
	b := Backoff{InitialDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2, JitterFactor: 0.2}

	tests := []struct {
		retry int
		r     float64
		want  time.Duration
	}{
		{0, 0.5, time.Second},
		{1, 0.5, 2 * time.Second},
		{3, 0.5, 8 * time.Second},
		{4, 0.5, 10 * time.Second},
		{100, 0.5, 10 * time.Second},
		{1, 0, 1600 * time.Millisecond},
		{1, 1, 2400 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.InDelta(t, float64(tt.want), float64(b.Delay(tt.retry, tt.r)), float64(time.Microsecond),
			"retry=%d r=%v", tt.retry, tt.r)
	}
}

func TestAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := memory.NewStore()
	ctx := context.Background()
	insert(t, s, "dead", "A")
	insert(t, s, "live", "A")
	_, err := s.ClaimOutbox(ctx, "w1", 1, epoch)
	require.NoError(t, err)
	require.NoError(t, s.MoveOutboxToDLQ(ctx, "dead", "w1", 5, "boom"))

	router := gin.New()
	NewAdmin(s).RegisterRoutes(router)

	do := func(method, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		return w
	}

	w := do(http.MethodGet, "/v1/outbox")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"dead"`)
	assert.NotContains(t, w.Body.String(), `"id":"live"`)

	assert.Equal(t, http.StatusBadRequest, do(http.MethodGet, "/v1/outbox?status=NOPE").Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodGet, "/v1/outbox?limit=-1").Code)
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/v1/outbox/live").Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, "/v1/outbox/none").Code)

	assert.Equal(t, http.StatusConflict, do(http.MethodPost, "/v1/outbox/live/replay").Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodPost, "/v1/outbox/none/replay").Code)
	assert.Equal(t, http.StatusAccepted, do(http.MethodPost, "/v1/outbox/dead/replay").Code)
	assert.Equal(t, v1.OutboxPending, status(t, s, "dead").Status)
}
