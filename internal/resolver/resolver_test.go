package resolver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/art-gallery/api-go/internal/model"
	"github.com/example/art-gallery/api-go/internal/relay"
)

// scriptedRelay answers each call with the next handler in script, repeating
// the last one once exhausted.
type scriptedRelay struct {
	calls  atomic.Int32
	mu     sync.Mutex
	urls   []string
	script []http.HandlerFunc
}

func (s *scriptedRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := int(s.calls.Add(1))
	s.mu.Lock()
	s.urls = append(s.urls, r.URL.Query().Get("url"))
	s.mu.Unlock()
	i := n - 1
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	s.script[i](w, r)
}

func ok(w http.ResponseWriter, _ *http.Request) {
	_ = json.NewEncoder(w).Encode(relay.Response{
		Success:     true,
		DataURL:     relay.EncodeDataURL("image/png", []byte("img")),
		ContentType: "image/png",
	})
}

func serverError(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "boom", http.StatusBadGateway)
}

func reportedFailure(w http.ResponseWriter, _ *http.Request) {
	_ = json.NewEncoder(w).Encode(relay.Response{Success: false, Error: "upstream 404"})
}

func malformed(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("<html>not json"))
}

func badDataURL(w http.ResponseWriter, _ *http.Request) {
	_ = json.NewEncoder(w).Encode(relay.Response{Success: true, DataURL: "data:image/png;base64,@@@"})
}

type sleepRecorder struct{ waits []time.Duration }

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func newTestResolver(t *testing.T, script ...http.HandlerFunc) (*Resolver, *scriptedRelay, *sleepRecorder) {
	t.Helper()
	rel := &scriptedRelay{script: script}
	srv := httptest.NewServer(rel)
	t.Cleanup(srv.Close)
	rec := &sleepRecorder{}
	return New(srv.URL, WithSleep(rec.sleep)), rel, rec
}

func TestResolve_FirstAttempt(t *testing.T) {
	r, rel, rec := newTestResolver(t, ok)

	out := r.Resolve(context.Background(), "https://images.example.org/a.png?x=1&y=2")

	require.Equal(t, model.OutcomeResolved, out.Status)
	require.NotNil(t, out.Image)
	assert.Equal(t, "image/png", out.Image.MIMEType)
	assert.Equal(t, []byte("img"), out.Image.Data)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, int32(1), rel.calls.Load())
	assert.Empty(t, rec.waits)
	rel.mu.Lock()
	defer rel.mu.Unlock()
	assert.Equal(t, []string{"https://images.example.org/a.png?x=1&y=2"}, rel.urls, "target url passed through the relay intact")
}

func TestResolve_EmptyURLMakesNoCalls(t *testing.T) {
	r, rel, rec := newTestResolver(t, ok)

	for _, u := range []string{"", "   "} {
		out := r.Resolve(context.Background(), u)
		assert.Equal(t, model.OutcomeFailed, out.Status)
		assert.Nil(t, out.Image)
		assert.Zero(t, out.Attempts)
	}
	assert.Zero(t, rel.calls.Load())
	assert.Empty(t, rec.waits)
}

func TestResolve_SucceedsOnThirdAttempt(t *testing.T) {
	r, rel, rec := newTestResolver(t, serverError, reportedFailure, ok)

	out := r.Resolve(context.Background(), "https://example.org/a.jpg")

	assert.Equal(t, model.OutcomeResolved, out.Status)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, int32(3), rel.calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.waits)
}

func TestResolve_FailsAfterThreeAttempts(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"http error", serverError},
		{"success false", reportedFailure},
		{"malformed json", malformed},
		{"bad data url", badDataURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, rel, rec := newTestResolver(t, tt.handler)

			out := r.Resolve(context.Background(), "https://example.org/a.jpg")

			assert.Equal(t, model.OutcomeFailed, out.Status)
			assert.Nil(t, out.Image)
			assert.Equal(t, 3, out.Attempts)
			assert.Equal(t, int32(3), rel.calls.Load())
			assert.Equal(t, []time.Duration{1000 * time.Millisecond, 2000 * time.Millisecond}, rec.waits)
		})
	}
}

func TestResolve_RelayUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	rec := &sleepRecorder{}
	r := New(base, WithSleep(rec.sleep))
	out := r.Resolve(context.Background(), "https://example.org/a.jpg")

	assert.Equal(t, model.OutcomeFailed, out.Status)
	assert.Len(t, rec.waits, 2)
}

func TestResolve_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r, rel, _ := newTestResolver(t, serverError)
	r.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	out := r.Resolve(ctx, "https://example.org/a.jpg")

	assert.Equal(t, model.OutcomeFailed, out.Status)
	assert.Equal(t, int32(1), rel.calls.Load())
}

func TestResolve_StateTransitions(t *testing.T) {
	var phases []string
	r, _, _ := newTestResolver(t, serverError, ok)
	r.Observer = func(_ string, s State) {
		phases = append(phases, s.Phase.String())
	}

	r.Resolve(context.Background(), "https://example.org/a.jpg")

	assert.Equal(t, []string{"pending", "attempting", "attempting", "resolved"}, phases)
}

func TestResolve_CustomCeiling(t *testing.T) {
	r, rel, rec := newTestResolver(t, serverError)
	r.MaxAttempts = 1

	out := r.Resolve(context.Background(), "https://example.org/a.jpg")

	assert.Equal(t, model.OutcomeFailed, out.Status)
	assert.Equal(t, int32(1), rel.calls.Load())
	assert.Empty(t, rec.waits)
}

func TestSleepCtx(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepCtx(context.Background(), time.Millisecond))
}
