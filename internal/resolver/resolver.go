// Package resolver resolves record images through the trusted relay with
// bounded, linearly backed-off retries.
//
// Each image walks an explicit state machine:
//
//	Pending -> Attempting(1) -> ... -> Attempting(n) -> Resolved | Failed
//
// Resolve never returns an error; every failure becomes a Failed outcome.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/art-gallery/api-go/internal/logging"
	"github.com/example/art-gallery/api-go/internal/metrics"
	"github.com/example/art-gallery/api-go/internal/model"
	"github.com/example/art-gallery/api-go/internal/relay"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = time.Second
	ProxyPath          = "/proxy-image"

	maxRelayBody = 40 << 20
)

type Phase int

const (
	Pending Phase = iota
	Attempting
	Resolved
	Failed
)

func (p Phase) String() string {
	switch p {
	case Pending:
		return "pending"
	case Attempting:
		return "attempting"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// State is one step of an image's resolution. Attempt is set while Attempting
// and records the attempt count once terminal.
type State struct {
	Phase   Phase
	Attempt int
	Err     error
}

func (s State) Terminal() bool { return s.Phase == Resolved || s.Phase == Failed }

// Observer is notified on every state transition.
type Observer func(url string, s State)

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Resolver struct {
	RelayBase   string
	Client      *http.Client
	MaxAttempts int
	Backoff     time.Duration
	Sleep       SleepFunc
	Observer    Observer
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

type Option func(*Resolver)

func WithClient(c *http.Client) Option      { return func(r *Resolver) { r.Client = c } }
func WithMaxAttempts(n int) Option          { return func(r *Resolver) { r.MaxAttempts = n } }
func WithBackoff(d time.Duration) Option    { return func(r *Resolver) { r.Backoff = d } }
func WithSleep(fn SleepFunc) Option         { return func(r *Resolver) { r.Sleep = fn } }
func WithObserver(fn Observer) Option       { return func(r *Resolver) { r.Observer = fn } }
func WithLogger(l *zap.Logger) Option       { return func(r *Resolver) { r.Logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(r *Resolver) { r.Metrics = m } }

// New creates a resolver that talks to the relay rooted at relayBase.
func New(relayBase string, opts ...Option) *Resolver {
	r := &Resolver{
		RelayBase:   strings.TrimRight(relayBase, "/"),
		Client:      &http.Client{Timeout: 90 * time.Second},
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     DefaultBackoff,
		Sleep:       sleepCtx,
		Logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = DefaultMaxAttempts
	}
	return r
}

// Resolve fetches imageURL through the relay. The record index is left for the
// caller to fill in.
func (r *Resolver) Resolve(ctx context.Context, imageURL string) model.Outcome {
	state := State{Phase: Pending}
	r.transition(imageURL, state)

	if strings.TrimSpace(imageURL) == "" {
		state = State{Phase: Failed, Err: errors.New("missing image url")}
		r.transition(imageURL, state)
		return model.Outcome{Status: model.OutcomeFailed}
	}

	var img *model.Image
	for !state.Terminal() {
		state, img = r.step(ctx, imageURL, state)
		r.transition(imageURL, state)
	}

	if state.Phase == Resolved {
		return model.Outcome{Status: model.OutcomeResolved, Image: img, Attempts: state.Attempt}
	}
	return model.Outcome{Status: model.OutcomeFailed, Attempts: state.Attempt}
}

// step advances the machine by one transition.
func (r *Resolver) step(ctx context.Context, imageURL string, s State) (State, *model.Image) {
	switch s.Phase {
	case Pending:
		return State{Phase: Attempting, Attempt: 1}, nil
	case Attempting:
		img, err := r.attempt(ctx, imageURL)
		r.Metrics.RelayAttempt(err == nil)
		if err == nil {
			return State{Phase: Resolved, Attempt: s.Attempt}, img
		}
		r.Logger.Debug("relay attempt failed",
			zap.String("url", imageURL),
			zap.Int("attempt", s.Attempt),
			logging.Err(err))
		if s.Attempt >= r.MaxAttempts {
			return State{Phase: Failed, Attempt: s.Attempt, Err: err}, nil
		}
		if werr := r.Sleep(ctx, r.Backoff*time.Duration(s.Attempt)); werr != nil {
			return State{Phase: Failed, Attempt: s.Attempt, Err: werr}, nil
		}
		return State{Phase: Attempting, Attempt: s.Attempt + 1}, nil
	}
	return s, nil
}

func (r *Resolver) transition(imageURL string, s State) {
	if r.Observer != nil {
		r.Observer(imageURL, s)
	}
}

func (r *Resolver) attempt(ctx context.Context, imageURL string) (*model.Image, error) {
	endpoint := r.RelayBase + ProxyPath + "?url=" + url.QueryEscape(imageURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRelayBody))
	if err != nil {
		return nil, fmt.Errorf("read relay response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("relay status %d", resp.StatusCode)
	}

	var payload relay.Response
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse relay response: %w", err)
	}
	if !payload.Success {
		return nil, fmt.Errorf("relay reported failure: %s", payload.Error)
	}
	mediaType, data, err := relay.DecodeDataURL(payload.DataURL)
	if err != nil {
		return nil, err
	}
	return &model.Image{MIMEType: mediaType, Data: data}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
