// Package export coordinates one report export: it snapshots the records,
// resolves every image in order, feeds the compositor one page per record and
// reports progress and the final outcome.
package export

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/art-gallery/api-go/internal/compositor"
	"github.com/example/art-gallery/api-go/internal/logging"
	"github.com/example/art-gallery/api-go/internal/metrics"
	"github.com/example/art-gallery/api-go/internal/model"
)

// GenericFailureMessage is shown when the export as a whole fails.
const GenericFailureMessage = "export failed, please try again"

var ErrInFlight = errors.New("an export is already in progress")

type Resolver interface {
	Resolve(ctx context.Context, imageURL string) model.Outcome
}

// Factory creates a fresh document for each job.
type Factory func() (compositor.Compositor, error)

type Result struct {
	Total    int
	Loaded   int
	Failed   int
	Message  string
	Artifact *compositor.Artifact
}

type Coordinator struct {
	resolver Resolver
	newDoc   Factory
	logger   *zap.Logger
	metrics  *metrics.Metrics
	mu       sync.Mutex
}

type Option func(*Coordinator)

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func New(r Resolver, newDoc Factory, opts ...Option) *Coordinator {
	c := &Coordinator{
		resolver: r,
		newDoc:   newDoc,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// job is the state of one export. It never outlives a Run call.
type job struct {
	records []model.Record
	loaded  int
	failed  int
	doc     compositor.Compositor
}

// Run exports records. A nil reporter discards progress. Overlapping calls on
// the same Coordinator fail with ErrInFlight without touching the reporter.
func (c *Coordinator) Run(ctx context.Context, records []model.Record, rep Reporter) (*Result, error) {
	if !c.mu.TryLock() {
		c.metrics.Export("refused", 0)
		return nil, ErrInFlight
	}
	defer c.mu.Unlock()
	if rep == nil {
		rep = NopReporter{}
	}

	start := time.Now()
	j := &job{records: model.Snapshot(records)}
	log := c.logger.With(zap.Int("records", len(j.records)))
	log.Info("export started")

	res, err := c.run(ctx, j, rep, log)
	rep.Clear()
	if err != nil {
		log.Error("export failed",
			zap.Int("loaded", j.loaded),
			zap.Int("failed", j.failed),
			logging.Err(err))
		c.metrics.Export("failed", time.Since(start))
		rep.Fail(GenericFailureMessage)
		return nil, err
	}

	outcome := "complete"
	if res.Failed > 0 {
		outcome = "partial"
	}
	c.metrics.Export(outcome, time.Since(start))
	log.Info("export finished",
		zap.Int("loaded", res.Loaded),
		zap.Int("failed", res.Failed),
		zap.Int("pages", res.Artifact.Pages),
		zap.Duration("elapsed", time.Since(start)))
	rep.Done(res.Message)
	return res, nil
}

func (c *Coordinator) run(ctx context.Context, j *job, rep Reporter, log *zap.Logger) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("document library panic: %v", r)
		}
	}()

	if j.doc, err = c.newDoc(); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	if err := j.doc.AddTitlePage(); err != nil {
		return nil, fmt.Errorf("cover page: %w", err)
	}

	total := len(j.records)
	for i, rec := range j.records {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("export abandoned at record %d: %w", i, err)
		}
		out := c.resolver.Resolve(ctx, rec.ImageURL)
		out.RecordIndex = i

		var img *model.Image
		if out.Resolved() {
			img = out.Image
		}
		embedded, err := j.doc.AddRecordPage(rec, img)
		if err != nil {
			return nil, fmt.Errorf("record %d page: %w", i, err)
		}
		if embedded {
			j.loaded++
			c.metrics.Image("resolved")
		} else {
			j.failed++
			c.metrics.Image("failed")
			if out.Resolved() {
				log.Warn("resolved image rejected by document",
					zap.Int("record", i),
					zap.String("mime", out.Image.MIMEType))
			} else {
				log.Info("image omitted",
					zap.Int("record", i),
					zap.String("url", rec.ImageURL),
					zap.Int("attempts", out.Attempts))
			}
		}
		rep.Progress(j.loaded+j.failed, total)
	}

	art, err := j.doc.Finalize()
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}
	return &Result{
		Total:    total,
		Loaded:   j.loaded,
		Failed:   j.failed,
		Message:  SuccessMessage(j.loaded, j.failed, total),
		Artifact: art,
	}, nil
}

// SuccessMessage is the terminal status text for a completed export.
func SuccessMessage(loaded, failed, total int) string {
	if failed == 0 {
		return fmt.Sprintf("exported successfully with all %d images", loaded)
	}
	return fmt.Sprintf("exported successfully! %d of %d images loaded. %d could not be loaded", loaded, total, failed)
}

// ProgressText is the running indicator shown while images load.
func ProgressText(done, total int) string {
	return fmt.Sprintf("(%d/%d images loaded)", done, total)
}
