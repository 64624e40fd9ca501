package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/art-gallery/api-go/internal/compositor"
	"github.com/example/art-gallery/api-go/internal/config"
	"github.com/example/art-gallery/api-go/internal/export"
	"github.com/example/art-gallery/api-go/internal/httpapi"
	"github.com/example/art-gallery/api-go/internal/logging"
	"github.com/example/art-gallery/api-go/internal/model"
	"github.com/example/art-gallery/api-go/internal/relay"
	"github.com/example/art-gallery/api-go/internal/resolver"
)

type exportOptions struct {
	records     string
	relayURL    string
	out         string
	periodMode  string
	maxAttempts int
	backoff     time.Duration
	allowLocal  bool
}

func newExportCmd() *cobra.Command {
	opts := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export recommendations to a PDF report",
		Long: `Reads a JSON array of recommendation records (or an object with a "records"
field) and writes the report. Without --relay an in-process relay is started on
the loopback interface.`,
		Example: `  artreport export --records recs.json
  curl -s $API/recommendations | artreport export --records - --out ~/Downloads`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.records, "records", "-", "Records JSON file, or - for stdin")
	f.StringVar(&opts.relayURL, "relay", "", "Base URL of a running image relay")
	f.StringVar(&opts.out, "out", compositor.DefaultFileName, "Output file or directory")
	f.StringVar(&opts.periodMode, "period-mode", "", "How periods are printed: since or age")
	f.IntVar(&opts.maxAttempts, "max-attempts", 0, "Image fetch attempts per record")
	f.DurationVar(&opts.backoff, "backoff", 0, "Backoff unit between image fetch attempts")
	f.BoolVar(&opts.allowLocal, "allow-private-hosts", false, "Let the in-process relay fetch loopback and private-network images")
	return cmd
}

func runExport(cmd *cobra.Command, opts *exportOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := os.Setenv("ART_CONFIG", path); err != nil {
			return err
		}
	}
	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if opts.periodMode != "" {
		cfg.PeriodMode = opts.periodMode
	}
	if opts.maxAttempts > 0 {
		cfg.MaxAttempts = opts.maxAttempts
	}
	if cmd.Flags().Changed("backoff") {
		cfg.Backoff = opts.backoff
	}
	if opts.relayURL != "" {
		cfg.RelayURL = opts.relayURL
	}
	if opts.allowLocal {
		cfg.RelayAllowPrivate = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	periodMode, err := compositor.ParsePeriodMode(cfg.PeriodMode)
	if err != nil {
		return err
	}

	level, _ := cmd.Flags().GetString("log-level")
	logger, err := logging.New(level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	records, err := readRecords(cmd.InOrStdin(), opts.records)
	if err != nil {
		return err
	}

	relayURL := cfg.RelayURL
	if relayURL == "" {
		base, stop, err := startRelay(cfg.RelayTimeout, cfg.RelayAllowPrivate, logger)
		if err != nil {
			return err
		}
		defer stop()
		relayURL = base
	}

	res := resolver.New(relayURL,
		resolver.WithMaxAttempts(cfg.MaxAttempts),
		resolver.WithBackoff(cfg.Backoff),
		resolver.WithLogger(logger.Named("resolver")),
	)
	newDoc := func() (compositor.Compositor, error) {
		return compositor.New(compositor.Options{
			PeriodMode:  periodMode,
			ImageHeight: cfg.ImageHeightMM,
			Locale:      cfg.Locale,
			Currency:    cfg.Currency,
		})
	}
	coord := export.New(res, newDoc, export.WithLogger(logger.Named("export")))

	rep := export.NewLineReporter(cmd.ErrOrStderr(), cmd.OutOrStdout(), "exporting")
	result, err := coord.Run(ctx, records, rep)
	if err != nil {
		return err
	}

	dest := outputPath(opts.out, result.Artifact.FileName)
	if err := os.WriteFile(dest, result.Artifact.Data, 0o644); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	logger.Info("report saved", zap.String("path", dest), zap.Int("pages", result.Artifact.Pages))
	return nil
}

// readRecords accepts a bare JSON array or an object carrying "records".
func readRecords(stdin io.Reader, path string) ([]model.Record, error) {
	var (
		raw []byte
		err error
	)
	if path == "" || path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("read records: empty input")
	}
	if raw[0] == '[' {
		var records []model.Record
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("parse records: %w", err)
		}
		return records, nil
	}
	var wrapped struct {
		Records []model.Record `json:"records"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("parse records: %w", err)
	}
	return wrapped.Records, nil
}

func outputPath(out, fileName string) string {
	if out == "" {
		return fileName
	}
	if info, err := os.Stat(out); err == nil && info.IsDir() {
		return filepath.Join(out, fileName)
	}
	return out
}

// startRelay serves the image relay on an ephemeral loopback port.
func startRelay(timeout time.Duration, allowPrivate bool, logger *zap.Logger) (string, func(), error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("start relay: %w", err)
	}
	fetcher := relay.NewFetcher(timeout, nil)
	fetcher.AllowPrivate = allowPrivate
	api := &httpapi.Server{Relay: fetcher, Logger: logger.Named("relay")}
	srv := &http.Server{Handler: api.RelayRouter(), ReadHeaderTimeout: 10 * time.Second}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("relay stopped", logging.Err(err))
		}
	}()
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-done
	}
	return "http://" + ln.Addr().String(), stop, nil
}
