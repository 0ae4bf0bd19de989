// Package jobs runs periodic housekeeping: expiring dedup entries and
// pinging the public URL so free-tier hosts do not idle the service.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"gemini-slack-bot/dedup"
	"gemini-slack-bot/logging"
	"gemini-slack-bot/metrics"
)

type Options struct {
	Sweeper       dedup.Sweeper
	SweepSchedule string

	// Keep-alive is skipped when KeepaliveURL is empty.
	KeepaliveURL      string
	KeepaliveSchedule string
	HTTPClient        *http.Client

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type Scheduler struct {
	cron       *cron.Cron
	sweeper    dedup.Sweeper
	url        string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func New(opts Options) (*Scheduler, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "jobs")
	cronLogger := logging.CronLogger{Logger: logger}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		sweeper:    opts.Sweeper,
		url:        strings.TrimSpace(opts.KeepaliveURL),
		httpClient: httpClient,
		metrics:    m,
		logger:     logger,
	}

	if s.sweeper != nil {
		if _, err := s.cron.AddFunc(scheduleOr(opts.SweepSchedule, "@every 1m"), s.SweepDedup); err != nil {
			return nil, fmt.Errorf("jobs: dedup sweep schedule: %w", err)
		}
	}
	if s.url != "" {
		if _, err := s.cron.AddFunc(scheduleOr(opts.KeepaliveSchedule, "@every 5m"), s.Keepalive); err != nil {
			return nil, fmt.Errorf("jobs: keepalive schedule: %w", err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop stops scheduling and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) SweepDedup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Warn("dedup sweep failed", "error", err)
		return
	}
	s.metrics.DedupSwept.Add(float64(removed))
	if removed > 0 {
		s.logger.Debug("dedup sweep", "removed", removed)
	}
}

func (s *Scheduler) Keepalive() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		s.logger.Warn("health check failed", "url", s.url, "error", err)
		return
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("health check failed", "url", s.url, "error", err)
		return
	}
	resp.Body.Close()
	s.logger.Debug("health check successful", "url", s.url, "status", resp.StatusCode)
}

func scheduleOr(spec, fallback string) string {
	if strings.TrimSpace(spec) == "" {
		return fallback
	}
	return spec
}
