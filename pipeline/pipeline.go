// Package pipeline drives the whole shipping run: fetch run metadata,
// fan out over jobs to fetch and normalize logs, and deliver events to
// the collector. Per-job failures are recorded and skipped; only a
// run-level metadata failure or a collector schema rejection aborts.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/shiplog/shiplog/config"
	"github.com/shiplog/shiplog/ghclient"
	"github.com/shiplog/shiplog/hec"
	"github.com/shiplog/shiplog/log"
	"github.com/shiplog/shiplog/normalize"
)

// MetadataSource is the provider-side surface the pipeline reads from.
type MetadataSource interface {
	FetchRun(ctx context.Context, runID int64) (*ghclient.WorkflowRun, error)
	FetchJobs(ctx context.Context, runID int64) ([]*ghclient.Job, error)
	JobLogs(ctx context.Context, jobID int64) ([]byte, error)
}

// EventSink is the collector-side surface the pipeline writes to.
type EventSink interface {
	Send(ctx context.Context, events []hec.Event) error
}

type Outcome int

const (
	Success Outcome = iota
	PartialSuccess
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case PartialSuccess:
		return "partial success"
	case Fatal:
		return "fatal"
	}
	return "unknown"
}

// JobResult records what happened to one job. Err is nil when every
// event for the job reached the collector.
type JobResult struct {
	JobID  int64
	Name   string
	Events int
	Bytes  int
	Err    error
}

func (r JobResult) Shipped() bool { return r.Err == nil }

type Result struct {
	Outcome Outcome
	RunID   int64
	Jobs    []JobResult
}

func (r *Result) Shipped() int {
	n := 0
	for _, j := range r.Jobs {
		if j.Shipped() {
			n++
		}
	}
	return n
}

func (r *Result) LogBytes() uint64 {
	var n uint64
	for _, j := range r.Jobs {
		n += uint64(j.Bytes)
	}
	return n
}

func (r *Result) Summary() string {
	return fmt.Sprintf("%d/%d jobs shipped", r.Shipped(), len(r.Jobs))
}

type Pipeline struct {
	cfg    *config.Config
	source MetadataSource
	sink   EventSink
	l      *slog.Logger
}

func New(cfg *config.Config, source MetadataSource, sink EventSink, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = log.New("pipeline")
	}
	return &Pipeline{
		cfg:    cfg,
		source: source,
		sink:   sink,
		l:      logger,
	}
}

// Run ships one workflow run. The returned Result is populated even on
// error so callers can report how far the run got.
func (p *Pipeline) Run(ctx context.Context, runID int64) (*Result, error) {
	result := &Result{RunID: runID}

	p.l.Info("fetching run metadata", "run_id", runID)
	run, err := p.source.FetchRun(ctx, runID)
	if err != nil {
		result.Outcome = Fatal
		return result, fmt.Errorf("fetching run %d: %w", runID, err)
	}

	opts := hec.Options{
		Host:       p.cfg.Splunk.Host,
		SourceType: p.cfg.Splunk.SourceType,
		Index:      p.cfg.Splunk.Index,
	}

	if err := p.sink.Send(ctx, []hec.Event{hec.RunEvent(run, opts)}); err != nil {
		result.Outcome = Fatal
		return result, fmt.Errorf("sending run summary: %w", err)
	}
	p.l.Info("sent run summary", "run_id", runID, "workflow", run.Name)

	if !p.cfg.IncludeJobSteps {
		result.Outcome = Success
		return result, nil
	}

	jobs, err := p.source.FetchJobs(ctx, runID)
	if err != nil {
		result.Outcome = Fatal
		return result, fmt.Errorf("fetching jobs for run %d: %w", runID, err)
	}

	// each worker writes only its own slot; a per-job failure never
	// cancels siblings, only a schema rejection does
	result.Jobs = make([]JobResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for i, job := range jobs {
		g.Go(func() error {
			res := p.shipJob(gctx, job, run, opts)
			result.Jobs[i] = res
			if errors.Is(res.Err, hec.ErrSchemaRejected) {
				return res.Err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		result.Outcome = Fatal
		return result, fmt.Errorf("aborting run %d: %w", runID, err)
	}

	result.Outcome = Success
	for _, j := range result.Jobs {
		if !j.Shipped() {
			result.Outcome = PartialSuccess
			break
		}
	}

	p.l.Info("run complete",
		"run_id", runID,
		"outcome", result.Outcome.String(),
		"summary", result.Summary(),
		"log_size", humanize.Bytes(result.LogBytes()),
	)

	return result, nil
}

// shipJob walks one job through fetch, normalize, and send.
func (p *Pipeline) shipJob(ctx context.Context, job *ghclient.Job, run *ghclient.WorkflowRun, opts hec.Options) JobResult {
	res := JobResult{JobID: job.ID, Name: job.Name}
	l := p.l.With("job", job.Name, "job_id", job.ID)

	l.Info("fetching job logs")
	raw, err := p.source.JobLogs(ctx, job.ID)
	if err != nil {
		if errors.Is(err, ghclient.ErrLogUnavailable) {
			l.Warn("logs unavailable, skipping job", "err", err)
		} else {
			l.Error("failed to fetch job logs", "err", err)
		}
		res.Err = fmt.Errorf("fetch: %w", err)
		return res
	}
	res.Bytes = len(raw)

	events := []hec.Event{hec.JobEvent(job, run, opts)}
	for line, err := range normalize.Lines(bytes.NewReader(raw), job) {
		if err != nil {
			l.Error("failed to normalize job logs", "err", err)
			res.Err = fmt.Errorf("normalize: %w", err)
			return res
		}
		events = append(events, hec.LineEvent(line, job, run, opts))
	}

	if err := p.sink.Send(ctx, events); err != nil {
		l.Error("failed to send job events", "err", err)
		res.Err = fmt.Errorf("send: %w", err)
		return res
	}

	res.Events = len(events)
	l.Info("job shipped", "events", res.Events, "log_size", humanize.Bytes(uint64(res.Bytes)))
	return res
}
