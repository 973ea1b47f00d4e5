package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiplog/shiplog/config"
	"github.com/shiplog/shiplog/ghclient"
	"github.com/shiplog/shiplog/hec"
)

type fakeSource struct {
	run     *ghclient.WorkflowRun
	runErr  error
	jobs    []*ghclient.Job
	jobsErr error
	logs    map[int64]string
	logErrs map[int64]error
}

func (f *fakeSource) FetchRun(ctx context.Context, runID int64) (*ghclient.WorkflowRun, error) {
	if f.runErr != nil {
		return nil, f.runErr
	}
	return f.run, nil
}

func (f *fakeSource) FetchJobs(ctx context.Context, runID int64) ([]*ghclient.Job, error) {
	if f.jobsErr != nil {
		return nil, f.jobsErr
	}
	return f.jobs, nil
}

func (f *fakeSource) JobLogs(ctx context.Context, jobID int64) ([]byte, error) {
	if err := f.logErrs[jobID]; err != nil {
		return nil, err
	}
	return []byte(f.logs[jobID]), nil
}

type fakeSink struct {
	mu      sync.Mutex
	batches [][]hec.Event
	reject  func(events []hec.Event) error
}

func (f *fakeSink) Send(ctx context.Context, events []hec.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject != nil {
		if err := f.reject(events); err != nil {
			return err
		}
	}
	f.batches = append(f.batches, events)
	return nil
}

func (f *fakeSink) all() []hec.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var events []hec.Event
	for _, b := range f.batches {
		events = append(events, b...)
	}
	return events
}

func tsp(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func testConfig() *config.Config {
	return &config.Config{
		GitHub: config.GitHub{Token: "t", Repository: "acme/widgets"},
		Splunk: config.Splunk{
			URL:        "https://splunk.example.com",
			Token:      "t",
			SourceType: "github:workflow:logs",
		},
		IncludeJobSteps: true,
		Workers:         2,
	}
}

func testRun() *ghclient.WorkflowRun {
	return &ghclient.WorkflowRun{
		ID:        42,
		Name:      "CI",
		Status:    "completed",
		CreatedAt: *tsp("2024-01-15T10:00:00Z"),
		Repository: ghclient.Repository{
			Name:     "widgets",
			FullName: "acme/widgets",
			Owner:    ghclient.Owner{Login: "acme"},
		},
	}
}

// three steps, two timestamped lines each
func jobOneLogs() string {
	var sb strings.Builder
	for step := 0; step < 3; step++ {
		for line := 0; line < 2; line++ {
			fmt.Fprintf(&sb, "2024-01-15T10:0%d:0%dZ step %d line %d\n", step, line, step+1, line+1)
		}
	}
	return sb.String()
}

func jobOne() *ghclient.Job {
	steps := make([]ghclient.Step, 3)
	for i := range steps {
		steps[i] = ghclient.Step{
			Number:      i + 1,
			Name:        fmt.Sprintf("step-%d", i+1),
			StartedAt:   tsp(fmt.Sprintf("2024-01-15T10:0%d:00Z", i)),
			CompletedAt: tsp(fmt.Sprintf("2024-01-15T10:0%d:59Z", i)),
		}
	}
	return &ghclient.Job{
		ID:        1,
		RunID:     42,
		Name:      "job1",
		Status:    "completed",
		StartedAt: tsp("2024-01-15T10:00:00Z"),
		Steps:     steps,
	}
}

func jobTwo() *ghclient.Job {
	return &ghclient.Job{ID: 2, RunID: 42, Name: "job2", Status: "completed"}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPartialSuccessOnUnavailableLogs(t *testing.T) {
	source := &fakeSource{
		run:  testRun(),
		jobs: []*ghclient.Job{jobOne(), jobTwo()},
		logs: map[int64]string{1: jobOneLogs()},
		logErrs: map[int64]error{
			2: fmt.Errorf("job 2: %w", ghclient.ErrLogUnavailable),
		},
	}
	sink := &fakeSink{}

	p := New(testConfig(), source, sink, discard())
	result, err := p.Run(context.Background(), 42)

	require.NoError(t, err)
	assert.Equal(t, PartialSuccess, result.Outcome)
	assert.Equal(t, "1/2 jobs shipped", result.Summary())

	require.Len(t, result.Jobs, 2)
	assert.True(t, result.Jobs[0].Shipped())
	// job summary + 6 line events
	assert.Equal(t, 7, result.Jobs[0].Events)
	assert.False(t, result.Jobs[1].Shipped())
	assert.ErrorIs(t, result.Jobs[1].Err, ghclient.ErrLogUnavailable)

	// run summary batch + job1 batch, nothing fabricated for job2
	require.Len(t, sink.batches, 2)
	all := sink.all()
	require.Len(t, all, 8)

	lineEvents := 0
	for _, event := range all {
		assert.NotContains(t, event.Source, "job2")
		if event.SourceType == "github:workflow:logs" && strings.Contains(event.Source, ":job:") {
			lineEvents++
		}
	}
	assert.Equal(t, 6, lineEvents)
}

func TestAllJobsShipped(t *testing.T) {
	source := &fakeSource{
		run:  testRun(),
		jobs: []*ghclient.Job{jobOne(), jobTwo()},
		logs: map[int64]string{
			1: jobOneLogs(),
			2: "2024-01-15T10:00:00Z only line\n",
		},
	}
	sink := &fakeSink{}

	p := New(testConfig(), source, sink, discard())
	result, err := p.Run(context.Background(), 42)

	require.NoError(t, err)
	assert.Equal(t, Success, result.Outcome)
	assert.Equal(t, "2/2 jobs shipped", result.Summary())
	require.Len(t, sink.batches, 3)
}

func TestRunFetchFailureIsFatal(t *testing.T) {
	source := &fakeSource{runErr: fmt.Errorf("run 42: %w", ghclient.ErrNotFound)}
	sink := &fakeSink{}

	p := New(testConfig(), source, sink, discard())
	result, err := p.Run(context.Background(), 42)

	require.Error(t, err)
	assert.ErrorIs(t, err, ghclient.ErrNotFound)
	assert.Equal(t, Fatal, result.Outcome)
	assert.Empty(t, sink.batches)
}

func TestJobListFailureIsFatal(t *testing.T) {
	source := &fakeSource{
		run:     testRun(),
		jobsErr: errors.New("boom"),
	}
	sink := &fakeSink{}

	p := New(testConfig(), source, sink, discard())
	result, err := p.Run(context.Background(), 42)

	require.Error(t, err)
	assert.Equal(t, Fatal, result.Outcome)
}

func TestSchemaRejectionIsFatal(t *testing.T) {
	source := &fakeSource{
		run:  testRun(),
		jobs: []*ghclient.Job{jobOne()},
		logs: map[int64]string{1: jobOneLogs()},
	}
	sink := &fakeSink{
		reject: func(events []hec.Event) error {
			// accept the run summary, reject job payloads
			if len(events) > 1 {
				return fmt.Errorf("%w: status 400", hec.ErrSchemaRejected)
			}
			return nil
		},
	}

	p := New(testConfig(), source, sink, discard())
	result, err := p.Run(context.Background(), 42)

	require.Error(t, err)
	assert.ErrorIs(t, err, hec.ErrSchemaRejected)
	assert.Equal(t, Fatal, result.Outcome)
}

func TestJobStepsDisabledSendsOnlyRunSummary(t *testing.T) {
	cfg := testConfig()
	cfg.IncludeJobSteps = false

	source := &fakeSource{run: testRun(), jobs: []*ghclient.Job{jobOne()}}
	sink := &fakeSink{}

	p := New(cfg, source, sink, discard())
	result, err := p.Run(context.Background(), 42)

	require.NoError(t, err)
	assert.Equal(t, Success, result.Outcome)
	require.Len(t, sink.batches, 1)
	require.Len(t, sink.batches[0], 1)
}

func TestTransientJobFailureDoesNotAbortSiblings(t *testing.T) {
	source := &fakeSource{
		run:  testRun(),
		jobs: []*ghclient.Job{jobOne(), jobTwo()},
		logs: map[int64]string{2: "2024-01-15T10:00:00Z fine\n"},
		logErrs: map[int64]error{
			1: errors.New("connection reset"),
		},
	}
	sink := &fakeSink{}

	p := New(testConfig(), source, sink, discard())
	result, err := p.Run(context.Background(), 42)

	require.NoError(t, err)
	assert.Equal(t, PartialSuccess, result.Outcome)
	assert.Equal(t, "1/2 jobs shipped", result.Summary())
	assert.True(t, result.Jobs[1].Shipped())
}
