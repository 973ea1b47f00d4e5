package hec

import (
	"fmt"
	"time"

	"github.com/shiplog/shiplog/ghclient"
	"github.com/shiplog/shiplog/normalize"
)

// Event is one HTTP Event Collector submission. Time is epoch seconds
// with millisecond precision; an empty Index defers to the collector
// token's default index.
type Event struct {
	Time       float64 `json:"time"`
	Host       string  `json:"host,omitempty"`
	Source     string  `json:"source,omitempty"`
	SourceType string  `json:"sourcetype,omitempty"`
	Index      string  `json:"index,omitempty"`
	Event      any     `json:"event"`
}

// Options is the fixed per-run formatting surface. Formatting is a pure
// function of (entity, Options): no clocks, no env reads.
type Options struct {
	Host       string
	SourceType string
	Index      string
}

type workflowInfo struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
	URL        string `json:"url"`
	HTMLURL    string `json:"html_url"`
}

type repoInfo struct {
	Owner    string `json:"owner"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
}

type runPayload struct {
	Workflow   workflowInfo `json:"workflow"`
	Repository repoInfo     `json:"repository"`
}

type jobPayload struct {
	JobID          int64  `json:"job_id"`
	JobName        string `json:"job_name"`
	JobStatus      string `json:"job_status"`
	JobStartedAt   string `json:"job_started_at,omitempty"`
	JobCompletedAt string `json:"job_completed_at,omitempty"`
	WorkflowName   string `json:"workflow_name"`
	WorkflowRunID  int64  `json:"workflow_run_id"`
	Steps          int    `json:"steps"`
}

type linePayload struct {
	JobID      int64  `json:"job_id"`
	JobName    string `json:"job_name"`
	StepNumber int    `json:"step_number,omitempty"`
	StepName   string `json:"step_name,omitempty"`
	Line       string `json:"line"`
}

// RunSource is the fixed source identifying every event of one run:
// github:<owner>/<repo>:workflow:<name>.
func RunSource(run *ghclient.WorkflowRun) string {
	return fmt.Sprintf("github:%s/%s:workflow:%s",
		run.Repository.Owner.Login, run.Repository.Name, run.Name)
}

// RunEvent is the leading summary event carrying run and repository
// metadata, timestamped at the run's start.
func RunEvent(run *ghclient.WorkflowRun, opts Options) Event {
	stamp := run.CreatedAt
	if run.RunStartedAt != nil {
		stamp = *run.RunStartedAt
	}

	return Event{
		Time:       epoch(stamp),
		Host:       opts.Host,
		Source:     RunSource(run),
		SourceType: opts.SourceType,
		Index:      opts.Index,
		Event: runPayload{
			Workflow: workflowInfo{
				ID:         run.ID,
				Name:       run.Name,
				Status:     run.Status,
				Conclusion: run.Conclusion,
				CreatedAt:  run.CreatedAt.UTC().Format(time.RFC3339),
				UpdatedAt:  run.UpdatedAt.UTC().Format(time.RFC3339),
				URL:        run.URL,
				HTMLURL:    run.HTMLURL,
			},
			Repository: repoInfo{
				Owner:    run.Repository.Owner.Login,
				Name:     run.Repository.Name,
				FullName: run.Repository.FullName,
			},
		},
	}
}

// JobEvent is the per-job summary event with status and timing,
// sourcetyped as <sourcetype>:job.
func JobEvent(job *ghclient.Job, run *ghclient.WorkflowRun, opts Options) Event {
	payload := jobPayload{
		JobID:         job.ID,
		JobName:       job.Name,
		JobStatus:     job.State(),
		WorkflowName:  run.Name,
		WorkflowRunID: run.ID,
		Steps:         len(job.Steps),
	}

	stamp := run.CreatedAt
	if job.StartedAt != nil {
		stamp = *job.StartedAt
		payload.JobStartedAt = job.StartedAt.UTC().Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		payload.JobCompletedAt = job.CompletedAt.UTC().Format(time.RFC3339)
	}

	return Event{
		Time:       epoch(stamp),
		Host:       opts.Host,
		Source:     fmt.Sprintf("%s:job:%s", RunSource(run), job.Name),
		SourceType: opts.SourceType + ":job",
		Index:      opts.Index,
		Event:      payload,
	}
}

// LineEvent maps exactly one normalized log line to one event.
func LineEvent(line normalize.Line, job *ghclient.Job, run *ghclient.WorkflowRun, opts Options) Event {
	return Event{
		Time:       epoch(line.Time),
		Host:       opts.Host,
		Source:     fmt.Sprintf("%s:job:%s", RunSource(run), job.Name),
		SourceType: opts.SourceType,
		Index:      opts.Index,
		Event: linePayload{
			JobID:      job.ID,
			JobName:    job.Name,
			StepNumber: line.StepNumber,
			StepName:   line.StepName,
			Line:       line.Text,
		},
	}
}

func epoch(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}
