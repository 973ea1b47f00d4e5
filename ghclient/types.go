package ghclient

import "time"

// WorkflowRun is the metadata record for one execution of a workflow,
// as returned by the runs endpoint. It is never mutated after fetch.
type WorkflowRun struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Status       string     `json:"status"`
	Conclusion   string     `json:"conclusion"`
	HeadSHA      string     `json:"head_sha"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	RunStartedAt *time.Time `json:"run_started_at"`
	URL          string     `json:"url"`
	HTMLURL      string     `json:"html_url"`

	Repository Repository `json:"repository"`
}

type Repository struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Owner    Owner  `json:"owner"`
}

type Owner struct {
	Login string `json:"login"`
}

// Job is one unit of work within a run. Steps are in the provider's
// reported order.
type Job struct {
	ID          int64      `json:"id"`
	RunID       int64      `json:"run_id"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Conclusion  string     `json:"conclusion"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	HTMLURL     string     `json:"html_url"`
	Steps       []Step     `json:"steps"`
}

// State reports the job's conclusion when it has one, falling back to
// its status while the job is still in flight.
func (j *Job) State() string {
	if j.Conclusion != "" {
		return j.Conclusion
	}
	return j.Status
}

type Step struct {
	Number      int        `json:"number"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Conclusion  string     `json:"conclusion"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

type jobsPage struct {
	TotalCount int    `json:"total_count"`
	Jobs       []*Job `json:"jobs"`
}
