// Package normalize turns raw workflow log text into ordered,
// timestamped line records. The provider prefixes most lines with an
// RFC3339 timestamp; continuation lines (multi-line stack traces and
// the like) carry no prefix and inherit the previous line's time.
package normalize

import (
	"bufio"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/shiplog/shiplog/ghclient"
)

const maxLineBytes = 1024 * 1024

// Line is one physical log line with its inferred timestamp and the
// step it was attributed to. StepNumber 0 means no step's time window
// covered the line and it belongs to the job-level bucket.
type Line struct {
	JobID      int64
	StepNumber int
	StepName   string
	Time       time.Time
	Text       string
}

type window struct {
	number int
	name   string
	start  time.Time
	end    time.Time
}

// Lines scans raw log bytes into a lazy, single-pass sequence of Line
// records in source order. Attribution to steps is by timestamp against
// the step start/end windows already known from job metadata. A read
// error is yielded once and ends the sequence.
func Lines(r io.Reader, job *ghclient.Job) iter.Seq2[Line, error] {
	windows := stepWindows(job)
	fallback := startTime(job)

	return func(yield func(Line, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

		last := time.Time{}
		for scanner.Scan() {
			raw := strings.TrimRight(scanner.Text(), "\r")

			stamp, text, ok := splitStamp(raw)
			if ok {
				last = stamp
			} else {
				text = raw
				stamp = last
				if stamp.IsZero() {
					stamp = fallback
				}
			}

			if text == "" && !ok {
				continue
			}

			line := Line{
				JobID: job.ID,
				Time:  stamp,
				Text:  text,
			}
			if w := covering(windows, stamp); w != nil {
				line.StepNumber = w.number
				line.StepName = w.name
			}

			if !yield(line, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(Line{}, err)
		}
	}
}

// Collect drains the sequence into a slice, stopping at the first error.
func Collect(r io.Reader, job *ghclient.Job) ([]Line, error) {
	var lines []Line
	for line, err := range Lines(r, job) {
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// splitStamp extracts the provider's leading timestamp, returning the
// line text with the prefix stripped.
func splitStamp(raw string) (time.Time, string, bool) {
	prefix, rest, found := strings.Cut(raw, " ")
	if !found {
		prefix = raw
		rest = ""
	}

	stamp, err := time.Parse(time.RFC3339Nano, prefix)
	if err != nil {
		return time.Time{}, "", false
	}
	return stamp, rest, true
}

func stepWindows(job *ghclient.Job) []window {
	var windows []window
	for _, step := range job.Steps {
		if step.StartedAt == nil {
			continue
		}
		w := window{
			number: step.Number,
			name:   step.Name,
			start:  *step.StartedAt,
		}
		if step.CompletedAt != nil {
			w.end = *step.CompletedAt
		}
		windows = append(windows, w)
	}
	return windows
}

// covering returns the first step window containing t, preserving the
// provider's step order for ties between adjacent windows.
func covering(windows []window, t time.Time) *window {
	for i := range windows {
		w := &windows[i]
		if t.Before(w.start) {
			continue
		}
		if w.end.IsZero() || !t.After(w.end) {
			return w
		}
	}
	return nil
}

func startTime(job *ghclient.Job) time.Time {
	if len(job.Steps) > 0 && job.Steps[0].StartedAt != nil {
		return *job.Steps[0].StartedAt
	}
	if job.StartedAt != nil {
		return *job.StartedAt
	}
	return time.Time{}
}
