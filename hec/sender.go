package hec

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/shiplog/shiplog/backoff"
	"github.com/shiplog/shiplog/config"
	"github.com/shiplog/shiplog/log"
)

const (
	collectorPath = "/services/collector/event"

	// payload limits per POST; the collector's default max content
	// length is 1MiB, so batches are cut on whichever cap hits first
	maxBatchEvents = 100
	maxBatchBytes  = 1 << 20
)

// ErrSchemaRejected means the collector refused the payload outright
// (bad token, malformed event). A rejected schema rejects every
// subsequent batch identically, so the whole send is aborted.
var ErrSchemaRejected = errors.New("collector rejected payload")

// Sender delivers formatted events to a Splunk HTTP Event Collector,
// one POST of newline-delimited JSON objects per batch. In debug mode
// it renders the exact wire payloads to out instead of transmitting.
type Sender struct {
	endpoint string
	token    string
	channel  string
	client   *http.Client
	policy   backoff.Policy
	debug    bool
	out      io.Writer
	l        *slog.Logger
}

func NewSender(cfg *config.Config, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = log.New("hec")
	}

	transport := http.DefaultTransport
	if !cfg.SSLVerify {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &Sender{
		endpoint: strings.TrimRight(cfg.Splunk.URL, "/") + collectorPath,
		token:    cfg.Splunk.Token,
		channel:  uuid.NewString(),
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		policy: backoff.Default(cfg.MaxRetries),
		debug:  cfg.Debug,
		out:    os.Stdout,
		l:      logger,
	}
}

// Send delivers events in order. The first schema rejection aborts the
// remaining batches; transient failures are retried per batch under the
// backoff policy.
func (s *Sender) Send(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	batches, err := marshalBatches(events)
	if err != nil {
		return err
	}

	for i, payload := range batches {
		if s.debug {
			fmt.Fprintf(s.out, "%s\n", payload)
			continue
		}

		if err := s.post(ctx, payload); err != nil {
			return fmt.Errorf("batch %d/%d: %w", i+1, len(batches), err)
		}
	}

	if s.debug {
		s.l.Info("debug mode: rendered payloads without sending",
			"events", len(events),
			"batches", len(batches),
		)
	}

	return nil
}

func (s *Sender) post(ctx context.Context, payload []byte) error {
	opts := append(s.policy.Options(ctx, s.l, "hec post"),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrSchemaRejected)
		}),
	)

	return retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Splunk "+s.token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Splunk-Request-Channel", s.channel)

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return fmt.Errorf("%w: status %d: %s", ErrSchemaRejected, resp.StatusCode, strings.TrimSpace(string(body)))
		default:
			return fmt.Errorf("collector status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
	}, opts...)
}

// marshalBatches encodes events as newline-delimited JSON, cutting a
// new batch at the event-count or byte cap. Event order is preserved
// across batch boundaries.
func marshalBatches(events []Event) ([][]byte, error) {
	var batches [][]byte
	var buf bytes.Buffer
	count := 0

	flush := func() {
		if count > 0 {
			batches = append(batches, append([]byte(nil), buf.Bytes()...))
			buf.Reset()
			count = 0
		}
	}

	for _, event := range events {
		encoded, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("encoding event: %w", err)
		}

		if count >= maxBatchEvents || (buf.Len() > 0 && buf.Len()+len(encoded)+1 > maxBatchBytes) {
			flush()
		}

		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(encoded)
		count++
	}
	flush()

	return batches, nil
}
