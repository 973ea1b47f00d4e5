package pipeline

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/shiplog/shiplog/config"
	"github.com/shiplog/shiplog/ghclient"
	"github.com/shiplog/shiplog/hec"
	"github.com/shiplog/shiplog/log"
)

const envHelp = `
Environment variables:
	GITHUB_TOKEN          (required)
	GITHUB_REPOSITORY     (required, owner/name)
	GITHUB_API_URL        (default: https://api.github.com)
	GITHUB_RUN_ID         (default run id when --run-id is omitted)
	SPLUNK_URL            (required)
	SPLUNK_TOKEN          (required unless --debug)
	SPLUNK_INDEX          (default: collector token's index)
	SPLUNK_SOURCE_TYPE    (default: github:workflow:logs)
	SPLUNK_HOST           (optional event host field)
	SSL_VERIFY            (default: true)
	INCLUDE_JOB_STEPS     (default: true)
	TIMEOUT               (default: 30s)
	MAX_RETRIES           (default: 3)
	WORKERS               (default: 4)
`

func ShipCommand() *cli.Command {
	return &cli.Command{
		Name:        "ship",
		Usage:       "ship one workflow run's logs to splunk",
		Action:      runShip,
		Description: envHelp,
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:    "run-id",
				Aliases: []string{"r"},
				Usage:   "workflow run id",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "render payloads to stdout instead of sending",
			},
		},
	}
}

func BatchCommand() *cli.Command {
	return &cli.Command{
		Name:        "batch",
		Usage:       "ship a batch of workflow runs listed in a file, draining processed ids from it",
		Action:      runBatch,
		Description: envHelp,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "file with one workflow run id per line",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"c"},
				Usage:   "process at most this many run ids",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "render payloads to stdout instead of sending",
			},
		},
	}
}

func setup(ctx context.Context, cmd *cli.Command) (*config.Config, *Pipeline, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if cmd.Bool("debug") {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	gh, err := ghclient.New(cfg, log.New("ghclient"))
	if err != nil {
		return nil, nil, err
	}
	sender := hec.NewSender(cfg, log.New("hec"))

	return cfg, New(cfg, gh, sender, log.FromContext(ctx)), nil
}

func runShip(ctx context.Context, cmd *cli.Command) error {
	cfg, p, err := setup(ctx, cmd)
	if err != nil {
		return err
	}

	runID := cmd.Int64("run-id")
	if runID == 0 {
		runID = cfg.GitHub.RunID
	}
	if runID == 0 {
		return fmt.Errorf("no run id: pass --run-id or set GITHUB_RUN_ID")
	}

	result, err := p.Run(ctx, runID)
	return report(ctx, result, err)
}

func runBatch(ctx context.Context, cmd *cli.Command) error {
	_, p, err := setup(ctx, cmd)
	if err != nil {
		return err
	}

	path := cmd.String("file")
	ids, err := readRunIDs(ctx, path)
	if err != nil {
		return err
	}

	limit := len(ids)
	if count := int(cmd.Int("count")); count > 0 && count < limit {
		limit = count
	}

	l := log.FromContext(ctx)
	var processed int
	var batchErr error
	for _, id := range ids[:limit] {
		l.Info("processing workflow run", "run_id", id)
		result, err := p.Run(ctx, id)
		if batchErr = report(ctx, result, err); batchErr != nil {
			break
		}
		processed++
	}

	// drain shipped ids from the file so a rerun picks up where this
	// invocation stopped
	if err := writeRunIDs(path, ids[processed:]); err != nil {
		return fmt.Errorf("rewriting %s: %w", path, err)
	}
	l.Info("batch finished", "processed", processed, "remaining", len(ids)-processed)

	return batchErr
}

// report logs the outcome and folds PartialSuccess into a zero exit,
// with a warning per unshipped job.
func report(ctx context.Context, result *Result, err error) error {
	l := log.FromContext(ctx)

	switch result.Outcome {
	case Fatal:
		return err
	case PartialSuccess:
		for _, j := range result.Jobs {
			if !j.Shipped() {
				l.Warn("job not shipped", "job", j.Name, "err", j.Err)
			}
		}
		l.Warn("run partially shipped", "run_id", result.RunID, "summary", result.Summary())
	default:
		l.Info("run shipped", "run_id", result.RunID, "summary", result.Summary())
	}

	return nil
}

func readRunIDs(ctx context.Context, path string) ([]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	l := log.FromContext(ctx)
	var ids []int64
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		id, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			l.Warn("skipping malformed run id", "line", line)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func writeRunIDs(path string, ids []int64) error {
	var sb strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&sb, "%d\n", id)
	}
	return os.WriteFile(path, []byte(sb.String()), 0644)
}
