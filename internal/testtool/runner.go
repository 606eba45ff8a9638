package testtool

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/playbookd/internal/cycle"
	"github.com/fyrsmithlabs/playbookd/internal/logging"
)

// DefaultTimeout bounds one test run.
const DefaultTimeout = 10 * time.Minute

// stderrLimit caps how much stderr is carried into the outcome summary.
const stderrLimit = 2000

// Runner executes `go test -json -cover` in a target directory. The zero
// value is not usable; construct with NewRunner.
type Runner struct {
	logger  *logging.Logger
	timeout time.Duration

	// goBin is the go tool to invoke. Overridable for tests.
	goBin string
}

// NewRunner creates a runner with the default timeout.
func NewRunner(logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		logger:  logger.Named("testtool"),
		timeout: DefaultTimeout,
		goBin:   "go",
	}
}

// WithTimeout overrides the run timeout.
func (r *Runner) WithTimeout(d time.Duration) *Runner {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Run executes the suite rooted at dir. Dry-run compiles only, reporting
// pass/fail on the build alone. Run never returns an error.
func (r *Runner) Run(ctx context.Context, dir string, dryRun bool) cycle.TestOutcome {
	mode := cycle.ModeReal
	args := []string{"test", "-json", "-cover", "./..."}
	if dryRun {
		mode = cycle.ModeDryRun
		args = []string{"build", "./..."}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, r.goBin, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start).Seconds()

	outcome := cycle.TestOutcome{
		Mode:            mode,
		DurationSeconds: elapsed,
	}

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		outcome.StderrSummary = "test run timed out after " + r.timeout.String()
		r.logger.Warn(ctx, "test run timed out", zap.String("dir", dir))
		return outcome
	case err != nil && stdout.Len() == 0:
		// The command never produced a test event stream: start failure
		// or compile error.
		outcome.StderrSummary = truncateStderr(stderr.String(), err)
		r.logger.Warn(ctx, "test run failed to start",
			zap.String("dir", dir),
			zap.Error(err),
		)
		return outcome
	}

	if dryRun {
		outcome.Passed = err == nil
		if err != nil {
			outcome.StderrSummary = truncateStderr(stderr.String(), err)
		}
		return outcome
	}

	total, failed, coverage := parseEvents(stdout.Bytes())
	outcome.TotalCases = total
	outcome.FailedCases = failed
	outcome.LineCoverage = coverage
	// The go tool reports statement coverage only; it stands in for both
	// ratios.
	outcome.BranchCoverage = coverage
	outcome.Passed = err == nil && failed == 0
	if !outcome.Passed {
		outcome.StderrSummary = truncateStderr(stderr.String(), err)
	}

	r.logger.Info(ctx, "test run completed",
		zap.String("dir", dir),
		zap.Bool("passed", outcome.Passed),
		zap.Int("total_cases", total),
		zap.Int("failed_cases", failed),
		zap.Float64("coverage", coverage),
	)
	return outcome
}

// Tool binds a runner to a target directory and mode, satisfying the phase
// machine's test-tool contract.
func (r *Runner) Tool(dir string, dryRun bool) cycle.TestTool {
	return boundTool{runner: r, dir: dir, dryRun: dryRun}
}

type boundTool struct {
	runner *Runner
	dir    string
	dryRun bool
}

func (t boundTool) Run(ctx context.Context) cycle.TestOutcome {
	return t.runner.Run(ctx, t.dir, t.dryRun)
}

// testEvent is the go test -json line shape.
type testEvent struct {
	Action  string `json:"Action"`
	Test    string `json:"Test,omitempty"`
	Output  string `json:"Output,omitempty"`
	Package string `json:"Package,omitempty"`
}

var coverageRE = regexp.MustCompile(`coverage: (\d+(?:\.\d+)?)% of statements`)

// parseEvents folds a go test -json stream into case counts and the mean
// statement coverage across packages that report one.
func parseEvents(stream []byte) (total, failed int, coverage float64) {
	var covSum float64
	var covCount int

	scanner := bufio.NewScanner(bytes.NewReader(stream))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev testEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}

		if ev.Test != "" && !strings.Contains(ev.Test, "/") {
			switch ev.Action {
			case "pass", "skip":
				total++
			case "fail":
				total++
				failed++
			}
		}

		if ev.Action == "output" {
			if m := coverageRE.FindStringSubmatch(ev.Output); m != nil {
				if v, err := strconv.ParseFloat(m[1], 64); err == nil {
					covSum += v / 100
					covCount++
				}
			}
		}
	}

	if covCount > 0 {
		coverage = covSum / float64(covCount)
	}
	return total, failed, coverage
}

func truncateStderr(stderr string, err error) string {
	s := strings.TrimSpace(stderr)
	if s == "" && err != nil {
		s = err.Error()
	}
	if len(s) > stderrLimit {
		s = s[:stderrLimit] + "..."
	}
	return s
}
