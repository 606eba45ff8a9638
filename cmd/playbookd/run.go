package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/playbookd/internal/bridge"
	"github.com/fyrsmithlabs/playbookd/internal/config"
	"github.com/fyrsmithlabs/playbookd/internal/cycle"
	"github.com/fyrsmithlabs/playbookd/internal/logging"
	"github.com/fyrsmithlabs/playbookd/internal/natsrpc"
	"github.com/fyrsmithlabs/playbookd/internal/playbook"
	"github.com/fyrsmithlabs/playbookd/internal/roles"
	"github.com/fyrsmithlabs/playbookd/internal/telemetry"
	"github.com/fyrsmithlabs/playbookd/internal/testtool"
	"github.com/fyrsmithlabs/playbookd/internal/transcript"
)

var (
	runQuestion string
	runTaskID   string
	runDryRun   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one closed cycle",
	Long: `Execute one plan/build/test/review/document cycle.

Examples:
  # Run against the default playbook with local roles
  playbookd run --question "stabilize the flaky integration suite"

  # Dry run: build only, no tests executed
  playbookd run --dry-run

  # With a remote backend
  PLAYBOOKD_REMOTE_URL=nats://localhost:4222 playbookd run`,
	RunE: runCycle,
}

func init() {
	runCmd.Flags().StringVar(&runQuestion, "question", "", "task description given to the roles")
	runCmd.Flags().StringVar(&runTaskID, "task", "", "task id (generated when empty)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "build only, skip test execution")
}

func runCycle(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	sessionID := "sess-" + uuid.NewString()[:8]
	taskID := runTaskID
	if taskID == "" {
		taskID = "task-" + uuid.NewString()[:8]
	}
	ctx = logging.WithSessionID(ctx, sessionID)
	ctx = logging.WithTaskID(ctx, taskID)

	pb, err := playbook.Load(cfg.Playbook.Path)
	if err != nil {
		return err
	}

	metrics := telemetry.NewMetrics()
	sess := bridge.NewSession(sessionID, logger).
		WithRequireRemote(cfg.Remote.Required).
		WithLocalRoles(roles.KeywordProducer{}, roles.ComparisonCritic{}, roles.InsightCurator{}).
		WithInvocationRecorder(metrics.RecordInvocation).
		WithHooks(metrics.Matchers()...)
	sess.Hooks().OnFailure(metrics.RecordHookFailure)
	defer func() { _ = sess.Close() }()

	if cfg.Remote.URL != "" {
		backend, err := natsrpc.New(cfg.Remote, logger)
		if err != nil {
			if cfg.Remote.Required {
				return err
			}
			logger.Warn(ctx, "remote backend unavailable, running local-only", zap.Error(err))
		} else {
			sess.WithBackend(backend)
		}
	}

	coord := cycle.NewCoordinator(sessionID, taskID, logger).
		WithTestTool(metrics.InstrumentTestTool(testtool.NewRunner(logger).WithTimeout(cfg.Test.Timeout).Tool(cfg.Test.Dir, runDryRun))).
		WithRetryCap(cfg.Cycle.RetryCap).
		WithPlaybook(pb)
	observers := []cycle.TransitionObserver{metrics.Observer()}

	thresholds := cycle.ThresholdPolicy{
		MinLineCoverage:   cfg.Review.MinLineCoverage,
		MinBranchCoverage: cfg.Review.MinBranchCoverage,
	}
	if cfg.Review.ConsultRoles {
		coord.WithReviewPolicy(cycle.BridgePolicy{
			Session:    sess,
			Thresholds: thresholds,
			Question:   runQuestion,
		})
	} else {
		coord.WithReviewPolicy(thresholds)
	}

	if cfg.Transcript.Path != "" {
		sink, err := transcript.OpenSink(cfg.Transcript.Path)
		if err != nil {
			return err
		}
		defer func() { _ = sink.Close() }()
		sess.WithHooks(sink.Matchers(sessionID)...)
		observers = append(observers, sink.Observer(sessionID))
	}
	coord.WithObserver(chainObservers(observers...))

	summary, err := coord.Run(ctx)
	if err != nil {
		return fmt.Errorf("cycle failed: %w", err)
	}

	if err := pb.Save(cfg.Playbook.Path); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), summary.MarkdownReport)
	return nil
}

func chainObservers(observers ...cycle.TransitionObserver) cycle.TransitionObserver {
	return func(tr cycle.PhaseTransition) {
		for _, obs := range observers {
			obs(tr)
		}
	}
}
