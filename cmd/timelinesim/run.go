package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simlane/timeline/config"
	"github.com/simlane/timeline/logging"
	"github.com/simlane/timeline/scheduling"
	"github.com/simlane/timeline/simulation"
	"github.com/simlane/timeline/timeservice"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent workload.",
	Long: `Run the agent workload until every agent has finished its shift, ` +
		`the duration is up, or the process is interrupted.`,
	RunE: runWorkload,
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.String("env-file", ".env", "Read settings from this file if it exists")
	f.Duration("duration", 0, "Stop after this much real time, 0 for no limit")
	f.Int("agents", defaultWorkloadParams().Agents, "Number of agents")
	f.Int("rounds", 0, "Rounds per agent, 0 to run until the shift ends")
	f.Int64("shift", int64(defaultWorkloadParams().ShiftLength),
		"Length of the shift in simulation milliseconds")
	f.String("speed", "", "Simulation speed: paused, normal, fast or ultra")
	f.Bool("monitor", false, "Serve the monitor")
	f.Int("monitor-port", 0, "Port of the monitor, 0 for a random port")
	f.Bool("open", false, "Open the monitor in a browser")
	f.Bool("record", false, "Record a trace into a SQLite file")
	f.String("record-path", "", "Trace file name without extension")
	f.String("log-level", "", "Log level")
	f.Bool("parallel-ids", false, "Use globally unique handle IDs")
}

// loadConfig reads the env file and the environment, then lets flags that
// were set on the command line override the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	f := cmd.Flags()

	envFile, _ := f.GetString("env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	if f.Changed("speed") {
		cfg.SimSpeed, _ = f.GetString("speed")
	}
	if f.Changed("monitor") {
		cfg.MonitorOn, _ = f.GetBool("monitor")
	}
	if f.Changed("monitor-port") {
		cfg.MonitorPort, _ = f.GetInt("monitor-port")
	}
	if f.Changed("record") {
		cfg.RecordOn, _ = f.GetBool("record")
	}
	if f.Changed("record-path") {
		cfg.RecordPath, _ = f.GetString("record-path")
	}
	if f.Changed("log-level") {
		cfg.LogLevel, _ = f.GetString("log-level")
	}
	if f.Changed("parallel-ids") {
		cfg.ParallelIDs, _ = f.GetBool("parallel-ids")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func runWorkload(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	builder, err := simulation.MakeBuilder().WithConfig(cfg)
	if err != nil {
		return err
	}

	if logger.Core().Enabled(zapcore.DebugLevel) {
		builder = builder.WithElementLogging()
	}

	s, err := builder.WithLogger(logger).Build()
	if err != nil {
		return err
	}
	defer s.Terminate()

	params := defaultWorkloadParams()
	params.Agents, _ = cmd.Flags().GetInt("agents")
	params.Rounds, _ = cmd.Flags().GetInt("rounds")
	shift, _ := cmd.Flags().GetInt64("shift")
	params.ShiftLength = scheduling.TimeSpan(shift)

	w, err := installWorkload(s, params, logging.Named(logger, "workload"))
	if err != nil {
		return err
	}

	if open, _ := cmd.Flags().GetBool("open"); open && s.MonitorURL() != "" {
		if err := browser.OpenURL(s.MonitorURL() + "/api/now"); err != nil {
			logger.Warn("cannot open browser", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if d, _ := cmd.Flags().GetDuration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	ctx, finish := context.WithCancel(ctx)
	defer finish()
	s.Service().AddUpdateListener(func(timeservice.UpdateReport) {
		if w.Done() {
			finish()
		}
	})

	began := time.Now()
	if err := s.Run(ctx); err != nil {
		return err
	}

	printSummary(cmd, s, w, time.Since(began))

	return nil
}

func printSummary(
	cmd *cobra.Command,
	s *simulation.Simulation,
	w *workload,
	elapsed time.Duration,
) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "simulation %s ran for %s\n", s.ID(), elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "  ticks:       %d\n", s.Service().Ticks())
	fmt.Fprintf(out, "  sim time:    %s\n", s.Service().Sim().Now())
	fmt.Fprintf(out, "  patrols:     %d\n", w.patrols.Load())
	fmt.Fprintf(out, "  deliveries:  %d (%.1f ms on average)\n",
		w.deliveries.Load(), w.deliveryTime.AverageTime())
	fmt.Fprintf(out, "  exceptions:  %d\n", s.Service().Exceptions())

	for _, kind := range s.Counter().Kinds() {
		fmt.Fprintf(out, "  %-24s started %d, failed %d\n",
			kind, s.Counter().Started(kind), s.Counter().Failed(kind))
	}

	if r := s.GetDataRecorder(); r != nil {
		fmt.Fprintf(out, "  trace tasks: %d\n", s.GetVisTracer().Written())
	}
}
