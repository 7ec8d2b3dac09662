// Command cli runs call experiments from the terminal: validate and assign
// YAML test definitions, execute them against the simulated carrier, and
// export recorded ledgers.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"callsplit/adapters/carrier/sim"
	"callsplit/adapters/export"
	"callsplit/adapters/memory"
	"callsplit/adapters/messaging/logmsg"
	"callsplit/adapters/postgres"
	"callsplit/adapters/spamsource/heuristic"
	"callsplit/app"
	"callsplit/domain/core"
	"callsplit/domain/experiment"
	"callsplit/domain/metrics"
	"callsplit/internal/config"
	"callsplit/internal/ratelimit"
)

var (
	runSeed    int64
	runTick    time.Duration
	runTimeout time.Duration
	runExport  string

	exportFormat string
	exportOut    string
)

func main() {
	root := &cobra.Command{
		Use:           "callsplit",
		Short:         "A/B call experiment runner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	validateCmd := &cobra.Command{
		Use:   "validate <test.yaml>",
		Short: "Validate a test definition file",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	assignCmd := &cobra.Command{
		Use:   "assign <test.yaml>",
		Short: "Preview the lead assignment of a test definition",
		Args:  cobra.ExactArgs(1),
		RunE:  runAssign,
	}

	runCmd := &cobra.Command{
		Use:   "run <test.yaml>",
		Short: "Run a test end to end against the simulated carrier",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().Int64Var(&runSeed, "seed", 1, "carrier simulation seed")
	runCmd.Flags().DurationVar(&runTick, "tick", 50*time.Millisecond, "scheduler tick interval")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 5*time.Minute, "abort if the test is not finished by then")
	runCmd.Flags().StringVar(&runExport, "export", "", "write the call ledger to this file after the run (.csv or .xlsx)")

	exportCmd := &cobra.Command{
		Use:   "export <test-id>",
		Short: "Export the stored call ledger of a test (requires DATABASE_URL)",
		Args:  cobra.ExactArgs(1),
		RunE:  runExportCmd,
	}
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "csv or xlsx")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file (default <test-id>.<format>)")

	root.AddCommand(validateCmd, assignCmd, runCmd, exportCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadTestFile(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("OK: %s\n", cfg.Name)
	fmt.Printf("  leads:      %d\n", len(cfg.Leads))
	fmt.Printf("  mode:       %s\n", cfg.Assignment.Mode)
	fmt.Printf("  attempts:   %d\n", cfg.Attempts.MaxAttempts)
	fmt.Printf("  group A:    %s\n", cfg.GroupA.OriginLine)
	fmt.Printf("  group B:    %s\n", cfg.GroupB.OriginLine)
	return nil
}

func runAssign(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadTestFile(args[0])
	if err != nil {
		return err
	}
	registry := newLocalRegistry(runSeed, runTick)
	state, err := registry.CreateTest(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	a, b := state.GroupCounts()
	fmt.Printf("%s: %d leads assigned (A=%d B=%d)\n", cfg.Name, len(state.Assignments), a, b)
	for _, asg := range state.Assignments {
		fmt.Printf("  %-14s %s  %s\n", asg.LeadID, asg.Group, asg.Reason)
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadTestFile(args[0])
	if err != nil {
		return err
	}
	registry := newLocalRegistry(runSeed, runTick)

	ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
	defer cancel()

	state, err := registry.CreateTest(ctx, cfg)
	if err != nil {
		return err
	}
	if err := registry.StartTest(ctx, state.ID); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			registry.Shutdown(context.Background())
			return fmt.Errorf("test %s did not finish within %s", state.ID, runTimeout)
		case <-time.After(runTick):
		}
		current, err := registry.GetTest(state.ID)
		if err != nil {
			return err
		}
		if current.Status != experiment.StatusRunning && current.Status != experiment.StatusScheduled {
			printOutcome(registry, current)
			if runExport != "" {
				return writeLedger(registry.Metrics().Export(state.ID), mustCompare(registry, state.ID), runExport)
			}
			return nil
		}
	}
}

func runExportCmd(cmd *cobra.Command, args []string) error {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return fmt.Errorf("DATABASE_URL is required for export")
	}
	id, err := core.ParseTestID(args[0])
	if err != nil {
		return err
	}

	db, err := sqlx.ConnectContext(cmd.Context(), "postgres", url)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	ms, err := postgres.NewCallLogRepository(db).ListCallMetrics(cmd.Context(), id)
	if err != nil {
		return err
	}
	if len(ms) == 0 {
		return fmt.Errorf("no recorded calls for test %s", id)
	}

	svc := metrics.NewService(core.SystemClock())
	for _, m := range ms {
		if _, err := svc.Record(m); err != nil {
			log.Printf("skipping call %s: %v", m.CallID, err)
		}
	}

	out := exportOut
	if out == "" {
		out = fmt.Sprintf("%s.%s", id, exportFormat)
	}
	return writeLedger(svc.Export(id), svc.Compare(id), out)
}

// newLocalRegistry builds a fully in-memory registry around the simulated
// carrier, suitable for one-shot CLI runs.
func newLocalRegistry(seed int64, tick time.Duration) *app.Registry {
	clock := core.SystemClock()
	limiter := ratelimit.NewMultiLevel(
		ratelimit.Config{BurstCapacity: 1000, RefillRate: 1000},
		ratelimit.Config{BurstCapacity: 1000, RefillRate: 1000},
		ratelimit.Config{BurstCapacity: 1000, RefillRate: 1000},
		clock,
	)
	return app.NewRegistry(app.Deps{
		Carrier:     sim.New(seed, sim.DefaultProfile()),
		Messenger:   logmsg.New(),
		SpamSource:  heuristic.NewStatic(nil),
		CallLogs:    memory.NewCallLogRepository(),
		Experiments: memory.NewExperimentRepository(),
		Limiter:     limiter,
		Clock:       clock,
	}, app.Options{TickInterval: tick, BatchSize: 20, MaxInFlight: 16})
}

func printOutcome(registry *app.Registry, state *experiment.TestState) {
	fmt.Printf("test %s finished: %s\n", state.ID, state.Status)
	if state.LastError != "" {
		fmt.Printf("  reason: %s\n", state.LastError)
	}

	res, err := registry.Results(state.ID)
	if err != nil {
		fmt.Printf("  results unavailable: %v\n", err)
		return
	}
	fmt.Printf("  calls:        %d (scheduled %d)\n", res.Overall.Total, state.ScheduledTotal)
	fmt.Printf("  answer rate:  A=%.1f%%  B=%.1f%%\n", res.GroupA.AnswerRate*100, res.GroupB.AnswerRate*100)

	cmp := mustCompare(registry, state.ID)
	fmt.Printf("  winner:       %s (significant=%v, confidence=%.0f%%)\n",
		cmp.Winner, cmp.StatisticalSignificance, cmp.ConfidenceLevel)
	fmt.Printf("  %s\n", cmp.Recommendation)
}

func mustCompare(registry *app.Registry, id core.TestID) metrics.Comparison {
	cmp, err := registry.Compare(id)
	if err != nil {
		return metrics.Comparison{}
	}
	return cmp
}

func writeLedger(rows [][]string, cmp metrics.Comparison, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if len(path) > 5 && path[len(path)-5:] == ".xlsx" {
		if err := export.WriteXLSX(f, rows, cmp); err != nil {
			return err
		}
	} else {
		if err := export.WriteCSV(f, rows); err != nil {
			return err
		}
	}
	fmt.Printf("wrote %d rows to %s\n", len(rows)-1, path)
	return nil
}
