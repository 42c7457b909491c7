package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/uclllabs/sasm-dns/internal/config"
	"github.com/uclllabs/sasm-dns/internal/logger"
	"github.com/uclllabs/sasm-dns/internal/metrics"
	"github.com/uclllabs/sasm-dns/internal/reconcile"
	"github.com/uclllabs/sasm-dns/internal/roster"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Bring PowerDNS in line with the student roster",
	Long: `Reconcile the PowerDNS server with the student roster.

The passes run in this order:
1. cleanup     delete stray student zones and NS/DS records not on the allow-list
2. zones       create a Slave zone per student with the student's addresses as masters
3. delegation  add NS and glue records for every student zone to the parent zone
4. ptr         point the student's reverse records at the mail host

Failures of one student are reported and do not stop the run. The cleanup
pass asks for confirmation before deleting anything unless -y or --json is given.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runReconcile,
}

var (
	dryRun      bool
	autoConfirm bool
	skipCleanup bool
	onlyPasses  []string
	metricsFile string
	rosterFile  string
)

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be changed without applying")
	reconcileCmd.Flags().BoolVarP(&autoConfirm, "auto-confirm", "y", false, "Skip confirmation prompt")
	reconcileCmd.Flags().BoolVar(&skipCleanup, "skip-cleanup", false, "Do not run the cleanup pass")
	reconcileCmd.Flags().StringSliceVar(&onlyPasses, "only", nil, "Run only these passes (cleanup, zones, delegation, ptr)")
	reconcileCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write run metrics in Prometheus textfile format")
	reconcileCmd.Flags().StringVar(&rosterFile, "roster", "", "Read students from a JSON snapshot instead of the roster database")
}

// selectPasses resolves --only and --skip-cleanup into the pass list.
func selectPasses(only []string, skipCleanup bool) ([]reconcile.Pass, error) {
	passes := reconcile.AllPasses
	if len(only) > 0 {
		passes = nil
		for _, name := range only {
			p, err := reconcile.ParsePass(name)
			if err != nil {
				return nil, err
			}
			passes = append(passes, p)
		}
	}
	if !skipCleanup {
		return passes, nil
	}

	var out []reconcile.Pass
	for _, p := range passes {
		if p != reconcile.PassCleanup {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no passes left to run")
	}
	return out, nil
}

// loadStudents reads the roster from the snapshot file when one is given,
// otherwise from the roster database.
func loadStudents(ctx context.Context, cfg *config.Config, path string) ([]roster.Student, error) {
	if path != "" {
		return roster.FileSource{Path: path}.Students(ctx)
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.Students(ctx)
}

func promptConfirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	passes, err := selectPasses(onlyPasses, skipCleanup)
	if err != nil {
		return err
	}

	log, runID := newLogger()
	log.SetDryRun(dryRun)
	jsonOutput := env.GetBool("json")

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	settings, err := reconcile.NewSettings(cfg)
	if err != nil {
		return err
	}
	client, err := newClient(cfg, log)
	if err != nil {
		return err
	}

	students, err := loadStudents(cmd.Context(), cfg, rosterFile)
	if err != nil {
		return fmt.Errorf("failed to load roster: %w", err)
	}
	log.Info("Loaded %d student(s) from the roster", len(students))

	engine := reconcile.NewEngine(client, settings, log)

	// Set confirmation function (skip in JSON mode or auto-confirm)
	if !jsonOutput && !autoConfirm && !dryRun {
		engine.SetConfirmFunc(promptConfirm)
	}

	opts := reconcile.Options{
		RunID:       runID,
		DryRun:      dryRun,
		AutoConfirm: jsonOutput || autoConfirm,
		Passes:      passes,
	}

	log.Info("Reconciling %s...", cfg.ParentZone)
	report, err := engine.Run(cmd.Context(), students, opts)
	if report != nil {
		printReport(log, "Reconcile", report, jsonOutput)
		if metricsFile != "" {
			writeMetrics(log, report, metricsFile)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to reconcile: %w", err)
	}

	if err := report.Err(); err != nil {
		return fmt.Errorf("reconcile completed with errors: %w", err)
	}
	return nil
}

func writeMetrics(log *logger.Logger, report *reconcile.Report, path string) {
	recorder := metrics.NewRecorder()
	recorder.Observe(report, time.Now())
	if err := recorder.WriteTextfile(path); err != nil {
		log.Warn("%v", err)
		return
	}
	log.Debug("Metrics written to %s", path)
}

func printReport(log *logger.Logger, title string, report *reconcile.Report, jsonOutput bool) {
	failures := report.Count("", logger.OutcomeFail)
	if jsonOutput {
		log.InfoWithData(title+" completed", map[string]interface{}{
			"zonesDeleted":  report.ZonesDeleted,
			"zonesCreated":  report.ZonesCreated,
			"rrsetsDeleted": report.RRsetsDeleted,
			"rrsetsCreated": report.RRsetsCreated,
			"rrsetsUpdated": report.RRsetsUpdated,
			"ptrsWritten":   report.PTRsWritten,
			"failures":      failures,
			"aborted":       len(report.Aborted),
		})
		return
	}

	log.Table(title+" results", []string{"item", "count"}, report.Summary())

	if failures == 0 && len(report.Aborted) == 0 {
		return
	}
	fmt.Fprintf(os.Stderr, "\nErrors:\n")
	for pass, err := range report.Aborted {
		fmt.Fprintf(os.Stderr, "  - pass %s aborted: %v\n", pass, err)
	}
	for _, e := range report.Entries {
		if e.Outcome == logger.OutcomeFail {
			fmt.Fprintf(os.Stderr, "  - [%s] %s: %s\n", e.Pass, e.Entity, e.Reason)
		}
	}
}
