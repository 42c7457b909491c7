package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/uclllabs/sasm-dns/internal/logger"
	"github.com/uclllabs/sasm-dns/internal/probe"
	"github.com/uclllabs/sasm-dns/internal/reconcile"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that PowerDNS matches the student roster",
	Long: `Check, without changing anything, that every student has a Slave zone,
a delegation with glue in the parent zone and reverse records pointing at the
mail host, and that no stray student zone is left.

With --probe the delegation and reverse records are also queried from a
live nameserver over DNS.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runVerify,
}

var (
	probeServer  string
	probeTimeout time.Duration
	verifyRoster string
)

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringVar(&probeServer, "probe", "", "Nameserver to query (host or host:port)")
	verifyCmd.Flags().DurationVar(&probeTimeout, "probe-timeout", probe.DefaultTimeout, "Timeout of one DNS query")
	verifyCmd.Flags().StringVar(&verifyRoster, "roster", "", "Read students from a JSON snapshot instead of the roster database")
}

func runVerify(cmd *cobra.Command, _ []string) error {
	log, runID := newLogger()

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
	students, err := loadStudents(cmd.Context(), cfg, verifyRoster)
	if err != nil {
		return fmt.Errorf("failed to load roster: %w", err)
	}

	var prober reconcile.Prober
	if probeServer != "" {
		p := probe.New(probeServer, probeTimeout)
		log.Info("Probing %s over DNS", p.Server())
		prober = p
	}

	engine := reconcile.NewEngine(client, settings, log)
	report, err := engine.Verify(cmd.Context(), students, prober, runID)
	if err != nil {
		return fmt.Errorf("failed to verify: %w", err)
	}

	failures := report.Count(reconcile.PassVerify, logger.OutcomeFail)
	log.InfoWithData("Verify completed", map[string]interface{}{
		"checks":   len(report.Entries),
		"failures": failures,
	})
	if err := report.Err(); err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	return nil
}
