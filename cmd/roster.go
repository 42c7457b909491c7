package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/uclllabs/sasm-dns/internal/config"
	"github.com/uclllabs/sasm-dns/internal/logger"
	"github.com/uclllabs/sasm-dns/internal/roster"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Manage the student roster",
	Long: `Manage the student roster database.

New students get the next free host index of the address pool, in order of
last name. Indices are never reused, so a student keeps the same addresses
for as long as they are in the roster.`,
}

var rosterAddCmd = &cobra.Command{
	Use:   "add <emails-file>",
	Short: "Register students from a list of e-mail addresses",
	Long: `Register the students in emails-file that are not in the roster yet.

The file may be the scraper output ({"students":[{"email":...}]}), a JSON
array of addresses or objects, or plain text with one address per line.
The whole batch is rejected when an address is malformed, the pool would
run out, or two students would get the same zone.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runRosterAdd,
}

var rosterImportCmd = &cobra.Command{
	Use:          "import <snapshot.json>",
	Short:        "Merge a JSON roster snapshot into the database",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runRosterImport,
}

var rosterExportCmd = &cobra.Command{
	Use:          "export [snapshot.json]",
	Short:        "Write the roster as a JSON snapshot (stdout when no file is given)",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         runRosterExport,
}

var rosterListCmd = &cobra.Command{
	Use:          "list",
	Short:        "List the students in the roster",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runRosterList,
}

var rosterRemoveCmd = &cobra.Command{
	Use:          "remove <email>",
	Short:        "Remove a student; the host index is not handed out again",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runRosterRemove,
}

func init() {
	rootCmd.AddCommand(rosterCmd)
	rosterCmd.AddCommand(rosterAddCmd, rosterImportCmd, rosterExportCmd, rosterListCmd, rosterRemoveCmd)
}

// withStore opens the roster database for one command.
func withStore(fn func(log *logger.Logger, cfg *config.Config, store *roster.Store) error) error {
	log, _ := newLogger()
	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(log, cfg, store)
}

func runRosterAdd(_ *cobra.Command, args []string) error {
	return withStore(func(log *logger.Logger, cfg *config.Config, store *roster.Store) error {
		file, err := os.Open(args[0]) //nolint:gosec // path is from CLI argument
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer file.Close()

		emails, err := roster.ParseEmails(file)
		if err != nil {
			return err
		}
		log.Info("Read %d address(es) from %s", len(emails), args[0])

		added, err := store.Assign(emails, cfg.ParentZone)
		if err != nil {
			return fmt.Errorf("failed to add students: %w", err)
		}
		log.Table("Added students", studentHeaders, studentRows(added))
		log.InfoWithData("Roster updated", map[string]interface{}{"added": len(added)})
		return nil
	})
}

func runRosterImport(_ *cobra.Command, args []string) error {
	return withStore(func(log *logger.Logger, _ *config.Config, store *roster.Store) error {
		file, err := os.Open(args[0]) //nolint:gosec // path is from CLI argument
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer file.Close()

		n, err := store.Import(file)
		if err != nil {
			return fmt.Errorf("failed to import roster: %w", err)
		}
		log.InfoWithData("Roster imported", map[string]interface{}{"students": n, "file": args[0]})
		return nil
	})
}

func runRosterExport(_ *cobra.Command, args []string) error {
	return withStore(func(log *logger.Logger, _ *config.Config, store *roster.Store) error {
		if len(args) == 0 {
			return store.Export(os.Stdout)
		}

		file, err := os.Create(args[0]) //nolint:gosec // path is from CLI argument
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", args[0], err)
		}
		if err := store.Export(file); err != nil {
			file.Close()
			return err
		}
		if err := file.Close(); err != nil {
			return fmt.Errorf("failed to write %s: %w", args[0], err)
		}
		log.Info("Roster written to %s", args[0])
		return nil
	})
}

func runRosterList(_ *cobra.Command, _ []string) error {
	return withStore(func(log *logger.Logger, _ *config.Config, store *roster.Store) error {
		students, err := store.List()
		if err != nil {
			return err
		}
		next, err := store.NextIndex()
		if err != nil {
			return err
		}
		log.Table(fmt.Sprintf("Students (next index %d)", next), studentHeaders, studentRows(students))
		return nil
	})
}

func runRosterRemove(_ *cobra.Command, args []string) error {
	return withStore(func(log *logger.Logger, _ *config.Config, store *roster.Store) error {
		if err := store.Remove(args[0]); err != nil {
			return fmt.Errorf("failed to remove %s: %w", args[0], err)
		}
		log.Info("Removed %s", args[0])
		return nil
	})
}

var studentHeaders = []string{"index", "email", "zone", "ipv4", "ipv6"}

func studentRows(students []roster.Student) [][]string {
	rows := make([][]string, 0, len(students))
	for _, st := range students {
		rows = append(rows, []string{strconv.Itoa(st.Index), st.Email, st.DNSZone, st.IPv4, st.IPv6})
	}
	return rows
}
