// Package cmd provides CLI commands for the sasm-dns reconciler.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/uclllabs/sasm-dns/internal/config"
	"github.com/uclllabs/sasm-dns/internal/logger"
	"github.com/uclllabs/sasm-dns/internal/powerdns"
	"github.com/uclllabs/sasm-dns/internal/roster"
)

const (
	defaultDBPath  = "students.db"
	defaultEnvFile = ".env"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// env holds flag values overlaid with API_* environment variables and the
// optional .env file.
var env = viper.New()

var rootCmd = &cobra.Command{
	Use:   "sasm-dns",
	Short: "Reconcile per-student DNS delegations in PowerDNS",
	Long: `A CLI tool that brings a PowerDNS server in line with the student roster.

Every student owns a subdomain of the parent zone. A run removes stray
delegations, creates a Slave zone per student with the student's addresses
as masters, delegates it from the parent zone with glue, and writes the
reverse records for the student's addresses.

API settings can be given as flags or as API_URL, API_KEY, API_USERNAME and
API_PASSWORD in the environment or in a .env file.`,
	Version:           fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceErrors:     true,
	PersistentPreRunE: loadEnv,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Settings file (YAML); lab defaults when empty")
	flags.String("db", defaultDBPath, "Roster database file")
	flags.String("env-file", defaultEnvFile, "Optional dotenv file with API_* settings")
	flags.String(
		"api-url", "", "PowerDNS API base URL (e.g., http://localhost:8081/api/v1/servers/localhost)")
	flags.String("api-key", "", "PowerDNS API key")
	flags.String("api-username", "", "HTTP basic auth user in front of the API")
	flags.String("api-password", "", "HTTP basic auth password in front of the API")
	flags.BoolP("verbose", "v", false, "Enable verbose/debug output")
	flags.Bool("json", false, "Output in JSON format (structured logging)")
	flags.Bool("no-color", false, "Disable colored output")

	env.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	env.AutomaticEnv()
	if err := env.BindPFlags(flags); err != nil {
		panic(fmt.Sprintf("failed to bind flags: %v", err))
	}
}

// loadEnv exports the dotenv file's variables that are not already set, so
// real environment variables and flags take precedence over it.
func loadEnv(_ *cobra.Command, _ []string) error {
	path := env.GetString("env-file")
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	dotenv := viper.New()
	dotenv.SetConfigFile(path)
	dotenv.SetConfigType("env")
	if err := dotenv.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	for _, key := range dotenv.AllKeys() {
		name := strings.ToUpper(key)
		if _, ok := os.LookupEnv(name); ok {
			continue
		}
		if err := os.Setenv(name, dotenv.GetString(key)); err != nil {
			return fmt.Errorf("failed to export %s: %w", name, err)
		}
	}
	return nil
}

// newLogger builds the logger from the output flags and tags it with a fresh
// run ID.
func newLogger() (*logger.Logger, string) {
	runID := uuid.NewString()
	log := logger.New(logger.Options{
		Verbose: env.GetBool("verbose"),
		JSON:    env.GetBool("json"),
		NoColor: env.GetBool("no-color"),
	}).With("runId", runID)
	return log, runID
}

// loadConfig reads the settings file, or the defaults when none is given,
// and validates the result.
func loadConfig(log *logger.Logger) (*config.Config, error) {
	cfg := config.Default()
	if path := env.GetString("config"); path != "" {
		log.Info("Loading configuration from %s", path)
		var err error
		cfg, err = config.LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	if errs := cfg.Validate(); errs != nil {
		return nil, errs
	}
	return cfg, nil
}

// newClient creates the PowerDNS client. The API URL from flags or the
// environment wins over the one in the settings file.
func newClient(cfg *config.Config, log *logger.Logger) (*powerdns.Client, error) {
	apiURL := env.GetString("api-url")
	if apiURL == "" {
		apiURL = cfg.API.URL
	}
	apiKey := env.GetString("api-key")

	var missing []string
	if apiURL == "" {
		missing = append(missing, "api-url (API_URL)")
	}
	if apiKey == "" {
		missing = append(missing, "api-key (API_KEY)")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required setting(s) not set: %s", strings.Join(missing, ", "))
	}

	username := env.GetString("api-username")
	log.Debug("API URL: %s", apiURL)
	log.Debug("API Key: %s", logger.MaskSecret(apiKey))
	if username != "" {
		log.Debug("API basic auth user: %s", username)
	}

	return powerdns.NewClient(apiURL, powerdns.Options{
		APIKey:   apiKey,
		Username: username,
		Password: env.GetString("api-password"),
		Timeout:  cfg.API.Timeout,
	}, log), nil
}

// openStore opens the roster database with the configured address pool.
func openStore(cfg *config.Config) (*roster.Store, error) {
	pool, err := roster.NewPool(cfg.Pool)
	if err != nil {
		return nil, err
	}
	return roster.Open(env.GetString("db"), pool)
}
