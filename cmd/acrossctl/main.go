// Command acrossctl runs administrative tasks against an ACROSS deployment:
// schema migrations, catalog seeding, one-shot TLE refreshes, schedule
// checksums and service tokens.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/across/internal/config"
	"github.com/signalsfoundry/across/internal/logging"
	"github.com/signalsfoundry/across/internal/store"
)

// app carries what every subcommand needs after flags are parsed.
type app struct {
	configPath string
	envFile    string

	cfg config.Config
	log logging.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "acrossctl",
		Short:         "Administer the ACROSS observation and visibility service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath, a.envFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logging.New(cfg.Logging())
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to a YAML configuration file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Path to a .env file; ignored when missing")

	root.AddCommand(
		newMigrateCmd(a),
		newSeedCmd(a),
		newTLESyncCmd(a),
		newChecksumCmd(),
		newTokenCmd(a),
	)
	return root
}

// openStore connects to the configured database. Commands that write
// persistent state refuse to run against the in-memory catalog.
func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	if a.cfg.Memory() {
		return nil, errors.New("db.dsn is not set (use --config or ACROSS_DB_DSN)")
	}
	return store.Open(ctx, a.cfg.Store(), a.log)
}
