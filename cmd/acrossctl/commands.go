package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/across/internal/api"
	"github.com/signalsfoundry/across/internal/schedule"
	"github.com/signalsfoundry/across/internal/store"
	"github.com/signalsfoundry/across/internal/tlesync"
	"github.com/signalsfoundry/across/model"
)

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply every pending migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, err := a.openStore(cmd.Context())
				if err != nil {
					return err
				}
				defer db.Close()
				return store.NewMigrator(db.DB(), a.log).Up(cmd.Context(), store.Migrations)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, err := a.openStore(cmd.Context())
				if err != nil {
					return err
				}
				defer db.Close()
				err = store.NewMigrator(db.DB(), a.log).Down(cmd.Context(), store.Migrations)
				if errors.Is(err, store.ErrNoMigrations) {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
					return nil
				}
				return err
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, err := a.openStore(cmd.Context())
				if err != nil {
					return err
				}
				defer db.Close()
				statuses, err := store.NewMigrator(db.DB(), a.log).Status(cmd.Context(), store.Migrations)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "MIGRATION\tAPPLIED")
				for _, s := range statuses {
					fmt.Fprintf(w, "%s\t%t\n", s.Name, s.Applied)
				}
				return w.Flush()
			},
		},
	)
	return cmd
}

func newSeedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <catalog.json>",
		Short: "Upsert observatories, telescopes, instruments and TLEs from a catalog file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			catalog, err := model.DecodeCatalog(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			db, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.SeedCatalog(cmd.Context(), catalog); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d observatories, %d telescopes, %d instruments, %d TLEs\n",
				len(catalog.Observatories), len(catalog.Telescopes), len(catalog.Instruments), len(catalog.TLEs))
			return nil
		},
	}
}

func newTLESyncCmd(a *app) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "tle-sync",
		Short: "Download element sets once and store them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if source == "" {
				source = a.cfg.TLESync.SourceURL
			}
			db, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			syncer := tlesync.New(db, &http.Client{Timeout: a.cfg.TLESync.Timeout}, source, a.log)
			n, err := syncer.Sync(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "upserted %d element sets\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "TLE source URL (defaults to tle_sync.source_url)")
	return cmd
}

func newChecksumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checksum <schedule.json>",
		Short: "Print the deduplication checksum of a schedule create payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var c schedule.Create
			if err := json.Unmarshal(raw, &c); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			c.Normalize()
			if err := c.Validate(); err != nil {
				return err
			}
			sum, err := schedule.Checksum(c)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum)
			return nil
		},
	}
}

func newTokenCmd(a *app) *cobra.Command {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not set")
			}
			id := uuid.New()
			if subject != "" {
				parsed, err := uuid.Parse(subject)
				if err != nil {
					return fmt.Errorf("--subject: %w", err)
				}
				id = parsed
			}
			token, err := api.NewAuthenticator(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer).Sign(id, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Principal id (uuid); random when empty")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{api.ScopeScheduleWrite}, "Scopes to grant")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
