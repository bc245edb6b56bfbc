package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/golang-migrate/migrate/v4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/asakaida/restree/internal/app"
	"github.com/asakaida/restree/internal/bootstrap"
	"github.com/asakaida/restree/internal/infrastructure/config"
	"github.com/asakaida/restree/internal/infrastructure/logging"
)

type options struct {
	env    string
	fs     afero.Fs
	app    *app.App
	logger logrus.FieldLogger
}

func newRootCmd(fs afero.Fs) *cobra.Command {
	opts := &options{fs: fs}

	root := &cobra.Command{
		Use:   "migrate",
		Short: "Schema migrations for the resource tree store",
		Long: `Schema migrations for the resource tree store.
Creates and upgrades the principal, permission tree, resource tree and
ACL tables in PostgreSQL. "up --seed" also installs the built-in
principals, permission taxonomy and root resources.`,
		SilenceUsage:       true,
		PersistentPreRunE:  opts.open,
		PersistentPostRunE: opts.close,
	}
	root.PersistentFlags().StringVarP(&opts.env, "env", "e", "dev", "Environment to use (dev, test, prod)")

	root.AddCommand(
		newUpCmd(opts),
		newDownCmd(opts),
		newGotoCmd(opts),
		newStatusCmd(opts),
		newForceCmd(opts),
	)
	return root
}

func (o *options) open(cmd *cobra.Command, args []string) error {
	if err := config.InitConfig(o.env); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Store.Driver != config.StoreDriverPostgres {
		return fmt.Errorf("migrations need STORE_DRIVER=%s, got %s", config.StoreDriverPostgres, cfg.Store.Driver)
	}
	logger, err := logging.New(&cfg.Log)
	if err != nil {
		return err
	}
	o.logger = logger.WithField("env", o.env)

	a, err := app.New(cmd.Context(), cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	o.app = a
	return nil
}

func (o *options) close(cmd *cobra.Command, args []string) error {
	if o.app == nil {
		return nil
	}
	return o.app.Close()
}

// withMigrate runs fn on a migrate instance bound to the store connection
func (o *options) withMigrate(fn func(m *migrate.Migrate) error) error {
	m, err := newMigrate(o.app.Postgres)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func newUpCmd(opts *options) *cobra.Command {
	var (
		seed     bool
		seedFile string
	)
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Long: `Apply all pending migrations.
With --seed the built-in seed (or --seed-file, or SEED_FILE) is applied
afterwards. Records that already exist are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := opts.withMigrate(func(m *migrate.Migrate) error { return m.Up() })
			switch {
			case errors.Is(err, migrate.ErrNoChange):
				opts.logger.Info("schema is up to date")
			case err != nil:
				return fmt.Errorf("migration up failed: %w", err)
			default:
				opts.logger.Info("migration up completed")
			}

			if !seed {
				return nil
			}
			if seedFile == "" {
				seedFile = opts.app.Config.SeedFile
			}
			s := bootstrap.DefaultSeed()
			if seedFile != "" {
				if s, err = bootstrap.LoadSeed(opts.fs, seedFile); err != nil {
					return err
				}
			}
			if err := bootstrap.Apply(cmd.Context(), opts.app.BootstrapDeps(), s); err != nil {
				return fmt.Errorf("seeding failed: %w", err)
			}
			opts.logger.WithFields(logrus.Fields{
				"users":       len(s.Users),
				"groups":      len(s.Groups),
				"permissions": len(s.Permissions),
				"roots":       len(s.Resources),
			}).Info("seed applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "Apply the seed after migrating")
	cmd.Flags().StringVar(&seedFile, "seed-file", "", "YAML seed file applied by --seed (default: SEED_FILE or the built-in seed)")
	return cmd
}

func newDownCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default: 1)",
		Long: `Roll back the given number of migrations.
Rolling back past 000003 drops the resource tree and every ACL.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := parseSteps(args)
			if err != nil {
				return err
			}
			err = opts.withMigrate(func(m *migrate.Migrate) error { return m.Steps(-steps) })
			switch {
			case errors.Is(err, migrate.ErrNoChange):
				opts.logger.Info("no migrations to roll back")
			case err != nil:
				return fmt.Errorf("migration down failed: %w", err)
			default:
				opts.logger.WithField("steps", steps).Info("migration down completed")
			}
			return opts.invalidate(cmd)
		},
	}
}

func newGotoCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "goto <version>",
		Short: "Migrate up or down to a version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseVersion(args[0])
			if err != nil {
				return err
			}
			err = opts.withMigrate(func(m *migrate.Migrate) error { return m.Migrate(version) })
			switch {
			case errors.Is(err, migrate.ErrNoChange):
				opts.logger.WithField("version", version).Info("already at version")
			case err != nil:
				return fmt.Errorf("migration goto failed: %w", err)
			default:
				opts.logger.WithField("version", version).Info("migration goto completed")
			}
			return opts.invalidate(cmd)
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"version"},
		Short:   "Show the schema version and the store tables",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			err := opts.withMigrate(func(m *migrate.Migrate) error {
				version, dirty, err := m.Version()
				switch {
				case errors.Is(err, migrate.ErrNilVersion):
					fmt.Fprintln(out, "version: none")
				case err != nil:
					return fmt.Errorf("failed to get version: %w", err)
				case dirty:
					fmt.Fprintf(out, "version: %d (dirty, run force after fixing the failed migration)\n", version)
				default:
					fmt.Fprintf(out, "version: %d\n", version)
				}
				return nil
			})
			if err != nil {
				return err
			}

			counts, err := countRows(cmd.Context(), opts.app.Postgres.DB)
			if err != nil {
				return err
			}
			printCounts(out, counts)
			return nil
		},
	}
}

func newForceCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Mark a version as applied without running it",
		Long:  `Mark a version as applied without running it. Use after repairing a dirty migration by hand.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseVersion(args[0])
			if err != nil {
				return err
			}
			if err := opts.withMigrate(func(m *migrate.Migrate) error { return m.Force(int(version)) }); err != nil {
				return fmt.Errorf("migration force failed: %w", err)
			}
			opts.logger.WithField("version", version).Warn("migration version forced")
			return nil
		},
	}
}

// invalidate drops cached trees and ACLs of running servers after a rollback
func (o *options) invalidate(cmd *cobra.Command) error {
	if err := o.app.Regions.InvalidateAll(cmd.Context()); err != nil {
		o.logger.WithError(err).Warn("failed to invalidate caches")
	}
	return nil
}

func printCounts(w io.Writer, counts []tableCount) {
	for _, c := range counts {
		if c.Rows < 0 {
			fmt.Fprintf(w, "  %-16s missing\n", c.Table)
			continue
		}
		fmt.Fprintf(w, "  %-16s %d rows\n", c.Table, c.Rows)
	}
}
