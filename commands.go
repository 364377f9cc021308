package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danthegoodman1/etlpipe/config"
	"github.com/danthegoodman1/etlpipe/datastore"
	"github.com/danthegoodman1/etlpipe/gologger"
	"github.com/danthegoodman1/etlpipe/http_server"
	"github.com/danthegoodman1/etlpipe/loader"
	"github.com/danthegoodman1/etlpipe/migrations"
	"github.com/danthegoodman1/etlpipe/pipeline"
	"github.com/danthegoodman1/etlpipe/s3_helper"
	"github.com/danthegoodman1/etlpipe/utils"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var ErrLoadDisabled = errors.New("DB_DRIVER is not set")

type app struct {
	cfg       *config.Config
	logCloser io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "etl",
		Short:         "Extract, transform, and load height and weight datasets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg

			l, closer, err := gologger.NewFileLogger(cfg.LogFile)
			if err != nil {
				return fmt.Errorf("error in NewFileLogger: %w", err)
			}
			a.logCloser = closer
			logger = l
			zerolog.DefaultContextLogger = &l
			cmd.SetContext(l.WithContext(cmd.Context()))
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logCloser != nil {
				_ = a.logCloser.Close()
			}
		},
	}

	cmd.AddCommand(
		a.newRunCmd(),
		a.newTransformCmd(),
		a.newLoadCmd(),
		a.newMigrateCmd(),
		a.newServeCmd(),
	)
	return cmd
}

func (a *app) newRunCmd() *cobra.Command {
	var sourceURL string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			p, closeFn, err := a.buildPipeline(ctx, true)
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := p.Run(ctx, pipeline.RunOptions{SourceURL: sourceURL})
			if report != nil {
				if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
					logger.Warn().Err(perr).Msg("error printing report")
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&sourceURL, "source-url", "", "Archive URL, overrides SOURCE_URL")
	return cmd
}

func (a *app) newTransformCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "transform FILE...",
		Short: "Combine and normalize local files into one CSV",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = a.cfg.OutputPath
			}
			if output == "" {
				output = "transformed_data.csv"
			}
			p, closeFn, err := a.buildPipeline(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeFn()

			t, err := p.Transform(cmd.Context(), args, output)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s\n", t.Len(), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output CSV path, defaults to OUTPUT_PATH or ./transformed_data.csv")
	return cmd
}

func (a *app) newLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load FILE",
		Short: "Replace the configured table with a transformed CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.LoadEnabled() {
				return ErrLoadDisabled
			}
			p, closeFn, err := a.buildPipeline(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := p.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "loaded %d rows into %s\n", n, a.cfg.TableName)
			return nil
		},
	}
}

func (a *app) newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply run ledger migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.cfg.LoadEnabled() {
				return ErrLoadDisabled
			}
			n, err := migrations.RunMigrations(a.cfg.DBDriver, a.cfg.DSN())
			if err != nil {
				return fmt.Errorf("error in RunMigrations: %w", err)
			}
			logger.Info().Int("applied", n).Msg("migrations done")
			return nil
		},
	}
}

func (a *app) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, closeFn, err := a.buildPipeline(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closeFn()

			httpServer, err := http_server.StartHTTPServer(a.cfg.HTTPPort, p)
			if err != nil {
				return err
			}

			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
			<-c
			logger.Warn().Msg("received shutdown signal!")

			// For load balancers needing some time to de-register the pod
			sleepTime, err := utils.GetEnvOrDefaultInt("SHUTDOWN_SLEEP_SEC", 0)
			if err != nil {
				logger.Warn().Err(err).Msg("ignoring SHUTDOWN_SLEEP_SEC")
			}
			logger.Info().Msg(fmt.Sprintf("sleeping for %ds before exiting", sleepTime))

			time.Sleep(time.Second * time.Duration(sleepTime))
			logger.Info().Msg(fmt.Sprintf("slept for %ds, exiting", sleepTime))

			ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
			defer cancel()
			if err := httpServer.Shutdown(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to shutdown HTTP server")
			} else {
				logger.Info().Msg("successfully shutdown HTTP server")
			}
			return nil
		},
	}
}

// buildPipeline wires storage, staging and, when withLoader is set and a database is configured, the loader.
// A database that cannot be reached or is missing migrations disables the load instead of failing.
func (a *app) buildPipeline(ctx context.Context, withLoader bool) (*pipeline.Pipeline, func(), error) {
	cfg := a.cfg
	disk, err := datastore.NewDiskDataStore(cfg.WorkDir)
	if err != nil {
		return nil, nil, fmt.Errorf("error in NewDiskDataStore: %w", err)
	}

	var store pipeline.ObjectStore
	if !cfg.S3Disabled {
		s, err := s3_helper.NewStore(s3_helper.Config{
			Region:   cfg.AWSRegion,
			Bucket:   cfg.S3Bucket,
			Endpoint: cfg.S3Endpoint,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("error in s3_helper.NewStore: %w", err)
		}
		store = s
	}

	var ld loader.Loader
	closeFn := func() {}
	if withLoader && cfg.LoadEnabled() {
		ld, err = openLoader(ctx, cfg)
		if err != nil {
			logger.Error().Err(err).Msg("database unavailable, load step disabled")
			ld = nil
		} else {
			closeFn = func() {
				if err := ld.Close(); err != nil {
					logger.Warn().Err(err).Msg("error closing loader")
				}
			}
		}
	}

	return pipeline.New(cfg, store, ld, disk), closeFn, nil
}

func openLoader(ctx context.Context, cfg *config.Config) (loader.Loader, error) {
	if cfg.DBAutoMigrate {
		n, err := migrations.RunMigrations(cfg.DBDriver, cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("error in RunMigrations: %w", err)
		}
		logger.Debug().Int("applied", n).Msg("ran migrations")
	} else if err := migrations.CheckMigrations(cfg.DBDriver, cfg.DSN()); err != nil {
		return nil, fmt.Errorf("error in CheckMigrations: %w", err)
	}
	return loader.Open(ctx, cfg.DBDriver, cfg.DSN())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
