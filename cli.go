package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"blotterdesk/internal/catalog"
	"blotterdesk/internal/intake"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const readHeaderTimeout = 10 * time.Second

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "blotterdesk",
		Short:        "Crime blotter intake and review service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply store migrations and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
					app.log.Info("migrations applied", "store", app.cfg.StoreBackend)
					return nil
				})
			},
		},
		newNormalizeCommand(),
		newWatchCommand(),
		newExportCommand(),
		&cobra.Command{
			Use:   "send-digest",
			Short: "Mail the last 24 hours of reports to DIGEST_EMAIL_TO",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
					sent, err := app.sendDigest(ctx)
					if err != nil {
						return err
					}
					app.log.Info("send-digest completed", "sent", sent)
					return nil
				})
			},
		},
	)
	return root
}

// withApp loads config, opens the store, migrates it and runs fn.
func withApp(parent context.Context, fn func(ctx context.Context, app *App) error) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()

	app, err := newApp(parent, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			logger.Error("closing app failed", "err", err)
		}
	}()

	if err := app.store.Migrate(parent); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return fn(parent, app)
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, func(ctx context.Context, app *App) error {
		if err := app.bootstrapOperator(ctx); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Join(app.cfg.DataRoot, "exports"), 0o755); err != nil {
			app.log.Warn("exports directory unavailable", "dir", app.cfg.DataRoot, "err", err)
		}

		srv := &http.Server{
			Addr:              app.cfg.Addr,
			Handler:           app.routes(),
			ReadHeaderTimeout: readHeaderTimeout,
		}

		g, gctx := errgroup.WithContext(ctx)
		app.startHousekeeping(gctx, rateLimiterCleanupInterval)

		g.Go(func() error {
			app.log.Info("starting gin API", "addr", app.cfg.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			app.log.Info("shutting down gin API")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	})
}

// offlineNormalizer builds a normalizer for commands that run without a store.
func offlineNormalizer(timezone string) (*intake.Normalizer, error) {
	if timezone == "" {
		timezone = valueOrDefault("TIMEZONE", defaultTimezone)
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", timezone, err)
	}
	return &intake.Normalizer{Now: time.Now, Location: location, Catalog: catalog.Default()}, nil
}

func newNormalizeCommand() *cobra.Command {
	var output, timezone string
	cmd := &cobra.Command{
		Use:   "normalize <file>",
		Short: "Normalize a blotter spreadsheet to JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			normalizer, err := offlineNormalizer(timezone)
			if err != nil {
				return err
			}
			entries, err := normalizer.ProcessFile(args[0])
			if err != nil {
				return err
			}
			for _, entry := range entries {
				for _, warning := range entry.Warnings {
					fmt.Fprintf(cmd.ErrOrStderr(), "row %d: %s\n", entry.Line, warning)
				}
			}

			if output == "" || output == "-" {
				return intake.EncodeJSON(cmd.OutOrStdout(), intake.Records(entries))
			}
			if err := writeRecordsFile(output, intake.Records(entries)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d record(s) to %s\n", len(entries), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&timezone, "timezone", "", "zone used for missing dates (default $TIMEZONE or Asia/Manila)")
	return cmd
}

func newWatchCommand() *cobra.Command {
	var output, timezone string
	var workers int
	var skipExisting bool
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Normalize every spreadsheet dropped into a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return errors.New("--out is required")
			}
			normalizer, err := offlineNormalizer(timezone)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w := &dropWatcher{
				InputDir:     args[0],
				OutputDir:    output,
				Normalizer:   normalizer,
				Log:          newLogger(),
				Workers:      workers,
				SkipExisting: skipExisting,
			}
			return w.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&output, "out", "", "folder that receives <name>.json")
	cmd.Flags().StringVar(&timezone, "timezone", "", "zone used for missing dates (default $TIMEZONE or Asia/Manila)")
	cmd.Flags().IntVar(&workers, "workers", 2, "files normalized in parallel")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "ignore files already in the folder at startup")
	return cmd
}

func newExportCommand() *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write CSV, GeoJSON and PDF exports under DATA_ROOT/exports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			period = strings.ToLower(strings.TrimSpace(period))
			if _, _, err := getReportWindow(period, time.Now()); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				batch, err := app.generateExportBatch(ctx, period)
				if err != nil {
					return err
				}
				for _, file := range batch.Files {
					fmt.Fprintln(cmd.OutOrStdout(), file)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&period, "period", exportPeriodWeekly, "weekly, monthly or all")
	return cmd
}

// writeRecordsFile writes records next to path and renames into place so
// readers never see a partial document.
func writeRecordsFile(path string, records []intake.Record) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if err := intake.EncodeJSON(tmp, records); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
