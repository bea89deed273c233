package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-schemagraph/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/ekaya-schemagraph/pkg/adapters/datasource/mysql"
	_ "github.com/ekaya-inc/ekaya-schemagraph/pkg/adapters/datasource/postgres"
	_ "github.com/ekaya-inc/ekaya-schemagraph/pkg/adapters/datasource/sqlite"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/handlers"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	configPath  string
	datasources []string
)

var rootCmd = &cobra.Command{
	Use:           "ekaya-schemagraph",
	Short:         "Synchronize database catalogs into a schema graph",
	Long:          `ekaya-schemagraph mirrors the tables and columns of configured datasources into a graph store and infers the relationships between them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize configured datasources (all of them by default)",
	RunE:  runSync,
}

var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Run relationship inference over an already synchronized datasource",
	RunE:  runInfer,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the schema graph HTTP API",
	RunE:  runServe,
}

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "List the compiled-in datasource adapters",
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(datasource.RegisteredAdapters())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $SCHEMAGRAPH_CONFIG or config.yaml)")
	syncCmd.Flags().StringSliceVarP(&datasources, "datasource", "d", nil, "Datasource name or database ID (repeatable)")
	inferCmd.Flags().StringSliceVarP(&datasources, "datasource", "d", nil, "Datasource name or database ID (repeatable, required)")
	_ = inferCmd.MarkFlagRequired("datasource")

	rootCmd.AddCommand(syncCmd, inferCmd, serveCmd, adaptersCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs, err := a.planner.Plan(datasources...)
	if err != nil {
		return err
	}
	defer services.CloseJobs(jobs, a.logger)

	failed := 0
	for _, outcome := range a.syncService.SyncAll(ctx, jobs) {
		if outcome.Err != nil {
			failed++
			a.logger.Error("Sync failed",
				zap.String("database", outcome.Name),
				zap.String("database_id", outcome.DatabaseID.String()),
				zap.Error(outcome.Err))
			continue
		}
		r := outcome.Result
		a.logger.Info("Sync completed",
			zap.String("database", outcome.Name),
			zap.String("database_id", outcome.DatabaseID.String()),
			zap.Int("tables_added", r.TablesAdded),
			zap.Int("tables_updated", r.TablesUpdated),
			zap.Int("tables_removed", r.TablesRemoved),
			zap.Int("tables_restored", r.TablesRestored),
			zap.Int("explicit_relationships", r.ExplicitRelationshipsAdded+r.ExplicitRelationshipsRestored),
			zap.Int("inferred_relationships", r.InferredRelationshipsAdded),
			zap.Int("many_to_many", r.ManyToManyRelationships),
			zap.Int("skipped", len(r.Skipped)))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d datasources failed to sync", failed, len(jobs))
	}
	return nil
}

func runInfer(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, name := range datasources {
		ds, ok := a.cfg.Datasource(name)
		if !ok {
			return fmt.Errorf("unknown datasource %q", name)
		}
		databaseID, err := ds.DatabaseID()
		if err != nil {
			return err
		}

		res, err := a.syncService.InferRelationships(ctx, databaseID)
		if err != nil {
			return fmt.Errorf("datasource %s: %w", ds.Name, err)
		}
		a.logger.Info("Inference completed",
			zap.String("database", ds.Name),
			zap.Int("added", res.Added),
			zap.Int("low_confidence", res.LowConfidence),
			zap.Int("skipped", len(res.Skipped)))
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	graph := handlers.NewGraphHandler(a.syncService, a.relationships, a.planner, a.logger.Named("http"))
	server := &http.Server{
		Addr:              ":" + a.cfg.Server.Port,
		Handler:           handlers.NewRouter(a.cfg, graph, a.logger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting ekaya-schemagraph",
			zap.String("port", a.cfg.Server.Port),
			zap.String("version", a.cfg.Version))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
