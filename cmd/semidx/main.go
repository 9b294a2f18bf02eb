package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/semidx/semidx/internal/cache"
	"github.com/semidx/semidx/internal/config"
	"github.com/semidx/semidx/internal/docstore"
	"github.com/semidx/semidx/internal/embedbatch"
	"github.com/semidx/semidx/internal/embedcache"
	"github.com/semidx/semidx/internal/handler"
	"github.com/semidx/semidx/internal/job"
	"github.com/semidx/semidx/internal/middleware"
	"github.com/semidx/semidx/internal/model"
	"github.com/semidx/semidx/internal/provider"
	"github.com/semidx/semidx/internal/repo"
	"github.com/semidx/semidx/internal/schedule"
	"github.com/semidx/semidx/internal/service"
	"github.com/semidx/semidx/internal/snapstore"
)

func main() {
	_ = godotenv.Load()

	var configPath string

	rootCmd := &cobra.Command{
		Use:   "semidx",
		Short: "embedding backed semantic search over a csv document collection",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "path to config.json")

	loadAll := func() (*config.Config, *service.SearchService, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Init(
			cfg.LogConfig.File,
			cfg.LogConfig.Level,
			int(cfg.LogConfig.FileCount),
			int(cfg.LogConfig.FileSize),
			int(cfg.LogConfig.KeepDays),
			cfg.LogConfig.Console,
		)
		svc, err := buildService(cfg)
		if err != nil {
			return nil, nil, err
		}
		return cfg, svc, nil
	}

	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "embed the collection and persist the snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := loadAll()
			if err != nil {
				return err
			}
			if err := svc.Refresh(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("indexed %d documents\n", svc.Count())
			return nil
		},
	}

	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "semantic search over the indexed collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, svc, err := loadAll()
			if err != nil {
				return err
			}
			if err := svc.Refresh(cmd.Context()); err != nil {
				return err
			}
			results, err := svc.Search(cmd.Context(), args[0], cfg.Index.TopK)
			if err != nil {
				return err
			}
			return printResults(results)
		},
	}

	lexCmd := &cobra.Command{
		Use:   "lexsearch <query>",
		Short: "tf-idf search, no embedding provider needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, svc, err := loadAll()
			if err != nil {
				return err
			}
			// The lexical index is built before the embedding pass, so a
			// provider outage during Refresh still leaves it serving.
			if err := svc.Refresh(cmd.Context()); err != nil {
				logutil.GetLogger(cmd.Context()).Warn("refresh failed, serving lexical index anyway", zap.Error(err))
			}
			results, err := svc.LexicalSearch(cmd.Context(), args[0], cfg.Index.TopK)
			if err != nil {
				return err
			}
			return printResults(results)
		},
	}

	appendCmd := &cobra.Command{
		Use:   "append <text>...",
		Short: "append documents to the collection and embed them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := loadAll()
			if err != nil {
				return err
			}
			added, err := svc.Append(cmd.Context(), args)
			if err != nil {
				return err
			}
			for _, doc := range added {
				fmt.Printf("%s\t%s\n", doc.ID, doc.Text)
			}
			return nil
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "rewrite the collection file with embeddings inlined per row",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := loadAll()
			if err != nil {
				return err
			}
			return svc.MigrateInline(cmd.Context())
		},
	}

	importCmd := &cobra.Command{
		Use:   "import <markdown-file-or-dir>",
		Short: "split markdown files into sections and index them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := loadAll()
			if err != nil {
				return err
			}
			added, err := svc.ImportMarkdown(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("imported %d sections\n", len(added))
			return nil
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the search http server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, svc, err := loadAll()
			if err != nil {
				return err
			}
			return runServer(cfg, svc)
		},
	}

	rootCmd.AddCommand(indexCmd, searchCmd, lexCmd, appendCmd, migrateCmd, importCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("command failed", zap.Error(err))
	}
}

func buildService(cfg *config.Config) (*service.SearchService, error) {
	ctx := context.Background()
	store, err := docstore.Load(ctx, cfg.StorePath)
	if err != nil {
		return nil, err
	}
	snap, err := snapstore.New(cfg.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("init snapshot store: %w", err)
	}
	prov, err := provider.New(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("init embedding provider: %w", err)
	}
	prov = embedcache.WrapLRU(prov, cfg.QueryLRU.Size, time.Duration(cfg.QueryLRU.TTLSeconds)*time.Second)
	coord := embedbatch.New(prov, embedbatch.Config{
		BatchSize:       cfg.Batch.Size,
		InterBatchDelay: time.Duration(cfg.Batch.InterBatchDelayMS) * time.Millisecond,
		BackoffBase:     time.Duration(cfg.Batch.BackoffBaseMS) * time.Millisecond,
		MaxRetries:      cfg.Batch.MaxRetries,
		WarmupDelay:     time.Duration(cfg.Batch.WarmupDelayMS) * time.Millisecond,
	})

	var vectors service.VectorBackend
	if cfg.Index.Backend == "postgres" {
		db, err := repo.Connect(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		vectors = repo.NewVectorRepo(db)
	}
	return service.NewSearchService(store, cache.NewManager(snap), coord, prov, vectors, cfg.Index.TopK), nil
}

func runServer(cfg *config.Config, svc *service.SearchService) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Keep serving when the initial refresh fails: the lexical index is
	// already in place and the cron resync retries the embedding pass.
	if err := svc.Refresh(ctx); err != nil {
		logutil.GetLogger(ctx).Warn("initial refresh failed", zap.Error(err))
	}

	deps := handler.RouterDeps{
		Search: handler.NewSearchHandler(svc),
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.CORS(nil),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewResyncJob(svc), cfg.ResyncSpec); err != nil {
		return fmt.Errorf("schedule resync: %w", err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	logutil.GetLogger(ctx).Info("http server listening",
		zap.Int("port", cfg.Port),
		zap.Int("documents", svc.Count()),
	)
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}

func printResults(results []model.SearchResult) error {
	enc := json.NewEncoder(os.Stdout)
	for _, item := range results {
		if err := enc.Encode(item); err != nil {
			return err
		}
	}
	return nil
}
