// Точка входа Secure Share — хранилища временного содержимого с учётом просмотров.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/secureshare/internal/api/handlers"
	"github.com/bigkaa/secureshare/internal/api/openapi"
	"github.com/bigkaa/secureshare/internal/config"
	"github.com/bigkaa/secureshare/internal/handle"
	"github.com/bigkaa/secureshare/internal/leader"
	"github.com/bigkaa/secureshare/internal/server"
	"github.com/bigkaa/secureshare/internal/service"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "secure-share",
		Short: "Secure Share — временное содержимое с ограниченным сроком жизни",
		Long: `Secure Share принимает содержимое, выдаёт непредсказуемый handle
и отдаёт содержимое по нему до истечения срока жизни, считая просмотры.

Без подкоманды запускается HTTP-сервер (то же, что serve).
Конфигурация — переменные окружения SS_* и YAML-файл SS_CONFIG_FILE.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP-сервер",
		RunE:  runServe,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Однократно удалить истёкшие записи и их содержимое",
		RunE:  runSweep,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "reconcile",
		Short: "Однократно сверить реестр с хранилищем содержимого",
		RunE:  runReconcile,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Показать версию",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "secure-share %s\n", config.Version)
		},
	})

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// runServe — основной режим: HTTP-сервер и фоновое обслуживание.
func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("Secure Share запускается",
		slog.String("instance_id", cfg.InstanceID),
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("registry_backend", cfg.RegistryBackend),
		slog.String("content_backend", cfg.ContentBackend),
	)

	// Встроенный OpenAPI-контракт должен быть валиден
	if _, err := openapi.Load(ctx); err != nil {
		logger.Error("Некорректный OpenAPI-контракт", slog.String("error", err.Error()))
		return err
	}

	// --- Инициализация компонентов ---

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилищ", slog.String("error", err.Error()))
		return err
	}
	defer b.close(logger)

	// Восстановление незавершённых операций до приёма запросов
	if _, err := service.RecoverJournal(ctx, b.journal, b.registry, b.content, logger); err != nil {
		logger.Error("Ошибка восстановления WAL", slog.String("error", err.Error()))
		return err
	}

	limits := service.Limits{
		MaxContentSize:      cfg.MaxContentSize,
		DefaultTTL:          cfg.DefaultTTL,
		AllowedContentTypes: cfg.AllowedContentTypes,
	}
	if limits.AllowedContentTypes == nil {
		limits.AllowedContentTypes = service.DefaultLimits().AllowedContentTypes
	}

	reaper := service.NewReaper(b.registry, b.content, b.journal, cfg.SweepInterval, logger)
	ingestSvc := service.NewIngestService(limits, handle.New(), b.registry, b.content, b.journal, reaper, logger)
	accessSvc := service.NewAccessService(b.registry, b.content, reaper, logger)
	reconcileSvc := service.NewReconcileService(b.registry, b.content, b.journal, cfg.OrphanGrace, cfg.ReconcileInterval, logger)

	// Фоновые процессы
	reaper.Start(ctx)

	// Периодическую сверку выполняет только ведущий экземпляр
	election := leader.New(cfg.MetaDir, cfg.InstanceID, cfg.ElectionRetryInterval, func() {
		reconcileSvc.Start(ctx)
	}, logger)
	if err := election.Start(); err != nil {
		logger.Error("Ошибка выбора ведущего экземпляра", slog.String("error", err.Error()))
		reaper.Stop()
		return err
	}

	// topologymetrics — только для внешнего S3
	var deps handlers.DependencyHealth
	var dephealthSvc *service.DephealthService
	if cfg.ContentBackend == config.ContentBackendS3 && cfg.S3Endpoint != "" {
		dephealthSvc, err = service.NewDephealthService(service.DephealthConfig{
			InstanceID:    cfg.InstanceID,
			Group:         cfg.DephealthGroup,
			DepName:       cfg.DephealthDepName,
			Endpoint:      cfg.S3Endpoint,
			HealthPath:    cfg.DephealthHealthPath,
			CheckInterval: cfg.DephealthCheckInterval,
		}, logger)
		if err != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", err.Error()),
			)
			dephealthSvc = nil
		} else if err := dephealthSvc.Start(ctx); err != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
			dephealthSvc = nil
		} else {
			deps = dephealthSvc
		}
	}

	// Handlers
	var diskUsage handlers.DiskUsageFunc
	if cfg.ContentBackend == config.ContentBackendDisk {
		diskUsage = diskUsageFn(cfg.DataDir)
	}

	h := server.Handlers{
		Files:       handlers.NewFilesHandler(ingestSvc, accessSvc, cfg.PublicURL, logger),
		Maintenance: handlers.NewMaintenanceHandler(reaper, reconcileSvc),
		System: handlers.NewSystemHandler(handlers.SystemInfo{
			InstanceID:      cfg.InstanceID,
			RegistryBackend: cfg.RegistryBackend,
			ContentBackend:  cfg.ContentBackend,
			CacheEnabled:    cfg.CacheEntries > 0,
		}, limits, diskUsage),
		Health: handlers.NewHealthHandler(b.checks(cfg), deps),
	}

	srv := server.New(cfg, logger, h)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()

		// --- Graceful shutdown фоновых процессов ---
		logger.Info("Остановка фоновых процессов...")
		// После Stop onAcquire больше не вызывается
		election.Stop()
		reconcileSvc.Stop()
		reaper.Stop()
		if dephealthSvc != nil {
			dephealthSvc.Stop()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Secure Share остановлен")
	return nil
}

// runSweep — однократная очистка истёкших записей (например, из CronJob).
func runSweep(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилищ", slog.String("error", err.Error()))
		return err
	}
	defer b.close(logger)

	reaper := service.NewReaper(b.registry, b.content, b.journal, cfg.SweepInterval, logger)
	reaped, err := reaper.Sweep(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("ошибка очистки: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "reaped: %d\n", reaped)
	return nil
}

// runReconcile — однократная сверка с выводом результата в JSON.
func runReconcile(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилищ", slog.String("error", err.Error()))
		return err
	}
	defer b.close(logger)

	reconcileSvc := service.NewReconcileService(b.registry, b.content, b.journal, cfg.OrphanGrace, cfg.ReconcileInterval, logger)
	result, inProgress, err := reconcileSvc.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("ошибка сверки: %w", err)
	}
	if inProgress {
		return errors.New("сверка уже выполняется")
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// loadConfig загружает конфигурацию и настраивает логгер.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		return nil, nil, err
	}
	return cfg, config.SetupLogger(cfg), nil
}

// diskUsageFn возвращает функцию для получения информации об ёмкости диска.
func diskUsageFn(dataDir string) handlers.DiskUsageFunc {
	return func() (int64, int64, int64, error) {
		return getDiskUsage(dataDir)
	}
}
