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

	"sahtee-exposure/internal/config"
	"sahtee-exposure/internal/consumer"
	"sahtee-exposure/internal/database"
	"sahtee-exposure/internal/domain"
	httpapi "sahtee-exposure/internal/http"
	"sahtee-exposure/internal/logger"
	"sahtee-exposure/internal/mqtt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const serviceName = "sahtee-exposure"

func main() {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Occupational exposure monitoring and health alerting",
		Long: `sahtee-exposure tracks workplace exposure records, evaluates every measurement
against its regulatory limit, raises and manages health alerts, and analyzes
exposure trends into risk groups and prevention recommendations.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCmd(), newMigrateCmd(), newAnalyzeCmd(), newExportCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup 加载配置并初始化日志
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, log, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the measurement stream consumer and the MQTT subscriber",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			return serve(cfg, log)
		},
	}
}

func serve(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	errChan := make(chan error, 2)

	if a.redisClient != nil {
		sc := consumer.NewStreamConsumer(cfg, a.redisClient, a.exposures, logger.Component(log, "stream-consumer"))
		go func() {
			if err := sc.Start(ctx); err != nil {
				errChan <- fmt.Errorf("stream consumer: %w", err)
			}
		}()
	}

	if cfg.MQTT.Enabled {
		mqttLog := logger.Component(log, "mqtt")
		mqttClient, err := mqtt.NewClient(&cfg.MQTT, mqttLog)
		if err != nil {
			return fmt.Errorf("failed to connect mqtt: %w", err)
		}
		defer mqttClient.Disconnect()
		if err := consumer.NewMQTTIngest(a.exposures, mqttLog).Start(mqttClient, &cfg.MQTT); err != nil {
			return err
		}
	}

	httpLog := logger.Component(log, "http")
	router := httpapi.NewRouter(
		httpapi.NewExposureHandler(a.exposures, httpLog),
		httpapi.NewAlertHandler(a.alerts, httpLog),
		httpapi.NewAnalysisHandler(a.analysis, cfg.Narrative.Timeout*6, httpLog),
		httpLog,
	)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	// 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case runErr = <-errChan:
		log.Error("Service error", zap.Error(runErr))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown failed", zap.Error(err))
	}

	log.Info("Exposure service stopped")
	return runErr
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded PostgreSQL schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			db, err := database.NewPostgresDB(&cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect database: %w", err)
			}
			defer database.Close(db)

			return database.Migrate(cmd.Context(), db, log)
		},
	}
}

func newAnalyzeCmd() *cobra.Command {
	var periodMonths int
	var enrich bool

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run trend analysis once and print the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			a, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.analysis.AnalyzeTrends(cmd.Context(), periodMonths)
			if err != nil {
				return err
			}
			if enrich {
				result = a.analysis.Enrich(cmd.Context(), result)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().IntVar(&periodMonths, "period", 6, "Analysis window in months")
	cmd.Flags().BoolVar(&enrich, "enrich", false, "Attach narrative rationale when NARRATIVE_URL is set")
	return cmd
}

func newExportCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write exposures and alerts to an Excel workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			a, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			data, err := a.exposures.ExportExposures(cmd.Context(), domain.ExposureFilter{})
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			log.Info("Export written", zap.String("path", out), zap.Int("bytes", len(data)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "expositions.xlsx", "Output file")
	return cmd
}
