package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/patholab/caseflow/internal/application/engine"
	"github.com/patholab/caseflow/internal/config"
	"github.com/patholab/caseflow/internal/domain/policy"
	"github.com/patholab/caseflow/internal/infrastructure/persistence/repository"
	"github.com/patholab/caseflow/internal/infrastructure/persistence/sqlite"
	httpiface "github.com/patholab/caseflow/internal/interfaces/http"
	"github.com/patholab/caseflow/pkg/database"
	"github.com/patholab/caseflow/pkg/utils"
)

func main() {
	// Local development overrides; absent file is fine
	_ = gotenv.Load()

	configPath := os.Getenv("CASEFLOW_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting case workflow service",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Repositories and the transaction manager share one connection pool
	txManager := sqlite.NewDB(db.DB, logger)
	caseRepo := repository.NewCaseRepository(db.DB, logger)
	recordRepo := repository.NewStageRecordRepository(db.DB, logger)
	auditRepo := repository.NewAuditLogRepository(db.DB, logger)

	sugar := sugaredLogger{logger.Sugar()}

	workflowEngine := engine.New(
		caseRepo,
		recordRepo,
		auditRepo,
		txManager,
		policy.ApproverPolicy{},
		sugar,
	)

	server := httpiface.NewServer(httpiface.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, workflowEngine, sugar)

	// Cancel the server context on SIGINT/SIGTERM for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Fatal("HTTP server failed", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}

// sugaredLogger adapts zap's sugared logger to the key/value Logger
// interfaces of the engine and HTTP layers.
type sugaredLogger struct {
	s *zap.SugaredLogger
}

func (l sugaredLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

func (l sugaredLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}
