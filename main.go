package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"github.com/venturelab/boardsync/api"
	"github.com/venturelab/boardsync/database"
	"github.com/venturelab/boardsync/integrations"
	bsync "github.com/venturelab/boardsync/sync"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))
	if levelStr == "" {
		levelStr = "debug"
	}
	level, err := zapcore.ParseLevel(levelStr)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      true,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, _ := config.Build()
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	viper.SetConfigName("config")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		zap.L().Fatal("Error reading config file", zap.Error(err))
	}

	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "boardsync.db"
	}
	db := database.Init(dbPath)
	sqlDB, _ := db.DB()

	port := viper.GetString("server.port")
	if port == "" {
		port = "8080"
	}

	apiKey := viper.GetString("trello.api_key")
	if apiKey == "" {
		zap.L().Fatal("trello.api_key is not configured")
	}
	callbackBaseURL := viper.GetString("trello.callback_base_url")
	if callbackBaseURL == "" {
		zap.L().Fatal("trello.callback_base_url is not configured")
	}
	appName := viper.GetString("trello.app_name")
	if appName == "" {
		appName = "Board Sync"
	}

	trelloClient := integrations.NewTrelloClient(apiKey, appName, viper.GetString("trello.base_url"))
	publisher := bsync.NewPublisher(db, trelloClient, callbackBaseURL, logger)
	reconciler := bsync.NewReconciler(db, logger)

	router := gin.Default()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	apiHandler := &api.Handler{
		DB:            db,
		Trello:        trelloClient,
		Reconciler:    reconciler,
		Publisher:     publisher,
		WebhookSecret: viper.GetString("trello.webhook_secret"),
	}
	apiHandler.RegisterRoutes(router.Group("/api"))

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	zap.L().Info("Starting server", zap.String("port", port))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("Server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	sig := <-sigCh
	zap.L().Info("Shutdown initiated", zap.String("reason", sig.String()))

	// if a second signal is caught, exit immediately
	go func() {
		<-sigCh
		zap.L().Info("Second interrupt signal received. Exiting immediately.")
		os.Exit(1)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	zap.L().Info("Shutting down HTTP server...")
	if err := srv.Shutdown(ctx); err != nil {
		zap.L().Error("Error shutting down server", zap.Error(err))
	} else {
		zap.L().Info("HTTP server shut down gracefully.")
	}

	if sqlDB != nil {
		if err := sqlDB.Close(); err != nil {
			zap.L().Error("Error closing database", zap.Error(err))
		} else {
			zap.L().Info("Database connection closed.")
		}
	}

	zap.L().Info("Exiting...")
}
