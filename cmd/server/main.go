package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Brownie44l1/food-classifier/internal/backend/onnx"
	"github.com/Brownie44l1/food-classifier/internal/backend/tflite"
	"github.com/Brownie44l1/food-classifier/internal/config"
	"github.com/Brownie44l1/food-classifier/internal/handlers"
	"github.com/Brownie44l1/food-classifier/internal/metadata"
	"github.com/Brownie44l1/food-classifier/internal/model"
	"github.com/Brownie44l1/food-classifier/internal/preprocess"
	"github.com/Brownie44l1/food-classifier/internal/upload"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 10 * time.Second

func initLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Env == "local" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	initLogger(cfg)

	meta, err := metadata.Load(cfg.LabelsPath, cfg.MetricsPath, cfg.FoodPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load metadata")
	}
	log.Info().Msgf("Classes: %v", meta.Labels())

	modelPaths, err := cfg.ModelPaths()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid model configuration")
	}
	descriptors := make([]model.Descriptor, 0, len(modelPaths))
	for _, m := range modelPaths {
		descriptors = append(descriptors, model.Descriptor{
			Name:          m.Name,
			Path:          m.Path,
			Layout:        preprocess.NHWC,
			Normalization: preprocess.Caffe,
			InputName:     cfg.ModelInputName,
			OutputName:    cfg.ModelOutputName,
		})
		log.Info().Msgf("Model %s: %s", m.Name, m.Path)
	}
	registry := model.NewRegistry(descriptors...)

	onnxBackend, err := onnx.New(cfg.OnnxLibraryPath, cfg.ImageSize, len(meta.Labels()))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ONNX Runtime")
	}
	defer onnxBackend.Close()
	registry.RegisterLoader(".onnx", onnxBackend.Load)
	registry.RegisterLoader(".tflite", tflite.New(cfg.TFLiteThreads).Load)

	uploads, err := upload.New(cfg.UploadDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare upload directory")
	}

	handler := handlers.NewHandler(registry, meta, preprocess.New(cfg.ImageSize), uploads, cfg.MaxUploadBytes)

	mux := http.NewServeMux()
	mux.HandleFunc("/", handler.Index)
	mux.HandleFunc("/health", handler.Health)
	mux.Handle(handlers.UploadRoute, http.StripPrefix(handlers.UploadRoute, http.FileServer(http.Dir(uploads.Dir()))))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handlers.RequestLogger(handlers.EnableCORS(mux)),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Msgf("Server starting on port %s", cfg.Port)
		log.Info().Msg("Endpoints:")
		log.Info().Msg("  GET  /        - Upload page")
		log.Info().Msg("  POST /        - Classify upload (model_name, file)")
		log.Info().Msg("  GET  /health  - Health check")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
