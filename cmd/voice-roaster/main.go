// main package for the voice-roaster
package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-roaster/internal/chatbridge"
	"github.com/book-expert/voice-roaster/internal/config"
	"github.com/book-expert/voice-roaster/internal/content"
	"github.com/book-expert/voice-roaster/internal/core"
	"github.com/book-expert/voice-roaster/internal/objectstore"
	"github.com/book-expert/voice-roaster/internal/profanity"
	"github.com/book-expert/voice-roaster/internal/roast"
	"github.com/book-expert/voice-roaster/internal/store"
	"github.com/book-expert/voice-roaster/internal/tts"
	"github.com/book-expert/voice-roaster/internal/worker"
	"github.com/nats-io/nats.go"
)

const (
	tempDirPerm        = 0o750
	healthCheckTimeout = 10 * time.Second
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func openDocumentStore(cfg *config.Config, js nats.JetStreamContext, log *logger.Logger) (core.DocumentStore, error) {
	if cfg.Roast.StoreBackend == config.StoreBackendNATS {
		kvStore, err := store.NewKVStore(js, cfg.NATS.StateBucket, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open state bucket %s: %w", cfg.NATS.StateBucket, err)
		}

		return kvStore, nil
	}

	fileStore, err := store.NewFileStore(cfg.Roast.DBPath, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open state file %s: %w", cfg.Roast.DBPath, err)
	}

	return fileStore, nil
}

func buildPipeline(cfg *config.Config, provider *tts.ProviderClient, log *logger.Logger) (*tts.Pipeline, error) {
	mkdirErr := os.MkdirAll(cfg.Paths.TempDir, tempDirPerm)
	if mkdirErr != nil {
		return nil, fmt.Errorf("failed to create temp dir %s: %w", cfg.Paths.TempDir, mkdirErr)
	}

	transcoder, err := tts.NewFFmpegTranscoder(cfg.Transcode.FFmpegPath, cfg.Target(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcoder: %w", err)
	}

	voiceMap := tts.DefaultVoiceMap()
	maps.Copy(voiceMap, cfg.VoiceMap())

	pipeline := tts.NewPipeline(
		provider,
		transcoder,
		tts.NewVoiceTable(voiceMap, cfg.Provider.DefaultVoiceID),
		tts.PipelineConfig{
			TempDir:          cfg.Paths.TempDir,
			SpeechTimeout:    cfg.ProviderTimeout(),
			TranscodeTimeout: cfg.TranscodeTimeout(),
		},
		log,
	)

	return pipeline, nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir(), "voice-roaster-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	log, err := setupLogger(cfg.Paths.BaseLogsDir, "voice-roaster.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	js, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	audioStore, err := objectstore.New(js, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("failed to bind audio bucket: %w", err)
	}

	documents, err := openDocumentStore(cfg, js, log)
	if err != nil {
		return err
	}

	provider := tts.NewProviderClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.ProviderTimeout(), tts.ProviderSettings{
		ModelID:         cfg.Provider.ModelID,
		Stability:       cfg.Provider.Stability,
		SimilarityBoost: cfg.Provider.SimilarityBoost,
	})

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), healthCheckTimeout)
	healthErr := provider.HealthCheck(healthCtx)

	cancelHealth()

	if healthErr != nil {
		log.Warn("Speech provider health check failed, continuing: %v", healthErr)
	}

	pipeline, err := buildPipeline(cfg, provider, log)
	if err != nil {
		return err
	}

	bridge, err := chatbridge.NewNatsBridge(natsConnection, audioStore, chatbridge.Config{
		DeliverySubject: cfg.NATS.DeliverySubject,
		AdminSubject:    cfg.NATS.AdminSubject,
		AudioBucket:     cfg.NATS.AudioObjectStoreBucket,
		AudioFormat:     string(cfg.Target().Format),
		RequestTimeout:  cfg.RequestTimeout(),
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create chat bridge: %w", err)
	}

	service, err := roast.NewService(roast.Dependencies{
		Store:       documents,
		Content:     content.NewFileSource(cfg.Roast.ContentDir, log),
		Filter:      profanity.NewDefaultFilter(),
		Synthesizer: pipeline,
		Deliverer:   bridge,
		Admins:      bridge,
		Voices:      provider,
	}, roast.Config{
		RateLimit:     cfg.RateLimit(),
		LogRetention:  cfg.Roast.LogRetention,
		CommitTimeout: cfg.CommitTimeout(),
		Clock:         nil,
		Picker:        nil,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create roast service: %w", err)
	}

	commandWorker, err := worker.NewNatsWorker(natsConnection, cfg.NATS.CommandSubject, service,
		cfg.HandleTimeout(), cfg.NATS.MaxInFlight, log)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.System("Voice-roaster initialized. Listening for commands on subject: %s", cfg.NATS.CommandSubject)

	runErr := commandWorker.Run(ctx)
	if runErr != nil {
		return fmt.Errorf("worker stopped: %w", runErr)
	}

	log.System("Voice-roaster shut down cleanly.")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
