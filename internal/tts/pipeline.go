package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-roaster/internal/state"
	"github.com/book-expert/voice-roaster/internal/tts/audio"
	"github.com/book-expert/voice-roaster/internal/tts/text"
)

const (
	// DefaultSpeechTimeout bounds one provider synthesis call.
	DefaultSpeechTimeout = 30 * time.Second
	// DefaultTranscodeTimeout bounds one transcoder run.
	DefaultTranscodeTimeout = 20 * time.Second

	filePermissions   = 0o600
	workDirPattern    = "roast-*"
	speechFileName    = "speech.mp3"
	deliveryFileStem  = "voice"
	logFmtSynthesized = "Synthesized %d bytes of %s audio with voice %s"
)

var (
	// ErrProvider marks failures of the text-to-speech provider call.
	ErrProvider = errors.New("speech provider failed")
	// ErrTranscode marks failures converting provider audio to the delivery target.
	ErrTranscode = errors.New("transcode failed")
)

// SpeechGenerator is the provider side of the pipeline.
type SpeechGenerator interface {
	GenerateSpeech(ctx context.Context, voiceID, text string) ([]byte, error)
}

// Transcoder converts an audio file into the delivery target.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath, outputPath string) error
	Target() audio.Target
}

// PipelineConfig holds the pipeline's timeouts and scratch location.
type PipelineConfig struct {
	TempDir          string
	SpeechTimeout    time.Duration
	TranscodeTimeout time.Duration
}

// Pipeline turns a roast line into a playable voice payload.
type Pipeline struct {
	provider   SpeechGenerator
	transcoder Transcoder
	voices     VoiceTable
	normalizer *text.Normalizer
	config     PipelineConfig
	log        *logger.Logger
}

// NewPipeline wires a pipeline. Zero timeouts take the package defaults.
func NewPipeline(
	provider SpeechGenerator,
	transcoder Transcoder,
	voices VoiceTable,
	cfg PipelineConfig,
	log *logger.Logger,
) *Pipeline {
	if cfg.SpeechTimeout <= 0 {
		cfg.SpeechTimeout = DefaultSpeechTimeout
	}

	if cfg.TranscodeTimeout <= 0 {
		cfg.TranscodeTimeout = DefaultTranscodeTimeout
	}

	return &Pipeline{
		provider:   provider,
		transcoder: transcoder,
		voices:     voices,
		normalizer: text.NewNormalizer(),
		config:     cfg,
		log:        log,
	}
}

// Synthesize speaks line in the voice of mode and returns audio in the
// transcoder's target format. Errors wrap ErrProvider or ErrTranscode.
// Every intermediate file lives in a per-call directory that is removed
// before Synthesize returns, on success and on failure.
func (p *Pipeline) Synthesize(ctx context.Context, line string, mode state.VoiceMode) ([]byte, error) {
	spoken := p.normalizer.Normalize(line)
	if spoken == "" {
		return nil, fmt.Errorf("%w: %w", ErrProvider, ErrTextEmpty)
	}

	voiceID := p.voices.Resolve(mode)

	speech, speechErr := p.generateSpeech(ctx, voiceID, spoken)
	if speechErr != nil {
		return nil, speechErr
	}

	workDir, dirErr := os.MkdirTemp(p.config.TempDir, workDirPattern)
	if dirErr != nil {
		return nil, fmt.Errorf("%w: failed to create work directory: %w", ErrTranscode, dirErr)
	}

	defer func() {
		removeErr := os.RemoveAll(workDir)
		if removeErr != nil {
			p.log.Warn("Failed to remove work directory '%s': %v", workDir, removeErr)
		}
	}()

	payload, transcodeErr := p.transcode(ctx, workDir, speech)
	if transcodeErr != nil {
		return nil, transcodeErr
	}

	p.log.Info(logFmtSynthesized, len(payload), p.transcoder.Target().Format, voiceID)

	return payload, nil
}

func (p *Pipeline) generateSpeech(ctx context.Context, voiceID, spoken string) ([]byte, error) {
	speechCtx, cancel := context.WithTimeout(ctx, p.config.SpeechTimeout)
	defer cancel()

	speech, err := p.provider.GenerateSpeech(speechCtx, voiceID, spoken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}

	return speech, nil
}

func (p *Pipeline) transcode(ctx context.Context, workDir string, speech []byte) ([]byte, error) {
	inputPath := filepath.Join(workDir, speechFileName)
	outputPath := filepath.Join(workDir, deliveryFileStem+p.transcoder.Target().Extension())

	writeErr := os.WriteFile(inputPath, speech, filePermissions)
	if writeErr != nil {
		return nil, fmt.Errorf("%w: failed to stage provider audio: %w", ErrTranscode, writeErr)
	}

	transcodeCtx, cancel := context.WithTimeout(ctx, p.config.TranscodeTimeout)
	defer cancel()

	err := p.transcoder.Transcode(transcodeCtx, inputPath, outputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTranscode, err)
	}

	payload, readErr := os.ReadFile(outputPath)
	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to read transcoded audio: %w", ErrTranscode, readErr)
	}

	return payload, nil
}
