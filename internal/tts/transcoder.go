package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-roaster/internal/tts/audio"
)

const defaultFFmpegBinary = "ffmpeg"

// ErrTranscodeOutputEmpty is returned when ffmpeg exits cleanly without producing audio.
var ErrTranscodeOutputEmpty = errors.New("transcoder produced no audio")

// FFmpegTranscoder converts provider audio into the delivery target by calling ffmpeg.
type FFmpegTranscoder struct {
	binary string
	target audio.Target
	log    *logger.Logger
}

// NewFFmpegTranscoder validates target and creates a transcoder. An empty
// binary means "ffmpeg" on PATH.
func NewFFmpegTranscoder(binary string, target audio.Target, log *logger.Logger) (*FFmpegTranscoder, error) {
	validateErr := target.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	if binary == "" {
		binary = defaultFFmpegBinary
	}

	return &FFmpegTranscoder{
		binary: binary,
		target: target,
		log:    log,
	}, nil
}

// Target returns the delivery target this transcoder produces.
func (t *FFmpegTranscoder) Target() audio.Target {
	return t.target
}

// Transcode converts inputPath into outputPath. The context bounds the ffmpeg process.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, inputPath, outputPath string) error {
	// #nosec G204 -- binary comes from validated configuration, paths from os.MkdirTemp
	cmd := exec.CommandContext(ctx, t.binary, t.target.FFmpegArgs(inputPath, outputPath)...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg interrupted: %w", ctxErr)
		}

		return fmt.Errorf("ffmpeg execution failed: %w - output: %s", err, string(output))
	}

	info, statErr := os.Stat(outputPath)
	if statErr != nil {
		return fmt.Errorf("failed to stat transcoded audio: %w", statErr)
	}

	if info.Size() == 0 {
		return ErrTranscodeOutputEmpty
	}

	t.log.Info("Transcoded %s to %s/%s (%d bytes)", inputPath, t.target.Format, t.target.Codec, info.Size())

	return nil
}
