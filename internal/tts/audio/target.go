// Package audio describes the delivery codec and container that synthesized
// speech is transcoded into, and validates it before any transcoder runs.
package audio

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// Constants for the default delivery target: OGG/Opus voice notes.
const (
	DEFAULT_FORMAT      = FORMAT_OGG
	DEFAULT_CODEC       = "libopus"
	DEFAULT_BITRATE     = "64k"
	DEFAULT_SAMPLE_RATE = 48000
	DEFAULT_CHANNELS    = 1
)

// Constants for validation limits.
const (
	MAX_SAMPLE_RATE = 192000
	MAX_CHANNELS    = 2
)

// Constants for error messages and formats.
const (
	ERR_FMT_UNSUPPORTED_FORMAT = "%w: unsupported container format %q"
	ERR_FMT_CODEC_EMPTY        = "%w: codec must not be empty"
	ERR_FMT_BITRATE            = "%w: bitrate %q must look like 64k"
	ERR_FMT_SAMPLE_RATE_RANGE  = "%w: sample rate must be between 1 and %d Hz"
	ERR_FMT_CHANNELS_RANGE     = "%w: channels must be between 1 and %d"
)

// ErrInvalidTarget is returned for a target that no transcoder should attempt.
var ErrInvalidTarget = errors.New("invalid audio target")

var bitratePattern = regexp.MustCompile(`^\d+[kK]?$`)

// Format represents supported container formats.
type Format string

const (
	FORMAT_OGG  Format = "ogg"
	FORMAT_MP3  Format = "mp3"
	FORMAT_WAV  Format = "wav"
	FORMAT_WEBM Format = "webm"
)

// Target is the container, codec and encoding parameters of delivered audio.
type Target struct {
	Format     Format `json:"format"`
	Codec      string `json:"codec"`
	Bitrate    string `json:"bitrate,omitempty"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// NewDefaultTarget returns the OGG/Opus mono target chat platforms play as voice notes.
func NewDefaultTarget() Target {
	return Target{
		Format:     DEFAULT_FORMAT,
		Codec:      DEFAULT_CODEC,
		Bitrate:    DEFAULT_BITRATE,
		SampleRate: DEFAULT_SAMPLE_RATE,
		Channels:   DEFAULT_CHANNELS,
	}
}

// Extension returns the file extension for the target container, with a leading dot.
func (t Target) Extension() string {
	return "." + string(t.Format)
}

// Validate checks the target before it is handed to a transcoder.
func (t Target) Validate() error {
	switch t.Format {
	case FORMAT_OGG, FORMAT_MP3, FORMAT_WAV, FORMAT_WEBM:
	default:
		return fmt.Errorf(ERR_FMT_UNSUPPORTED_FORMAT, ErrInvalidTarget, t.Format)
	}

	if t.Codec == "" {
		return fmt.Errorf(ERR_FMT_CODEC_EMPTY, ErrInvalidTarget)
	}

	if t.Bitrate != "" && !bitratePattern.MatchString(t.Bitrate) {
		return fmt.Errorf(ERR_FMT_BITRATE, ErrInvalidTarget, t.Bitrate)
	}

	if t.SampleRate <= 0 || t.SampleRate > MAX_SAMPLE_RATE {
		return fmt.Errorf(ERR_FMT_SAMPLE_RATE_RANGE, ErrInvalidTarget, MAX_SAMPLE_RATE)
	}

	if t.Channels <= 0 || t.Channels > MAX_CHANNELS {
		return fmt.Errorf(ERR_FMT_CHANNELS_RANGE, ErrInvalidTarget, MAX_CHANNELS)
	}

	return nil
}

// FFmpegArgs builds the ffmpeg argument list converting inputPath to outputPath.
func (t Target) FFmpegArgs(inputPath, outputPath string) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", inputPath,
		"-vn",
		"-c:a", t.Codec,
	}

	if t.Bitrate != "" {
		args = append(args, "-b:a", t.Bitrate)
	}

	return append(args,
		"-ar", strconv.Itoa(t.SampleRate),
		"-ac", strconv.Itoa(t.Channels),
		"-f", string(t.Format),
		outputPath,
	)
}
