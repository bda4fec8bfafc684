package audio_test

import (
	"testing"

	"github.com/book-expert/voice-roaster/internal/tts/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTargetIsValid(t *testing.T) {
	t.Parallel()

	target := audio.NewDefaultTarget()

	require.NoError(t, target.Validate())
	assert.Equal(t, ".ogg", target.Extension())
}

func TestTarget_ValidateRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(target *audio.Target)
	}{
		{name: "unknown format", mutate: func(target *audio.Target) { target.Format = "flac" }},
		{name: "empty codec", mutate: func(target *audio.Target) { target.Codec = "" }},
		{name: "bad bitrate", mutate: func(target *audio.Target) { target.Bitrate = "fast" }},
		{name: "zero sample rate", mutate: func(target *audio.Target) { target.SampleRate = 0 }},
		{name: "too many channels", mutate: func(target *audio.Target) { target.Channels = 6 }},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			target := audio.NewDefaultTarget()
			testCase.mutate(&target)

			require.ErrorIs(t, target.Validate(), audio.ErrInvalidTarget)
		})
	}
}

func TestTarget_FFmpegArgs(t *testing.T) {
	t.Parallel()

	args := audio.NewDefaultTarget().FFmpegArgs("/tmp/in.mp3", "/tmp/out.ogg")

	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", "/tmp/in.mp3",
		"-vn",
		"-c:a", "libopus",
		"-b:a", "64k",
		"-ar", "48000",
		"-ac", "1",
		"-f", "ogg",
		"/tmp/out.ogg",
	}, args)
}
