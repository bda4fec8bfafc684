// Package content loads the roast corpora, one newline-delimited file per tier.
package content

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-roaster/internal/state"
)

const fileNameFormat = "roasts_%s.txt"

// ErrContentUnavailable is returned when a tier's corpus cannot be loaded or is empty.
var ErrContentUnavailable = errors.New("content unavailable")

// Picker returns an index in [0, n). It must be uniform; tests substitute a
// deterministic one.
type Picker func(n int) int

// RandomPicker draws from the runtime's random source.
func RandomPicker(n int) int {
	return rand.IntN(n)
}

// Pick selects one line with picker.
func Pick(lines []string, picker Picker) (string, error) {
	if len(lines) == 0 {
		return "", ErrContentUnavailable
	}

	return lines[picker(len(lines))], nil
}

// FileSource reads roasts_<tier>.txt from a directory on every call, so corpus
// edits apply without a restart.
type FileSource struct {
	dir string
	log *logger.Logger
}

// NewFileSource creates a FileSource rooted at dir.
func NewFileSource(dir string, log *logger.Logger) *FileSource {
	return &FileSource{
		dir: dir,
		log: log,
	}
}

// LinesForTier returns the tier's candidate lines: every non-empty trimmed line of its file.
func (s *FileSource) LinesForTier(_ context.Context, tier state.Tier) ([]string, error) {
	path := filepath.Join(s.dir, fmt.Sprintf(fileNameFormat, tier))

	data, err := os.ReadFile(path)
	if err != nil {
		s.log.Error("Failed to load roasts for tier %s: %v", tier, err)

		return nil, fmt.Errorf("%w: tier %s: %w", ErrContentUnavailable, tier, err)
	}

	lines := ParseLines(data)
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: tier %s has no lines in %s", ErrContentUnavailable, tier, path)
	}

	return lines, nil
}

// ParseLines splits a corpus into its non-empty trimmed lines.
func ParseLines(data []byte) []string {
	var lines []string

	for raw := range strings.SplitSeq(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line != "" {
			lines = append(lines, line)
		}
	}

	return lines
}
