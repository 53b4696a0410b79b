package testsupport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/makeasinger/stemsplit/internal/model"
)

// Separator writes the configured stems into {outputDir}/{model}/{jobID}
// without running anything. Err makes it fail like a nonzero exit.
type Separator struct {
	mu sync.Mutex

	ModelName string
	Stems     []string
	Err       error

	Calls  []string
	Inputs [][]byte
}

// NewSeparator returns a separator that produces the given stems.
func NewSeparator(stems ...string) *Separator {
	return &Separator{ModelName: "mdx_extra_q", Stems: stems}
}

func (s *Separator) Separate(ctx context.Context, jobID, inputPath, outputDir string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls = append(s.Calls, jobID)
	input, err := os.ReadFile(inputPath)
	if err != nil {
		return "", fmt.Errorf("%w: read input: %w", model.ErrSeparation, err)
	}
	s.Inputs = append(s.Inputs, input)

	if s.Err != nil {
		return "", fmt.Errorf("%w: %w", model.ErrSeparation, s.Err)
	}

	dir := filepath.Join(outputDir, s.ModelName, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	for _, stem := range s.Stems {
		data := []byte(stem + ":" + jobID)
		if err := os.WriteFile(filepath.Join(dir, stem+".mp3"), data, 0o644); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// CallCount returns how many times Separate ran.
func (s *Separator) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}
