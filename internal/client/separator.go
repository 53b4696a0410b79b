package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/makeasinger/stemsplit/internal/config"
	"github.com/makeasinger/stemsplit/internal/model"
)

// Placeholders substituted into the configured separator arguments
const (
	PlaceholderInput  = "{input}"
	PlaceholderOutput = "{output}"
	PlaceholderModel  = "{model}"
)

// Separator splits an audio file into stems
type Separator interface {
	// Separate runs the separation of inputPath into outputDir and returns the
	// directory holding the produced {stem}.mp3 files.
	Separate(ctx context.Context, jobID, inputPath, outputDir string) (string, error)
}

// CommandRunner executes an external command and returns its combined output
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// DemucsSeparator implements Separator by shelling out to demucs
type DemucsSeparator struct {
	command       string
	args          []string
	modelName     string
	timeout       time.Duration
	commandRunner CommandRunner
	output        func(line string)
}

// NewDemucsSeparator creates a separator from configuration
func NewDemucsSeparator(cfg *config.SeparatorConfig) *DemucsSeparator {
	return &DemucsSeparator{
		command:   cfg.Command,
		args:      cfg.Args,
		modelName: cfg.Model,
		timeout:   cfg.Timeout,
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *DemucsSeparator) WithCommandRunner(runner CommandRunner) *DemucsSeparator {
	s.commandRunner = runner
	return s
}

// WithOutput redirects the tool's output, one call per line.
func (s *DemucsSeparator) WithOutput(fn func(line string)) *DemucsSeparator {
	s.output = fn
	return s
}

// Model returns the configured model name
func (s *DemucsSeparator) Model() string {
	return s.modelName
}

// Separate runs demucs against inputPath. The input file name (minus
// extension) must be the job ID: demucs names its output folder after it.
func (s *DemucsSeparator) Separate(ctx context.Context, jobID, inputPath, outputDir string) (string, error) {
	if inputPath == "" {
		return "", fmt.Errorf("%w: input path required", model.ErrSeparation)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: ensure output dir: %w", model.ErrSeparation, err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	args := s.buildArgs(inputPath, outputDir)
	out, err := s.run(ctx, s.command, args...)
	s.emit(out)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s timed out after %s", model.ErrSeparation, s.command, s.timeout)
		}
		return "", fmt.Errorf("%w: %s: %w", model.ErrSeparation, s.command, err)
	}

	return StemDir(outputDir, s.modelName, jobID), nil
}

// StemDir returns the directory demucs writes the stems of jobID into
func StemDir(outputDir, modelName, jobID string) string {
	return filepath.Join(outputDir, modelName, jobID)
}

func (s *DemucsSeparator) buildArgs(inputPath, outputDir string) []string {
	replacer := strings.NewReplacer(
		PlaceholderInput, inputPath,
		PlaceholderOutput, outputDir,
		PlaceholderModel, s.modelName,
	)
	args := make([]string, 0, len(s.args))
	for _, a := range s.args {
		args = append(args, replacer.Replace(a))
	}
	return args
}

// run executes a command, using the custom runner if set.
func (s *DemucsSeparator) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	return cmd.CombinedOutput()
}

func (s *DemucsSeparator) emit(out []byte) {
	if s.output == nil || len(out) == 0 {
		return
	}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			s.output(line)
		}
	}
}
