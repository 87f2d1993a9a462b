package capture

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"gradescan/internal/exam"
)

// CommandProvider shells out to an external camera or scanner command. Every
// occurrence of {output} in the argv template is replaced with the destination
// path before the command runs.
type CommandProvider struct {
	argv []string
	dir  string
}

// NewCommandProvider validates the argv template and the working directory.
func NewCommandProvider(argv []string, dir string) (*CommandProvider, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("capture command is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	return &CommandProvider{argv: argv, dir: dir}, nil
}

// Capture runs the command and returns the produced file path.
func (p *CommandProvider) Capture(ctx context.Context, stage exam.Stage) (string, error) {
	out := filepath.Join(p.dir, fmt.Sprintf("raw_%s_%d.jpg", stage, time.Now().UnixMilli()))
	args := make([]string, 0, len(p.argv))
	for _, a := range p.argv {
		args = append(args, strings.ReplaceAll(a, "{output}", out))
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if combined, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("capture command failed: %w: %s", err, strings.TrimSpace(string(combined)))
	}
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("capture command produced no file at %s", out)
	}
	return out, nil
}

// FileProvider serves pre-existing image files, one per stage. It backs the
// answers command and non-interactive runs where photos already exist.
type FileProvider struct {
	paths map[exam.Stage]string
}

// NewFileProvider copies the stage-to-path mapping.
func NewFileProvider(paths map[exam.Stage]string) *FileProvider {
	copied := make(map[exam.Stage]string, len(paths))
	for stage, path := range paths {
		copied[stage] = path
	}
	return &FileProvider{paths: copied}
}

// Capture returns the pre-supplied path for the stage.
func (p *FileProvider) Capture(_ context.Context, stage exam.Stage) (string, error) {
	path, ok := p.paths[stage]
	if !ok {
		return "", fmt.Errorf("no image supplied for stage %s", stage)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("image %s is not readable: %w", path, err)
	}
	return path, nil
}
