package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	oldPlaceholder = "{old}"
	newPlaceholder = "{new}"

	// how long to wait for output pipes after the tool is killed
	waitDelay = 2 * time.Second
)

// Tool runs an external, possibly interactive, merge program over two files.
// The program must leave the merged result in the first file and exit 0.
type Tool struct {
	// Command is the argv. "{old}" and "{new}" are replaced by the artifact
	// paths; without placeholders the two paths are appended.
	Command []string
	TempDir string // "" means os.TempDir()

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *zap.Logger

	// one merge at a time: the program may be talking to a human
	mu sync.Mutex
}

// NewTool returns a Tool attached to the process terminal.
func NewTool(command []string, logger *zap.Logger) *Tool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tool{
		Command: command,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Logger:  logger,
	}
}

func (t *Tool) Resolve(ctx context.Context, oldText, newText string) (string, error) {
	if len(t.Command) == 0 {
		return "", &MergeError{Status: -1, Err: errors.New("no merge command configured")}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var merged string
	err := withArtifacts(t.TempDir, oldText, newText, func(oldPath, newPath string) error {
		if err := t.run(ctx, oldPath, newPath); err != nil {
			return err
		}
		b, err := os.ReadFile(oldPath)
		if err != nil {
			return fmt.Errorf("merge: read result: %w", err)
		}
		merged = string(b)
		return nil
	})
	if err != nil {
		return "", err
	}
	return merged, nil
}

func (t *Tool) run(ctx context.Context, oldPath, newPath string) error {
	argv := expand(t.Command, oldPath, newPath)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = t.Stdin, t.Stdout, t.Stderr
	cmd.WaitDelay = waitDelay

	logger := t.logger()
	logger.Debug("running merge tool", zap.Strings("argv", argv))

	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		logger.Info("merge tool declined", zap.Int("status", exitErr.ExitCode()))
		return &MergeError{Status: exitErr.ExitCode()}
	}
	return &MergeError{Status: -1, Err: err}
}

func (t *Tool) logger() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}

func expand(command []string, oldPath, newPath string) []string {
	argv := make([]string, 0, len(command)+2)
	substituted := false
	for _, arg := range command {
		if strings.Contains(arg, oldPlaceholder) || strings.Contains(arg, newPlaceholder) {
			substituted = true
			arg = strings.ReplaceAll(arg, oldPlaceholder, oldPath)
			arg = strings.ReplaceAll(arg, newPlaceholder, newPath)
		}
		argv = append(argv, arg)
	}
	if !substituted {
		argv = append(argv, oldPath, newPath)
	}
	return argv
}

// withArtifacts writes both texts to fresh temp files, calls fn with their paths
// and removes both files however fn returns.
func withArtifacts(dir, oldText, newText string, fn func(oldPath, newPath string) error) (err error) {
	oldPath, err := writeTemp(dir, "novelhub-old-*.txt", oldText)
	if err != nil {
		return err
	}
	defer removeInto(oldPath, &err)

	newPath, err := writeTemp(dir, "novelhub-new-*.txt", newText)
	if err != nil {
		return err
	}
	defer removeInto(newPath, &err)

	return fn(oldPath, newPath)
}

func writeTemp(dir, pattern, text string) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("merge: create artifact: %w", err)
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("merge: write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("merge: close artifact: %w", err)
	}
	return f.Name(), nil
}

func removeInto(path string, errp *error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) && *errp == nil {
		*errp = fmt.Errorf("merge: remove artifact: %w", err)
	}
}
