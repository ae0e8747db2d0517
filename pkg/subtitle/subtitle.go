// Package subtitle derives subtitle files from fetched artifacts by running an
// external transcription command.
package subtitle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

const (
	inputPlaceholder  = "{input}"
	outputPlaceholder = "{output}"
)

// CommandGenerator runs Command with Args, substituting {input} with the
// artifact path and {output} with the .srt path next to it
type CommandGenerator struct {
	command string
	args    []string
	timeout time.Duration
	log     *logrus.Entry
}

// NewCommandGenerator creates a generator. A zero timeout means 10 minutes.
func NewCommandGenerator(command string, args []string, timeout time.Duration, log *logrus.Entry) *CommandGenerator {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &CommandGenerator{command: command, args: args, timeout: timeout, log: log}
}

// OutputPath returns where the subtitle for localPath is written
func OutputPath(localPath string) string {
	return strings.TrimSuffix(localPath, filepath.Ext(localPath)) + ".srt"
}

// Generate runs the command for localPath and returns the subtitle path
func (g *CommandGenerator) Generate(ctx context.Context, localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("%w: no local file to transcribe", utils.ErrValidation)
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", fmt.Errorf("%w: %v", utils.ErrFilesystem, err)
	}
	out := OutputPath(localPath)
	args := make([]string, len(g.args))
	for i, a := range g.args {
		a = strings.ReplaceAll(a, inputPlaceholder, localPath)
		args[i] = strings.ReplaceAll(a, outputPlaceholder, out)
	}

	runCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, g.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("subtitle command timed out after %v", g.timeout)
		}
		return "", fmt.Errorf("subtitle command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		return "", fmt.Errorf("subtitle command produced no output at '%s'", out)
	}
	g.log.WithField("path", out).Debugf("Subtitles generated in %v", time.Since(start).Round(time.Millisecond))
	return out, nil
}
