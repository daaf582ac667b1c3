package capture

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/whisper-darkly/kickclient/logger"
)

// Joiner concatenates the parts of a reconnected capture into one file.
type Joiner interface {
	Join(ctx context.Context, parts []string, output string) error
}

// FFmpegJoiner joins parts with ffmpeg's concat demuxer.
type FFmpegJoiner struct {
	Path     string
	LogLevel string
	Log      *logger.Logger
}

// Join writes parts, in order, into output.
func (j *FFmpegJoiner) Join(ctx context.Context, parts []string, output string) error {
	list, err := os.CreateTemp(filepath.Dir(output), ".join-*.txt")
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer os.Remove(list.Name())

	for _, p := range parts {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		fmt.Fprintf(list, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := list.Close(); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}

	path := j.Path
	if path == "" {
		path = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, path, JoinArgs(list.Name(), output, j.LogLevel)...)
	if j.Log != nil {
		cmd.Stderr = j.Log.Writer(logger.LevelWarn)
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("concat %d parts: %w", len(parts), err)
	}
	return nil
}

// partPath names the file written by relaunch n of a capture to output.
func partPath(output string, n int) string {
	ext := filepath.Ext(output)
	return fmt.Sprintf("%s.part%02d%s", strings.TrimSuffix(output, ext), n, ext)
}

// nonEmpty drops parts that are missing or zero-length, deleting the latter.
func nonEmpty(parts []string) []string {
	var out []string
	for _, p := range parts {
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		if fi.Size() == 0 {
			os.Remove(p)
			continue
		}
		out = append(out, p)
	}
	return out
}
