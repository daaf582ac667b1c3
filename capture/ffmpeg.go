package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/whisper-darkly/kickclient/events"
	"github.com/whisper-darkly/kickclient/logger"
	"github.com/whisper-darkly/kickclient/units"
)

const (
	defaultGrace   = 10 * time.Second
	stderrTailSize = 8
	progressBuffer = 10
)

// ExitError is a non-zero engine exit. Tail holds its last stderr lines so
// the classifier sees the engine's own wording.
type ExitError struct {
	Code int
	Tail string
}

func (e *ExitError) Error() string {
	if e.Tail == "" {
		return fmt.Sprintf("ffmpeg exited with code %d", e.Code)
	}
	return fmt.Sprintf("ffmpeg exited with code %d: %s", e.Code, e.Tail)
}

// FFmpeg runs captures with the ffmpeg binary.
type FFmpeg struct {
	Path     string        // binary, default "ffmpeg"
	LogLevel string        // -loglevel for live captures, default "error"
	Grace    time.Duration // SIGINT to SIGKILL window on Interrupt
	Log      *logger.Logger
}

func (f *FFmpeg) path() string {
	if f.Path == "" {
		return "ffmpeg"
	}
	return f.Path
}

func (f *FFmpeg) log() *logger.Logger {
	if f.Log == nil {
		return logger.Nop()
	}
	return f.Log
}

// Start launches ffmpeg for spec in its own process group.
func (f *FFmpeg) Start(ctx context.Context, spec Spec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	loglevel := f.LogLevel
	if spec.Kind == KindVOD {
		// The "Duration:" banner is only printed at info.
		loglevel = "info"
	}
	args := Args(spec, loglevel)
	f.log().Debug("%s %s", f.path(), strings.Join(args, " "))

	cmd := exec.Command(f.path(), args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	grace := f.Grace
	if grace <= 0 {
		grace = defaultGrace
	}
	p := &ffmpegProcess{
		cmd:      cmd,
		grace:    grace,
		progress: make(chan events.Progress, progressBuffer),
		done:     make(chan struct{}),
		tail:     newRingBuffer(stderrTailSize),
		log:      f.log(),
	}
	go p.run(stdout, stderr)
	return p, nil
}

type ffmpegProcess struct {
	cmd      *exec.Cmd
	grace    time.Duration
	progress chan events.Progress
	done     chan struct{}
	tail     *ringBuffer
	log      *logger.Logger

	mu       sync.Mutex
	duration time.Duration
	err      error

	interruptOnce sync.Once
}

func (p *ffmpegProcess) Progress() <-chan events.Progress { return p.progress }

func (p *ffmpegProcess) Wait() error {
	<-p.done
	return p.err
}

// Interrupt sends SIGINT to the process group so ffmpeg can finalize the
// container, then SIGKILL if it is still around after the grace period.
func (p *ffmpegProcess) Interrupt() error {
	var err error
	p.interruptOnce.Do(func() {
		pid := p.cmd.Process.Pid
		if e := syscall.Kill(-pid, syscall.SIGINT); e != nil && !errors.Is(e, syscall.ESRCH) {
			err = p.cmd.Process.Signal(syscall.SIGINT)
		}
		go func() {
			select {
			case <-p.done:
			case <-time.After(p.grace):
				p.log.Warn("ffmpeg pid %d ignored SIGINT for %s, killing", pid, p.grace)
				if e := syscall.Kill(-pid, syscall.SIGKILL); e != nil && !errors.Is(e, syscall.ESRCH) {
					_ = p.cmd.Process.Kill()
				}
			}
		}()
	})
	return err
}

func (p *ffmpegProcess) run(stdout, stderr io.Reader) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.readStderr(stderr)
	}()
	go func() {
		defer wg.Done()
		p.readProgress(stdout)
		close(p.progress)
	}()
	wg.Wait()

	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = &ExitError{Code: exitErr.ExitCode(), Tail: strings.Join(p.tail.lines(), "; ")}
	}
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

func (p *ffmpegProcess) readStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if d, ok := parseDurationBanner(line); ok {
			p.mu.Lock()
			p.duration = d
			p.mu.Unlock()
			continue
		}
		p.tail.add(line)
		p.log.Debug("ffmpeg: %s", line)
	}
}

// readProgress parses the -progress key=value stream. Each block ends
// with a progress=continue|end line, at which point a report is sent.
func (p *ffmpegProcess) readProgress(r io.Reader) {
	var cur events.Progress
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, value, ok := parseProgressLine(sc.Text())
		if !ok {
			continue
		}
		switch key {
		case "frame":
			cur.Frames, _ = strconv.ParseInt(value, 10, 64)
		case "total_size":
			cur.Bytes, _ = strconv.ParseInt(value, 10, 64)
		case "out_time":
			cur.Timemark = trimTimemark(value)
		case "progress":
			p.mu.Lock()
			total := p.duration
			p.mu.Unlock()
			cur.Percent = percent(cur.Timemark, total)
			select {
			case p.progress <- cur:
			default:
			}
		}
	}
}

func parseProgressLine(line string) (key, value string, ok bool) {
	key, value, ok = strings.Cut(strings.TrimSpace(line), "=")
	if !ok || key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(value), true
}

// parseDurationBanner reads "Duration: 00:10:00.00, start: ..." lines.
func parseDurationBanner(line string) (time.Duration, bool) {
	rest, ok := strings.CutPrefix(line, "Duration:")
	if !ok {
		return 0, false
	}
	field, _, _ := strings.Cut(strings.TrimSpace(rest), ",")
	d, err := units.ParseTimemark(field)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// trimTimemark drops microseconds: 00:01:02.345678 -> 00:01:02.34.
func trimTimemark(s string) string {
	if i := strings.IndexByte(s, '.'); i != -1 && len(s) > i+3 {
		return s[:i+3]
	}
	return s
}

func percent(timemark string, total time.Duration) float64 {
	if total <= 0 || timemark == "" {
		return 0
	}
	d, err := units.ParseTimemark(timemark)
	if err != nil {
		return 0
	}
	pct := float64(d) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

type ringBuffer struct {
	mu   sync.Mutex
	buf  []string
	pos  int
	full bool
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{buf: make([]string, size)}
}

func (r *ringBuffer) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.pos] = line
	r.pos = (r.pos + 1) % len(r.buf)
	if r.pos == 0 {
		r.full = true
	}
}

func (r *ringBuffer) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]string(nil), r.buf[:r.pos]...)
	}
	out := make([]string, 0, len(r.buf))
	out = append(out, r.buf[r.pos:]...)
	return append(out, r.buf[:r.pos]...)
}
