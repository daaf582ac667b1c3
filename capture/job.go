package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/whisper-darkly/kickclient/events"
	"github.com/whisper-darkly/kickclient/logger"
	"github.com/whisper-darkly/kickclient/units"
)

// ErrNotActive is returned by Stop once the job has reached a terminal state.
var ErrNotActive = errors.New("job is not active")

// Config holds everything a Job needs. Runner, Sink and Registry are required.
type Config struct {
	Key        string // stream identifier the job is registered under
	Kind       Kind
	Input      string // media URL handed to the engine
	OutputPath string
	UserAgent  string
	Cookies    string

	Policy   Policy
	Runner   Runner
	Joiner   Joiner // nil leaves reconnect parts on disk unjoined
	Sink     Sink
	Registry Deregisterer
	Log      *logger.Logger
}

// Status is a point-in-time view of a job.
type Status struct {
	ID         string    `json:"id"`
	Key        string    `json:"streamLocator"`
	Kind       string    `json:"kind"`
	State      string    `json:"state"`
	Reconnects int       `json:"reconnects"`
	OutputPath string    `json:"outputPath"`
	Started    time.Time `json:"started"`
}

// Job is the state machine around one capture target. It exclusively owns
// the engine process; Stop is the only way to signal it.
type Job struct {
	id       string
	cfg      Config
	filename string
	log      *logger.Logger
	created  time.Time

	mu         sync.Mutex
	state      State
	launched   bool
	stopped    bool
	reconnects int
	proc       Process
	parts      []string
	lastErr    error

	stopCh    chan struct{}
	done      chan struct{}
	deregOnce sync.Once
}

// kv is a shorthand for logger.KV.
func kv(key, value string) logger.KV { return logger.KV{Key: key, Value: value} }

// NewJob creates a job in the Starting state. Nothing runs until Start.
func NewJob(cfg Config) *Job {
	log := cfg.Log
	if log == nil {
		log = logger.Nop()
	}
	id := uuid.NewString()
	return &Job{
		id:       id,
		cfg:      cfg,
		filename: filepath.Base(cfg.OutputPath),
		log:      log.With("job", id[:8]),
		created:  time.Now(),
		state:    StateStarting,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (j *Job) ID() string         { return j.id }
func (j *Job) Key() string        { return j.cfg.Key }
func (j *Job) Kind() Kind         { return j.cfg.Kind }
func (j *Job) OutputPath() string { return j.cfg.OutputPath }
func (j *Job) Filename() string   { return j.filename }

// Done is closed after the terminal event has been published.
func (j *Job) Done() <-chan struct{} { return j.done }

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) Reconnects() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.reconnects
}

// Err returns the error that failed the job, if any.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastErr
}

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Status{
		ID:         j.id,
		Key:        j.cfg.Key,
		Kind:       j.cfg.Kind.String(),
		State:      j.state.String(),
		Reconnects: j.reconnects,
		OutputPath: j.cfg.OutputPath,
		Started:    j.created,
	}
}

// Start launches the first engine process and returns once it runs. A
// launch failure deregisters the job and comes back as a *LaunchError;
// no events are published for it.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.launched {
		j.mu.Unlock()
		return errors.New("job already started")
	}
	j.launched = true
	if j.stopped {
		j.mu.Unlock()
		j.finish()
		return nil
	}
	j.mu.Unlock()

	proc, err := j.cfg.Runner.Start(ctx, j.spec(j.cfg.OutputPath))
	if err != nil {
		j.mu.Lock()
		if !j.stopped {
			j.state = StateFailed
		}
		j.lastErr = err
		j.mu.Unlock()
		j.deregister()
		close(j.done)
		return &LaunchError{Err: err}
	}

	j.mu.Lock()
	j.reconnects = 0
	j.proc = proc
	j.parts = []string{j.cfg.OutputPath}
	stopped := j.stopped
	if !stopped {
		j.state = StateRunning
	}
	j.mu.Unlock()

	if stopped {
		_ = proc.Interrupt()
	}
	j.log.Event("SEGMENT START",
		kv("stream", j.cfg.Key),
		kv("kind", j.cfg.Kind.String()),
		kv("file", j.cfg.OutputPath))

	go j.supervise(proc)
	return nil
}

// Stop interrupts the engine, deregisters the job and moves it to Stopped.
// A pending reconnect is cancelled. The stopped event follows once the
// engine has exited and the output is finalized.
func (j *Job) Stop() error {
	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return ErrNotActive
	}
	j.stopped = true
	j.state = StateStopped
	proc := j.proc
	close(j.stopCh)
	j.mu.Unlock()

	j.deregister()
	if proc != nil {
		if err := proc.Interrupt(); err != nil {
			j.log.Warn("interrupt %s: %v", j.cfg.Key, err)
		}
	}
	return nil
}

func (j *Job) spec(output string) Spec {
	return Spec{
		Kind:      j.cfg.Kind,
		Input:     j.cfg.Input,
		Output:    output,
		UserAgent: j.cfg.UserAgent,
		Cookies:   j.cfg.Cookies,
	}
}

func (j *Job) supervise(proc Process) {
	defer j.finish()
	for proc != nil {
		for p := range proc.Progress() {
			j.emit(events.Event{Type: events.TypeProgress, Progress: &p})
		}
		proc = j.handleExit(proc.Wait())
	}
}

// handleExit decides what follows a process exit. It returns the relaunched
// process, or nil once the job has reached a terminal state.
func (j *Job) handleExit(err error) Process {
	for {
		j.mu.Lock()
		j.proc = nil
		if j.stopped {
			j.mu.Unlock()
			return nil
		}
		if err == nil {
			j.state = StateCompleted
			j.mu.Unlock()
			j.deregister()
			return nil
		}
		if j.cfg.Kind != KindLive || Classify(err) != Transient || j.reconnects >= j.cfg.Policy.MaxReconnects {
			j.state = StateFailed
			j.lastErr = err
			j.mu.Unlock()
			j.deregister()
			return nil
		}
		j.reconnects++
		attempt := j.reconnects
		j.state = StateReconnecting
		j.mu.Unlock()

		j.log.Event("RECONNECT",
			kv("stream", j.cfg.Key),
			kv("attempt", strconv.Itoa(attempt)),
			kv("delay", units.FormatDuration(j.cfg.Policy.ReconnectDelay)),
			kv("error", err.Error()))
		j.emit(events.Event{Type: events.TypeReconnecting, Attempt: attempt, Message: err.Error()})

		if !j.backoff() {
			return nil
		}

		j.mu.Lock()
		if j.stopped {
			j.mu.Unlock()
			return nil
		}
		part := partPath(j.cfg.OutputPath, len(j.parts))
		j.mu.Unlock()

		proc, lerr := j.cfg.Runner.Start(context.Background(), j.spec(part))
		if lerr != nil {
			err = &LaunchError{Err: lerr}
			continue
		}

		j.mu.Lock()
		j.parts = append(j.parts, part)
		j.proc = proc
		stopped := j.stopped
		if !stopped {
			j.state = StateRunning
		}
		j.mu.Unlock()

		if stopped {
			_ = proc.Interrupt()
		}
		j.log.Event("SEGMENT START",
			kv("stream", j.cfg.Key),
			kv("attempt", strconv.Itoa(attempt)),
			kv("file", part))
		return proc
	}
}

// backoff waits out the reconnect delay. It returns false if Stop came first.
func (j *Job) backoff() bool {
	t := time.NewTimer(j.cfg.Policy.ReconnectDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-j.stopCh:
		return false
	}
}

func (j *Job) deregister() {
	j.deregOnce.Do(func() {
		if j.cfg.Registry != nil {
			j.cfg.Registry.Remove(j.cfg.Key)
		}
	})
}

// finish assembles the output and publishes the one terminal event.
func (j *Job) finish() {
	j.mu.Lock()
	state := j.state
	parts := append([]string(nil), j.parts...)
	lastErr := j.lastErr
	reconnects := j.reconnects
	j.mu.Unlock()

	if err := j.assemble(parts); err != nil {
		j.log.Error("assemble %s: %v", j.cfg.OutputPath, err)
	}

	ev := events.Event{OutputPath: j.cfg.OutputPath, Filename: j.filename}
	switch state {
	case StateCompleted:
		ev.Type = events.TypeCompleted
	case StateStopped:
		ev.Type = events.TypeStopped
	default:
		ev.Type = events.TypeError
		if lastErr != nil {
			ev.Message = lastErr.Error()
		}
	}
	j.log.Event("CAPTURE END",
		kv("stream", j.cfg.Key),
		kv("state", state.String()),
		kv("reconnects", strconv.Itoa(reconnects)),
		kv("duration", units.FormatDuration(time.Since(j.created))))
	j.emit(ev)
	close(j.done)
}

// assemble turns the parts written across reconnects into the single
// output file. Part 0 is the output path itself.
func (j *Job) assemble(parts []string) error {
	parts = nonEmpty(parts)
	output := j.cfg.OutputPath
	switch {
	case len(parts) == 0:
		return nil
	case len(parts) == 1:
		if parts[0] != output {
			return os.Rename(parts[0], output)
		}
		return nil
	case j.cfg.Joiner == nil:
		j.log.Warn("%d parts left unjoined next to %s", len(parts), output)
		return nil
	}

	if parts[0] == output {
		first := partPath(output, 0)
		if err := os.Rename(output, first); err != nil {
			return fmt.Errorf("rename first part: %w", err)
		}
		parts[0] = first
	}

	j.log.Event("JOIN", kv("file", output), kv("parts", strconv.Itoa(len(parts))))
	if err := j.cfg.Joiner.Join(context.Background(), parts, output); err != nil {
		return err
	}
	for _, p := range parts {
		os.Remove(p)
	}
	return nil
}

func (j *Job) emit(e events.Event) {
	e.StreamID = j.cfg.Key
	e.JobID = j.id
	e.Kind = j.cfg.Kind.String()
	e.Time = time.Now()
	if j.cfg.Sink != nil {
		j.cfg.Sink.Publish(e)
	}
}
