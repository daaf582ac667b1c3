package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/whisper-darkly/kickclient/events"
)

var errInterrupted = errors.New("signal: interrupt")

// fakeProcess exits with a scripted result, or blocks until interrupted
// when block is set.
type fakeProcess struct {
	progress   chan events.Progress
	result     chan error
	closeOnce  sync.Once
	interrupts atomic.Int32
}

func newFakeProcess(progress []events.Progress, exit error, block bool) *fakeProcess {
	p := &fakeProcess{
		progress: make(chan events.Progress, len(progress)),
		result:   make(chan error, 1),
	}
	for _, pr := range progress {
		p.progress <- pr
	}
	if !block {
		p.result <- exit
		p.closeProgress()
	}
	return p
}

func (p *fakeProcess) closeProgress() { p.closeOnce.Do(func() { close(p.progress) }) }

func (p *fakeProcess) Progress() <-chan events.Progress { return p.progress }
func (p *fakeProcess) Wait() error                      { return <-p.result }

func (p *fakeProcess) Interrupt() error {
	p.interrupts.Add(1)
	select {
	case p.result <- errInterrupted:
	default:
	}
	p.closeProgress()
	return nil
}

// step scripts one launch: a launch error, or a process outcome.
type step struct {
	launchErr error
	exit      error
	block     bool
	progress  []events.Progress
	write     bool // create a non-empty file at the output path
}

type fakeRunner struct {
	mu    sync.Mutex
	steps []step
	specs []Spec
	procs []*fakeProcess
}

func (r *fakeRunner) Start(_ context.Context, spec Spec) (Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = append(r.specs, spec)

	s := step{block: true}
	if len(r.steps) > 0 {
		s = r.steps[0]
		r.steps = r.steps[1:]
	}
	if s.launchErr != nil {
		return nil, s.launchErr
	}
	if s.write {
		if err := os.WriteFile(spec.Output, []byte("data"), 0o644); err != nil {
			return nil, err
		}
	}
	p := newFakeProcess(s.progress, s.exit, s.block)
	r.procs = append(r.procs, p)
	return p, nil
}

func (r *fakeRunner) launches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

type chanSink struct{ ch chan events.Event }

func newChanSink() *chanSink { return &chanSink{ch: make(chan events.Event, 64)} }

func (s *chanSink) Publish(e events.Event) {
	select {
	case s.ch <- e:
	default:
	}
}

func (s *chanSink) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-s.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func (s *chanSink) waitFor(t *testing.T, typ events.Type) events.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-s.ch:
			if e.Type == typ {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s event", typ)
		}
	}
}

type countingRegistry struct {
	mu      sync.Mutex
	removed map[string]int
}

func (c *countingRegistry) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.removed == nil {
		c.removed = map[string]int{}
	}
	c.removed[id]++
}

func (c *countingRegistry) count(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removed[id]
}

func transient() error { return &ExitError{Code: 1, Tail: "Connection reset by peer"} }

func newTestJob(kind Kind, runner Runner, sink Sink, reg Deregisterer, delay time.Duration) *Job {
	return NewJob(Config{
		Key:        "https://example/live.m3u8",
		Kind:       kind,
		Input:      "https://example/live.m3u8",
		OutputPath: "/tmp/kickclient-test/out.mp4",
		Policy:     Policy{MaxReconnects: 5, ReconnectDelay: delay},
		Runner:     runner,
		Sink:       sink,
		Registry:   reg,
	})
}

func waitDone(t *testing.T, j *Job) {
	t.Helper()
	select {
	case <-j.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
	}
}

func countType(evs []events.Event, typ events.Type) int {
	n := 0
	for _, e := range evs {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestJob_FailsAfterMaxReconnects(t *testing.T) {
	defer goleak.VerifyNone(t)

	var steps []step
	for i := 0; i < 6; i++ {
		steps = append(steps, step{exit: transient()})
	}
	runner := &fakeRunner{steps: steps}
	sink := newChanSink()
	reg := &countingRegistry{}
	j := newTestJob(KindLive, runner, sink, reg, time.Millisecond)

	require.NoError(t, j.Start(context.Background()))
	waitDone(t, j)

	assert.Equal(t, StateFailed, j.State())
	assert.Equal(t, 5, j.Reconnects())
	assert.Equal(t, 6, runner.launches())
	assert.Equal(t, 1, reg.count(j.Key()))

	evs := sink.drain()
	assert.Equal(t, 5, countType(evs, events.TypeReconnecting))
	require.Equal(t, 1, countType(evs, events.TypeError))
	last := evs[len(evs)-1]
	assert.Equal(t, events.TypeError, last.Type)
	assert.Contains(t, last.Message, "Connection reset by peer")
}

func TestJob_ZeroReconnectsFailsOnFirstTransientExit(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := &fakeRunner{steps: []step{{exit: transient()}, {exit: nil}}}
	sink := newChanSink()
	reg := &countingRegistry{}
	j := NewJob(Config{
		Key: "k", Kind: KindLive, Input: "in", OutputPath: "/tmp/kickclient-test/out.mp4",
		Policy: Policy{},
		Runner: runner, Sink: sink, Registry: reg,
	})

	require.NoError(t, j.Start(context.Background()))
	waitDone(t, j)

	assert.Equal(t, StateFailed, j.State())
	assert.Equal(t, 0, j.Reconnects())
	assert.Equal(t, 1, runner.launches())
	assert.Equal(t, 1, reg.count(j.Key()))

	evs := sink.drain()
	assert.Zero(t, countType(evs, events.TypeReconnecting))
	require.Equal(t, 1, countType(evs, events.TypeError))
	assert.Contains(t, evs[len(evs)-1].Message, "Connection reset by peer")
}

func TestJob_CompletesAfterTwoReconnects(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := &fakeRunner{steps: []step{{exit: transient()}, {exit: errors.New("operation timed out")}, {exit: nil}}}
	sink := newChanSink()
	reg := &countingRegistry{}
	j := newTestJob(KindLive, runner, sink, reg, time.Millisecond)

	require.NoError(t, j.Start(context.Background()))
	waitDone(t, j)

	assert.Equal(t, StateCompleted, j.State())
	assert.Equal(t, 2, j.Reconnects())
	assert.Equal(t, 3, runner.launches())
	assert.Equal(t, 1, reg.count(j.Key()))

	evs := sink.drain()
	assert.Equal(t, 2, countType(evs, events.TypeReconnecting))
	last := evs[len(evs)-1]
	assert.Equal(t, events.TypeCompleted, last.Type)
	assert.Equal(t, "/tmp/kickclient-test/out.mp4", last.OutputPath)
	assert.Equal(t, "out.mp4", last.Filename)

	// Relaunches write numbered parts next to the output.
	assert.Equal(t, "/tmp/kickclient-test/out.mp4", runner.specs[0].Output)
	assert.Equal(t, "/tmp/kickclient-test/out.part01.mp4", runner.specs[1].Output)
	assert.Equal(t, "/tmp/kickclient-test/out.part02.mp4", runner.specs[2].Output)
}

func TestJob_VODNeverReconnects(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := &fakeRunner{steps: []step{{exit: transient()}}}
	sink := newChanSink()
	reg := &countingRegistry{}
	j := newTestJob(KindVOD, runner, sink, reg, time.Millisecond)

	require.NoError(t, j.Start(context.Background()))
	waitDone(t, j)

	assert.Equal(t, StateFailed, j.State())
	assert.Equal(t, 0, j.Reconnects())
	assert.Equal(t, 1, runner.launches())
	assert.Equal(t, 0, countType(sink.drain(), events.TypeReconnecting))
}

func TestJob_TerminalErrorFailsImmediately(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := &fakeRunner{steps: []step{{exit: &ExitError{Code: 1, Tail: "Server returned 404 Not Found"}}}}
	sink := newChanSink()
	j := newTestJob(KindLive, runner, sink, &countingRegistry{}, time.Millisecond)

	require.NoError(t, j.Start(context.Background()))
	waitDone(t, j)

	assert.Equal(t, StateFailed, j.State())
	assert.Equal(t, 1, runner.launches())
	var exitErr *ExitError
	assert.True(t, errors.As(j.Err(), &exitErr))
}

func TestJob_StopDuringBackoffCancelsRelaunch(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := &fakeRunner{steps: []step{{exit: transient()}}}
	sink := newChanSink()
	reg := &countingRegistry{}
	j := newTestJob(KindLive, runner, sink, reg, time.Hour)

	require.NoError(t, j.Start(context.Background()))
	sink.waitFor(t, events.TypeReconnecting)
	assert.Equal(t, StateReconnecting, j.State())

	require.NoError(t, j.Stop())
	waitDone(t, j)

	assert.Equal(t, StateStopped, j.State())
	assert.Equal(t, 1, runner.launches())
	assert.Equal(t, 1, reg.count(j.Key()))
	sink.waitFor(t, events.TypeStopped)
}

func TestJob_StopWhileRunning(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := &fakeRunner{}
	sink := newChanSink()
	reg := &countingRegistry{}
	j := newTestJob(KindLive, runner, sink, reg, time.Millisecond)

	require.NoError(t, j.Start(context.Background()))
	assert.Equal(t, StateRunning, j.State())

	require.NoError(t, j.Stop())
	assert.Equal(t, StateStopped, j.State())
	assert.Equal(t, 1, reg.count(j.Key()))
	waitDone(t, j)

	assert.EqualValues(t, 1, runner.procs[0].interrupts.Load())
	assert.ErrorIs(t, j.Stop(), ErrNotActive)
	assert.Equal(t, 1, reg.count(j.Key()))

	evs := sink.drain()
	require.Equal(t, 1, countType(evs, events.TypeStopped))
	assert.Equal(t, 0, countType(evs, events.TypeError))
}

func TestJob_LaunchError(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := &fakeRunner{steps: []step{{launchErr: errors.New(`exec: "ffmpeg": executable file not found in $PATH`)}}}
	sink := newChanSink()
	reg := &countingRegistry{}
	j := newTestJob(KindLive, runner, sink, reg, time.Millisecond)

	err := j.Start(context.Background())
	var le *LaunchError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, StateFailed, j.State())
	assert.Equal(t, 1, reg.count(j.Key()))
	waitDone(t, j)
	assert.Empty(t, sink.drain())
	assert.Error(t, j.Start(context.Background()))
}

func TestJob_RelaysProgress(t *testing.T) {
	defer goleak.VerifyNone(t)

	progress := []events.Progress{
		{Timemark: "00:00:01.00", Frames: 30, Bytes: 1000},
		{Timemark: "00:00:02.00", Frames: 60, Bytes: 2000},
	}
	runner := &fakeRunner{steps: []step{{progress: progress}}}
	sink := newChanSink()
	j := newTestJob(KindLive, runner, sink, &countingRegistry{}, time.Millisecond)

	require.NoError(t, j.Start(context.Background()))
	waitDone(t, j)

	evs := sink.drain()
	require.Len(t, evs, 3)
	assert.Equal(t, progress[0], *evs[0].Progress)
	assert.Equal(t, progress[1], *evs[1].Progress)
	assert.Equal(t, j.ID(), evs[0].JobID)
	assert.Equal(t, "live", evs[0].Kind)
	assert.Equal(t, events.TypeCompleted, evs[2].Type)
}

type recordingJoiner struct {
	parts  []string
	output string
}

func (r *recordingJoiner) Join(_ context.Context, parts []string, output string) error {
	r.parts = append([]string(nil), parts...)
	r.output = output
	return os.WriteFile(output, []byte("joined"), 0o644)
}

func TestJob_JoinsPartsAfterReconnect(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	out := filepath.Join(dir, "rec.mp4")
	runner := &fakeRunner{steps: []step{
		{exit: transient(), write: true},
		{exit: transient()}, // writes nothing, dropped
		{exit: nil, write: true},
	}}
	joiner := &recordingJoiner{}
	j := NewJob(Config{
		Key: "k", Kind: KindLive, Input: "in", OutputPath: out,
		Policy: Policy{MaxReconnects: 5, ReconnectDelay: time.Millisecond},
		Runner: runner, Joiner: joiner, Sink: newChanSink(), Registry: &countingRegistry{},
	})

	require.NoError(t, j.Start(context.Background()))
	waitDone(t, j)

	assert.Equal(t, []string{filepath.Join(dir, "rec.part00.mp4"), filepath.Join(dir, "rec.part02.mp4")}, joiner.parts)
	assert.Equal(t, out, joiner.output)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "joined", string(b))
	_, err = os.Stat(filepath.Join(dir, "rec.part00.mp4"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "rec.part02.mp4"))
	assert.True(t, os.IsNotExist(err))
}

func TestJob_SinglePartRenamedToOutput(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	out := filepath.Join(dir, "rec.mp4")
	runner := &fakeRunner{steps: []step{
		{exit: transient()},
		{exit: nil, write: true},
	}}
	j := NewJob(Config{
		Key: "k", Kind: KindLive, Input: "in", OutputPath: out,
		Policy: Policy{MaxReconnects: 5, ReconnectDelay: time.Millisecond},
		Runner: runner, Joiner: &recordingJoiner{}, Sink: newChanSink(), Registry: &countingRegistry{},
	})

	require.NoError(t, j.Start(context.Background()))
	waitDone(t, j)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "data", string(b))
}

func TestPartPath(t *testing.T) {
	assert.Equal(t, "/a/b.part03.mp4", partPath("/a/b.mp4", 3))
	assert.Equal(t, "/a/b.part00", partPath("/a/b", 0))
}
