// Package orchestrator is the command surface over capture jobs: it
// resolves qualities, names outputs, and is the only code that registers
// jobs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/whisper-darkly/kickclient/capture"
	"github.com/whisper-darkly/kickclient/events"
	"github.com/whisper-darkly/kickclient/logger"
	"github.com/whisper-darkly/kickclient/metrics"
	"github.com/whisper-darkly/kickclient/registry"
	"github.com/whisper-darkly/kickclient/stream"
)

var (
	ErrAlreadyActive = errors.New("a job for this stream is already active")
	ErrNotFound      = errors.New("no active recording found")
	ErrInvalid       = errors.New("invalid request")
)

const (
	defaultExt = "mp4"
	stoppedMsg = "Recording stopped"
)

// QualityResolver lists the qualities available for a candidate URL.
type QualityResolver interface {
	ResolveQualities(ctx context.Context, candidateURL string) []stream.QualityOption
}

// Config holds the orchestrator's collaborators and defaults.
type Config struct {
	OutputDir        string // default output directory
	FilenameTemplate string // text/template for output names, without extension
	UserAgent        string
	Cookies          string
	Policy           capture.Policy

	Resolver QualityResolver
	Driver   stream.Driver      // optional: turns channel names/pages into manifest URLs
	Client   *stream.HTTPClient // used by Driver
	Runner   capture.Runner
	Joiner   capture.Joiner
	Metrics  *metrics.Metrics // optional
	Log      *logger.Logger
	Now      func() time.Time
}

// CaptureRequest starts a live capture.
type CaptureRequest struct {
	Locator   string `json:"streamLocator"`
	Name      string `json:"desiredName"`
	Quality   string `json:"quality,omitempty"` // advisory
	OutputDir string `json:"outputDir,omitempty"`
}

// DownloadRequest starts a VOD download.
type DownloadRequest struct {
	Locator   string `json:"vodLocator"`
	Name      string `json:"desiredName"`
	OutputDir string `json:"outputDir,omitempty"`
}

// Result describes an accepted job.
type Result struct {
	OutputPath string                `json:"outputPath"`
	Filename   string                `json:"filename"`
	Quality    *stream.QualityOption `json:"quality,omitempty"`
}

// Orchestrator owns the job registry and the event bus.
type Orchestrator struct {
	cfg Config
	reg *registry.Registry[*capture.Job]
	bus *events.Bus
	log *logger.Logger
}

// New creates an Orchestrator. Resolver and Runner are required.
func New(cfg Config) *Orchestrator {
	if cfg.FilenameTemplate == "" {
		cfg.FilenameTemplate = DefaultFilenameTemplate
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}
	return &Orchestrator{
		cfg: cfg,
		reg: registry.New[*capture.Job](),
		bus: events.NewBus(),
		log: cfg.Log,
	}
}

// kv is a shorthand for logger.KV.
func kv(key, value string) logger.KV { return logger.KV{Key: key, Value: value} }

// StartCapture resolves a quality for req.Locator and starts a live job
// registered under the locator as given.
func (o *Orchestrator) StartCapture(ctx context.Context, req CaptureRequest) (Result, error) {
	locator := strings.TrimSpace(req.Locator)
	if locator == "" {
		return Result{}, fmt.Errorf("%w: streamLocator is required", ErrInvalid)
	}
	if o.IsVOD(locator) {
		return Result{}, fmt.Errorf("%w: %s is an archived video, download it instead", ErrInvalid, locator)
	}
	if _, ok := o.reg.Get(locator); ok {
		return Result{}, ErrAlreadyActive
	}

	quality, err := o.pickQuality(ctx, locator, req.Quality)
	if err != nil {
		return Result{}, err
	}

	res, err := o.launch(ctx, launchSpec{
		locator:   locator,
		input:     quality.MediaURL,
		name:      req.Name,
		fallback:  "stream",
		outputDir: req.OutputDir,
		kind:      capture.KindLive,
	})
	if err != nil {
		return Result{}, err
	}
	res.Quality = &quality
	o.log.Event("CAPTURE START",
		kv("stream", locator),
		kv("quality", quality.Label),
		kv("file", res.OutputPath))
	return res, nil
}

// DownloadVOD starts a download of an archived video. The locator is
// handed to the engine directly and the job never reconnects.
func (o *Orchestrator) DownloadVOD(ctx context.Context, req DownloadRequest) (Result, error) {
	locator := strings.TrimSpace(req.Locator)
	if locator == "" {
		return Result{}, fmt.Errorf("%w: vodLocator is required", ErrInvalid)
	}
	res, err := o.launch(ctx, launchSpec{
		locator:   locator,
		input:     locator,
		name:      req.Name,
		fallback:  "vod",
		outputDir: req.OutputDir,
		kind:      capture.KindVOD,
	})
	if err != nil {
		return Result{}, err
	}
	o.log.Event("DOWNLOAD START", kv("vod", locator), kv("file", res.OutputPath))
	return res, nil
}

// StopCapture stops the job registered under locator.
func (o *Orchestrator) StopCapture(locator string) (string, error) {
	job, ok := o.reg.Get(strings.TrimSpace(locator))
	if !ok {
		return "", ErrNotFound
	}
	if err := job.Stop(); err != nil {
		if errors.Is(err, capture.ErrNotActive) {
			return "", ErrNotFound
		}
		return "", err
	}
	return stoppedMsg, nil
}

// ListActive returns the identifiers of all registered jobs, sorted.
func (o *Orchestrator) ListActive() []string {
	return o.reg.ListIDs()
}

// Statuses returns a snapshot of every registered job, ordered by identifier.
func (o *Orchestrator) Statuses() []capture.Status {
	snap := o.reg.Snapshot()
	out := make([]capture.Status, 0, len(snap))
	for _, id := range o.reg.ListIDs() {
		if j, ok := snap[id]; ok {
			out = append(out, j.Status())
		}
	}
	return out
}

// Qualities resolves the options offered for locator.
func (o *Orchestrator) Qualities(ctx context.Context, locator string) ([]stream.QualityOption, error) {
	candidate, err := o.candidateURL(ctx, strings.TrimSpace(locator))
	if err != nil {
		return nil, err
	}
	return o.cfg.Resolver.ResolveQualities(ctx, candidate), nil
}

// Subscribe returns a channel of job events and its unsubscribe func.
func (o *Orchestrator) Subscribe(buf int) (<-chan events.Event, func()) {
	return o.bus.Subscribe(buf)
}

// IsVOD reports whether the configured driver recognizes locator as an
// archived video.
func (o *Orchestrator) IsVOD(locator string) bool {
	return o.cfg.Driver != nil && o.cfg.Driver.IsVOD(strings.TrimSpace(locator))
}

// ActiveCount returns the number of registered jobs.
func (o *Orchestrator) ActiveCount() int { return o.reg.Len() }

// DroppedEvents returns how many events subscribers missed because their
// buffers were full.
func (o *Orchestrator) DroppedEvents() uint64 { return o.bus.Dropped() }

// Shutdown interrupts every registered job, clears the registry and waits
// for the jobs to finalize until ctx expires. Jobs still running then are
// left to their own grace period. Subscribers are closed either way.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	defer o.bus.Close()
	jobs := o.reg.Snapshot()
	for id, j := range jobs {
		if err := j.Stop(); err != nil && !errors.Is(err, capture.ErrNotActive) {
			o.log.Warn("stop %s: %v", id, err)
		}
	}
	o.reg.Clear()

	for id, j := range jobs {
		select {
		case <-j.Done():
		case <-ctx.Done():
			o.log.Warn("shutdown: %s did not finish in time", id)
			return ctx.Err()
		}
	}
	return nil
}

func (o *Orchestrator) pickQuality(ctx context.Context, locator, hint string) (stream.QualityOption, error) {
	if strings.EqualFold(strings.TrimSpace(hint), stream.SourceHint) {
		return stream.SourceOption(locator), nil
	}
	candidate, err := o.candidateURL(ctx, locator)
	if err != nil {
		return stream.QualityOption{}, err
	}
	opts := o.cfg.Resolver.ResolveQualities(ctx, candidate)
	q, ok := stream.SelectQuality(opts, hint)
	if !ok {
		return stream.SourceOption(candidate), nil
	}
	return q, nil
}

func (o *Orchestrator) candidateURL(ctx context.Context, locator string) (string, error) {
	if locator == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalid)
	}
	if o.cfg.Driver == nil || stream.IsManifestURL(locator) {
		return locator, nil
	}
	u, err := o.cfg.Driver.CandidateURL(ctx, o.cfg.Client, locator)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return u, nil
}

type launchSpec struct {
	locator   string
	input     string
	name      string
	fallback  string
	outputDir string
	kind      capture.Kind
}

func (o *Orchestrator) launch(ctx context.Context, ls launchSpec) (Result, error) {
	dir := ls.outputDir
	if dir == "" {
		dir = o.cfg.OutputDir
	}
	filename, err := RenderFilename(o.cfg.FilenameTemplate,
		NewFilenameData(ls.name, ls.kind.String(), ls.fallback, o.cfg.Now()), o.outputExt())
	if err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, &capture.LaunchError{Err: fmt.Errorf("create output directory: %w", err)}
	}
	outputPath := filepath.Join(dir, filename)

	job := capture.NewJob(capture.Config{
		Key:        ls.locator,
		Kind:       ls.kind,
		Input:      ls.input,
		OutputPath: outputPath,
		UserAgent:  o.cfg.UserAgent,
		Cookies:    o.cfg.Cookies,
		Policy:     o.cfg.Policy,
		Runner:     o.cfg.Runner,
		Joiner:     o.cfg.Joiner,
		Sink:       sinkFunc(o.publish),
		Registry:   o.reg,
		Log:        o.log,
	})
	if !o.reg.TryRegister(ls.locator, job) {
		return Result{}, ErrAlreadyActive
	}
	if err := job.Start(ctx); err != nil {
		// The job has already deregistered itself.
		o.log.Error("launch %s: %v", ls.locator, err)
		return Result{}, err
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.JobStarted(ls.kind.String())
		o.cfg.Metrics.SetActiveJobs(o.reg.Len())
	}
	return Result{OutputPath: outputPath, Filename: filename}, nil
}

// outputExt is the driver's container extension, or mp4 without one.
func (o *Orchestrator) outputExt() string {
	if o.cfg.Driver != nil {
		if ext := strings.TrimPrefix(o.cfg.Driver.FileExtension(), "."); ext != "" {
			return ext
		}
	}
	return defaultExt
}

type sinkFunc func(events.Event)

func (f sinkFunc) Publish(e events.Event) { f(e) }

// publish is the sink every job reports through.
func (o *Orchestrator) publish(e events.Event) {
	if m := o.cfg.Metrics; m != nil {
		switch {
		case e.Type == events.TypeReconnecting:
			m.IncReconnects()
		case e.Type.Terminal():
			m.JobFinished(e.Kind, string(e.Type))
			m.SetActiveJobs(o.reg.Len())
		}
	}
	switch e.Type {
	case events.TypeError:
		o.log.Error("%s failed: %s", e.StreamID, e.Message)
	case events.TypeReconnecting:
		o.log.Warn("%s reconnecting (attempt %d): %s", e.StreamID, e.Attempt, e.Message)
	}
	o.bus.Publish(e)
}
