package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/whisper-darkly/kickclient/logger"
)

const (
	// SourceLabel names the synthetic option that points at the candidate URL itself.
	SourceLabel = "Source Quality"
	// SourceHint selects the candidate URL verbatim, skipping resolution.
	SourceHint = "source"

	unknownResolution = "unknown"
)

// QualityOption is one selectable variant of a stream.
type QualityOption struct {
	Label       string `json:"label"`
	MediaURL    string `json:"mediaUrl"`
	Resolution  string `json:"resolution"`
	BitrateKbps int    `json:"bitrateKbps"`
}

// SourceOption returns the single fallback option for candidateURL.
func SourceOption(candidateURL string) QualityOption {
	return QualityOption{
		Label:      SourceLabel,
		MediaURL:   candidateURL,
		Resolution: unknownResolution,
	}
}

// FallbackObserver is told whenever resolution degrades to the source option.
type FallbackObserver interface {
	ResolverFallback(reason string)
}

// Resolver fetches variant manifests and turns them into ranked quality
// options. It never fails: anything that goes wrong degrades to a single
// source option so callers always have something to capture.
type Resolver struct {
	client   *HTTPClient
	log      *logger.Logger
	observer FallbackObserver
	group    singleflight.Group
}

// NewResolver creates a Resolver. observer may be nil.
func NewResolver(client *HTTPClient, log *logger.Logger, observer FallbackObserver) *Resolver {
	if client == nil {
		client = NewHTTPClient("", "")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{client: client, log: log, observer: observer}
}

// ResolveQualities returns the variants listed by the manifest at
// candidateURL, sorted by descending bitrate with manifest order kept for
// ties. Concurrent calls for the same URL share one fetch, which outlives
// the cancellation of whichever caller started it.
func (r *Resolver) ResolveQualities(ctx context.Context, candidateURL string) []QualityOption {
	shareCtx := context.WithoutCancel(ctx)
	v, _, _ := r.group.Do(candidateURL, func() (any, error) {
		return r.resolve(shareCtx, candidateURL), nil
	})
	shared := v.([]QualityOption)
	// Callers own their slice.
	return append([]QualityOption(nil), shared...)
}

func (r *Resolver) resolve(ctx context.Context, candidateURL string) []QualityOption {
	body, err := r.client.Get(ctx, candidateURL)
	if err != nil {
		r.log.Warn("Playlist fetch failed for %s: %v (using source quality)", candidateURL, err)
		return r.fallback(candidateURL, fetchReason(err))
	}

	variants := parseVariants(body)
	if len(variants) == 0 {
		r.log.Debug("No variants in %s (using source quality)", candidateURL)
		return r.fallback(candidateURL, "no_variants")
	}

	opts := make([]QualityOption, 0, len(variants))
	for _, v := range variants {
		res := v.resolution
		if res == "" {
			res = unknownResolution
		}
		kbps := int(v.bandwidth / 1000)
		opts = append(opts, QualityOption{
			Label:       fmt.Sprintf("%s (%d kbps)", res, kbps),
			MediaURL:    resolvePlaylistURL(candidateURL, v.uri),
			Resolution:  res,
			BitrateKbps: kbps,
		})
	}
	sort.SliceStable(opts, func(i, j int) bool { return opts[i].BitrateKbps > opts[j].BitrateKbps })
	r.log.Debug("Resolved %d variants for %s", len(opts), candidateURL)
	return opts
}

func fetchReason(err error) string {
	switch {
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "fetch"
	}
}

func (r *Resolver) fallback(candidateURL, reason string) []QualityOption {
	if r.observer != nil {
		r.observer.ResolverFallback(reason)
	}
	return []QualityOption{SourceOption(candidateURL)}
}

// SelectQuality picks the option matching hint. The hint is advisory: it
// may be a media URL, a WxH resolution, a height such as "720p", or a
// label. Anything unmatched (including "") selects the first option, which
// is the highest bitrate for resolver output.
func SelectQuality(opts []QualityOption, hint string) (QualityOption, bool) {
	if len(opts) == 0 {
		return QualityOption{}, false
	}
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return opts[0], true
	}
	for _, o := range opts {
		if o.MediaURL == hint || strings.EqualFold(o.Resolution, hint) || o.Label == hint {
			return o, true
		}
	}
	if h, ok := parseHeight(hint); ok {
		for _, o := range opts {
			if oh, ok := resolutionHeight(o.Resolution); ok && oh == h {
				return o, true
			}
		}
	}
	return opts[0], true
}

func parseHeight(hint string) (int, bool) {
	s := strings.TrimSuffix(strings.ToLower(hint), "p")
	h, err := strconv.Atoi(s)
	return h, err == nil && h > 0
}

func resolutionHeight(res string) (int, bool) {
	_, h, ok := strings.Cut(res, "x")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(h)
	return n, err == nil
}
