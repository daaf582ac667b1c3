package driver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/whisper-darkly/kickclient/stream"
)

const kickDefaultDomain = "https://kick.com/"

// kickPlaybackPattern is the IVS playback URL Kick channels are served from.
const kickPlaybackPattern = "https://fa723fc1b171.us-west-2.playback.live-video.net/api/video/v1/us-west-2.%s/main/playlist.m3u8"

var (
	manifestRe = regexp.MustCompile(`https?://[^"'\s\\]+\.m3u8[^"'\s\\]*`)
	slugRe     = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

func init() {
	stream.Register(&Kick{})
}

// Kick implements the Driver interface for kick.com channels.
type Kick struct {
	// Domain overrides DefaultDomain; used by tests.
	Domain string
}

func (k *Kick) Name() string          { return "kick" }
func (k *Kick) DefaultDomain() string { return kickDefaultDomain }
func (k *Kick) FileExtension() string { return "mp4" }

// CandidateURL accepts a manifest URL, a channel page URL, or a bare
// channel slug. Pages are scraped for an embedded manifest URL; when none
// is present, or the page cannot be fetched, the playback URL is built
// from the slug. A channel page that 404s is an error.
func (k *Kick) CandidateURL(ctx context.Context, client *stream.HTTPClient, locator string) (string, error) {
	locator = strings.TrimSpace(locator)
	if stream.IsManifestURL(locator) {
		return locator, nil
	}

	slug, err := k.slug(locator)
	if err != nil {
		return "", err
	}

	domain := k.Domain
	if domain == "" {
		domain = k.DefaultDomain()
	}
	if !strings.HasSuffix(domain, "/") {
		domain += "/"
	}

	if client != nil {
		body, err := client.Get(ctx, domain+slug)
		switch {
		case errors.Is(err, stream.ErrNotFound):
			return "", fmt.Errorf("channel %q: %w", slug, err)
		case err == nil:
			if m := manifestRe.FindString(body); m != "" {
				return m, nil
			}
		}
	}
	return fmt.Sprintf(kickPlaybackPattern, slug), nil
}

// IsVOD reports whether locator names an archived video rather than a channel.
func (k *Kick) IsVOD(locator string) bool {
	return strings.Contains(locator, "/video/") || strings.Contains(locator, "/videos/")
}

func (k *Kick) slug(locator string) (string, error) {
	if strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://") {
		u, err := url.Parse(locator)
		if err != nil {
			return "", fmt.Errorf("parse locator: %w", err)
		}
		path := strings.Trim(u.Path, "/")
		if path == "" || strings.Contains(path, "/") {
			return "", fmt.Errorf("locator %q is not a channel page", locator)
		}
		locator = path
	}
	if !slugRe.MatchString(locator) {
		return "", fmt.Errorf("invalid channel name %q", locator)
	}
	return strings.ToLower(locator), nil
}
