package stream

import (
	"bufio"
	"math"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
)

const streamInfTag = "#EXT-X-STREAM-INF:"

type variant struct {
	uri        string
	resolution string
	bandwidth  uint64
}

// parseVariants extracts the variant streams of a master playlist in
// manifest order. Playlists the m3u8 decoder rejects (missing header,
// odd attribute quoting) are scanned line by line instead, as are
// playlists whose BANDWIDTH exceeds the decoder's 32-bit field.
func parseVariants(body string) []variant {
	p, listType, err := m3u8.DecodeFrom(strings.NewReader(body), false)
	if err != nil || wideBandwidth(body) {
		return scanVariants(body)
	}
	if listType != m3u8.MASTER {
		return nil
	}
	master, ok := p.(*m3u8.MasterPlaylist)
	if !ok {
		return nil
	}

	var out []variant
	for _, v := range master.Variants {
		if v == nil || v.Iframe || v.URI == "" {
			continue
		}
		out = append(out, variant{
			uri:        v.URI,
			resolution: v.Resolution,
			bandwidth:  uint64(v.Bandwidth),
		})
	}
	return out
}

// scanVariants pairs every #EXT-X-STREAM-INF line with the line after it.
func scanVariants(body string) []variant {
	var out []variant
	var pending *variant
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if pending != nil {
			if line != "" {
				pending.uri = line
				out = append(out, *pending)
				pending = nil
			}
			continue
		}
		if strings.HasPrefix(line, streamInfTag) {
			v := variant{}
			attrs := line[len(streamInfTag):]
			v.resolution = attrValue(attrs, "RESOLUTION")
			if bw, err := strconv.ParseUint(attrValue(attrs, "BANDWIDTH"), 10, 64); err == nil {
				v.bandwidth = bw
			}
			pending = &v
		}
	}
	return out
}

// wideBandwidth reports whether any variant declares a BANDWIDTH that
// does not fit in 32 bits.
func wideBandwidth(body string) bool {
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, streamInfTag) {
			continue
		}
		bw, err := strconv.ParseUint(attrValue(line[len(streamInfTag):], "BANDWIDTH"), 10, 64)
		if err == nil && bw > math.MaxUint32 {
			return true
		}
	}
	return false
}

// attrValue returns the value of key in an attribute list, or "".
func attrValue(attrs, key string) string {
	for _, field := range splitAttrs(attrs) {
		k, v, ok := strings.Cut(field, "=")
		if ok && strings.EqualFold(strings.TrimSpace(k), key) {
			return strings.Trim(strings.TrimSpace(v), `"`)
		}
	}
	return ""
}

// splitAttrs splits on commas that are not inside double quotes.
func splitAttrs(s string) []string {
	var out []string
	quoted := false
	start := 0
	for i, r := range s {
		switch r {
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

// resolvePlaylistURL constructs the full variant URL from the master
// playlist URL by replacing everything after its last path slash.
func resolvePlaylistURL(baseURL, variantURI string) string {
	if strings.HasPrefix(variantURI, "http://") || strings.HasPrefix(variantURI, "https://") {
		return variantURI
	}

	pathPart := baseURL
	if idx := strings.Index(baseURL, "?"); idx != -1 {
		pathPart = baseURL[:idx]
	}
	if lastSlash := strings.LastIndex(pathPart, "/"); lastSlash != -1 {
		return pathPart[:lastSlash+1] + variantURI
	}
	return variantURI
}
