// Package cookies turns the configured cookie value into a Cookie header.
package cookies

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// FilePrefix marks a cookie value that names a file instead of holding
// cookies inline.
const FilePrefix = "file://"

// Load resolves raw into a Cookie header value. raw is either an inline
// "name=value; name2=value2" string or file://<path>. A file may hold a
// header line or a Netscape cookies.txt export; for the latter only
// cookies whose domain ends with domain are kept (all when domain is "").
func Load(raw, domain string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, FilePrefix) {
		return Normalize(raw), nil
	}
	path := strings.TrimPrefix(raw, FilePrefix)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read cookie file %q: %w", path, err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return "", fmt.Errorf("empty cookie file %q", path)
	}
	if isNetscape(content) {
		return parseNetscape(content, domain), nil
	}
	return Normalize(content), nil
}

// Normalize parses a header-style cookie string, drops malformed pairs,
// keeps the last value of repeated names and re-joins in first-seen order.
func Normalize(s string) string {
	var order []string
	values := map[string]string{}
	for _, part := range strings.Split(s, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		if _, seen := values[name]; !seen {
			order = append(order, name)
		}
		values[name] = strings.TrimSpace(value)
	}
	pairs := make([]string, 0, len(order))
	for _, name := range order {
		pairs = append(pairs, name+"="+values[name])
	}
	return strings.Join(pairs, "; ")
}

func isNetscape(content string) bool {
	if strings.HasPrefix(content, "# Netscape HTTP Cookie File") || strings.HasPrefix(content, "# HTTP Cookie File") {
		return true
	}
	first, _, _ := strings.Cut(content, "\n")
	return len(strings.Split(first, "\t")) == 7
}

// parseNetscape reads the tab-separated cookies.txt layout:
// domain, subdomains, path, secure, expiry, name, value.
func parseNetscape(content, domain string) string {
	domain = strings.TrimPrefix(strings.ToLower(domain), ".")
	var b strings.Builder
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		// curl marks HttpOnly cookies with this prefix rather than a comment.
		line = strings.TrimPrefix(line, "#HttpOnly_")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			continue
		}
		host := strings.TrimPrefix(strings.ToLower(fields[0]), ".")
		if domain != "" && host != domain && !strings.HasSuffix(host, "."+domain) {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString(fields[5] + "=" + fields[6])
	}
	return Normalize(b.String())
}
