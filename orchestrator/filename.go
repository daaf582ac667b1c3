package orchestrator

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// DefaultFilenameTemplate produces KickClient_<name>_<timestamp>.
const DefaultFilenameTemplate = "KickClient_{{.Name}}_{{.Timestamp}}"

// Timestamp holds the broken-out date/time fields for a single point in time.
type Timestamp struct {
	Year   string // 4-digit year
	Month  string // 2-digit month (01-12)
	Day    string // 2-digit day (01-31)
	Hour   string // 2-digit hour, 24h (00-23)
	Minute string // 2-digit minute (00-59)
	Second string // 2-digit second (00-59)
	Unix   int64  // Unix epoch seconds
}

// NewTimestamp creates a Timestamp from a time.Time.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{
		Year:   t.Format("2006"),
		Month:  t.Format("01"),
		Day:    t.Format("02"),
		Hour:   t.Format("15"),
		Minute: t.Format("04"),
		Second: t.Format("05"),
		Unix:   t.Unix(),
	}
}

// FilenameData holds the variables available to filename templates.
//
// Usage examples:
//
//	KickClient_{{.Name}}_{{.Timestamp}}
//	{{.Kind}}_{{.Name}}-{{.Time.Year}}{{.Time.Month}}{{.Time.Day}}
type FilenameData struct {
	Name      string    // sanitized desired name
	Kind      string    // "live" or "vod"
	Timestamp string    // ISO-8601 UTC with ':' and '.' replaced by '-'
	Time      Timestamp // broken-out local time
}

// NewFilenameData builds template data for one job.
func NewFilenameData(desiredName, kind, fallback string, now time.Time) *FilenameData {
	name := SanitizeName(desiredName)
	if name == "" {
		name = fallback
	}
	return &FilenameData{
		Name:      name,
		Kind:      kind,
		Timestamp: FileTimestamp(now),
		Time:      NewTimestamp(now),
	}
}

// SanitizeName keeps ASCII letters and digits only.
func SanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FileTimestamp renders t as 2024-01-02T03-04-05-678Z.
func FileTimestamp(t time.Time) string {
	iso := t.UTC().Format("2006-01-02T15:04:05.000Z")
	return strings.NewReplacer(":", "-", ".", "-").Replace(iso)
}

// RenderFilename evaluates pattern and appends ext. Path separators in the
// result are rejected so a template cannot escape the output directory.
func RenderFilename(pattern string, data *FilenameData, ext string) (string, error) {
	tpl, err := template.New("filename").Option("missingkey=error").Parse(pattern)
	if err != nil {
		return "", fmt.Errorf("parse filename template: %w", err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render filename template: %w", err)
	}
	name := strings.TrimSpace(buf.String())
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("filename template produced invalid name %q", name)
	}
	return name + "." + ext, nil
}
