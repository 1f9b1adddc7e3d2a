// Package concat joins generated clips into one video, either through a
// remote concatenation service or a local ffmpeg binary.
package concat

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"unicode"
)

const (
	FormatMP4  = "mp4"
	FormatMOV  = "mov"
	FormatWebM = "webm"

	QualityCopy   = "copy"
	QualityHigh   = "high"
	QualityMedium = "medium"
	QualityLow    = "low"

	DefaultFormat  = FormatMP4
	DefaultQuality = QualityHigh
)

var (
	Formats   = []string{FormatMP4, FormatMOV, FormatWebM}
	Qualities = []string{QualityCopy, QualityHigh, QualityMedium, QualityLow}
)

// Request is an ordered list of clip URLs to join.
type Request struct {
	OrderedURLs  []string `json:"ordered_urls"`
	OutputFormat string   `json:"output_format"`
	Quality      string   `json:"quality"`
}

// Result describes the joined video. Duration is zero when the provider did
// not report one.
type Result struct {
	CompiledURL string  `json:"compiled_url"`
	FileSize    int64   `json:"file_size"`
	Duration    float64 `json:"duration"`
}

type Provider interface {
	Compile(ctx context.Context, req Request) (*Result, error)
}

// ProviderError is a failure reported by a concatenation backend.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return "concatenation failed: " + e.Message
	}
	return fmt.Sprintf("concatenation failed: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true for server errors (5xx). Local ffmpeg failures
// carry no status code and are permanent for the same input.
func (e *ProviderError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// Normalize fills defaults and checks format and quality.
func (r Request) Normalize() (Request, error) {
	if len(r.OrderedURLs) == 0 {
		return r, fmt.Errorf("no clips to concatenate")
	}
	if r.OutputFormat == "" {
		r.OutputFormat = DefaultFormat
	}
	if r.Quality == "" {
		r.Quality = DefaultQuality
	}
	if !slices.Contains(Formats, r.OutputFormat) {
		return r, fmt.Errorf("unsupported output format %q", r.OutputFormat)
	}
	if !slices.Contains(Qualities, r.Quality) {
		return r, fmt.Errorf("unsupported quality %q", r.Quality)
	}
	for _, u := range r.OrderedURLs {
		if err := checkClipURL(u); err != nil {
			return r, err
		}
	}
	return r, nil
}

// checkClipURL accepts absolute http(s) URLs free of control characters.
// Clip URLs end up in line-oriented ffconcat files.
func checkClipURL(raw string) error {
	if strings.IndexFunc(raw, unicode.IsControl) >= 0 {
		return fmt.Errorf("clip url %q contains control characters", raw)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("clip url %q is not an absolute http(s) url", raw)
	}
	return nil
}
