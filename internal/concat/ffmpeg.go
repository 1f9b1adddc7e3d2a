package concat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/reelforge/internal/logging"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

	protocolWhitelist = "file,http,https,tcp,tls,crypto"
)

// FFmpegConfig holds the local concatenation settings.
type FFmpegConfig struct {
	FFmpegPath    string        // path to ffmpeg binary; empty = look up on PATH
	OutputDir     string        // where compiled files are written
	PublicBaseURL string        // compiled files are served at PublicBaseURL/artifacts/<name>
	Timeout       time.Duration // bound on a single ffmpeg run
	Logger        *slog.Logger
}

// FFmpegProvider joins clips with the ffmpeg concat demuxer, reading the
// clip URLs directly.
type FFmpegProvider struct {
	cfg    FFmpegConfig
	ffmpeg string
}

// NewFFmpegProvider resolves the ffmpeg binary and prepares the output dir.
func NewFFmpegProvider(cfg FFmpegConfig) (*FFmpegProvider, error) {
	bin, err := resolveFFmpeg(cfg.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("cannot locate ffmpeg: %w", err)
	}

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create output dir: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	cfg.Logger.Info("ffmpeg concatenation initialised",
		"ffmpeg", bin,
		"output_dir", logging.SanitizePath(cfg.OutputDir),
	)

	return &FFmpegProvider{cfg: cfg, ffmpeg: bin}, nil
}

func (p *FFmpegProvider) Compile(ctx context.Context, req Request) (*Result, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, &ProviderError{Message: err.Error()}
	}

	work, err := os.MkdirTemp("", "reelforge-concat-")
	if err != nil {
		return nil, &ProviderError{Message: fmt.Sprintf("create work dir: %v", err)}
	}
	defer os.RemoveAll(work)

	list, err := concatList(req.OrderedURLs)
	if err != nil {
		return nil, &ProviderError{Message: err.Error()}
	}
	listPath := filepath.Join(work, "inputs.txt")
	if err := os.WriteFile(listPath, []byte(list), 0644); err != nil {
		return nil, &ProviderError{Message: fmt.Sprintf("write input list: %v", err)}
	}

	name := uuid.NewString() + "." + req.OutputFormat
	outPath := filepath.Join(p.cfg.OutputDir, name)

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	res := p.exec(ctx, buildArgs(listPath, outPath, req)...)
	if !res.IsSuccess() {
		os.Remove(outPath)
		return nil, &ProviderError{Message: fmt.Sprintf("ffmpeg exited %d: %s", res.ExitCode, truncate(res.StderrTail, 512))}
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, &ProviderError{Message: fmt.Sprintf("ffmpeg produced no output: %v", err)}
	}

	return &Result{
		CompiledURL: p.cfg.PublicBaseURL + "/artifacts/" + name,
		FileSize:    info.Size(),
		Duration:    parseProgressTime(res.StderrTail),
	}, nil
}

// buildArgs assembles the ffmpeg command line for one compile.
func buildArgs(listPath, outPath string, req Request) []string {
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-f", "concat", "-safe", "0",
		"-protocol_whitelist", protocolWhitelist,
		"-i", listPath,
	}
	args = append(args, codecArgs(req.OutputFormat, req.Quality)...)
	if req.OutputFormat == FormatMP4 || req.OutputFormat == FormatMOV {
		args = append(args, "-movflags", "+faststart")
	}
	return append(args, outPath)
}

func codecArgs(format, quality string) []string {
	if quality == QualityCopy {
		return []string{"-c", "copy"}
	}

	if format == FormatWebM {
		crf := map[string]string{QualityHigh: "24", QualityMedium: "32", QualityLow: "40"}[quality]
		return []string{"-c:v", "libvpx-vp9", "-crf", crf, "-b:v", "0", "-c:a", "libopus"}
	}

	var crf, preset, audio string
	switch quality {
	case QualityHigh:
		crf, preset, audio = "18", "slow", "192k"
	case QualityMedium:
		crf, preset, audio = "23", "medium", "128k"
	default:
		crf, preset, audio = "28", "veryfast", "96k"
	}
	return []string{"-c:v", "libx264", "-crf", crf, "-preset", preset, "-pix_fmt", "yuv420p", "-c:a", "aac", "-b:a", audio}
}

// concatList renders the concat demuxer input file.
func concatList(urls []string) (string, error) {
	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for _, u := range urls {
		if err := checkClipURL(u); err != nil {
			return "", err
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(u, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String(), nil
}

var progressTimeRe = regexp.MustCompile(`time=(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// parseProgressTime returns the last progress timestamp ffmpeg printed, which
// is the duration of the written output.
func parseProgressTime(stderr string) float64 {
	matches := progressTimeRe.FindAllStringSubmatch(stderr, -1)
	if len(matches) == 0 {
		return 0
	}
	m := matches[len(matches)-1]
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	sec, _ := strconv.ParseFloat(m[3], 64)
	return float64(h*3600+mins*60) + sec
}

type runResult struct {
	ExitCode   int
	Stdout     string
	StderrTail string
}

func (r runResult) IsSuccess() bool { return r.ExitCode == 0 }

// exec runs ffmpeg with args, keeping bounded tails of its output.
func (p *FFmpegProvider) exec(ctx context.Context, args ...string) runResult {
	start := time.Now()

	cmd := exec.CommandContext(ctx, p.ffmpeg, args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})
	cmd.Stdout = io.Writer(&limitedWriter{w: &stdoutBuf, limit: maxStderrBytes})

	p.cfg.Logger.Info("executing ffmpeg", "args", len(args))

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	stderrTail := stderrBuf.String()
	if err != nil && exitCode == -1 && stderrTail == "" {
		stderrTail = err.Error()
	}

	if exitCode != 0 {
		p.cfg.Logger.Warn("ffmpeg failed",
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		p.cfg.Logger.Info("ffmpeg succeeded", "duration_ms", elapsed.Milliseconds())
	}

	return runResult{ExitCode: exitCode, Stdout: stdoutBuf.String(), StderrTail: stderrTail}
}

// resolveFFmpeg finds a usable ffmpeg binary.
func resolveFFmpeg(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured ffmpeg %q not found", preferred)
	}
	if p, err := exec.LookPath("ffmpeg"); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("no ffmpeg binary found on PATH")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
