package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const maxStderrBytes = 8 * 1024

// ErrProbeUnavailable is returned when no ffprobe binary can be found.
var ErrProbeUnavailable = errors.New("ffprobe not available")

// ProbeResult is the subset of ffprobe output the pipeline records.
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
	Format  ProbeFormat   `json:"format"`
}

type ProbeStream struct {
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	Duration     string `json:"duration"`
}

type ProbeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

// VideoStream returns the first video stream, if any.
func (r *ProbeResult) VideoStream() *ProbeStream {
	for i := range r.Streams {
		if strings.EqualFold(r.Streams[i].CodecType, "video") {
			return &r.Streams[i]
		}
	}
	return nil
}

// DurationSeconds prefers the container duration and falls back to the
// video stream's.
func (r *ProbeResult) DurationSeconds() float64 {
	if d := parseFloat(r.Format.Duration); d > 0 {
		return d
	}
	if v := r.VideoStream(); v != nil {
		return parseFloat(v.Duration)
	}
	return 0
}

// Prober runs ffprobe as a subprocess with a timeout.
type Prober struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewProber resolves the ffprobe binary. An empty path searches PATH. A
// missing binary is not an error here; Probe reports ErrProbeUnavailable.
func NewProber(path string, timeout time.Duration, logger *slog.Logger) *Prober {
	if path == "" {
		path = "ffprobe"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		logger.Warn("ffprobe not found, video metadata will be limited", "path", path)
		resolved = ""
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Prober{binary: resolved, timeout: timeout, logger: logger}
}

func (p *Prober) Available() bool {
	return p != nil && p.binary != ""
}

// Probe inspects a media file.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	if !p.Available() {
		return nil, ErrProbeUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, p.binary, "-v", "error", "-hide_banner",
		"-show_format", "-show_streams", "-of", "json", "--", path)

	var stdout, stderrBuf bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		p.logger.Warn("ffprobe failed",
			"exit_code", exitCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"stderr_tail", truncate(stderrBuf.String(), 512))
		return nil, fmt.Errorf("ffprobe exited %d: %s", exitCode, strings.TrimSpace(truncate(stderrBuf.String(), 512)))
	}

	var result ProbeResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("ffprobe parse: %w", err)
	}
	return &result, nil
}

// parseFrameRate understands "30000/1001" and plain decimals.
func parseFrameRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "0/0" {
		return 0
	}
	if num, den, ok := strings.Cut(s, "/"); ok {
		n := parseFloat(num)
		d := parseFloat(den)
		if d == 0 {
			return 0
		}
		return n / d
	}
	return parseFloat(s)
}

func parseFloat(value string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return v
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter keeps only the last limit bytes written to it.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
