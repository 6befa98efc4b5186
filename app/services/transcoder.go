package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/amirphl/signage-publisher/config"
)

// ErrTranscoderUnavailable is returned when the external tool cannot be found.
var ErrTranscoderUnavailable = errors.New("transcoder unavailable")

// ProbeResult is the stream metadata the pipeline cares about.
type ProbeResult struct {
	Container       string  `json:"container"`
	Codec           string  `json:"codec"`
	PixelFormat     string  `json:"pixel_format"`
	DurationSeconds float64 `json:"duration_seconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
}

// Transcoder inspects and normalizes video files on the local filesystem.
type Transcoder interface {
	Probe(ctx context.Context, path string) (*ProbeResult, error)
	Normalize(ctx context.Context, inPath, outPath string) (*ProbeResult, error)
}

type ffmpegTranscoder struct {
	cfg config.TranscoderConfig
}

// NewFFmpegTranscoder drives ffprobe/ffmpeg as external processes.
func NewFFmpegTranscoder(cfg config.TranscoderConfig) Transcoder {
	return &ffmpegTranscoder{cfg: cfg}
}

func (t *ffmpegTranscoder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, t.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func (t *ffmpegTranscoder) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	bin := t.cfg.FFprobePath
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTranscoderUnavailable, bin)
	}
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name,pix_fmt,width,height:format=format_name,duration",
		"-of", "json",
		path,
	)
	output, err := cmd.Output()
	countTranscode("ffprobe", err)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("ffprobe failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, err
	}
	return parseProbeOutput(output)
}

func parseProbeOutput(output []byte) (*ProbeResult, error) {
	var out struct {
		Streams []struct {
			CodecName string `json:"codec_name"`
			PixFmt    string `json:"pix_fmt"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
		Format struct {
			FormatName string `json:"format_name"`
			Duration   string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &out); err != nil {
		return nil, fmt.Errorf("malformed ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return nil, fmt.Errorf("no video stream found")
	}
	duration, _ := strconv.ParseFloat(out.Format.Duration, 64)
	return &ProbeResult{
		Container:       out.Format.FormatName,
		Codec:           out.Streams[0].CodecName,
		PixelFormat:     out.Streams[0].PixFmt,
		DurationSeconds: duration,
		Width:           out.Streams[0].Width,
		Height:          out.Streams[0].Height,
	}, nil
}

// Normalize re-encodes to H.264/yuv420p MP4 with the moov atom up front.
func (t *ffmpegTranscoder) Normalize(ctx context.Context, inPath, outPath string) (*ProbeResult, error) {
	bin := t.cfg.FFmpegPath
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTranscoderUnavailable, bin)
	}
	runCtx, cancel := t.withTimeout(ctx)
	defer cancel()

	cmd := exec.CommandContext(runCtx, bin,
		"-y",
		"-i", inPath,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-preset", "veryfast",
		"-movflags", "+faststart",
		"-c:a", "aac",
		outPath,
	)
	output, err := cmd.CombinedOutput()
	countTranscode("ffmpeg", err)
	if err != nil {
		_ = os.Remove(outPath)
		tail := string(output)
		if len(tail) > 512 {
			tail = tail[len(tail)-512:]
		}
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(tail))
	}
	return t.Probe(ctx, outPath)
}

// MockTranscoder returns canned results; Normalize copies the input file.
type MockTranscoder struct {
	ProbeResults map[string]*ProbeResult
	Default      *ProbeResult
	ProbeErr     error
	NormalizeErr error
	Normalized   []string
}

func NewMockTranscoder() *MockTranscoder {
	return &MockTranscoder{
		ProbeResults: make(map[string]*ProbeResult),
		Default: &ProbeResult{
			Container:       "mov,mp4,m4a,3gp,3g2,mj2",
			Codec:           "h264",
			PixelFormat:     "yuv420p",
			DurationSeconds: 15,
			Width:           1920,
			Height:          1080,
		},
	}
}

func (m *MockTranscoder) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	if m.ProbeErr != nil {
		return nil, m.ProbeErr
	}
	if res, ok := m.ProbeResults[path]; ok {
		return res, nil
	}
	res := *m.Default
	return &res, nil
}

func (m *MockTranscoder) Normalize(ctx context.Context, inPath, outPath string) (*ProbeResult, error) {
	if m.NormalizeErr != nil {
		return nil, m.NormalizeErr
	}
	in, err := os.Open(inPath)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	out, err := os.Create(outPath)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, err
	}
	m.Normalized = append(m.Normalized, outPath)
	return &ProbeResult{
		Container:       "mov,mp4,m4a,3gp,3g2,mj2",
		Codec:           "h264",
		PixelFormat:     "yuv420p",
		DurationSeconds: m.Default.DurationSeconds,
		Width:           m.Default.Width,
		Height:          m.Default.Height,
	}, nil
}
