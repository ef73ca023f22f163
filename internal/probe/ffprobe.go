package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"
)

// StreamInfo is the quality metadata read from a direct media URL.
type StreamInfo struct {
	Width      int
	Height     int
	VideoCodec string
}

// FindFFprobe locates the ffprobe binary by explicit path, PATH lookup,
// or common install locations.
func FindFFprobe(explicitPath string) string {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err == nil {
			return explicitPath
		}
	}

	if path, err := exec.LookPath("ffprobe"); err == nil {
		return path
	}

	var commonPaths []string
	switch runtime.GOOS {
	case "darwin":
		commonPaths = []string{"/usr/local/bin/ffprobe", "/opt/homebrew/bin/ffprobe"}
	case "linux":
		commonPaths = []string{"/usr/bin/ffprobe", "/usr/local/bin/ffprobe"}
	case "windows":
		commonPaths = []string{`C:\ffmpeg\bin\ffprobe.exe`}
	}
	for _, p := range commonPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// ProbeURL inspects a remote stream with ffprobe and returns its first
// video stream's resolution and codec. The referer header is forwarded
// because several CDNs reject anonymous requests.
func ProbeURL(ctx context.Context, binaryPath, mediaURL, referer string, timeout time.Duration) (*StreamInfo, error) {
	if binaryPath == "" {
		return nil, fmt.Errorf("ffprobe binary not found")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "v:0",
	}
	if referer != "" {
		args = append(args, "-headers", "Referer: "+referer+"\r\n")
	}
	args = append(args, mediaURL)

	cmd := exec.CommandContext(ctx, binaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w: %s", err, stderr.String())
	}

	var output ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &output); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	for _, stream := range output.Streams {
		if stream.CodecType != "video" {
			continue
		}
		if stream.Height == 0 {
			continue
		}
		return &StreamInfo{
			Width:      stream.Width,
			Height:     stream.Height,
			VideoCodec: stream.CodecName,
		}, nil
	}
	return nil, fmt.Errorf("ffprobe reported no readable video stream")
}
