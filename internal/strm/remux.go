package strm

import (
	"fmt"
	"io"
	"net/http"
	"os/exec"

	"github.com/labstack/echo/v4"
)

// serveRemux pipes an upstream HLS stream through ffmpeg into
// fragmented MP4 with the video copied and the audio normalised, so
// clients reading container metadata see a real bitrate. Errors before
// the first byte let the caller fall back to the rewrite path.
func (s *Service) serveRemux(c echo.Context, upstream cachedURL) error {
	if s.cfg.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg not configured")
	}

	ctx := c.Request().Context()
	args := []string{
		"-hide_banner", "-loglevel", "error",
	}
	if upstream.referer != "" {
		args = append(args, "-headers", "Referer: "+upstream.referer+"\r\n")
	}
	args = append(args,
		"-i", upstream.url,
		"-c:v", "copy",
		"-c:a", "aac",
		"-movflags", "frag_keyframe+empty_moov",
		"-f", "mp4",
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, s.cfg.FFmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	defer cmd.Wait()

	// Read ahead one chunk so an immediate ffmpeg failure still allows
	// the rewrite fallback.
	first := make([]byte, s.cfg.ChunkSize)
	n, err := io.ReadFull(stdout, first)
	if n == 0 {
		return fmt.Errorf("remux produced no output: %v", err)
	}

	c.Response().Header().Set("Content-Type", "video/mp4")
	c.Response().WriteHeader(http.StatusOK)
	if _, err := c.Response().Write(first[:n]); err != nil {
		return nil
	}

	buf := make([]byte, s.cfg.ChunkSize)
	if _, err := io.CopyBuffer(c.Response(), stdout, buf); err != nil {
		s.logger.Debug().Err(err).Msg("remux stream interrupted")
	}
	return nil
}
