package download

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/anibridge/anibridge/internal/scheduler"
)

// fetchHLS downloads an HLS stream into destPath by remuxing it with
// ffmpeg, stream copy, no re-encode. Progress comes from ffmpeg's
// machine-readable -progress output; the total is unknown for live
// manifests, so percent stays at 0 until completion.
func fetchHLS(ctx context.Context, ffmpegPath, playlistURL, referer, destPath string, progress scheduler.ProgressFunc) error {
	if ffmpegPath == "" {
		return fmt.Errorf("ffmpeg binary not found")
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-y",
	}
	if referer != "" {
		args = append(args, "-headers", "Referer: "+referer+"\r\n")
	}
	args = append(args,
		"-i", playlistURL,
		"-c", "copy",
		"-progress", "pipe:1",
		"-nostats",
		destPath,
	)

	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	start := time.Now()
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		key, value, found := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !found || key != "total_size" {
			continue
		}
		size, err := strconv.ParseInt(value, 10, 64)
		if err != nil || size <= 0 {
			continue
		}
		if progress != nil {
			elapsed := time.Since(start).Seconds()
			var speed float64
			if elapsed > 0 {
				speed = float64(size) / elapsed
			}
			progress(0, size, 0, speed, 0)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %w", err)
	}

	if fi, err := os.Stat(destPath); err != nil || fi.Size() == 0 {
		return fmt.Errorf("ffmpeg produced no output")
	}
	return nil
}
