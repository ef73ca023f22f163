// Package download executes jobs: fetching episode media into the
// download directory, or writing .strm pointer files.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/anibridge/anibridge/internal/scheduler"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

// fetchFile downloads a direct media URL into destPath with resume
// support and progress reporting. An existing partial file is continued
// via a Range request when the server honours it.
func fetchFile(ctx context.Context, client *http.Client, mediaURL, referer, destPath string, chunkSize int, progress scheduler.ProgressFunc) error {
	var offset int64
	if fi, err := os.Stat(destPath); err == nil {
		offset = fi.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Server ignored the range; start over.
		offset = 0
	case http.StatusPartialContent:
	default:
		return fmt.Errorf("fetch media: status %d", resp.StatusCode)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(destPath, flags, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	total := offset + resp.ContentLength
	if resp.ContentLength < 0 {
		total = 0
	}

	buf := make([]byte, chunkSize)
	downloaded := offset
	start := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return err
			}
			downloaded += int64(n)
			reportProgress(progress, downloaded, total, start, offset)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read media: %w", readErr)
		}
	}

	if total > 0 && downloaded < total {
		return fmt.Errorf("short download: %d of %d bytes", downloaded, total)
	}
	return nil
}

func reportProgress(progress scheduler.ProgressFunc, downloaded, total int64, start time.Time, resumedFrom int64) {
	if progress == nil {
		return
	}

	elapsed := time.Since(start).Seconds()
	var speed float64
	if elapsed > 0 {
		speed = float64(downloaded-resumedFrom) / elapsed
	}

	var percent float64
	var eta int64
	if total > 0 {
		percent = float64(downloaded) / float64(total) * 100
		if speed > 0 {
			eta = int64(float64(total-downloaded) / speed)
		}
	}

	progress(percent, downloaded, total, speed, eta)
}
