package download

import (
	"os"
	"os/exec"
	"runtime"
)

// FindFFmpeg locates the ffmpeg binary by explicit path, PATH lookup,
// or common install locations.
func FindFFmpeg(explicitPath string) string {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err == nil {
			return explicitPath
		}
	}

	if path, err := exec.LookPath("ffmpeg"); err == nil {
		return path
	}

	var commonPaths []string
	switch runtime.GOOS {
	case "darwin":
		commonPaths = []string{"/usr/local/bin/ffmpeg", "/opt/homebrew/bin/ffmpeg"}
	case "linux":
		commonPaths = []string{"/usr/bin/ffmpeg", "/usr/local/bin/ffmpeg"}
	case "windows":
		commonPaths = []string{`C:\ffmpeg\bin\ffmpeg.exe`}
	}
	for _, p := range commonPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
