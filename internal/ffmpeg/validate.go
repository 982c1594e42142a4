package ffmpeg

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

var versionPattern = regexp.MustCompile(`ffmpeg version ([^\s]+)`)

// CheckBinary verifies the configured FFmpeg binary is on PATH and at
// least version 4. Adapted from the teacher's
// tools/binaries.go BinaryValidator, trimmed to FFmpeg only — the
// provider is now an HTTP API (internal/provider), so the teacher's
// paired yt-dlp check no longer applies.
func CheckBinary(path string) (version string, err error) {
	if path == "" {
		path = "ffmpeg"
	}
	fullPath, err := exec.LookPath(path)
	if err != nil {
		return "", fmt.Errorf("ffmpeg not found at %q: %w", path, err)
	}

	out, err := exec.Command(fullPath, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("ffmpeg -version failed: %w", err)
	}
	matches := versionPattern.FindStringSubmatch(string(out))
	if len(matches) < 2 {
		return "", fmt.Errorf("could not parse ffmpeg version from output")
	}
	version = matches[1]

	if err := requireMinVersion(version, 4); err != nil {
		return version, err
	}
	return version, nil
}

func requireMinVersion(version string, min int) error {
	major := strings.Split(strings.Split(version, ".")[0], "-")[0]
	major = strings.TrimPrefix(major, "n")
	n, err := strconv.Atoi(major)
	if err != nil {
		return fmt.Errorf("could not parse major version from %q", version)
	}
	if n < min {
		return fmt.Errorf("ffmpeg version %s is too old (minimum required: %d.0)", version, min)
	}
	return nil
}
