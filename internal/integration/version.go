package integration

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// FFmpegVersion is the release number reported by `ffmpeg -version`.
type FFmpegVersion struct {
	Major int
	Minor int
	Patch int
}

// MinimumFFmpegVersion is the oldest release with the WebM muxer options used
// for live capture.
var MinimumFFmpegVersion = FFmpegVersion{Major: 4, Minor: 0}

// String returns the version as MAJOR.MINOR.PATCH.
func (v FFmpegVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1 if v < other, 0 if v == other, 1 if v > other.
func (v FFmpegVersion) Compare(other FFmpegVersion) int {
	switch {
	case v.Major != other.Major:
		return cmpInt(v.Major, other.Major)
	case v.Minor != other.Minor:
		return cmpInt(v.Minor, other.Minor)
	default:
		return cmpInt(v.Patch, other.Patch)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// FFmpegChecker inspects the installed ffmpeg.
type FFmpegChecker interface {
	// DetectVersion runs `ffmpeg -version` and parses the first line.
	DetectVersion() (*FFmpegVersion, error)
	// CheckMinimumVersion returns an error if the detected version is older than min.
	CheckMinimumVersion(min FFmpegVersion) error
	// HasEncoder reports whether ffmpeg was built with the named encoder.
	HasEncoder(name string) (bool, error)
}

type ffmpegChecker struct {
	// commandRunner is injected for testability.
	commandRunner func(args ...string) (string, error)
	cachedVersion *FFmpegVersion
	encoders      string
}

// NewFFmpegChecker creates an FFmpegChecker for the named binary.
func NewFFmpegChecker(binary string) FFmpegChecker {
	return &ffmpegChecker{commandRunner: func(args ...string) (string, error) {
		out, err := exec.Command(binary, args...).CombinedOutput()
		if err != nil {
			return "", fmt.Errorf("running %s %s: %w", binary, strings.Join(args, " "), err)
		}
		return string(out), nil
	}}
}

// NewFFmpegCheckerWithRunner creates a checker with a custom command runner
// for testing.
func NewFFmpegCheckerWithRunner(runner func(args ...string) (string, error)) FFmpegChecker {
	return &ffmpegChecker{commandRunner: runner}
}

var ffmpegVersionRe = regexp.MustCompile(`^ffmpeg version n?(\d+)\.(\d+)(?:\.(\d+))?`)

// parseFFmpegVersion parses output such as "ffmpeg version 6.1.1-3ubuntu5" or
// "ffmpeg version n7.0". A missing patch number is zero.
func parseFFmpegVersion(output string) (*FFmpegVersion, error) {
	first := strings.TrimSpace(strings.SplitN(strings.TrimSpace(output), "\n", 2)[0])
	m := ffmpegVersionRe.FindStringSubmatch(first)
	if m == nil {
		return nil, fmt.Errorf("invalid ffmpeg version line %q", first)
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch := 0
	if m[3] != "" {
		patch, _ = strconv.Atoi(m[3])
	}
	return &FFmpegVersion{Major: major, Minor: minor, Patch: patch}, nil
}

func (c *ffmpegChecker) DetectVersion() (*FFmpegVersion, error) {
	if c.cachedVersion != nil {
		return c.cachedVersion, nil
	}
	output, err := c.commandRunner("-version")
	if err != nil {
		return nil, fmt.Errorf("detecting ffmpeg version: %w", err)
	}
	version, err := parseFFmpegVersion(output)
	if err != nil {
		return nil, err
	}
	c.cachedVersion = version
	return version, nil
}

func (c *ffmpegChecker) CheckMinimumVersion(min FFmpegVersion) error {
	detected, err := c.DetectVersion()
	if err != nil {
		return err
	}
	if detected.Compare(min) < 0 {
		return fmt.Errorf("ffmpeg version %s is less than required minimum %s", detected, min)
	}
	return nil
}

func (c *ffmpegChecker) HasEncoder(name string) (bool, error) {
	if c.encoders == "" {
		out, err := c.commandRunner("-hide_banner", "-encoders")
		if err != nil {
			return false, fmt.Errorf("listing ffmpeg encoders: %w", err)
		}
		c.encoders = out
	}
	for _, line := range strings.Split(c.encoders, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == name {
			return true, nil
		}
	}
	return false, nil
}
