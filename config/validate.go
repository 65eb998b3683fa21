package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ConfigError lists every problem found in a configuration. It is only
// produced at startup; a running recorder never sees one.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid config: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid config (%d problems): %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

func (e *ConfigError) add(format string, args ...interface{}) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

var cameraIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Validate checks camera identifiers, source URIs and numeric settings.
// It returns a *ConfigError or nil.
func (c Config) Validate() error {
	cerr := &ConfigError{}

	seen := make(map[string]int)
	for i, cam := range c.Cameras {
		switch {
		case cam.ID == "":
			cerr.add("camera #%d: id is required", i+1)
		case !cameraIDPattern.MatchString(cam.ID):
			cerr.add("camera %q: id may only contain letters, digits, '_' and '-'", cam.ID)
		}
		if cam.ID != "" {
			if first, dup := seen[cam.ID]; dup {
				cerr.add("camera %q: duplicate id (also camera #%d)", cam.ID, first)
			} else {
				seen[cam.ID] = i + 1
			}
		}
		if err := ValidateSourceURL(cam.RTSPURL); err != nil {
			cerr.add("camera %q: %v", cam.ID, err)
		}
	}

	if c.OutputDir == "" {
		cerr.add("recordings path is required")
	}
	if c.SegmentDuration <= 0 {
		cerr.add("segment duration must be positive")
	}
	if c.ReconnectDelay < 0 {
		cerr.add("reconnect delay must not be negative")
	}
	if c.ConnectTimeout <= 0 {
		cerr.add("connect timeout must be positive")
	}
	if c.StallTimeout <= 0 {
		cerr.add("stall timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		cerr.add("shutdown timeout must be positive")
	}
	if c.RetentionDays < 1 {
		cerr.add("retention days must be at least 1")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		cerr.add("archive enabled without a bucket")
	}

	if len(cerr.Problems) > 0 {
		return cerr
	}
	return nil
}

// ValidateSourceURL accepts rtsp:// and rtsps:// URLs with a host.
func ValidateSourceURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("rtsp_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed rtsp_url")
	}
	if u.Scheme != "rtsp" && u.Scheme != "rtsps" {
		return fmt.Errorf("rtsp_url scheme must be rtsp or rtsps, got %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("rtsp_url has no host")
	}
	return nil
}
