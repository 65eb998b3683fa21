package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SegmentExt is the container extension of recorded segments.
const SegmentExt = ".ts"

const segmentTimeLayout = "2006-01-02_15-04-05"

// SegmentFileName builds "{camera}_{YYYY-MM-DD}_{HH-MM-SS}.ts" in local time.
// A positive suffix is appended zero-padded ("_001") before the extension so
// names of the same second keep sorting in creation order.
func SegmentFileName(cameraID string, start time.Time, suffix int) string {
	name := cameraID + "_" + start.Local().Format(segmentTimeLayout)
	if suffix > 0 {
		name += fmt.Sprintf("_%03d", suffix)
	}
	return name + SegmentExt
}

// ParseSegmentFileName extracts the camera id and start time from a segment
// file name produced by SegmentFileName.
func ParseSegmentFileName(name string) (string, time.Time, bool) {
	base := strings.TrimSuffix(filepath.Base(name), SegmentExt)
	if base == filepath.Base(name) {
		return "", time.Time{}, false
	}
	// camera ids may contain '_', so parse from the right
	parts := strings.Split(base, "_")
	if len(parts) >= 4 {
		if _, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
			if id, ts, ok := parseParts(parts[:len(parts)-1]); ok {
				return id, ts, true
			}
		}
	}
	return parseParts(parts)
}

func parseParts(parts []string) (string, time.Time, bool) {
	if len(parts) < 3 {
		return "", time.Time{}, false
	}
	ts, err := time.ParseInLocation(segmentTimeLayout, parts[len(parts)-2]+"_"+parts[len(parts)-1], time.Local)
	if err != nil {
		return "", time.Time{}, false
	}
	id := strings.Join(parts[:len(parts)-2], "_")
	if id == "" {
		return "", time.Time{}, false
	}
	return id, ts, true
}

// FindSegmentsInRange returns the camera's segment files in dir whose start
// time falls within [startTime, endTime], oldest first.
func FindSegmentsInRange(dir, cameraID string, startTime, endTime time.Time) ([]string, error) {
	var matches []struct {
		path string
		ts   time.Time
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ts, ok := ParseSegmentFileName(entry.Name())
		if !ok || id != cameraID {
			continue
		}
		if !ts.Before(startTime) && !ts.After(endTime) {
			matches = append(matches, struct {
				path string
				ts   time.Time
			}{filepath.Join(dir, entry.Name()), ts})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].ts.Equal(matches[j].ts) {
			return matches[i].path < matches[j].path
		}
		return matches[i].ts.Before(matches[j].ts)
	})

	result := make([]string, len(matches))
	for i, m := range matches {
		result[i] = m.path
	}
	return result, nil
}
