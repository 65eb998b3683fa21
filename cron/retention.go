package cron

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// VideoExtensions are the file types the reaper is allowed to delete.
var VideoExtensions = map[string]bool{
	".ts":  true,
	".mp4": true,
	".mkv": true,
	".avi": true,
	".mov": true,
	".flv": true,
	".wmv": true,
}

// InUse answers whether a segment file is still being written.
type InUse interface {
	IsOpen(path string) bool
}

// FileInfo describes one recording considered by the reaper.
type FileInfo struct {
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	Size     int64     `json:"size_bytes"`
	SizeMB   float64   `json:"size_mb"`
	Modified time.Time `json:"modified"`
	AgeDays  int       `json:"age_days"`
}

// Report summarises one reaper pass.
type Report struct {
	Dir         string     `json:"dir"`
	DryRun      bool       `json:"dry_run"`
	Cutoff      time.Time  `json:"cutoff"`
	TotalFiles  int        `json:"total_files"`
	TotalBytes  int64      `json:"total_bytes"`
	Skipped     int        `json:"skipped_non_video"`
	SkippedOpen int        `json:"skipped_open"`
	Candidates  []FileInfo `json:"candidates"`
	Deleted     int        `json:"deleted"`
	Errors      int        `json:"errors"`
	FreedBytes  int64      `json:"freed_bytes"`
}

// FreedMB is FreedBytes in megabytes, rounded to two decimals.
func (r Report) FreedMB() float64 {
	return bytesToMB(r.FreedBytes)
}

// Reaper deletes recordings whose modification time is older than Retention.
// A file the registry reports as open is never deleted, whatever its age.
type Reaper struct {
	Dir       string
	Retention time.Duration
	Registry  InUse
	DryRun    bool

	// OnDelete runs after each successful deletion.
	OnDelete func(f FileInfo)
}

// Run scans Dir once. Per-file failures are counted in the report; an error
// is returned only when the directory itself cannot be read.
func (r *Reaper) Run(now time.Time) (Report, error) {
	cutoff := now.Add(-r.Retention)
	report := Report{Dir: r.Dir, DryRun: r.DryRun, Cutoff: cutoff}

	dir := r.Dir
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("[Reaper] ⚠️ Recordings directory does not exist: %s", r.Dir)
			return report, nil
		}
		return report, fmt.Errorf("scan recordings directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if !VideoExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			report.Skipped++
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// deleted between listing and stat
			continue
		}

		f := FileInfo{
			Path:     path,
			Name:     entry.Name(),
			Size:     info.Size(),
			SizeMB:   bytesToMB(info.Size()),
			Modified: info.ModTime(),
			AgeDays:  int(now.Sub(info.ModTime()).Hours() / 24),
		}
		report.TotalFiles++
		report.TotalBytes += f.Size

		if !info.ModTime().Before(cutoff) {
			continue
		}
		if r.Registry != nil && r.Registry.IsOpen(path) {
			report.SkippedOpen++
			log.Printf("[Reaper] ⏭️  %s is still being recorded, skipping", f.Name)
			continue
		}
		report.Candidates = append(report.Candidates, f)
	}

	sort.Slice(report.Candidates, func(i, j int) bool {
		return report.Candidates[i].Modified.Before(report.Candidates[j].Modified)
	})

	if r.DryRun {
		for _, f := range report.Candidates {
			report.FreedBytes += f.Size
		}
		return report, nil
	}

	for _, f := range report.Candidates {
		// the registry is checked again right before removal
		if r.Registry != nil && r.Registry.IsOpen(f.Path) {
			report.SkippedOpen++
			continue
		}
		if err := os.Remove(f.Path); err != nil {
			report.Errors++
			log.Printf("[Reaper] ❌ Error deleting %s: %v", f.Name, err)
			continue
		}
		report.Deleted++
		report.FreedBytes += f.Size
		log.Printf("[Reaper] 🗑️  Deleted %s (%.2f MB, %d days)", f.Name, f.SizeMB, f.AgeDays)
		if r.OnDelete != nil {
			r.OnDelete(f)
		}
	}
	return report, nil
}

func bytesToMB(n int64) float64 {
	return float64(int64(float64(n)/(1024*1024)*100+0.5)) / 100
}
