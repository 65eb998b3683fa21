package cron

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionCron runs the reaper on a schedule such as "@every 1h" or a
// six-field cron expression.
type RetentionCron struct {
	cron     *cron.Cron
	reaper   *Reaper
	schedule string

	runMu      sync.Mutex
	mu         sync.Mutex
	isRunning  bool
	scheduled  bool
	lastReport *Report
	lastRun    time.Time
	onReport   func(Report)
}

// NewRetentionCron creates a retention cron. onReport may be nil.
func NewRetentionCron(reaper *Reaper, schedule string, onReport func(Report)) *RetentionCron {
	return &RetentionCron{
		cron:     cron.New(cron.WithSeconds()),
		reaper:   reaper,
		schedule: schedule,
		onReport: onReport,
	}
}

// Start schedules the reaper and runs one pass immediately.
func (rc *RetentionCron) Start() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.isRunning {
		log.Println("[RetentionCron] Cron is already running")
		return nil
	}

	// the entry survives Stop, so a restart must not add it again
	if !rc.scheduled {
		if _, err := rc.cron.AddFunc(rc.schedule, func() { rc.RunOnce() }); err != nil {
			return fmt.Errorf("invalid reaper schedule %q: %w", rc.schedule, err)
		}
		rc.scheduled = true
	}
	rc.cron.Start()
	rc.isRunning = true

	log.Printf("[RetentionCron] ✅ Retention cron started (%s, keep %s in %s)", rc.schedule, rc.reaper.Retention, rc.reaper.Dir)
	go rc.RunOnce()
	return nil
}

// Stop stops scheduling and waits for a running pass to finish.
func (rc *RetentionCron) Stop() {
	rc.mu.Lock()
	if !rc.isRunning {
		rc.mu.Unlock()
		return
	}
	rc.isRunning = false
	rc.mu.Unlock()

	log.Println("[RetentionCron] Stopping retention cron...")
	ctx := rc.cron.Stop()
	select {
	case <-ctx.Done():
		log.Println("[RetentionCron] ✅ Retention cron stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Println("[RetentionCron] ⚠️  Retention cron stopped with timeout")
	}
}

// IsRunning returns whether the cron is currently scheduled.
func (rc *RetentionCron) IsRunning() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.isRunning
}

// LastReport returns the report of the most recent pass, if any.
func (rc *RetentionCron) LastReport() (Report, time.Time, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.lastReport == nil {
		return Report{}, time.Time{}, false
	}
	return *rc.lastReport, rc.lastRun, true
}

// RunOnce performs one reaper pass now.
func (rc *RetentionCron) RunOnce() {
	rc.runMu.Lock()
	defer rc.runMu.Unlock()

	start := time.Now()
	log.Println("[RetentionCron] 🔄 Starting retention pass...")

	report, err := rc.reaper.Run(start)
	if err != nil {
		log.Printf("[RetentionCron] ❌ Retention pass failed: %v", err)
		return
	}

	rc.mu.Lock()
	rc.lastReport = &report
	rc.lastRun = start
	rc.mu.Unlock()

	log.Printf("[RetentionCron] ✅ Retention pass done in %v: %d files, %d deleted, %d still open, %d errors, %.2f MB freed",
		time.Since(start).Round(time.Millisecond), report.TotalFiles, report.Deleted, report.SkippedOpen, report.Errors, report.FreedMB())
	if rc.onReport != nil {
		rc.onReport(report)
	}
}
