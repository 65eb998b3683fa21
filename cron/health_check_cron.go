package cron

import (
	"fmt"
	"log"
	"sync"
	"time"

	"camrec/recording"

	"github.com/robfig/cron/v3"
)

// Unhealthy describes one camera the health check flagged.
type Unhealthy struct {
	CameraID string `json:"camera_id"`
	Reason   string `json:"reason"`
}

// HealthReport is the result of one health check.
type HealthReport struct {
	At        time.Time   `json:"at"`
	Cameras   int         `json:"cameras"`
	Recording int         `json:"recording"`
	Unhealthy []Unhealthy `json:"unhealthy"`
}

// HealthCheckCron inspects the recorder status on a schedule and logs
// cameras that are not recording or whose stream went quiet.
type HealthCheckCron struct {
	cron       *cron.Cron
	snapshot   func() recording.Snapshot
	schedule   string
	staleAfter time.Duration

	mu        sync.Mutex
	isRunning bool
	scheduled bool
	last      *HealthReport
}

// NewHealthCheckCron creates a health check. A recording camera without a
// frame for staleAfter is reported as stalled.
func NewHealthCheckCron(snapshot func() recording.Snapshot, schedule string, staleAfter time.Duration) *HealthCheckCron {
	return &HealthCheckCron{
		cron:       cron.New(cron.WithSeconds()),
		snapshot:   snapshot,
		schedule:   schedule,
		staleAfter: staleAfter,
	}
}

// Start begins the health check cron job.
func (h *HealthCheckCron) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.isRunning {
		return nil
	}
	if !h.scheduled {
		if _, err := h.cron.AddFunc(h.schedule, func() { h.RunOnce() }); err != nil {
			return fmt.Errorf("invalid health check schedule %q: %w", h.schedule, err)
		}
		h.scheduled = true
	}
	h.cron.Start()
	h.isRunning = true
	log.Printf("[HealthCheck] Starting health check cron job (%s)", h.schedule)
	return nil
}

// Stop stops the health check cron job
func (h *HealthCheckCron) Stop() {
	h.mu.Lock()
	if !h.isRunning {
		h.mu.Unlock()
		return
	}
	h.isRunning = false
	h.mu.Unlock()

	ctx := h.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
	}
	log.Println("[HealthCheck] Stopped health check cron job")
}

// RunOnce checks the current snapshot and logs the result.
func (h *HealthCheckCron) RunOnce() HealthReport {
	rep := Evaluate(h.snapshot(), h.staleAfter)
	for _, u := range rep.Unhealthy {
		log.Printf("[HealthCheck] ⚠️ %s %s", u.CameraID, u.Reason)
	}
	if len(rep.Unhealthy) == 0 {
		log.Printf("[HealthCheck] ✅ %d/%d cameras recording", rep.Recording, rep.Cameras)
	}

	h.mu.Lock()
	h.last = &rep
	h.mu.Unlock()
	return rep
}

// LastReport returns the most recent report, if any.
func (h *HealthCheckCron) LastReport() (HealthReport, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return HealthReport{}, false
	}
	return *h.last, true
}

// Evaluate classifies every camera in snap. Stopped cameras are not flagged.
func Evaluate(snap recording.Snapshot, staleAfter time.Duration) HealthReport {
	rep := HealthReport{At: snap.TakenAt, Cameras: len(snap.Cameras)}
	for _, c := range snap.Cameras {
		switch c.State {
		case recording.StateStopped:
			continue
		case recording.StateRecording:
			rep.Recording++
			if c.LastFrameAt != nil && staleAfter > 0 && snap.TakenAt.Sub(*c.LastFrameAt) > staleAfter {
				rep.Unhealthy = append(rep.Unhealthy, Unhealthy{
					CameraID: c.ID,
					Reason:   fmt.Sprintf("no frame for %s", snap.TakenAt.Sub(*c.LastFrameAt).Round(time.Second)),
				})
			} else if c.Degraded {
				rep.Unhealthy = append(rep.Unhealthy, Unhealthy{CameraID: c.ID, Reason: "degraded after write error"})
			}
		default:
			reason := fmt.Sprintf("not recording (%s, attempt %d)", c.State, c.AttemptCount)
			if c.LastError != nil {
				reason += ": " + c.LastError.Error()
			}
			rep.Unhealthy = append(rep.Unhealthy, Unhealthy{CameraID: c.ID, Reason: reason})
		}
	}
	return rep
}
