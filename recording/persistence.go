package recording

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// RecordingState is the status snapshot persisted between runs.
type RecordingState struct {
	Cameras       map[string]CameraState `json:"cameras"`
	LastUpdate    time.Time              `json:"last_update"`
	SystemStarted time.Time              `json:"system_started"`
	TotalRestarts int                    `json:"total_restarts"`
}

// CameraState is the persisted part of a CameraStatus.
type CameraState struct {
	Name           string        `json:"name"`
	State          State         `json:"state"`
	LastSegment    string        `json:"last_segment,omitempty"`
	AttemptCount   int           `json:"attempt_count"`
	SegmentsClosed int           `json:"segments_closed"`
	LastFrameAt    *time.Time    `json:"last_frame_at,omitempty"`
	LastError      *SessionError `json:"last_error,omitempty"`
}

// StatePersistenceManager handles saving and loading recording state
type StatePersistenceManager struct {
	statePath string
}

// NewStatePersistenceManager creates a new state persistence manager
func NewStatePersistenceManager(statePath string) *StatePersistenceManager {
	return &StatePersistenceManager{statePath: statePath}
}

// Path returns the state file location.
func (spm *StatePersistenceManager) Path() string {
	return spm.statePath
}

// LoadState loads the state left by the previous run. A missing file yields
// a fresh state; an existing one counts as a restart.
func (spm *StatePersistenceManager) LoadState() (*RecordingState, error) {
	now := time.Now()
	data, err := os.ReadFile(spm.statePath)
	if os.IsNotExist(err) {
		return &RecordingState{
			Cameras:       make(map[string]CameraState),
			LastUpdate:    now,
			SystemStarted: now,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state RecordingState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if state.Cameras == nil {
		state.Cameras = make(map[string]CameraState)
	}

	state.TotalRestarts++
	log.Printf("[persistence] Loaded recording state with %d cameras, last update %s (restart #%d)",
		len(state.Cameras), state.LastUpdate.Format(time.RFC3339), state.TotalRestarts)
	state.SystemStarted = now
	return &state, nil
}

// SaveState writes the state atomically through a temporary file.
func (spm *StatePersistenceManager) SaveState(state *RecordingState) error {
	state.LastUpdate = time.Now()

	dir := filepath.Dir(spm.statePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tempPath := spm.statePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}
	if err := os.Rename(tempPath, spm.statePath); err != nil {
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}

// ApplySnapshot copies the cameras of snap into state.
func (spm *StatePersistenceManager) ApplySnapshot(state *RecordingState, snap Snapshot) {
	for _, cam := range snap.Cameras {
		prev := state.Cameras[cam.ID]
		next := CameraState{
			Name:           cam.Name,
			State:          cam.State,
			LastSegment:    cam.LastSegment,
			AttemptCount:   cam.AttemptCount,
			SegmentsClosed: cam.SegmentsClosed,
			LastFrameAt:    cam.LastFrameAt,
			LastError:      cam.LastError,
		}
		if cam.SegmentPath != "" {
			next.LastSegment = cam.SegmentPath
		} else if next.LastSegment == "" {
			next.LastSegment = prev.LastSegment
		}
		state.Cameras[cam.ID] = next
	}
}

// CleanupOldStates removes entries for cameras that are no longer configured.
func (spm *StatePersistenceManager) CleanupOldStates(state *RecordingState, cameraIDs []string) {
	active := make(map[string]bool, len(cameraIDs))
	for _, id := range cameraIDs {
		active[id] = true
	}
	for id := range state.Cameras {
		if !active[id] {
			log.Printf("[persistence] Removing state for unconfigured camera %s", id)
			delete(state.Cameras, id)
		}
	}
}
