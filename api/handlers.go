package api

import (
	"net/http"
	"strconv"
	"time"

	"camrec/cron"
	"camrec/database"
	"camrec/recording"

	"github.com/gin-gonic/gin"
)

const defaultListLimit = 100

type cameraView struct {
	ID      string
	Name    string
	State   recording.State
	Enabled bool
	Live    bool
}

func (s *Server) index(c *gin.Context) {
	snap := s.recorder.StatusSnapshot()
	cams := make([]cameraView, 0, len(s.config.Cameras))
	for _, cam := range s.config.Cameras {
		v := cameraView{ID: cam.ID, Name: cam.DisplayName(), Enabled: cam.Enabled, State: recording.StateIdle}
		if st, ok := snap.Camera(cam.ID); ok {
			v.State = st.State
			v.Live = st.State == recording.StateRecording
		}
		cams = append(cams, v)
	}
	c.HTML(http.StatusOK, "index.html", gin.H{
		"cameras":   cams,
		"recording": snap.Recording,
		"degraded":  snap.Degraded,
	})
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.recorder.StatusSnapshot())
}

func (s *Server) listCameras(c *gin.Context) {
	type camera struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Enabled bool   `json:"enabled"`
		Viewers int    `json:"viewers"`
	}
	out := make([]camera, 0, len(s.config.Cameras))
	for _, cam := range s.config.Cameras {
		v := camera{ID: cam.ID, Name: cam.DisplayName(), Enabled: cam.Enabled}
		if s.hub != nil {
			v.Viewers = s.hub.Subscribers(cam.ID)
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"cameras": out})
}

func (s *Server) stopRecordings(c *gin.Context) {
	resp := gin.H{"status": "stopped"}
	if err := s.recorder.StopAll(); err != nil {
		resp["warning"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) stopSystem(c *gin.Context) {
	resp := gin.H{"status": "shutting_down"}
	if err := s.recorder.StopSystem(); err != nil {
		resp["warning"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// listRecordings serves the catalog when a database is configured and falls
// back to scanning the output directory otherwise.
func (s *Server) listRecordings(c *gin.Context) {
	cameraID := c.Query("camera")
	from, err := parseTimeQuery(c, "from", time.Time{})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	to, err := parseTimeQuery(c, "to", time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if s.db != nil {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		segs, err := s.db.ListSegments(database.SegmentFilter{
			CameraID: cameraID,
			Status:   database.SegmentStatus(c.Query("status")),
			From:     from,
			To:       to,
			Limit:    limit,
			Offset:   offset,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"source": "catalog", "segments": segs})
		return
	}

	if cameraID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "camera query parameter is required"})
		return
	}
	paths, err := recording.FindSegmentsInRange(s.config.OutputDir, cameraID, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	type file struct {
		Path string `json:"path"`
		Open bool   `json:"open"`
	}
	files := make([]file, 0, len(paths))
	for _, p := range paths {
		files = append(files, file{Path: p, Open: s.recorder.IsOpen(p)})
	}
	c.JSON(http.StatusOK, gin.H{"source": "disk", "segments": files})
}

func (s *Server) recordingStats(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "catalog disabled"})
		return
	}
	stats, err := s.db.CameraStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cameras": stats})
}

// cleanupPreview reports what the next retention pass would delete.
func (s *Server) cleanupPreview(c *gin.Context) {
	reaper := &cron.Reaper{
		Dir:       s.config.OutputDir,
		Retention: s.config.Retention(),
		Registry:  s.recorder,
		DryRun:    true,
	}
	report, err := reaper.Run(time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"report":   report,
		"freed_mb": report.FreedMB(),
	})
}

func parseTimeQuery(c *gin.Context, key string, def time.Time) (time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, v)
}
