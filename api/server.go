package api

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"time"

	"camrec/config"
	"camrec/database"
	"camrec/recording"
	"camrec/streaming"

	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var templateFS embed.FS

const defaultStatusInterval = 2 * time.Second

// Recorder is the part of the supervisor the HTTP layer drives.
type Recorder interface {
	StatusSnapshot() recording.Snapshot
	StopAll() error
	StopSystem() error
	IsOpen(path string) bool
}

// Deps are the collaborators of the server. DB, Hub and Metrics are optional.
type Deps struct {
	Recorder Recorder
	Hub      *streaming.Hub
	DB       database.Database
	Metrics  http.Handler
}

type Server struct {
	config         config.Config
	recorder       Recorder
	hub            *streaming.Hub
	db             database.Database
	metrics        http.Handler
	statusInterval time.Duration
	httpServer     *http.Server
}

func NewServer(cfg config.Config, deps Deps) *Server {
	s := &Server{
		config:         cfg,
		recorder:       deps.Recorder,
		hub:            deps.Hub,
		db:             deps.DB,
		metrics:        deps.Metrics,
		statusInterval: defaultStatusInterval,
	}
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), gin.LoggerWithConfig(gin.LoggerConfig{
		// polled by dashboards
		SkipPaths: []string{"/api/status", "/status"},
	}))
	r.SetHTMLTemplate(template.Must(template.New("").ParseFS(templateFS, "templates/*.html")))
	s.setupCORS(r)
	s.setupRoutes(r)
	return r
}

// Start serves until Shutdown is called. It returns at once when Shutdown
// already ran.
func (s *Server) Start() error {
	log.Printf("[API] Starting server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for handlers until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupCORS(r *gin.Engine) {
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})
}

func (s *Server) setupRoutes(r *gin.Engine) {
	r.GET("/", s.index)
	r.GET("/status", s.getStatus)
	r.GET("/ws/status", s.statusWS)
	r.GET("/live/:id", s.liveStream)
	r.GET("/video_feed/:id", s.liveStream)

	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	api := r.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/cameras", s.listCameras)
		api.GET("/recordings", s.listRecordings)
		api.GET("/recordings/stats", s.recordingStats)
		api.GET("/cleanup/preview", s.cleanupPreview)
		api.POST("/recordings/stop", s.stopRecordings)
		api.POST("/system/stop", s.stopSystem)
	}
}
