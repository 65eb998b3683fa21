package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"camrec/streaming"

	"github.com/gin-gonic/gin"
	"github.com/nareix/joy4/format/ts"
)

// liveStream relays a camera's packets to the client as an MPEG-TS stream.
// Video streams start at the next keyframe. Slow clients lose packets rather
// than slowing the recorder down.
func (s *Server) liveStream(c *gin.Context) {
	id := c.Param("id")
	if s.hub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "live preview disabled"})
		return
	}
	sub, err := s.hub.Subscribe(id)
	if errors.Is(err, streaming.ErrNoFeed) {
		c.JSON(http.StatusNotFound, gin.H{"error": "camera is not streaming"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer s.hub.Unsubscribe(id, sub)

	c.Header("Content-Type", "video/mp2t")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	muxer := ts.NewMuxer(c.Writer)
	if err := muxer.WriteHeader(sub.Codecs); err != nil {
		log.Printf("[API] live %s: write header: %v", id, err)
		return
	}

	waitKey := streaming.HasVideo(sub.Codecs)
	var base time.Duration
	started := false
	ctx := c.Request.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-sub.C:
			if !ok {
				return
			}
			if waitKey {
				if !pkt.IsKeyFrame || !streaming.IsVideoPacket(sub.Codecs, pkt) {
					continue
				}
				waitKey = false
			}
			if !started {
				base = pkt.Time
				started = true
			}
			pkt.Time -= base
			if err := muxer.WritePacket(pkt); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
