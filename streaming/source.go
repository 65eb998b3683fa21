package streaming

import (
	"context"
	"errors"
	"net/url"

	"github.com/nareix/joy4/av"
)

// ErrStall is returned by ReadPacket when a connected source delivers no
// packet within its stall threshold.
var ErrStall = errors.New("stream stalled: no packet within stall threshold")

// ErrNotConnected is returned when ReadPacket is called before Connect succeeded.
var ErrNotConnected = errors.New("source not connected")

// Source is a single camera connection producing encoded packets.
//
// Implementations do not retry. ReadPacket must return within the stall
// threshold the source was built with: io.EOF on end of stream, ErrStall when
// the connection went silent, any other error for a broken read.
type Source interface {
	Connect(ctx context.Context, uri string) error
	Streams() []av.CodecData
	ReadPacket(ctx context.Context) (av.Packet, error)
	Close() error
}

// SourceFactory builds a fresh, unconnected Source for every connect attempt.
type SourceFactory func() Source

// HasVideo reports whether any of the streams is a video stream.
func HasVideo(streams []av.CodecData) bool {
	for _, s := range streams {
		if s != nil && s.Type().IsVideo() {
			return true
		}
	}
	return false
}

// IsVideoPacket reports whether pkt belongs to a video stream.
func IsVideoPacket(streams []av.CodecData, pkt av.Packet) bool {
	idx := int(pkt.Idx)
	if idx < 0 || idx >= len(streams) || streams[idx] == nil {
		return false
	}
	return streams[idx].Type().IsVideo()
}

// RedactURL hides the password of a source URI so it can be logged.
func RedactURL(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
