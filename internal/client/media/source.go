// Package media provides the local tracks a headless client publishes.
// Without capture hardware the client still needs outbound media so each
// peer connection negotiates an audio section; a silent Opus track fills
// that role.
package media

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const frameDuration = 20 * time.Millisecond

// Opus DTX frame: TOC byte for a 20ms CELT frame followed by a two-byte
// silence payload. Decoders render it as comfort noise.
var silentOpusFrame = []byte{0xF8, 0xFF, 0xFE}

// Source owns the silent audio track and the goroutine feeding it.
type Source struct {
	audio *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	done    chan struct{}
	started bool
}

func NewSilentAudio() (*Source, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "meshmeet",
	)
	if err != nil {
		return nil, err
	}
	return &Source{audio: track, done: make(chan struct{})}, nil
}

// Tracks returns the local tracks to attach to every peer connection. The
// same track instance fans out to all of them.
func (s *Source) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.audio}
}

// Start begins pacing silence frames. Idempotent.
func (s *Source) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.run()
}

func (s *Source) run() {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// WriteSample drops the frame when no peer is connected yet.
			_ = s.audio.WriteSample(media.Sample{Data: silentOpusFrame, Duration: frameDuration})
		case <-s.done:
			return
		}
	}
}

// Stop halts the feeder. Safe to call once.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	close(s.done)
}
