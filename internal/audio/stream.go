package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// FrameSource produces interleaved stereo float32 frames on demand.
type FrameSource interface {
	Process(dst []float32)
}

// DrainableSource is a FrameSource that can signal end of output. When
// Drained returns true the stream reports io.EOF after the current block.
type DrainableSource interface {
	FrameSource
	Drained() bool
}

// streamReader adapts a FrameSource to the little-endian float32 byte
// stream the audio backend reads.
type streamReader struct {
	mu     sync.Mutex
	source FrameSource
	buf    []float32
}

func newStreamReader(source FrameSource) *streamReader {
	return &streamReader{source: source}
}

func (r *streamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	for i := 0; i < need; i++ {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(r.buf[i]))
	}
	n := frames * 8
	if ds, ok := r.source.(DrainableSource); ok && ds.Drained() {
		return n, io.EOF
	}
	return n, nil
}

func (r *streamReader) Close() error { return nil }

// Output streams a FrameSource to the speaker.
type Output struct {
	player *ebitaudio.Player
	reader io.ReadCloser
}

var (
	contextOnce sync.Once
	context     *ebitaudio.Context
	contextRate int
)

// sharedContext returns the process-wide audio context. The backend allows
// exactly one context per process, so a second rate is an error.
func sharedContext(sampleRate int) (*ebitaudio.Context, error) {
	contextOnce.Do(func() {
		contextRate = sampleRate
		context = ebitaudio.NewContext(sampleRate)
	})
	if contextRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", contextRate, sampleRate)
	}
	return context, nil
}

// NewOutput opens a speaker stream fed by source.
func NewOutput(sampleRate int, source FrameSource) (*Output, error) {
	ctx, err := sharedContext(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := newStreamReader(source)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, err
	}
	return &Output{player: pl, reader: reader}, nil
}

// Start begins pulling frames from the source.
func (o *Output) Start() { o.player.Play() }

// Playing reports whether the backend is actively pulling frames.
func (o *Output) Playing() bool { return o.player.IsPlaying() }

// Position returns the playback position the listener actually hears.
func (o *Output) Position() time.Duration { return o.player.Position() }

// Close stops playback and releases the backend player.
func (o *Output) Close() error {
	o.player.Pause()
	if err := o.player.Close(); err != nil {
		return err
	}
	return o.reader.Close()
}
