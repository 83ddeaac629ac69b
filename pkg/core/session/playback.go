package session

import (
	"errors"
	"sync"
	"time"

	"github.com/Alphas-DBS/Nova-Core/pkg/core/audio"
)

// errPlaybackClosed rejects chunks that arrive after the scheduler has
// been shut down for good.
var errPlaybackClosed = errors.New("playback scheduler closed")

// Sink receives decoded model audio for device playback. Implementations
// own their buffering; Play must not block for the duration of the chunk.
type Sink interface {
	Play(pcm []byte) error
	Close() error
}

// discardSink is used when no playback device is wired (tests, headless).
type discardSink struct{}

func (discardSink) Play([]byte) error { return nil }
func (discardSink) Close() error      { return nil }

// segment is one scheduled chunk of model speech, tracked from scheduling
// until its end timer fires.
type segment struct {
	id    uint64
	start time.Time
	end   time.Time
	timer *time.Timer
}

// scheduler assigns each inbound audio chunk a start time on the output
// timeline: the later of the previously scheduled end or the clock's
// current time. Chunks therefore play gaplessly, strictly in arrival
// order, and never in the past, regardless of network jitter.
type scheduler struct {
	mu        sync.Mutex
	sink      Sink
	format    audio.Format
	active    map[uint64]*segment
	nextStart time.Time
	nextID    uint64
	closed    bool

	now       func() time.Time
	onDrained func()
}

func newScheduler(sink Sink, onDrained func()) *scheduler {
	if sink == nil {
		sink = discardSink{}
	}
	return &scheduler{
		sink:      sink,
		format:    audio.PlaybackFormat(),
		active:    make(map[uint64]*segment),
		now:       time.Now,
		onDrained: onDrained,
	}
}

// Schedule registers one decoded PCM chunk, hands it to the sink, and
// returns its computed start time. After Close it registers nothing and
// arms no timers.
func (p *scheduler) Schedule(pcm []byte) (time.Time, error) {
	duration := time.Duration(p.format.DurationMs(len(pcm))) * time.Millisecond

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return time.Time{}, errPlaybackClosed
	}
	start := p.now()
	if p.nextStart.After(start) {
		start = p.nextStart
	}
	end := start.Add(duration)
	p.nextStart = end

	id := p.nextID
	p.nextID++
	seg := &segment{id: id, start: start, end: end}
	seg.timer = time.AfterFunc(end.Sub(p.now()), func() { p.finish(id) })
	p.active[id] = seg
	sink := p.sink
	p.mu.Unlock()

	return start, sink.Play(pcm)
}

func (p *scheduler) finish(id uint64) {
	p.mu.Lock()
	seg, ok := p.active[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.active, id)
	seg.timer = nil
	drained := len(p.active) == 0
	notify := p.onDrained
	p.mu.Unlock()

	if drained && notify != nil {
		notify()
	}
}

// Stop cancels every active segment and resets the timeline offset so the
// next scheduled chunk starts from "now". The drained callback does not
// fire for stopped segments. Scheduling remains open; Stop is the
// interruption path, not teardown.
func (p *scheduler) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Close stops playback and permanently rejects further scheduling. Used
// during teardown, where a chunk racing past the liveness check must not
// arm a timer on a dead session.
func (p *scheduler) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.closed = true
}

func (p *scheduler) stopLocked() {
	for id, seg := range p.active {
		if seg.timer != nil {
			seg.timer.Stop()
		}
		delete(p.active, id)
	}
	p.nextStart = time.Time{}
}

// ActiveCount returns the number of segments currently scheduled or playing.
func (p *scheduler) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// NextStart returns the scheduled end of the last chunk. Zero means the
// timeline has been reset.
func (p *scheduler) NextStart() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextStart
}
