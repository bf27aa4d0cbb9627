// Package syncengine keeps a participant's local media converging on the
// host's playback timeline.
//
// An Engine is not safe for concurrent use. It is meant to be driven from the
// single goroutine (or UI thread) that owns the media element.
package syncengine

import "time"

const (
	// DefaultInterval is the minimum time between two drift evaluations.
	DefaultInterval = 200 * time.Millisecond
	// DefaultThreshold is the drift, in seconds, above which the media is seeked.
	DefaultThreshold = 0.5
)

// Media is the local player being synchronized.
type Media interface {
	CurrentTime() float64
	Paused() bool
	Pause()
	Seek(t float64)
	// Play may fail, e.g. when the platform refuses to autoplay.
	Play() error
}

// State is the authoritative playback state broadcast by the host.
type State struct {
	IsPlaying   bool
	CurrentTime float64
}

type Stats struct {
	Seeks   int
	Pauses  int
	Resumes int
	// PlayFailures counts swallowed Play errors.
	PlayFailures int
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

func WithThreshold(seconds float64) Option {
	return func(e *Engine) { e.threshold = seconds }
}

type Engine struct {
	media     Media
	now       func() time.Time
	interval  time.Duration
	threshold float64

	isHost    bool
	state     State
	hasState  bool
	ready     bool
	lastCheck time.Time
	stats     Stats
}

func New(media Media, opts ...Option) *Engine {
	e := &Engine{
		media:     media,
		now:       time.Now,
		interval:  DefaultInterval,
		threshold: DefaultThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// SetHost switches the engine off for the host, whose media is the source of truth.
func (e *Engine) SetHost(isHost bool) {
	e.isHost = isHost
}

// Apply records a newly received state and reconciles the media with it.
func (e *Engine) Apply(s State) {
	e.state = s
	e.hasState = true
	e.sync()
}

// MediaReady must be called when the media can start playing. Only the first
// call made once a state is known reconciles, to catch up a participant who
// joined mid-playback.
func (e *Engine) MediaReady() {
	if e.ready || !e.hasState {
		return
	}
	e.ready = true
	e.sync()
}

// Reset forgets the current state, e.g. after a new video was published.
func (e *Engine) Reset() {
	e.state = State{}
	e.hasState = false
	e.ready = false
	e.lastCheck = time.Time{}
}

func (e *Engine) State() (State, bool) {
	return e.state, e.hasState
}

func (e *Engine) Stats() Stats {
	return e.stats
}

func (e *Engine) sync() {
	if e.isHost || e.media == nil || !e.hasState {
		return
	}

	// pausing is never delayed
	if !e.state.IsPlaying && !e.media.Paused() {
		e.media.Pause()
		e.stats.Pauses++
	}

	now := e.now()
	if e.lastCheck.IsZero() || now.Sub(e.lastCheck) >= e.interval {
		e.lastCheck = now
		if drift(e.media.CurrentTime(), e.state.CurrentTime) > e.threshold {
			e.media.Seek(e.state.CurrentTime)
			e.stats.Seeks++
		}
	}

	if e.state.IsPlaying && e.media.Paused() {
		e.stats.Resumes++
		if err := e.media.Play(); err != nil {
			// the next state change retries
			e.stats.PlayFailures++
		}
	}
}

func drift(local, authoritative float64) float64 {
	if local > authoritative {
		return local - authoritative
	}

	return authoritative - local
}
