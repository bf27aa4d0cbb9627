package syncengine

import (
	"sync"
	"time"
)

// VirtualMedia is a headless Media whose position advances with the clock
// while playing. It is safe for concurrent use.
type VirtualMedia struct {
	mu       sync.Mutex
	now      func() time.Time
	position float64
	since    time.Time
	playing  bool
	duration float64
}

func NewVirtualMedia(now func() time.Time) *VirtualMedia {
	if now == nil {
		now = time.Now
	}

	return &VirtualMedia{now: now}
}

// SetDuration bounds the position; zero means unbounded.
func (m *VirtualMedia) SetDuration(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duration = seconds
}

func (m *VirtualMedia) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positionLocked()
}

func (m *VirtualMedia) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.playing
}

func (m *VirtualMedia) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = m.positionLocked()
	m.playing = false
}

func (m *VirtualMedia) Seek(t float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = m.clamp(t)
	m.since = m.now()
}

func (m *VirtualMedia) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.playing {
		m.since = m.now()
		m.playing = true
	}
	return nil
}

func (m *VirtualMedia) positionLocked() float64 {
	if !m.playing {
		return m.position
	}

	return m.clamp(m.position + m.now().Sub(m.since).Seconds())
}

func (m *VirtualMedia) clamp(t float64) float64 {
	if t < 0 {
		return 0
	}
	if m.duration > 0 && t > m.duration {
		return m.duration
	}
	return t
}
