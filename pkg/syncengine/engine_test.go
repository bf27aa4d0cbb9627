package syncengine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMedia struct {
	position float64
	paused   bool
	seeks    []float64
	playErr  error
	plays    int
}

func (m *fakeMedia) CurrentTime() float64 { return m.position }
func (m *fakeMedia) Paused() bool         { return m.paused }
func (m *fakeMedia) Pause()               { m.paused = true }

func (m *fakeMedia) Seek(t float64) {
	m.position = t
	m.seeks = append(m.seeks, t)
}

func (m *fakeMedia) Play() error {
	m.plays++
	if m.playErr != nil {
		return m.playErr
	}
	m.paused = false
	return nil
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newEngine(media Media) (*Engine, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(media, WithClock(clock.Now)), clock
}

func TestLargeDriftSeeksAndResumes(t *testing.T) {
	media := &fakeMedia{position: 30.0, paused: true}
	engine, _ := newEngine(media)

	engine.Apply(State{IsPlaying: true, CurrentTime: 42.0})

	require.Equal(t, []float64{42.0}, media.seeks)
	assert.False(t, media.Paused())
	assert.Equal(t, 1, engine.Stats().Resumes)
}

func TestSmallDriftIsTolerated(t *testing.T) {
	for _, local := range []float64{41.5, 42.0, 42.3, 42.5} {
		media := &fakeMedia{position: local}
		engine, _ := newEngine(media)

		engine.Apply(State{IsPlaying: true, CurrentTime: 42.0})

		assert.Empty(t, media.seeks, "local position %v", local)
	}
}

func TestPauseIsNeverDebounced(t *testing.T) {
	media := &fakeMedia{position: 10}
	engine, clock := newEngine(media)

	engine.Apply(State{IsPlaying: true, CurrentTime: 10})
	clock.Advance(50 * time.Millisecond)
	engine.Apply(State{IsPlaying: false, CurrentTime: 10})

	assert.True(t, media.Paused())
	assert.Equal(t, 1, engine.Stats().Pauses)
}

func TestBurstAllowsAtMostOneSeek(t *testing.T) {
	media := &fakeMedia{position: 0, paused: false}
	engine, clock := newEngine(media)

	engine.Apply(State{IsPlaying: true, CurrentTime: 5})
	clock.Advance(100 * time.Millisecond)
	engine.Apply(State{IsPlaying: false, CurrentTime: 20})

	assert.Equal(t, []float64{5}, media.seeks)
	// the pause of the second state still went through
	assert.True(t, media.Paused())

	clock.Advance(100 * time.Millisecond)
	engine.Apply(State{IsPlaying: true, CurrentTime: 20})
	assert.Equal(t, []float64{5, 20}, media.seeks)
	assert.False(t, media.Paused())
}

func TestResumeInsideDebounceWindow(t *testing.T) {
	media := &fakeMedia{position: 3, paused: true}
	engine, clock := newEngine(media)

	engine.Apply(State{IsPlaying: false, CurrentTime: 3})
	clock.Advance(10 * time.Millisecond)
	engine.Apply(State{IsPlaying: true, CurrentTime: 3})

	assert.False(t, media.Paused())
	assert.Empty(t, media.seeks)
}

func TestPlayFailureIsSwallowed(t *testing.T) {
	media := &fakeMedia{position: 0, paused: true, playErr: errors.New("autoplay blocked")}
	engine, clock := newEngine(media)

	engine.Apply(State{IsPlaying: true, CurrentTime: 0})
	assert.True(t, media.Paused())
	assert.Equal(t, 1, engine.Stats().PlayFailures)

	media.playErr = nil
	clock.Advance(time.Second)
	engine.Apply(State{IsPlaying: true, CurrentTime: 0.2})
	assert.False(t, media.Paused())
	assert.Equal(t, 2, media.plays)
}

func TestHostIsNeverCorrected(t *testing.T) {
	media := &fakeMedia{position: 0, paused: false}
	engine, _ := newEngine(media)
	engine.SetHost(true)

	engine.Apply(State{IsPlaying: false, CurrentTime: 100})

	assert.Empty(t, media.seeks)
	assert.False(t, media.Paused())
}

func TestMediaReadyCatchesUpOnce(t *testing.T) {
	media := &fakeMedia{position: 0, paused: true}
	engine, clock := newEngine(media)

	engine.MediaReady()
	assert.Empty(t, media.seeks, "no state yet")

	engine.Reset()
	engine.Apply(State{IsPlaying: true, CurrentTime: 60})
	require.Equal(t, []float64{60}, media.seeks)

	// the media element reloads and starts at zero again
	media.position = 0
	clock.Advance(time.Second)
	engine.MediaReady()
	assert.Equal(t, []float64{60, 60}, media.seeks)

	media.position = 0
	clock.Advance(time.Second)
	engine.MediaReady()
	assert.Len(t, media.seeks, 2, "only the first ready event reconciles")
}

func TestMediaReadyBeforeStateStaysPending(t *testing.T) {
	media := &fakeMedia{position: 0, paused: true}
	engine, clock := newEngine(media)

	engine.MediaReady()
	engine.Apply(State{IsPlaying: true, CurrentTime: 60})
	require.Equal(t, []float64{60}, media.seeks)

	media.position = 0
	clock.Advance(time.Second)
	engine.MediaReady()
	assert.Equal(t, []float64{60, 60}, media.seeks)
}

func TestVirtualMediaAdvancesWhilePlaying(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	media := NewVirtualMedia(clock.Now)
	media.SetDuration(10)

	require.NoError(t, media.Play())
	clock.Advance(2 * time.Second)
	assert.InDelta(t, 2.0, media.CurrentTime(), 1e-9)

	media.Pause()
	clock.Advance(5 * time.Second)
	assert.InDelta(t, 2.0, media.CurrentTime(), 1e-9)

	media.Seek(9)
	require.NoError(t, media.Play())
	clock.Advance(5 * time.Second)
	assert.InDelta(t, 10.0, media.CurrentTime(), 1e-9)
}
