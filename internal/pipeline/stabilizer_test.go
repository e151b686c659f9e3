package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStabilizerAnchorsStoppedFrames(t *testing.T) {
	s := NewStabilizer()

	first := testFrame(36.383500, 10.133500, 0, false, testBase)
	s.Apply("dev", first)
	assert.Equal(t, 36.383500, first.Latitude)

	// Every later frame drifting within 50 m must be rewritten to the
	// anchor's exact coordinates, bitwise.
	for i := 1; i <= 5; i++ {
		f := testFrame(36.383500+float64(i)*0.00002, 10.133500, 0, false, testBase.Add(time.Duration(i)*time.Second))
		s.Apply("dev", f)
		assert.Equal(t, first.Latitude, f.Latitude)
		assert.Equal(t, first.Longitude, f.Longitude)
	}
}

func TestStabilizerReplacesAnchorBeyondDriftTolerance(t *testing.T) {
	s := NewStabilizer()
	s.Apply("dev", testFrame(36.0, 10.0, 0, false, testBase))

	// 0.001 deg lat is ~111 m, past the 50 m tolerance: passthrough and
	// the anchor moves here.
	far := testFrame(36.001, 10.0, 0, false, testBase.Add(time.Minute))
	s.Apply("dev", far)
	assert.Equal(t, 36.001, far.Latitude)

	again := testFrame(36.00101, 10.0, 0, false, testBase.Add(2*time.Minute))
	s.Apply("dev", again)
	assert.Equal(t, 36.001, again.Latitude)
}

func TestStabilizerMovementClearsAnchor(t *testing.T) {
	s := NewStabilizer()
	s.Apply("dev", testFrame(36.0, 10.0, 0, false, testBase))

	moving := testFrame(36.001, 10.0, 40, true, testBase.Add(time.Minute))
	s.Apply("dev", moving)
	assert.Equal(t, 36.001, moving.Latitude)

	// With the anchor gone, the next stopped frame anchors at its own
	// position instead of snapping back.
	stopped := testFrame(36.0012, 10.0, 0, false, testBase.Add(2*time.Minute))
	s.Apply("dev", stopped)
	assert.Equal(t, 36.0012, stopped.Latitude)
}

func TestStabilizerMovingWithoutAnchorPassesThrough(t *testing.T) {
	s := NewStabilizer()
	f := testFrame(36.0, 10.0, 60, true, testBase)
	s.Apply("dev", f)
	assert.Equal(t, 36.0, f.Latitude)
	assert.Equal(t, 10.0, f.Longitude)
}
