package requeue

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressTracker_Basic(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 100, 10)

	tracker.Start(0)
	tracker.Add(50, 5)
	tracker.Add(50, 0)
	tracker.Finish()

	output := buf.String()
	assert.Contains(t, output, "100/100")
	assert.Contains(t, output, "100.0%")
	assert.Contains(t, output, "5 failed again")
	assert.Contains(t, output, "docs/s")
}

func TestProgressTracker_Resumed(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 100, 10)

	tracker.Start(60)
	tracker.Add(5, 0)
	assert.Empty(t, buf.String(), "should not print under interval")

	tracker.Add(5, 0)
	assert.Contains(t, buf.String(), "70/100")
}

func TestProgressTracker_CapsAtTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 10, 1)

	tracker.Start(0)
	tracker.Add(15, 0)
	assert.Contains(t, buf.String(), "10/10")
	assert.NotContains(t, buf.String(), "15/10")
}

func TestProgressTracker_NotStarted(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 100, 10)

	tracker.Add(10, 0)
	tracker.Finish()

	assert.Empty(t, buf.String(), "should have no output when not started")
	assert.Zero(t, tracker.Elapsed())
}

func TestProgressTracker_ZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 0, 10)

	tracker.Start(0)
	tracker.Finish()
	assert.Contains(t, buf.String(), "0/0")
}
