package jobqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManagerStartStop(t *testing.T) {
	m := NewManager(nil)
	assert.False(t, m.IsRunning())

	m.Start()
	assert.True(t, m.IsRunning())

	// Double start is a no-op.
	m.Start()
	assert.True(t, m.IsRunning())

	m.Stop()
	assert.False(t, m.IsRunning())

	// Double stop is a no-op.
	m.Stop()
	assert.False(t, m.IsRunning())
}

func TestManagerStopReturnsPromptly(t *testing.T) {
	m := NewManager(nil)
	m.Start()

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("manager stop deadlocked")
	}
	assert.False(t, m.IsRunning())
}

func TestManagerRestart(t *testing.T) {
	m := NewManager(nil)
	m.Start()
	m.Stop()

	done := make(chan struct{})
	go func() {
		m.Start()
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("manager restart deadlocked")
	}
}
