package dataq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerArmIsIdempotent(t *testing.T) {
	w := newWorker()
	w.arm()
	w.arm()
	w.arm()

	<-w.signal
	select {
	case <-w.signal:
		t.Fatal("more than one signal pending")
	default:
	}
}

func TestWorkerShutdownIsOneShot(t *testing.T) {
	w := newWorker()
	require.True(t, w.beginShutdown())
	assert.False(t, w.beginShutdown())
	assert.False(t, w.accepting())

	// arming after shutdown is a no-op
	w.arm()
	select {
	case <-w.signal:
		t.Fatal("signal accepted after shutdown")
	default:
	}
}

func TestWorkerAwaitStop(t *testing.T) {
	w := newWorker()
	go func() {
		<-w.quit
		close(w.stopped)
	}()
	require.True(t, w.beginShutdown())
	assert.True(t, w.awaitStop(time.Second))

	w = newWorker()
	require.True(t, w.beginShutdown())
	// nobody closes stopped; the timeout path still stops the worker
	assert.False(t, w.awaitStop(10*time.Millisecond))
	assert.False(t, w.accepting())
}
