package signaling

import (
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// Events published while Close is tearing the client down must either be
// delivered or silently dropped; the event channel is closed under the same
// lock emit sends under, so a send can never hit a closed channel.
func TestClientEmitCloseRace(t *testing.T) {
	for i := 0; i < 50; i++ {
		c := NewClient(Credentials{}, testLogger())

		drained := make(chan struct{})
		go func() {
			for range c.Events() {
			}
			close(drained)
		}()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				c.emit(Connected{})
			}
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Close())
		}()

		wg.Wait()
		<-drained

		// Late emits after Close are discarded.
		c.emit(Disconnected{})
	}
}

func TestClientCloseIsIdempotent(t *testing.T) {
	c := NewClient(Credentials{}, testLogger())
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}
