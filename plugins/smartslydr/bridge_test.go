package smartslydr

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testCovers is a CoverSource over a fake device source and commander.
type testCovers struct {
	coord     *Coordinator
	source    *fakeSource
	commander *fakeCommander

	mu     sync.Mutex
	covers map[string]*Cover
}

func newTestCovers(t *testing.T) *testCovers {
	t.Helper()
	source := &fakeSource{devices: sampleDevices()}
	coord := NewCoordinator(source, time.Hour)
	require.NoError(t, coord.Refresh(context.Background()))
	return &testCovers{coord: coord, source: source, commander: &fakeCommander{}, covers: make(map[string]*Cover)}
}

func (c *testCovers) Coordinator() *Coordinator {
	return c.coord
}

func (c *testCovers) Cover(id string) (*Cover, error) {
	if _, ok := c.coord.Device(id); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cover, ok := c.covers[id]; ok {
		return cover, nil
	}
	cover := NewCover(id, c.commander, c.coord)
	c.covers[id] = cover
	return cover, nil
}

func (c *testCovers) Covers() []*Cover {
	var out []*Cover
	for _, id := range c.coord.Devices().IDs() {
		cover, _ := c.Cover(id)
		out = append(out, cover)
	}
	return out
}

var _ CoverSource = (*testCovers)(nil)
var _ CoverSource = (*Session)(nil)
