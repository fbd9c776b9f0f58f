package smartslydr

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/smartslydr/internal/core"
)

type fakeSource struct {
	calls atomic.Int32

	mu      sync.Mutex
	devices Devices
	err     error
	before  func(call int32)
}

func (f *fakeSource) DeviceList(ctx context.Context) (Devices, error) {
	call := f.calls.Add(1)
	f.mu.Lock()
	before := f.before
	f.mu.Unlock()
	if before != nil {
		before(call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.devices.Clone(), nil
}

func (f *fakeSource) respond(devices Devices, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = devices
	f.err = err
}

func sampleDevices() Devices {
	return Devices{
		"dev-1": {DeviceID: "dev-1", Name: "Patio", RoomName: "Living", Position: 20, Status: StatusOnline},
		"dev-2": {DeviceID: "dev-2", Name: "Garden", RoomName: "Kitchen", Position: 0, Status: "device is offline"},
	}
}

func TestCoordinatorRefresh(t *testing.T) {
	source := &fakeSource{devices: sampleDevices()}
	coord := NewCoordinator(source, time.Hour)
	assert.Equal(t, core.HealthDegraded, coord.Health())
	assert.False(t, coord.Loaded())

	var notified []Devices
	cancel := coord.Subscribe(func(d Devices) { notified = append(notified, d) })
	defer cancel()

	require.NoError(t, coord.Refresh(context.Background()))
	assert.Equal(t, sampleDevices(), coord.Devices())
	assert.Equal(t, core.HealthHealthy, coord.Health())
	assert.True(t, coord.Loaded())
	assert.False(t, coord.LastUpdate().IsZero())
	require.Len(t, notified, 1)
	assert.Equal(t, sampleDevices(), notified[0])

	dev, ok := coord.Device("dev-1")
	require.True(t, ok)
	assert.Equal(t, "Patio", dev.Name)
}

func TestCoordinatorDevicesIsACopy(t *testing.T) {
	coord := NewCoordinator(&fakeSource{devices: sampleDevices()}, time.Hour)
	require.NoError(t, coord.Refresh(context.Background()))

	devices := coord.Devices()
	delete(devices, "dev-1")
	devices["dev-2"] = Device{DeviceID: "dev-2", Position: 99}

	assert.Equal(t, sampleDevices(), coord.Devices())
}

func TestCoordinatorFailedPollKeepsCache(t *testing.T) {
	source := &fakeSource{devices: sampleDevices()}
	coord := NewCoordinator(source, time.Hour)
	require.NoError(t, coord.Refresh(context.Background()))
	before, err := json.Marshal(coord.Devices())
	require.NoError(t, err)
	lastUpdate := coord.LastUpdate()

	var failures []error
	coord.OnFailure(func(err error) { failures = append(failures, err) })
	updates := 0
	coord.Subscribe(func(Devices) { updates++ })

	cause := &Error{Op: "devices", Kind: KindCommunication, Err: errors.New("connection reset")}
	source.respond(Devices{"other": {DeviceID: "other"}}, cause)

	err = coord.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpdateFailed)
	assert.ErrorIs(t, err, ErrCommunication)
	assert.False(t, IsAuthFailure(err))

	after, err := json.Marshal(coord.Devices())
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, lastUpdate, coord.LastUpdate())
	assert.Equal(t, core.HealthDegraded, coord.Health())
	assert.Contains(t, coord.HealthMessage(), "connection reset")
	assert.Zero(t, updates)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], ErrUpdateFailed)

	source.respond(sampleDevices(), nil)
	require.NoError(t, coord.Refresh(context.Background()))
	assert.Equal(t, core.HealthHealthy, coord.Health())
	assert.Empty(t, coord.HealthMessage())
}

func TestCoordinatorAuthFailure(t *testing.T) {
	source := &fakeSource{err: &Error{Op: "devices", Kind: KindAuthentication, Status: 401, Err: HTTPStatusError{Status: 401}}}
	coord := NewCoordinator(source, time.Hour)

	err := coord.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthFailure(err))
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.NotErrorIs(t, err, ErrUpdateFailed)
	assert.Equal(t, core.HealthError, coord.Health())
	assert.Nil(t, coord.Devices())
}

func TestCoordinatorParseFailureIsUpdateFailure(t *testing.T) {
	source := &fakeSource{err: &Error{Op: "devices", Kind: KindParse, Err: errors.New("bad json")}}
	coord := NewCoordinator(source, time.Hour)

	err := coord.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrUpdateFailed)
	assert.ErrorIs(t, err, ErrParse)
}

func TestCoordinatorCoalescesRequestsDuringPoll(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	source := &fakeSource{devices: sampleDevices()}
	source.before = func(call int32) {
		if call == 1 {
			started <- struct{}{}
			<-release
		}
	}
	coord := NewCoordinator(source, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		coord.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	coord.RequestRefresh()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first poll did not start")
	}

	coord.RequestRefresh()
	coord.RequestRefresh()
	close(release)

	require.Eventually(t, func() bool { return source.calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 2, source.calls.Load())
}

func TestCoordinatorRefreshIsSerialized(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	source := &fakeSource{devices: sampleDevices()}
	source.before = func(int32) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
	}
	coord := NewCoordinator(source, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = coord.Refresh(context.Background())
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, source.calls.Load(), int32(1))
	assert.LessOrEqual(t, source.calls.Load(), int32(5))
	assert.EqualValues(t, 1, maxInFlight.Load())
}

func (c *Coordinator) queuedCallers() int {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	if c.next == nil {
		return 0
	}
	return c.next.shared
}

func TestCoordinatorRefreshJoinsFollowUpPoll(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	source := &fakeSource{devices: sampleDevices()}
	source.before = func(call int32) {
		if call == 1 {
			started <- struct{}{}
			<-release
		}
	}
	coord := NewCoordinator(source, time.Hour)

	errs := make(chan error, 3)
	go func() { errs <- coord.Refresh(context.Background()) }()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first poll did not start")
	}

	for i := 0; i < 2; i++ {
		go func() { errs <- coord.Refresh(context.Background()) }()
	}
	require.Eventually(t, func() bool { return coord.queuedCallers() == 2 }, 2*time.Second, time.Millisecond)
	close(release)

	for i := 0; i < 3; i++ {
		require.NoError(t, <-errs)
	}
	assert.EqualValues(t, 2, source.calls.Load())
}

func TestCoordinatorSharedPollReportsFailure(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	source := &fakeSource{devices: sampleDevices()}
	source.before = func(call int32) {
		if call == 1 {
			started <- struct{}{}
			<-release
		}
	}
	coord := NewCoordinator(source, time.Hour)

	first := make(chan error, 1)
	go func() { first <- coord.Refresh(context.Background()) }()
	<-started

	shared := make(chan error, 1)
	go func() { shared <- coord.Refresh(context.Background()) }()
	require.Eventually(t, func() bool { return coord.queuedCallers() == 1 }, 2*time.Second, time.Millisecond)

	source.respond(nil, &Error{Op: "devices", Kind: KindCommunication, Err: errors.New("connection reset")})
	close(release)

	require.ErrorIs(t, <-first, ErrUpdateFailed)
	require.ErrorIs(t, <-shared, ErrUpdateFailed)
	assert.EqualValues(t, 2, source.calls.Load())
}

func TestCoordinatorConfirmHandlersRunBeforeSubscribers(t *testing.T) {
	coord := NewCoordinator(&fakeSource{devices: sampleDevices()}, time.Hour)
	var order []string
	for i := 0; i < 10; i++ {
		coord.Subscribe(func(Devices) { order = append(order, "update") })
	}
	coord.OnConfirm(func(Devices) { order = append(order, "confirm") })

	require.NoError(t, coord.Refresh(context.Background()))
	require.Len(t, order, 11)
	assert.Equal(t, "confirm", order[0])
}

func TestCoordinatorRunPollsOnInterval(t *testing.T) {
	source := &fakeSource{devices: sampleDevices()}
	coord := NewCoordinator(source, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		coord.Run(ctx)
	}()

	require.Eventually(t, func() bool { return source.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestCoordinatorCancelledPollDoesNotPublish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := &fakeSource{err: context.Canceled}
	source.before = func(int32) { cancel() }
	coord := NewCoordinator(source, time.Hour)

	failures := 0
	coord.OnFailure(func(error) { failures++ })

	err := coord.Refresh(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, failures)
	assert.Equal(t, core.HealthDegraded, coord.Health())
	assert.Equal(t, "waiting for first poll", coord.HealthMessage())
}

func TestCoordinatorSubscribeCancel(t *testing.T) {
	coord := NewCoordinator(&fakeSource{devices: sampleDevices()}, time.Hour)
	calls := 0
	cancel := coord.Subscribe(func(Devices) { calls++ })

	require.NoError(t, coord.Refresh(context.Background()))
	cancel()
	require.NoError(t, coord.Refresh(context.Background()))
	assert.Equal(t, 1, calls)
}
