package smartslydr

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollectorExportsCache(t *testing.T) {
	covers := newTestCovers(t)
	collector := NewMetricsCollector(covers.coord)

	expected := `
# HELP smartslydr_position_percent Door position (0=closed, 100=open)
# TYPE smartslydr_position_percent gauge
smartslydr_position_percent{device_id="dev-1"} 20
smartslydr_position_percent{device_id="dev-2"} 0
# HELP smartslydr_online 1 if the cloud reports the device online
# TYPE smartslydr_online gauge
smartslydr_online{device_id="dev-1"} 1
smartslydr_online{device_id="dev-2"} 0
# HELP smartslydr_up 1 if the last poll succeeded
# TYPE smartslydr_up gauge
smartslydr_up 1
# HELP smartslydr_devices Number of devices in the last successful poll
# TYPE smartslydr_devices gauge
smartslydr_devices 2
`
	require.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"smartslydr_position_percent", "smartslydr_online", "smartslydr_up", "smartslydr_devices"))
}

func TestMetricsCollectorAfterFailedPoll(t *testing.T) {
	covers := newTestCovers(t)
	collector := NewMetricsCollector(covers.coord)

	covers.source.respond(nil, &Error{Kind: KindCommunication})
	require.Error(t, covers.coord.Refresh(context.Background()))

	expected := `
# HELP smartslydr_up 1 if the last poll succeeded
# TYPE smartslydr_up gauge
smartslydr_up 0
# HELP smartslydr_devices Number of devices in the last successful poll
# TYPE smartslydr_devices gauge
smartslydr_devices 2
`
	require.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected), "smartslydr_up", "smartslydr_devices"))
}

func TestMetricsCollectorWithoutCoordinator(t *testing.T) {
	assert.Equal(t, 3, testutil.CollectAndCount(NewMetricsCollector(nil)))
}

func TestPollAndRequestCounters(t *testing.T) {
	okBefore := testutil.ToFloat64(pollsTotal.WithLabelValues("success"))
	authBefore := testutil.ToFloat64(pollsTotal.WithLabelValues("auth_failed"))

	coord := NewCoordinator(&fakeSource{devices: sampleDevices()}, time.Hour)
	require.NoError(t, coord.Refresh(context.Background()))
	assert.Equal(t, okBefore+1, testutil.ToFloat64(pollsTotal.WithLabelValues("success")))

	coord = NewCoordinator(&fakeSource{err: &Error{Kind: KindAuthentication}}, time.Hour)
	require.Error(t, coord.Refresh(context.Background()))
	assert.Equal(t, authBefore+1, testutil.ToFloat64(pollsTotal.WithLabelValues("auth_failed")))

	cloud := newFakeCloud(t)
	cloud.set(func(f *fakeCloud) { f.devicesStatus = http.StatusUnauthorized })
	devicesAuthBefore := testutil.ToFloat64(clientRequests.WithLabelValues("devices", "authentication"))
	_, err := cloud.client(t, nil).DeviceList(context.Background())
	require.Error(t, err)
	assert.Equal(t, devicesAuthBefore+1, testutil.ToFloat64(clientRequests.WithLabelValues("devices", "authentication")))
}
