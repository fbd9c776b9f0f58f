package smartslydr

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/smartslydr/internal/core"
)

var (
	clientRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smartslydr_api_requests_total",
		Help: "SmartSlydr cloud requests by operation and result",
	}, []string{"op", "result"})

	clientLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "smartslydr_api_request_duration_seconds",
		Help:    "SmartSlydr cloud request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	pollsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smartslydr_polls_total",
		Help: "Coordinator polls by outcome (success, auth_failed, update_failed)",
	}, []string{"outcome"})

	pollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "smartslydr_poll_duration_seconds",
		Help:    "Duration of one device-list poll",
		Buckets: prometheus.DefBuckets,
	})
)

// MetricsCollector exports the coordinator's cached device state. It never
// triggers a cloud call.
type MetricsCollector struct {
	coordinator *Coordinator

	up          prometheus.Gauge
	lastUpdate  prometheus.Gauge
	deviceCount prometheus.Gauge
	info        *prometheus.GaugeVec
	position    *prometheus.GaugeVec
	online      *prometheus.GaugeVec
	wifiSignal  *prometheus.GaugeVec
	temperature *prometheus.GaugeVec
	humidity    *prometheus.GaugeVec
}

func NewMetricsCollector(coordinator *Coordinator) *MetricsCollector {
	labels := []string{"device_id"}
	return &MetricsCollector{
		coordinator: coordinator,
		up: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartslydr_up",
			Help: "1 if the last poll succeeded",
		}),
		lastUpdate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartslydr_last_update_timestamp_seconds",
			Help: "Last successful poll (epoch seconds)",
		}),
		deviceCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartslydr_devices",
			Help: "Number of devices in the last successful poll",
		}),
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smartslydr_device_info",
			Help: "SmartSlydr device info",
		}, []string{"device_id", "name", "room"}),
		position: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smartslydr_position_percent",
			Help: "Door position (0=closed, 100=open)",
		}, labels),
		online: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smartslydr_online",
			Help: "1 if the cloud reports the device online",
		}, labels),
		wifiSignal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smartslydr_wifi_signal",
			Help: "WiFi signal as reported by the device",
		}, labels),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smartslydr_temperature",
			Help: "Temperature as reported by the device",
		}, labels),
		humidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smartslydr_humidity_percent",
			Help: "Relative humidity as reported by the device",
		}, labels),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.up.Describe(ch)
	c.lastUpdate.Describe(ch)
	c.deviceCount.Describe(ch)
	c.info.Describe(ch)
	c.position.Describe(ch)
	c.online.Describe(ch)
	c.wifiSignal.Describe(ch)
	c.temperature.Describe(ch)
	c.humidity.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.info.Reset()
	c.position.Reset()
	c.online.Reset()
	c.wifiSignal.Reset()
	c.temperature.Reset()
	c.humidity.Reset()

	if c.coordinator == nil {
		c.up.Set(0)
		c.collectAll(ch)
		return
	}

	if c.coordinator.Health() == core.HealthHealthy {
		c.up.Set(1)
	} else {
		c.up.Set(0)
	}
	if last := c.coordinator.LastUpdate(); !last.IsZero() {
		c.lastUpdate.Set(float64(last.Unix()))
	}

	devices := c.coordinator.Devices()
	c.deviceCount.Set(float64(len(devices)))
	for _, id := range devices.IDs() {
		dev := devices[id]
		labels := prometheus.Labels{"device_id": id}
		c.info.With(prometheus.Labels{"device_id": id, "name": dev.Name, "room": dev.RoomName}).Set(1)
		c.position.With(labels).Set(float64(dev.Position))
		c.online.With(labels).Set(boolGauge(dev.Online()))
		c.wifiSignal.With(labels).Set(float64(dev.WifiSignal))
		c.temperature.With(labels).Set(float64(dev.Temperature))
		c.humidity.With(labels).Set(float64(dev.Humidity))
	}

	c.collectAll(ch)
}

func (c *MetricsCollector) collectAll(ch chan<- prometheus.Metric) {
	c.up.Collect(ch)
	c.lastUpdate.Collect(ch)
	c.deviceCount.Collect(ch)
	c.info.Collect(ch)
	c.position.Collect(ch)
	c.online.Collect(ch)
	c.wifiSignal.Collect(ch)
	c.temperature.Collect(ch)
	c.humidity.Collect(ch)
}

// MetricsCollectors returns the package-level request and poll collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{clientRequests, clientLatency, pollsTotal, pollDuration}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func observePoll(outcome string, start time.Time) {
	pollsTotal.WithLabelValues(outcome).Inc()
	pollDuration.Observe(time.Since(start).Seconds())
}
