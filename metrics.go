package main

import (
	"net/http"

	"github.com/acd/actronneo/neo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	refreshes     *prometheus.CounterVec
	apiHealthy    prometheus.Gauge
	lastFresh     prometheus.Gauge
	indoorTemp    prometheus.Gauge
	indoorHumid   prometheus.Gauge
	zoneTemp      *prometheus.GaugeVec
	zoneEnabled   *prometheus.GaugeVec
	commandErrors *prometheus.CounterVec
}

func NewMetrics(serial string) *Metrics {
	labels := prometheus.Labels{"serial": serial}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "actronneo_refresh_total",
			Help:        "Scheduled refresh cycles by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		apiHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "actronneo_api_healthy",
			Help:        "1 when the vendor API is considered healthy.",
			ConstLabels: labels,
		}),
		lastFresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "actronneo_last_fresh_timestamp_seconds",
			Help:        "Unix time of the last successfully normalized state.",
			ConstLabels: labels,
		}),
		indoorTemp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "actronneo_indoor_temperature_celsius",
			Help:        "Temperature reported by the master controller.",
			ConstLabels: labels,
		}),
		indoorHumid: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "actronneo_indoor_humidity_percent",
			Help:        "Humidity reported by the master controller.",
			ConstLabels: labels,
		}),
		zoneTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "actronneo_zone_temperature_celsius",
			Help:        "Temperature reported by each zone sensor.",
			ConstLabels: labels,
		}, []string{"zone", "name"}),
		zoneEnabled: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "actronneo_zone_enabled",
			Help:        "1 when the zone damper is open.",
			ConstLabels: labels,
		}, []string{"zone", "name"}),
		commandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "actronneo_command_errors_total",
			Help:        "Commands that failed, by command.",
			ConstLabels: labels,
		}, []string{"command"}),
	}
	m.registry.MustRegister(
		m.refreshes,
		m.apiHealthy,
		m.lastFresh,
		m.indoorTemp,
		m.indoorHumid,
		m.zoneTemp,
		m.zoneEnabled,
		m.commandErrors,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Refresh(res neo.Result, healthy bool) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(res.Outcome.String()).Inc()
	if healthy {
		m.apiHealthy.Set(1)
	} else {
		m.apiHealthy.Set(0)
	}
}

func (m *Metrics) State(state *neo.State) {
	if m == nil || state.Empty() {
		return
	}
	m.lastFresh.Set(float64(state.FetchedAt.Unix()))
	if t := state.Main.IndoorTemp; t != nil {
		m.indoorTemp.Set(*t)
	}
	if h := state.Main.IndoorHumidity; h != nil {
		m.indoorHumid.Set(*h)
	}

	m.zoneTemp.Reset()
	m.zoneEnabled.Reset()
	for _, id := range state.ZoneIDs() {
		zone := state.Zones[id]
		if zone.Temp != nil {
			m.zoneTemp.WithLabelValues(id, zone.Name).Set(*zone.Temp)
		}
		enabled := 0.0
		if zone.IsEnabled {
			enabled = 1
		}
		m.zoneEnabled.WithLabelValues(id, zone.Name).Set(enabled)
	}
}

func (m *Metrics) CommandError(command string) {
	if m == nil {
		return
	}
	m.commandErrors.WithLabelValues(command).Inc()
}
