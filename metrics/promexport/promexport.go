// Package promexport adapts a bus's expvar activity counters to
// Prometheus, the way the source design's own metrics exporter
// converts an internal record format into prometheus.Collector values
// instead of exposing its raw counters directly.
package promexport

import (
	"expvar"

	"github.com/prometheus/client_golang/prometheus"
)

// Exporter is a prometheus.Collector over a bus's expvar.Map of
// activity counters. Each counter already present in the map at
// construction time is exported as a Prometheus counter named
// flock_<subsystem>_<key> (flock_<key> when subsystem is empty);
// counters added to the map afterward, such as the natsReplyErrors
// counter transport/nats adds on a failed reply, are not picked up.
type Exporter struct {
	subsystem string
	descs     map[string]*prometheus.Desc
	values    map[string]*expvar.Int
}

// New builds an Exporter over m, namespacing every metric under
// "flock" and the given subsystem (typically the peer ID, so metrics
// from more than one bus in a process can be told apart).
func New(subsystem string, m *expvar.Map) *Exporter {
	e := &Exporter{
		subsystem: subsystem,
		descs:     make(map[string]*prometheus.Desc),
		values:    make(map[string]*expvar.Int),
	}
	m.Do(func(kv expvar.KeyValue) {
		iv, ok := kv.Value.(*expvar.Int)
		if !ok {
			return
		}
		e.values[kv.Key] = iv
		e.descs[kv.Key] = prometheus.NewDesc(
			prometheus.BuildFQName("flock", subsystem, kv.Key),
			"Cumulative count of "+kv.Key+" on this bus.",
			nil, nil,
		)
	})
	return e
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range e.descs {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	for key, iv := range e.values {
		ch <- prometheus.MustNewConstMetric(e.descs[key], prometheus.CounterValue, float64(iv.Value()))
	}
}
