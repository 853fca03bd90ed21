package flock

import "expvar"

// busMetrics records bus activity counters, exported the same way the
// source design exports peer counters: a set of expvar.Int fields
// collected under one expvar.Map so a deployment can publish them via
// the standard /debug/vars handler, or adapt them to another sink (see
// metrics/promexport) without the core depending on that sink.
type busMetrics struct {
	messagesDispatched expvar.Int
	messagesHandled     expvar.Int
	handlerErrors       expvar.Int
	dispatchTimeouts    expvar.Int
	registrations       expvar.Int
	registrationErrors  expvar.Int
	directoryEvents     expvar.Int
	localDispatches     expvar.Int

	emap *expvar.Map
}

func newBusMetrics() *busMetrics {
	m := &busMetrics{emap: new(expvar.Map)}
	m.emap.Set("messages_dispatched", &m.messagesDispatched)
	m.emap.Set("messages_handled", &m.messagesHandled)
	m.emap.Set("handler_errors", &m.handlerErrors)
	m.emap.Set("dispatch_timeouts", &m.dispatchTimeouts)
	m.emap.Set("registrations", &m.registrations)
	m.emap.Set("registration_errors", &m.registrationErrors)
	m.emap.Set("directory_events", &m.directoryEvents)
	m.emap.Set("local_dispatches", &m.localDispatches)
	return m
}

// Map returns the expvar.Map backing m, suitable for publishing under
// expvar.Publish or adapting to another metrics sink.
func (m *busMetrics) Map() *expvar.Map { return m.emap }
