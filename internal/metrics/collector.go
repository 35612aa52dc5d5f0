// Package metrics exposes pipeline activity as Prometheus metrics fed from
// the event bus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Iron-Ham/phaseline/internal/event"
)

// Collector holds the pipeline metrics. Attach it to a bus to keep them
// current.
type Collector struct {
	ChannelLength   *prometheus.GaugeVec
	ChannelCapacity *prometheus.GaugeVec
	Phase           prometheus.Gauge
	PhaseAdvances   prometheus.Counter
	Handoffs        *prometheus.CounterVec
	WorkersRunning  prometheus.Gauge
	StrandedItems   prometheus.Counter

	mu   sync.Mutex
	bus  *event.Bus
	subs []string
}

// NewCollector creates the metrics and registers them with reg. A nil reg
// creates unregistered metrics. If any metric is already registered, for
// example by an earlier collector with the same namespace, nothing stays
// registered and the prometheus.AlreadyRegisteredError is returned.
func NewCollector(reg prometheus.Registerer, namespace string) (*Collector, error) {
	c := &Collector{
		ChannelLength: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "channel_length",
				Help:      "Items currently queued in a bounded channel",
			},
			[]string{"channel"},
		),
		ChannelCapacity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "channel_capacity",
				Help:      "Fixed capacity of a bounded channel",
			},
			[]string{"channel"},
		),
		Phase: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "phase",
				Help:      "Current barrier phase number",
			},
		),
		PhaseAdvances: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_advances_total",
				Help:      "Total number of completed phases",
			},
		),
		Handoffs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handoffs_total",
				Help:      "Total number of channel puts and takes by workers",
			},
			[]string{"channel", "op"},
		),
		WorkersRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workers_running",
				Help:      "Number of worker loops currently running",
			},
		),
		StrandedItems: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stranded_items_total",
				Help:      "Total number of items held by workers when they were stopped",
			},
		),
	}
	if reg == nil {
		return c, nil
	}

	var registered []prometheus.Collector
	for _, m := range c.collectors() {
		if err := reg.Register(m); err != nil {
			for _, done := range registered {
				reg.Unregister(done)
			}
			return nil, err
		}
		registered = append(registered, m)
	}
	return c, nil
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ChannelLength,
		c.ChannelCapacity,
		c.Phase,
		c.PhaseAdvances,
		c.Handoffs,
		c.WorkersRunning,
		c.StrandedItems,
	}
}

// Attach subscribes the collector to bus. Attaching again first detaches
// from the previous bus.
func (c *Collector) Attach(bus *event.Bus) {
	c.Detach()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.bus = bus
	c.subs = []string{
		bus.Subscribe(event.TypePipelineStarted, c.onStarted),
		bus.Subscribe(event.TypePipelineStopped, c.onStopped),
		bus.Subscribe(event.TypePhaseAdvanced, c.onPhaseAdvanced),
		bus.Subscribe(event.TypeItemHandoff, c.onHandoff),
		bus.Subscribe(event.TypeWorkerStarted, func(event.Event) { c.WorkersRunning.Inc() }),
		bus.Subscribe(event.TypeWorkerStopped, func(event.Event) { c.WorkersRunning.Dec() }),
	}
}

// Detach removes the collector's subscriptions. Safe to call when not
// attached.
func (c *Collector) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bus == nil {
		return
	}
	for _, id := range c.subs {
		c.bus.Unsubscribe(id)
	}
	c.bus = nil
	c.subs = nil
}

func (c *Collector) onStarted(e event.Event) {
	started, ok := e.(event.PipelineStartedEvent)
	if !ok {
		return
	}
	c.Phase.Set(0)
	for _, ch := range started.Channels {
		c.ChannelCapacity.WithLabelValues(ch.Name).Set(float64(ch.Capacity))
		c.ChannelLength.WithLabelValues(ch.Name).Set(0)
	}
}

func (c *Collector) onStopped(e event.Event) {
	if stopped, ok := e.(event.PipelineStoppedEvent); ok {
		c.StrandedItems.Add(float64(stopped.Stranded))
	}
}

func (c *Collector) onPhaseAdvanced(e event.Event) {
	if adv, ok := e.(event.PhaseAdvancedEvent); ok {
		c.Phase.Set(float64(adv.Phase + 1))
		c.PhaseAdvances.Inc()
	}
}

func (c *Collector) onHandoff(e event.Event) {
	h, ok := e.(event.ItemHandoffEvent)
	if !ok {
		return
	}
	c.Handoffs.WithLabelValues(h.Channel, h.Op).Inc()
	c.ChannelLength.WithLabelValues(h.Channel).Set(float64(h.Len))
}
