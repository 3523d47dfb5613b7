// Package metric manages Prometheus metrics for the sync pipeline: a
// private registry with Go/process collectors, per-service registration,
// and the core pipeline metrics every stage shares.
package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Mythidas/MSPByte-Remake-sub005/errors"
)

// Registry manages the registration and lifecycle of metrics.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	Core               *CoreMetrics
	registered         map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewRegistry creates a metrics registry with core pipeline metrics and Go
// runtime collectors pre-registered.
func NewRegistry() *Registry {
	r := &Registry{
		prometheusRegistry: prometheus.NewRegistry(),
		registered:         make(map[string]prometheus.Collector),
	}

	r.Core = NewCoreMetrics()
	r.prometheusRegistry.MustRegister(
		r.Core.StageEventsTotal,
		r.Core.StageDuration,
		r.Core.StageErrorsTotal,
		r.Core.JobsTotal,
		r.Core.JobRetriesTotal,
		r.Core.EntityChangesTotal,
		r.Core.AlertsTotal,
		r.Core.BusConnected,
		r.Core.QueueDepth,
	)

	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// Register registers a collector for a service, rejecting duplicates.
func (r *Registry) Register(serviceName string, name string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", serviceName, name)
	if _, exists := r.registered[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for service %s", name, serviceName),
			"Registry", "Register", "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "Registry", "Register",
				fmt.Sprintf("prometheus conflict for metric %s", name))
		}
		return errors.WrapFatal(err, "Registry", "Register", "register collector with prometheus")
	}

	r.registered[key] = collector
	return nil
}

// MustRegister registers collectors for a service and panics on conflict.
// Intended for startup wiring where a conflict is a programming error.
func (r *Registry) MustRegister(serviceName string, cs ...prometheus.Collector) {
	for i, c := range cs {
		if err := r.Register(serviceName, fmt.Sprintf("collector_%d", i), c); err != nil {
			panic(err)
		}
	}
}

// Unregister removes a metric from the registry.
func (r *Registry) Unregister(serviceName, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", serviceName, name)
	collector, exists := r.registered[key]
	if !exists {
		return false
	}

	if ok := r.prometheusRegistry.Unregister(collector); ok {
		delete(r.registered, key)
		return true
	}
	return false
}
