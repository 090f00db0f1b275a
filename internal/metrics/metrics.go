// Package metrics defines the cross-cutting metrics surface shared by
// blockvalidator, publisher, and pruning: the three components with
// counters worth exporting (validated/invalid block counts, pool size,
// pruned-root count). Grounded on the teacher's
// core/system_health_logging.go (prometheus.Registry + named
// Gauge/Counter fields, "<component>_<thing>" naming), generalized from
// an ad hoc health-snapshot logger into an injected interface so callers
// can pass a no-op in tests.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Sink is the metrics surface injected into blockvalidator.Validator,
// publisher.Publisher, and pruning.Manager. Their constructors install
// Noop when given a nil Sink.
type Sink interface {
	IncBlocksValid()
	IncBlocksInvalid()
	SetPoolSize(n int)
	SetQueueLimit(n int)
	IncPrunedRoots(n int)
	SetPruneQueueLength(n int)
}

type noop struct{}

func (noop) IncBlocksValid()         {}
func (noop) IncBlocksInvalid()       {}
func (noop) SetPoolSize(int)         {}
func (noop) SetQueueLimit(int)       {}
func (noop) IncPrunedRoots(int)      {}
func (noop) SetPruneQueueLength(int) {}

// Noop is a Sink that discards every observation.
var Noop Sink = noop{}

// Prometheus is a Sink backed by a dedicated prometheus.Registry.
type Prometheus struct {
	registry *prometheus.Registry

	blocksValid      prometheus.Counter
	blocksInvalid    prometheus.Counter
	poolSize         prometheus.Gauge
	queueLimit       prometheus.Gauge
	prunedRootsTotal prometheus.Counter
	pruneQueueLength prometheus.Gauge
}

// NewPrometheus builds a Prometheus sink with its own registry, so a
// ledgernode process can expose it separately from the default global
// registry.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	p := &Prometheus{
		registry: reg,
		blocksValid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgercore_blocks_valid_total",
			Help: "Total number of blocks the block validator marked Valid.",
		}),
		blocksInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgercore_blocks_invalid_total",
			Help: "Total number of blocks the block validator marked Invalid.",
		}),
		poolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledgercore_publisher_pool_size",
			Help: "Current number of batches in the publisher's pending-batch pool.",
		}),
		queueLimit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledgercore_publisher_queue_limit",
			Help: "Current rolling-average-derived queue limit.",
		}),
		prunedRootsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgercore_pruned_roots_total",
			Help: "Total number of state roots pruned from the Merkle database.",
		}),
		pruneQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledgercore_prune_queue_length",
			Help: "Current number of state roots queued for pruning.",
		}),
	}
	reg.MustRegister(
		p.blocksValid,
		p.blocksInvalid,
		p.poolSize,
		p.queueLimit,
		p.prunedRootsTotal,
		p.pruneQueueLength,
	)
	return p
}

// Registry exposes the underlying registry, e.g. for promhttp.HandlerFor.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

func (p *Prometheus) IncBlocksValid()     { p.blocksValid.Inc() }
func (p *Prometheus) IncBlocksInvalid()   { p.blocksInvalid.Inc() }
func (p *Prometheus) SetPoolSize(n int)   { p.poolSize.Set(float64(n)) }
func (p *Prometheus) SetQueueLimit(n int) { p.queueLimit.Set(float64(n)) }
func (p *Prometheus) IncPrunedRoots(n int) {
	if n > 0 {
		p.prunedRootsTotal.Add(float64(n))
	}
}
func (p *Prometheus) SetPruneQueueLength(n int) { p.pruneQueueLength.Set(float64(n)) }
