package kafka

import (
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Quota Manager
// --------------------------------------------------------------------------

// QuotaConfig bounds per-client throughput. A zero TargetRate disables
// throttling entirely.
type QuotaConfig struct {
	// TargetRate is the allowed bytes per second per client id.
	TargetRate uint64
	// Window is the measurement window. Defaults to one second.
	Window time.Duration
}

// QuotaManager tracks per-client byte rates and computes throttle delays.
// Clients exceeding their rate are told how long to back off; the manager
// never blocks callers itself.
type QuotaManager struct {
	cfg       QuotaConfig
	clients   *xsync.MapOf[string, *clientQuota]
	throttles *metrics.Counter
}

type clientQuota struct {
	mu          sync.Mutex
	windowStart time.Time
	bytes       uint64
}

// NewQuotaManager creates a quota manager for one shard.
func NewQuotaManager(cfg QuotaConfig) *QuotaManager {
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	return &QuotaManager{
		cfg:       cfg,
		clients:   xsync.NewMapOf[string, *clientQuota](),
		throttles: metrics.GetOrCreateCounter(`dmq_kafka_quota_throttles_total`),
	}
}

// Record accounts bytes against the client's budget and returns the delay
// the client must observe before its next request. Zero means no throttling.
func (q *QuotaManager) Record(clientID string, bytes uint64, now time.Time) time.Duration {
	if q.cfg.TargetRate == 0 {
		return 0
	}

	c, _ := q.clients.LoadOrCompute(clientID, func() *clientQuota {
		return &clientQuota{windowStart: now}
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	// start a fresh window once the old one has fully elapsed
	if now.Sub(c.windowStart) >= q.cfg.Window {
		c.windowStart = now
		c.bytes = 0
	}
	c.bytes += bytes

	allowed := uint64(float64(q.cfg.TargetRate) * q.cfg.Window.Seconds())
	if c.bytes <= allowed {
		return 0
	}

	// delay until the surplus would have been permitted at the target rate
	surplus := c.bytes - allowed
	delay := time.Duration(float64(surplus) / float64(q.cfg.TargetRate) * float64(time.Second))
	q.throttles.Inc()
	log.Debugf("throttling client %s for %v", clientID, delay)
	return delay
}

// Prune drops clients idle since the given deadline, bounding the map for
// workloads with churning client ids.
func (q *QuotaManager) Prune(idleSince time.Time) {
	q.clients.Range(func(id string, c *clientQuota) bool {
		c.mu.Lock()
		idle := c.windowStart.Before(idleSince)
		c.mu.Unlock()
		if idle {
			q.clients.Delete(id)
		}
		return true
	})
}

// Len returns the number of tracked clients.
func (q *QuotaManager) Len() int {
	return q.clients.Size()
}
