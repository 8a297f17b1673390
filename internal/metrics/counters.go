package metrics

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/seenimoa/b3fetch/pkg/models"
)

// Counters is an in-process Sink. Each key is an independent atomic
// counter, so increments for different keys never contend on a lock.
type Counters struct {
	values sync.Map // string → *atomic.Int64
}

// NewCounters returns an empty counter set.
func NewCounters() *Counters {
	return &Counters{}
}

// Key joins label parts into a counter key.
func Key(parts ...string) string {
	return strings.Join(parts, ".")
}

func (c *Counters) inc(key string) {
	v, ok := c.values.Load(key)
	if !ok {
		v, _ = c.values.LoadOrStore(key, new(atomic.Int64))
	}
	v.(*atomic.Int64).Add(1)
}

// Get returns the current value of key.
func (c *Counters) Get(key string) int64 {
	v, ok := c.values.Load(key)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// Snapshot returns a copy of all counters.
func (c *Counters) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	c.values.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}

// Keys returns the counter keys in sorted order.
func (c *Counters) Keys() []string {
	var keys []string
	c.values.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

func (c *Counters) ClassificationRecorded(method models.ClassificationMethod, it models.InstrumentType) {
	c.inc(Key("classify", "method", string(method)))
	c.inc(Key("classify", "type", string(it)))
}

func (c *Counters) LookupFailed() {
	c.inc(Key("classify", "lookup_failed"))
}

func (c *Counters) AcquisitionRecorded(a Acquisition) {
	c.inc(Key("acquire", string(a.Group), a.Engine, a.Outcome))
}

func (c *Counters) FallbackInvoked(group models.Group, from, to string) {
	c.inc(Key("fallback", string(group), from, to))
}

func (c *Counters) BreakerStateChanged(name, _, to string) {
	c.inc(Key("breaker", name, to))
}

func (c *Counters) FreshnessChecked(group models.Group, fresh bool) {
	state := "stale"
	if fresh {
		state = "fresh"
	}
	c.inc(Key("freshness", string(group), state))
}
