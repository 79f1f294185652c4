package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sarchlab/cosim/hooking"
	"github.com/sarchlab/cosim/tags"
)

// HookPosFetched marks a successful fetch of a source. The detail is the
// fetched vector.
var HookPosFetched = &hooking.HookPos{Name: "Fetched"}

// HookPosFetchFailed marks a failed fetch of a source. The detail is the
// error.
var HookPosFetchFailed = &hooking.HookPos{Name: "FetchFailed"}

// SourceStatus describes the last fetches of one source.
type SourceStatus struct {
	Name        string    `json:"name"`
	Fetched     bool      `json:"fetched"`
	LastSuccess time.Time `json:"last_success"`
	LastAttempt time.Time `json:"last_attempt"`
	Failures    int       `json:"consecutive_failures"`
	LastError   string    `json:"last_error,omitempty"`
}

// CacheBuilder can build caches.
type CacheBuilder struct {
	fetcher tags.Fetcher
	sources []tags.Source
	period  time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// MakeCacheBuilder returns a builder with a refresh period of two seconds.
func MakeCacheBuilder() CacheBuilder {
	return CacheBuilder{
		period: 2 * time.Second,
		now:    time.Now,
	}
}

// WithFetcher sets how sources are fetched.
func (b CacheBuilder) WithFetcher(f tags.Fetcher) CacheBuilder {
	b.fetcher = f
	return b
}

// WithSources sets the sources to cache.
func (b CacheBuilder) WithSources(sources []tags.Source) CacheBuilder {
	b.sources = sources
	return b
}

// WithPeriod sets the refresh period.
func (b CacheBuilder) WithPeriod(d time.Duration) CacheBuilder {
	b.period = d
	return b
}

// WithLogger sets the logger.
func (b CacheBuilder) WithLogger(logger *slog.Logger) CacheBuilder {
	b.logger = logger
	return b
}

// Build creates a cache in which every tag reads "0" until its source has
// been fetched once.
func (b CacheBuilder) Build() *Cache {
	if b.fetcher == nil {
		panic("cache needs a fetcher")
	}

	if b.period <= 0 {
		panic("cache refresh period must be positive")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache{
		HookableBase: hooking.NewHookableBase(),
		fetcher:      b.fetcher,
		sources:      slices.Clone(b.sources),
		period:       b.period,
		logger:       logger.With("component", "cache"),
		now:          b.now,
		values:       make(map[string][]string, len(b.sources)),
		status:       make(map[string]*SourceStatus, len(b.sources)),
	}

	for _, src := range c.sources {
		zeros := make([]string, len(src.Tags))
		for i := range zeros {
			zeros[i] = "0"
		}

		c.values[src.Name] = zeros
		c.status[src.Name] = &SourceStatus{Name: src.Name}
	}

	return c
}

// Cache keeps the last known tag values of every source, refreshed in the
// background. A source that cannot be fetched keeps its previous values.
type Cache struct {
	*hooking.HookableBase

	fetcher tags.Fetcher
	sources []tags.Source
	period  time.Duration
	logger  *slog.Logger
	now     func() time.Time

	lock   sync.RWMutex
	values map[string][]string
	status map[string]*SourceStatus

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// Sources returns the cached sources.
func (c *Cache) Sources() []tags.Source {
	return slices.Clone(c.sources)
}

// Refresh fetches every source once.
func (c *Cache) Refresh(ctx context.Context) {
	for _, src := range c.sources {
		if ctx.Err() != nil {
			return
		}

		c.refreshSource(ctx, src)
	}
}

func (c *Cache) refreshSource(ctx context.Context, src tags.Source) {
	values, err := c.fetcher.Fetch(ctx, src)
	if err == nil && len(values) != len(src.Tags) {
		err = &tags.TransportError{
			Source: src.Name,
			Err:    errShortVector{got: len(values), want: len(src.Tags)},
		}
	}

	now := c.now()

	c.lock.Lock()
	status := c.status[src.Name]
	status.LastAttempt = now
	if err != nil {
		status.Failures++
		status.LastError = err.Error()
	} else {
		c.values[src.Name] = slices.Clone(values)
		status.Fetched = true
		status.LastSuccess = now
		status.Failures = 0
		status.LastError = ""
	}
	c.lock.Unlock()

	if err != nil {
		c.logger.Error("fetch failed", "source", src.Name, "error", err)
		c.InvokeHook(hooking.HookCtx{
			Domain: c, Pos: HookPosFetchFailed, Item: src.Name, Detail: err,
		})

		return
	}

	c.InvokeHook(hooking.HookCtx{
		Domain: c, Pos: HookPosFetched, Item: src.Name, Detail: values,
	})
}

type errShortVector struct {
	got, want int
}

func (e errShortVector) Error() string {
	return fmt.Sprintf("fetched %d values, want %d", e.got, e.want)
}

// Start fetches every source, then keeps refreshing them every period until
// Stop is called or ctx is done. Only the first call has an effect.
func (c *Cache) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		ctx, c.cancel = context.WithCancel(ctx)
		c.done = make(chan struct{})

		c.Refresh(ctx)

		go c.loop(ctx)
	})
}

func (c *Cache) loop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}

// Stop ends the background refresh and waits for it.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		c.startOnce.Do(func() {})

		if c.cancel == nil {
			return
		}

		c.cancel()
		<-c.done
	})
}

// Snapshot returns a copy of the cached vectors by source name.
func (c *Cache) Snapshot() map[string][]string {
	c.lock.RLock()
	defer c.lock.RUnlock()

	snapshot := make(map[string][]string, len(c.values))
	for name, values := range c.values {
		snapshot[name] = slices.Clone(values)
	}

	return snapshot
}

// Flatten returns the values of a snapshot in source order.
func (c *Cache) Flatten(snapshot map[string][]string) []string {
	var out []string
	for _, src := range c.sources {
		out = append(out, snapshot[src.Name]...)
	}

	return out
}

// Statuses returns the status of every source in source order.
func (c *Cache) Statuses() []SourceStatus {
	c.lock.RLock()
	defer c.lock.RUnlock()

	out := make([]SourceStatus, 0, len(c.sources))
	for _, src := range c.sources {
		out = append(out, *c.status[src.Name])
	}

	return out
}
