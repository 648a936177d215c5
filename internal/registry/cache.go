package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/oh-yeah-zzy/Hermes/internal/loadbalancer"
	"github.com/oh-yeah-zzy/Hermes/internal/logging"
	"github.com/oh-yeah-zzy/Hermes/internal/route"
)

// Fetcher is the registry surface the cache consumes. *Client implements
// it; tests substitute a stub.
type Fetcher interface {
	FetchRoutes(ctx context.Context) ([]route.Definition, error)
	FetchInstances(ctx context.Context, serviceID string) ([]InstanceInfo, error)
}

// CacheConfig configures the route cache.
type CacheConfig struct {
	RegistryEnabled  bool
	PollInterval     time.Duration
	BootstrapTimeout time.Duration
	FallbackToLocal  bool

	LocalEnabled  bool
	LocalFile     string
	PriorityBoost int
	WatchLocal    bool
}

// Cache owns the current route table and the per-service instance sets.
// The table is rebuilt in full on each refresh and installed with an
// atomic pointer swap, so readers observe either the old table or the new
// one, never a partial state.
type Cache struct {
	fetcher Fetcher
	cfg     CacheConfig

	table atomic.Pointer[route.Table]

	mu           sync.Mutex // serializes refresh and rebuild
	remoteRoutes []*route.Route
	localRoutes  []*route.Route

	instMu    sync.RWMutex
	instances map[string][]*loadbalancer.Instance
	direct    map[string]*loadbalancer.Instance

	available  atomic.Bool
	lastUpdate atomic.Int64 // unix nanos of the last successful refresh

	cancel  context.CancelFunc
	done    chan struct{}
	watcher *fsnotify.Watcher
}

// NewCache creates a route cache. Call Start to load routes and begin
// polling.
func NewCache(fetcher Fetcher, cfg CacheConfig) *Cache {
	c := &Cache{
		fetcher:   fetcher,
		cfg:       cfg,
		instances: make(map[string][]*loadbalancer.Instance),
		direct:    make(map[string]*loadbalancer.Instance),
	}
	c.table.Store(route.NewTable(nil))
	return c
}

// Start loads local routes, performs the bootstrap refresh bounded by
// BootstrapTimeout, and launches the poll loop and local file watcher.
// Registry unavailability is not an error: the gateway proceeds with
// local-only routing.
func (c *Cache) Start() {
	c.loadLocal()
	c.rebuild()

	if !c.cfg.RegistryEnabled {
		logging.Info("Route cache started in local-only mode",
			zap.Int("local_routes", len(c.localRoutes)),
		)
		c.startWatcher()
		return
	}

	bootCtx, cancel := context.WithTimeout(context.Background(), c.cfg.BootstrapTimeout)
	if err := c.Refresh(bootCtx); err != nil {
		logging.Warn("Initial route refresh failed, continuing with local routes",
			zap.Error(err),
			zap.Int("local_routes", len(c.localRoutes)),
		)
	}
	cancel()

	loopCtx, loopCancel := context.WithCancel(context.Background())
	c.cancel = loopCancel
	c.done = make(chan struct{})
	go c.pollLoop(loopCtx)

	c.startWatcher()

	remote, local := c.Current().CountBySource()
	logging.Info("Route cache started",
		zap.Int("remote_routes", remote),
		zap.Int("local_routes", local),
		zap.Duration("poll_interval", c.cfg.PollInterval),
	)
}

// Stop terminates the poll loop and the file watcher.
func (c *Cache) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	if c.watcher != nil {
		c.watcher.Close()
	}
}

// Current returns the installed route table. Never nil after NewCache.
func (c *Cache) Current() *route.Table {
	return c.table.Load()
}

// RegistryAvailable reports whether the last refresh reached the registry.
func (c *Cache) RegistryAvailable() bool {
	return c.available.Load()
}

// LastUpdate returns the time of the last successful refresh.
func (c *Cache) LastUpdate() time.Time {
	n := c.lastUpdate.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Stale reports whether the cache has missed more than two poll intervals.
func (c *Cache) Stale() bool {
	if !c.cfg.RegistryEnabled {
		return false
	}
	n := c.lastUpdate.Load()
	if n == 0 {
		return true
	}
	return time.Since(time.Unix(0, n)) > 2*c.cfg.PollInterval
}

// Refresh fetches remote routes and instance sets and installs a new
// table. On fetch failure the previous table is retained, unless
// FallbackToLocal is set, in which case a local-only table is installed.
func (c *Cache) Refresh(ctx context.Context) error {
	defs, err := c.fetcher.FetchRoutes(ctx)
	if err != nil {
		c.available.Store(false)
		if c.cfg.FallbackToLocal {
			c.mu.Lock()
			c.remoteRoutes = nil
			c.rebuildLocked()
			c.mu.Unlock()
			logging.Warn("Registry unreachable, serving local routes only", zap.Error(err))
		} else {
			logging.Warn("Registry unreachable, retaining previous routes", zap.Error(err))
		}
		return fmt.Errorf("fetch routes: %w", err)
	}

	remote := make([]*route.Route, 0, len(defs))
	for _, def := range defs {
		r, err := def.Compile(route.SourceRemote)
		if err != nil {
			logging.Warn("Dropping malformed remote route",
				zap.String("route_id", def.RouteID),
				zap.Error(err),
			)
			continue
		}
		remote = append(remote, r)
	}

	c.mu.Lock()
	c.remoteRoutes = remote
	table := c.rebuildLocked()
	c.mu.Unlock()

	c.refreshInstances(ctx, table)

	c.available.Store(true)
	c.lastUpdate.Store(time.Now().UnixNano())
	return nil
}

// rebuild recomputes and installs the table from the current route sets.
func (c *Cache) rebuild() {
	c.mu.Lock()
	c.rebuildLocked()
	c.mu.Unlock()
}

func (c *Cache) rebuildLocked() *route.Table {
	merged := make([]*route.Route, 0, len(c.remoteRoutes)+len(c.localRoutes))
	merged = append(merged, c.remoteRoutes...)
	merged = append(merged, c.localRoutes...)
	table := route.NewTable(merged)
	c.table.Store(table)
	return table
}

// refreshInstances re-reads the healthy set of every service the table
// references. Per-service fetch errors keep the previous set.
func (c *Cache) refreshInstances(ctx context.Context, table *route.Table) {
	for _, serviceID := range table.ServiceIDs() {
		infos, err := c.fetcher.FetchInstances(ctx, serviceID)
		if err != nil {
			logging.Warn("Failed to refresh service instances",
				zap.String("service_id", serviceID),
				zap.Error(err),
			)
			continue
		}

		c.instMu.Lock()
		prev := make(map[string]*loadbalancer.Instance, len(c.instances[serviceID]))
		for _, inst := range c.instances[serviceID] {
			prev[inst.ID] = inst
		}

		next := make([]*loadbalancer.Instance, 0, len(infos))
		for _, info := range infos {
			if inst, ok := prev[info.InstanceID]; ok && inst.BaseURL == info.BaseURL {
				// Keep the existing object so active connection counts survive.
				inst.SetHealthy(info.Healthy)
				next = append(next, inst)
				continue
			}
			next = append(next, loadbalancer.NewInstance(info.InstanceID, info.BaseURL, info.Healthy))
		}
		c.instances[serviceID] = next
		c.instMu.Unlock()
	}
}

// InstancesFor returns the instance snapshot for a route's target. For
// direct-URL routes a single static instance is synthesized and cached so
// connection accounting persists across requests.
func (c *Cache) InstancesFor(r *route.Route) []*loadbalancer.Instance {
	if r.ServiceID != "" {
		return c.ServiceInstances(r.ServiceID)
	}

	c.instMu.RLock()
	inst, ok := c.direct[r.DirectURL]
	c.instMu.RUnlock()
	if ok {
		return []*loadbalancer.Instance{inst}
	}

	c.instMu.Lock()
	if inst, ok = c.direct[r.DirectURL]; !ok {
		inst = loadbalancer.NewInstance("direct:"+r.DirectURL, r.DirectURL, true)
		c.direct[r.DirectURL] = inst
	}
	c.instMu.Unlock()
	return []*loadbalancer.Instance{inst}
}

// ServiceInstances returns the cached instance snapshot for a service.
func (c *Cache) ServiceInstances(serviceID string) []*loadbalancer.Instance {
	c.instMu.RLock()
	defer c.instMu.RUnlock()
	return c.instances[serviceID]
}

// ReloadLocal re-reads the local routes file and reinstalls the table.
func (c *Cache) ReloadLocal() {
	c.loadLocal()
	c.rebuild()
}

func (c *Cache) loadLocal() {
	if !c.cfg.LocalEnabled {
		return
	}
	routes, err := route.LoadLocalRoutes(c.cfg.LocalFile, c.cfg.PriorityBoost)
	if err != nil {
		logging.Error("Failed to load local routes", zap.Error(err))
		return
	}
	c.mu.Lock()
	c.localRoutes = routes
	c.mu.Unlock()
	logging.Info("Loaded local routes", zap.Int("count", len(routes)))
}

func (c *Cache) pollLoop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshCtx, cancel := context.WithTimeout(ctx, c.cfg.PollInterval)
			if err := c.Refresh(refreshCtx); err != nil {
				logging.Debug("Route refresh failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// startWatcher reloads local routes when the file changes on disk.
func (c *Cache) startWatcher() {
	if !c.cfg.LocalEnabled || !c.cfg.WatchLocal || c.cfg.LocalFile == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("Local routes watcher unavailable", zap.Error(err))
		return
	}
	if err := watcher.Add(c.cfg.LocalFile); err != nil {
		logging.Debug("Local routes file not watchable",
			zap.String("path", c.cfg.LocalFile),
			zap.Error(err),
		)
		watcher.Close()
		return
	}
	c.watcher = watcher

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
					logging.Info("Local routes file changed, reloading",
						zap.String("path", ev.Name),
					)
					c.ReloadLocal()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("Local routes watcher error", zap.Error(err))
			}
		}
	}()
}
