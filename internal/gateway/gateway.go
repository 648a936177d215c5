package gateway

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/oh-yeah-zzy/Hermes/internal/circuitbreaker"
	"github.com/oh-yeah-zzy/Hermes/internal/config"
	"github.com/oh-yeah-zzy/Hermes/internal/errors"
	"github.com/oh-yeah-zzy/Hermes/internal/loadbalancer"
	"github.com/oh-yeah-zzy/Hermes/internal/logging"
	"github.com/oh-yeah-zzy/Hermes/internal/middleware"
	"github.com/oh-yeah-zzy/Hermes/internal/observability"
	"github.com/oh-yeah-zzy/Hermes/internal/plugin"
	"github.com/oh-yeah-zzy/Hermes/internal/proxy"
	"github.com/oh-yeah-zzy/Hermes/internal/ratelimit"
	"github.com/oh-yeah-zzy/Hermes/internal/registry"
	"github.com/oh-yeah-zzy/Hermes/internal/route"
)

// Reserved paths served locally. They take precedence over routing and
// never enter the proxy pipeline.
const (
	healthPath  = "/health"
	metricsPath = "/metrics"
)

// Gateway wires the route cache, plugin chain, balancer and proxy into a
// single request pipeline. One Gateway owns all per-process policy state;
// tests create a fresh instance per case.
type Gateway struct {
	cfg       *config.Config
	cache     *registry.Cache
	chain     *plugin.Chain
	balancer  loadbalancer.Balancer
	forwarder *proxy.Forwarder
	metrics   *observability.Metrics
	health    *observability.Health
	handler   http.Handler
}

// New assembles a gateway from config and an already-constructed route
// cache.
func New(cfg *config.Config, cache *registry.Cache) (*Gateway, error) {
	limiter, err := ratelimit.New(ratelimit.Config{
		GlobalQPS:       cfg.RateLimit.GlobalQPS,
		PerRouteQPS:     cfg.RateLimit.PerRouteQPS,
		PerIPQPS:        cfg.RateLimit.PerIPQPS,
		BurstMultiplier: cfg.RateLimit.BurstMultiplier,
		IPMapCapacity:   cfg.RateLimit.IPMapCapacity,
	})
	if err != nil {
		return nil, err
	}

	breakers := circuitbreaker.NewManager(
		cfg.CircuitBreaker.FailureThreshold,
		cfg.CircuitBreaker.SuccessThreshold,
		cfg.CircuitBreaker.Timeout,
	)

	g := &Gateway{
		cfg:      cfg,
		cache:    cache,
		balancer: loadbalancer.New(cfg.LoadBalanceStrategy),
		forwarder: proxy.New(proxy.Config{
			MaxRetries:  cfg.Proxy.MaxRetries,
			BufferLimit: cfg.Proxy.BufferLimit,
		}),
		metrics: observability.NewMetrics(),
		health:  observability.NewHealth(cache, cfg.Registry.Enabled),
	}

	rateLimitPlugin := plugin.NewRateLimit(limiter, cfg.RateLimit.Enabled)
	rateLimitPlugin.Denied = g.metrics.RecordRateLimitDenied

	breakerPlugin := plugin.NewCircuitBreaker(breakers, cfg.CircuitBreaker.Enabled)
	breakerPlugin.StateChanged = func(target string, state circuitbreaker.State) {
		g.metrics.SetBreakerState(target, int(state))
	}

	g.chain = plugin.NewChain(
		plugin.NewAuthentication(cache, cfg.Auth.Enabled, cfg.Auth.DegradeAllow, cfg.Auth.Timeout),
		rateLimitPlugin,
		breakerPlugin,
		plugin.NewHeaderTransform(true),
	)

	g.handler = middleware.RequestID()(http.HandlerFunc(g.handle))
	return g, nil
}

// Handler returns the gateway's HTTP entry point.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

func (g *Gateway) handle(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case healthPath:
		g.health.ServeHTTP(w, r)
		return
	case metricsPath:
		// Reserved even when disabled; never reaches the proxy pipeline.
		if g.cfg.MetricsEnabled {
			g.metrics.Handler().ServeHTTP(w, r)
		} else {
			http.NotFound(w, r)
		}
		return
	}

	g.proxyRequest(w, r)
}

func (g *Gateway) proxyRequest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := middleware.GetRequestID(r)
	clientIP := middleware.ClientIP(r)

	table := g.cache.Current()
	remote, local := table.CountBySource()
	g.metrics.SetRouteCounts(remote, local)
	g.metrics.SetRegistryUp(g.cache.RegistryAvailable())

	rt := table.Match(r.Method, r.URL.Path)
	if rt == nil {
		logging.Debug("No route matched",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID),
		)
		errors.ErrNoRoute.WithPath(r.URL.Path).WriteJSON(w)
		g.metrics.RecordRequest("", r.Method, http.StatusNotFound, time.Since(start))
		return
	}

	ctx := plugin.NewContext(r, rt, requestID, clientIP)

	sc, mark := g.chain.Before(ctx)
	if sc != nil {
		g.chain.After(ctx, nil, mark)
		sc.Write(w)
		g.metrics.RecordRequest(rt.ID, r.Method, sc.Status, time.Since(start))
		return
	}

	reqCtx, cancel := context.WithTimeout(r.Context(), g.cfg.Proxy.Timeout)
	defer cancel()

	pick := func() *loadbalancer.Instance {
		return g.balancer.Pick(rt.TargetKey(), g.cache.InstancesFor(rt))
	}

	resp, inst, err := g.forwarder.Forward(reqCtx, r, rt, pick, plugin.ForwardHeader(ctx), requestID, clientIP)
	if err != nil {
		ctx.UpstreamErr = err
		g.chain.After(ctx, nil, mark)
		g.writeError(w, r, err, requestID)
		status := http.StatusBadGateway
		if ge, ok := errors.IsGatewayError(err); ok {
			status = ge.Code
		}
		g.metrics.RecordRequest(rt.ID, r.Method, status, time.Since(start))
		return
	}
	defer inst.Release()
	defer resp.Body.Close()

	resp = g.chain.After(ctx, resp, mark)

	g.writeResponse(w, resp)

	logging.Debug("Proxied request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("route_id", rt.ID),
		zap.String("instance", inst.ID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	g.metrics.RecordRequest(rt.ID, r.Method, resp.StatusCode, time.Since(start))
}

// writeError maps a forwarding error onto the client response. Nothing is
// written when the client already went away.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error, requestID string) {
	ge, ok := errors.IsGatewayError(err)
	if !ok {
		ge = errors.ErrBadUpstream
	}
	if ge.Kind == "client_closed" {
		return
	}

	logging.Warn("Upstream request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", requestID),
		zap.Error(err),
	)
	ge.WithRequestID(requestID).WriteJSON(w)
}

// writeResponse streams the upstream response to the client, dropping
// hop-by-hop headers and flushing as chunks arrive.
func (g *Gateway) writeResponse(w http.ResponseWriter, resp *http.Response) {
	header := w.Header()
	for k, vv := range resp.Header {
		header[k] = append(header[k][:0:0], vv...)
	}
	plugin.RemoveHopHeaders(header)

	w.WriteHeader(resp.StatusCode)

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		io.Copy(w, resp.Body)
		return
	}
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			flusher.Flush()
		}
		if err != nil {
			return
		}
	}
}

// Routes exposes the installed table, for the admin surface and tests.
func (g *Gateway) Routes() []*route.Route {
	return g.cache.Current().Routes()
}
