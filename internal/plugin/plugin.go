package plugin

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/oh-yeah-zzy/Hermes/internal/route"
)

// Built-in plugin priorities. Lower numbers run first in the before phase.
const (
	PriorityAuthentication  = 50
	PriorityRateLimit       = 100
	PriorityCircuitBreaker  = 200
	PriorityHeaderTransform = 300
)

// Context is the per-request record threaded through the plugin chain.
type Context struct {
	Request   *http.Request
	Route     *route.Route
	RequestID string
	ClientIP  string
	StartTime time.Time

	// Scratch is the only mutable slot, indexed by plugin name.
	Scratch map[string]any

	// UpstreamErr is set by the gateway when forwarding failed; after
	// hooks inspect it to classify the outcome.
	UpstreamErr error

	shortCircuit *Response
}

// NewContext creates a plugin context for a request.
func NewContext(r *http.Request, rt *route.Route, requestID, clientIP string) *Context {
	return &Context{
		Request:   r,
		Route:     rt,
		RequestID: requestID,
		ClientIP:  clientIP,
		StartTime: time.Now(),
		Scratch:   make(map[string]any),
	}
}

// Method returns the request method.
func (c *Context) Method() string { return c.Request.Method }

// Path returns the request path.
func (c *Context) Path() string { return c.Request.URL.Path }

// RespondNow short-circuits the before phase with the given response.
func (c *Context) RespondNow(resp *Response) {
	c.shortCircuit = resp
}

// ShortCircuited returns the short-circuit response, if any.
func (c *Context) ShortCircuited() *Response {
	return c.shortCircuit
}

// Response is a locally generated response used to short-circuit the
// pipeline (auth redirect, 429, 503, ...).
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// NewJSONResponse builds a Response with a JSON body.
func NewJSONResponse(status int, body interface{}) *Response {
	data, _ := json.Marshal(body)
	h := make(http.Header, 2)
	h.Set("Content-Type", "application/json")
	return &Response{Status: status, Header: h, Body: data}
}

// Write sends the response to the client.
func (r *Response) Write(w http.ResponseWriter) {
	for k, vv := range r.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(r.Status)
	if len(r.Body) > 0 {
		w.Write(r.Body)
	}
}

// Plugin is a pipeline filter. Before may short-circuit via
// Context.RespondNow; After may rewrite the upstream response. resp is nil
// when the request never produced one (short circuit or transport error).
// Plugins must be safe for concurrent use.
type Plugin interface {
	Name() string
	Priority() int
	Enabled() bool
	Before(ctx *Context)
	After(ctx *Context, resp *http.Response) *http.Response
}

// Chain dispatches an ordered plugin list. Composition is fixed at
// startup; plugins never hold a reference to the chain.
type Chain struct {
	plugins []Plugin
}

// NewChain creates a chain sorted by ascending priority.
func NewChain(plugins ...Plugin) *Chain {
	sorted := make([]Plugin, len(plugins))
	copy(sorted, plugins)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Chain{plugins: sorted}
}

// Plugins returns the chain's plugins in before-phase order.
func (ch *Chain) Plugins() []Plugin {
	return ch.plugins
}

// Before invokes each enabled plugin in ascending priority. A short
// circuit halts traversal. The returned mark identifies the last invoked
// plugin and must be passed to After so the phases pair symmetrically.
func (ch *Chain) Before(ctx *Context) (sc *Response, mark int) {
	mark = -1
	for i, p := range ch.plugins {
		if !p.Enabled() {
			continue
		}
		mark = i
		p.Before(ctx)
		if ctx.shortCircuit != nil {
			return ctx.shortCircuit, mark
		}
	}
	return nil, mark
}

// After invokes plugins in descending priority, starting from the mark
// returned by Before, so only plugins whose before hook ran see the
// response.
func (ch *Chain) After(ctx *Context, resp *http.Response, mark int) *http.Response {
	for i := mark; i >= 0; i-- {
		p := ch.plugins[i]
		if !p.Enabled() {
			continue
		}
		resp = p.After(ctx, resp)
	}
	return resp
}
