package plugin

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/oh-yeah-zzy/Hermes/internal/circuitbreaker"
	"github.com/oh-yeah-zzy/Hermes/internal/logging"
)

const breakerScratchKey = "circuit_breaker"

// CircuitBreaker guards each upstream target with a per-target state
// machine. Open targets are rejected with 503 before the proxy runs.
type CircuitBreaker struct {
	manager *circuitbreaker.Manager
	enabled bool

	// StateChanged, when set, receives the target and state after every
	// recorded outcome, for metrics.
	StateChanged func(target string, state circuitbreaker.State)
}

// NewCircuitBreaker creates the breaker plugin.
func NewCircuitBreaker(manager *circuitbreaker.Manager, enabled bool) *CircuitBreaker {
	return &CircuitBreaker{manager: manager, enabled: enabled}
}

func (p *CircuitBreaker) Name() string  { return "circuit_breaker" }
func (p *CircuitBreaker) Priority() int { return PriorityCircuitBreaker }
func (p *CircuitBreaker) Enabled() bool { return p.enabled }

// Before consults the target's breaker. Rejected requests short-circuit
// with 503 and never reach the proxy; admitted ones park the completion
// callback in the scratch for After.
func (p *CircuitBreaker) Before(ctx *Context) {
	if ctx.Route == nil {
		return
	}
	target := ctx.Route.TargetKey()
	breaker := p.manager.Get(target)

	done, err := breaker.Allow()
	if err != nil {
		logging.Warn("Circuit breaker rejected request",
			zap.String("target", target),
			zap.String("path", ctx.Path()),
			zap.String("state", breaker.State().String()),
		)
		resp := NewJSONResponse(http.StatusServiceUnavailable, map[string]string{
			"error":  "upstream_unavailable",
			"target": target,
		})
		resp.Header.Set("Retry-After", strconv.Itoa(int(breaker.Timeout().Seconds())))
		resp.Header.Set("X-Circuit-State", breaker.State().String())
		ctx.RespondNow(resp)
		return
	}

	ctx.Scratch[breakerScratchKey] = done
}

// After classifies the outcome and reports it to the breaker. Upstream
// 5xx and transport errors count as failures, 4xx does not; a request
// that never produced an upstream verdict releases its admission without
// moving the state machine.
func (p *CircuitBreaker) After(ctx *Context, resp *http.Response) *http.Response {
	done, ok := ctx.Scratch[breakerScratchKey].(func(circuitbreaker.Outcome))
	if !ok {
		return resp
	}

	switch {
	case ctx.UpstreamErr != nil && errors.Is(ctx.UpstreamErr, context.Canceled):
		done(circuitbreaker.Canceled)
	case ctx.UpstreamErr != nil:
		done(circuitbreaker.Failure)
	case resp != nil && resp.StatusCode >= 500:
		done(circuitbreaker.Failure)
	case resp != nil:
		done(circuitbreaker.Success)
	default:
		done(circuitbreaker.Canceled)
	}

	if ctx.Route != nil {
		breaker := p.manager.Get(ctx.Route.TargetKey())
		state := breaker.State()
		if resp != nil {
			resp.Header.Set("X-Circuit-State", state.String())
		}
		if p.StateChanged != nil {
			p.StateChanged(ctx.Route.TargetKey(), state)
		}
	}

	return resp
}
