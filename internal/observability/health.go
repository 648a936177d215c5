package observability

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/oh-yeah-zzy/Hermes/internal/registry"
)

// Health serves the liveness payload.
type Health struct {
	start           time.Time
	cache           *registry.Cache
	registryEnabled bool
}

// NewHealth creates the health handler backed by the route cache.
func NewHealth(cache *registry.Cache, registryEnabled bool) *Health {
	return &Health{
		start:           time.Now(),
		cache:           cache,
		registryEnabled: registryEnabled,
	}
}

type healthPayload struct {
	Status        string       `json:"status"`
	UptimeSeconds float64      `json:"uptime_seconds"`
	Routes        routesHealth `json:"routes"`
	Registry      atlasHealth  `json:"registry"`
}

type routesHealth struct {
	Total  int `json:"total"`
	Remote int `json:"remote"`
	Local  int `json:"local"`
}

type atlasHealth struct {
	Enabled    bool   `json:"enabled"`
	Available  bool   `json:"available"`
	Stale      bool   `json:"stale"`
	LastUpdate string `json:"last_update,omitempty"`
}

// ServeHTTP writes the health payload.
func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	table := h.cache.Current()
	remote, local := table.CountBySource()

	payload := healthPayload{
		Status:        "ok",
		UptimeSeconds: time.Since(h.start).Seconds(),
		Routes: routesHealth{
			Total:  table.Len(),
			Remote: remote,
			Local:  local,
		},
		Registry: atlasHealth{
			Enabled:   h.registryEnabled,
			Available: h.cache.RegistryAvailable(),
			Stale:     h.cache.Stale(),
		},
	}
	if last := h.cache.LastUpdate(); !last.IsZero() {
		payload.Registry.LastUpdate = last.UTC().Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}
