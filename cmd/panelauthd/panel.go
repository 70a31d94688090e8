package main

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	panelauth "github.com/MrEthical07/panelAuth"
	"github.com/MrEthical07/panelAuth/middleware"
	"github.com/MrEthical07/panelAuth/permission"
	"github.com/go-chi/chi/v5"
)

// routePath maps a route id such as "admin.ip-manager" to "/admin/ip-manager".
func routePath(id string) string {
	return "/" + strings.ReplaceAll(id, ".", "/")
}

// mountPanel guards one endpoint per route id. Each answers with the
// identity the engine resolved, for use as an auth subrequest target by
// the panel's reverse proxy.
func mountPanel(r chi.Router, engine *panelauth.Engine, opts middleware.Options) {
	routes := permission.DefaultRoutes()
	ids := make([]string, 0, len(routes))
	for id := range routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		r.With(middleware.Guard(engine, id, opts)).HandleFunc(routePath(id), identityHandler(id))
	}
}

type identityResponse struct {
	Route       string `json:"route"`
	PrincipalID string `json:"principal_id"`
	TenantID    string `json:"tenant_id,omitempty"`
	Role        string `json:"role"`
	Dashboard   string `json:"dashboard"`
}

func identityHandler(route string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, ok := middleware.DecisionFromContext(r.Context())
		if !ok || d.Identity == nil {
			http.Error(w, "no decision", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, identityResponse{
			Route:       route,
			PrincipalID: d.Identity.ID,
			TenantID:    d.Identity.TenantID,
			Role:        d.Role.String(),
			Dashboard:   d.RedirectTarget,
		})
	}
}

type healthResponse struct {
	Status       string `json:"status"`
	RedisLatency string `json:"redis_latency,omitempty"`
}

func healthHandler(engine *panelauth.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := engine.Health(r.Context())
		if !h.RedisAvailable {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "redis unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", RedisLatency: h.RedisLatency.Round(time.Microsecond).String()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
