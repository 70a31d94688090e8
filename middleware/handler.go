package middleware

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	panelauth "github.com/MrEthical07/panelAuth"
	"github.com/MrEthical07/panelAuth/permission"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

const maxBodyBytes = 8 << 10

const logoutRoute = "account.logout"
const passwordRoute = "account.password"
const apiKeysRoute = "account.api-keys"

// Handler serves the authentication endpoints of the panel.
type Handler struct {
	engine *panelauth.Engine
	opts   Options
	logger *slog.Logger
}

// NewHandler returns a Handler. A nil logger discards.
func NewHandler(engine *panelauth.Engine, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{engine: engine, opts: opts.withDefaults(), logger: logger}
}

// CORSOptions returns the CORS settings for a browser panel served from
// origins. Credentials are allowed so the session cookie travels.
func (h *Handler) CORSOptions(origins []string) cors.Options {
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID", h.opts.APIKeyHeader, h.opts.Cookie.CSRFHeader},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

// Routes returns the router for the authentication endpoints. Mount it
// under a prefix such as /auth.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/login", h.login)
	r.Post("/token", h.issueTokens)
	r.Post("/refresh", h.refresh)
	r.Post("/revoke", h.revoke)

	r.Group(func(r chi.Router) {
		r.Use(RequireSession(h.engine, logoutRoute, h.opts))
		r.Post("/logout", h.logout)
		r.Post("/logout-all", h.logoutAll)
	})
	r.Group(func(r chi.Router) {
		r.Use(Guard(h.engine, passwordRoute, h.opts))
		r.Post("/password", h.changePassword)
	})
	r.Group(func(r chi.Router) {
		r.Use(RequireSession(h.engine, apiKeysRoute, h.opts))
		r.Get("/api-keys", h.listAPIKeys)
		r.Post("/api-keys", h.createAPIKey)
		r.Delete("/api-keys/{keyID}", h.revokeAPIKey)
	})
	return r
}

type credentialsBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	CSRFToken string    `json:"csrf_token"`
	Redirect  string    `json:"redirect"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if !h.decode(w, r, &body) {
		return
	}
	ctx := requestContext(r)

	s, err := h.engine.Login(ctx, panelauth.LoginRequest{
		Username: body.Username,
		Password: body.Password,
		SourceIP: clientIP(r),
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	SetSessionCookie(w, h.opts.Cookie, s)
	writeJSON(w, http.StatusOK, loginResponse{
		CSRFToken: s.CSRFToken,
		Redirect:  permission.Dashboard(s.Role),
		ExpiresAt: s.ExpiresAt,
	})
}

func (h *Handler) issueTokens(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if !h.decode(w, r, &body) {
		return
	}

	pair, err := h.engine.IssueTokens(requestContext(r), panelauth.LoginRequest{
		Username: body.Username,
		Password: body.Password,
		SourceIP: clientIP(r),
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if !h.decode(w, r, &body) {
		return
	}

	pair, err := h.engine.Refresh(requestContext(r), body.RefreshToken)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type revokeBody struct {
	Token string `json:"token"`
	// TokenTypeHint is "access_token" or "refresh_token" (the default).
	TokenTypeHint string `json:"token_type_hint"`
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	var body revokeBody
	if !h.decode(w, r, &body) {
		return
	}
	ctx := requestContext(r)

	var err error
	switch body.TokenTypeHint {
	case "access_token":
		err = h.engine.RevokeAccessToken(ctx, body.Token)
	case "", "refresh_token":
		err = h.engine.RevokeRefreshToken(ctx, body.Token)
	default:
		writeDenial(w, panelauth.KindInvalidRequest, 0, "")
		return
	}
	if err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	d, _ := DecisionFromContext(r.Context())
	if err := h.engine.Logout(r.Context(), d.Session.Token); err != nil {
		WriteError(w, err)
		return
	}
	ClearSessionCookie(w, h.opts.Cookie)
	writeJSON(w, http.StatusOK, loginResponse{Redirect: permission.Dashboard(permission.RoleUnknown)})
}

func (h *Handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	d, _ := DecisionFromContext(r.Context())
	if err := h.engine.LogoutAll(r.Context(), d.Identity.ID); err != nil {
		WriteError(w, err)
		return
	}
	ClearSessionCookie(w, h.opts.Cookie)
	writeJSON(w, http.StatusOK, loginResponse{Redirect: permission.Dashboard(permission.RoleUnknown)})
}

type passwordBody struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var body passwordBody
	if !h.decode(w, r, &body) {
		return
	}
	d, _ := DecisionFromContext(r.Context())

	if err := h.engine.ChangePassword(r.Context(), d.Identity.ID, body.OldPassword, body.NewPassword); err != nil {
		WriteError(w, err)
		return
	}
	if d.Session != nil {
		ClearSessionCookie(w, h.opts.Cookie)
	}
	w.WriteHeader(http.StatusNoContent)
}

type apiKeyBody struct {
	Name       string   `json:"name"`
	Scopes     []string `json:"scopes"`
	PerMinute  int      `json:"per_minute"`
	TTLSeconds int64    `json:"ttl_seconds"`
}

type apiKeyView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Scopes     []string   `json:"scopes"`
	PerMinute  int        `json:"per_minute"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Revoked    bool       `json:"revoked"`
	// Key is only present in the creation response.
	Key string `json:"key,omitempty"`
}

func newAPIKeyView(k *panelauth.APIKey) apiKeyView {
	v := apiKeyView{
		ID:        k.ID,
		Name:      k.Name,
		Scopes:    k.Scopes.Names(),
		PerMinute: k.PerMinute,
		CreatedAt: k.CreatedAt,
		Revoked:   k.Revoked,
	}
	if !k.ExpiresAt.IsZero() {
		v.ExpiresAt = &k.ExpiresAt
	}
	if !k.LastUsedAt.IsZero() {
		v.LastUsedAt = &k.LastUsedAt
	}
	return v
}

func (h *Handler) createAPIKey(w http.ResponseWriter, r *http.Request) {
	var body apiKeyBody
	if !h.decode(w, r, &body) {
		return
	}
	var scopes permission.Mask64
	for _, name := range body.Scopes {
		s, err := permission.ParseScope(name)
		if err != nil {
			writeDenial(w, panelauth.KindInvalidRequest, 0, "")
			return
		}
		scopes.Set(s)
	}
	d, _ := DecisionFromContext(r.Context())

	raw, key, err := h.engine.CreateAPIKey(r.Context(), d.Identity.ID, panelauth.APIKeyRequest{
		Name:      body.Name,
		Scopes:    scopes,
		PerMinute: body.PerMinute,
		TTL:       time.Duration(body.TTLSeconds) * time.Second,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	v := newAPIKeyView(key)
	v.Key = raw
	writeJSON(w, http.StatusCreated, v)
}

func (h *Handler) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	d, _ := DecisionFromContext(r.Context())
	keys, err := h.engine.ListAPIKeys(r.Context(), d.Identity.ID)
	if err != nil {
		WriteError(w, err)
		return
	}
	out := make([]apiKeyView, 0, len(keys))
	for i := range keys {
		out = append(out, newAPIKeyView(&keys[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// revokeAPIKey only revokes keys owned by the caller; another principal's
// key id is reported as not found.
func (h *Handler) revokeAPIKey(w http.ResponseWriter, r *http.Request) {
	d, _ := DecisionFromContext(r.Context())
	id := chi.URLParam(r, "keyID")

	keys, err := h.engine.ListAPIKeys(r.Context(), d.Identity.ID)
	if err != nil {
		WriteError(w, err)
		return
	}
	owned := false
	for _, k := range keys {
		if k.ID == id {
			owned = true
			break
		}
	}
	if !owned {
		writeDenial(w, panelauth.KindInvalidRequest, 0, "")
		return
	}
	if err := h.engine.RevokeAPIKey(r.Context(), id); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.WarnContext(r.Context(), "request body too large", "path", r.URL.Path)
		}
		writeDenial(w, panelauth.KindInvalidRequest, 0, "")
		return false
	}
	return true
}
