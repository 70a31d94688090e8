package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	panelauth "github.com/MrEthical07/panelAuth"
	"github.com/MrEthical07/panelAuth/middleware"
	"github.com/MrEthical07/panelAuth/password"
	"github.com/MrEthical07/panelAuth/permission"
	"github.com/MrEthical07/panelAuth/principal"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const securityRoute = "admin.security-center"

// mountSecurityCenter serves the administrator actions behind the
// security center page.
func mountSecurityCenter(r chi.Router, engine *panelauth.Engine, opts middleware.Options, logger *slog.Logger) {
	s := &securityCenter{engine: engine, logger: logger}

	r.Route("/api/security", func(r chi.Router) {
		r.Use(middleware.Guard(engine, securityRoute, opts))

		r.Get("/report", s.report)
		r.Get("/attempts", s.attempts)

		r.Post("/blocks", s.block)
		r.Get("/blocks/{key}", s.blockStatus)
		r.Delete("/blocks/{key}", s.unblock)

		r.Get("/principals/{id}/sessions", s.sessions)
		r.Post("/principals/{id}/unlock", s.principalAction(engine.UnlockPrincipal))
		r.Post("/principals/{id}/disable", s.principalAction(engine.DisableAccount))
		r.Post("/principals/{id}/enable", s.principalAction(engine.EnableAccount))
		r.Post("/principals/{id}/logout-all", s.principalAction(engine.LogoutAll))

		r.Get("/principals/{id}/api-keys", s.apiKeys)
		r.Delete("/api-keys/{keyID}", s.revokeAPIKey)
	})
}

type securityCenter struct {
	engine *panelauth.Engine
	logger *slog.Logger
}

func (s *securityCenter) report(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.SecurityReport())
}

type attemptsResponse struct {
	User *panelauth.LoginAttempts `json:"user,omitempty"`
	IP   *panelauth.LoginAttempts `json:"ip,omitempty"`
}

func (s *securityCenter) attempts(w http.ResponseWriter, r *http.Request) {
	var resp attemptsResponse
	if user := r.URL.Query().Get("user"); user != "" {
		a, err := s.engine.LoginAttemptsForUser(r.Context(), user)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		resp.User = &a
	}
	if ip := r.URL.Query().Get("ip"); ip != "" {
		a, err := s.engine.LoginAttemptsForIP(r.Context(), ip)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		resp.IP = &a
	}
	writeJSON(w, http.StatusOK, resp)
}

type blockRequest struct {
	Key      string `json:"key"`
	Duration string `json:"duration"`
}

func (s *securityCenter) block(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, panelauth.ErrInvalidRequest)
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		middleware.WriteError(w, panelauth.ErrInvalidRequest)
		return
	}
	if err := s.engine.Block(r.Context(), req.Key, d); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type blockStatusResponse struct {
	Blocked    bool  `json:"blocked"`
	RetryAfter int64 `json:"retry_after,omitempty"`
}

func (s *securityCenter) blockStatus(w http.ResponseWriter, r *http.Request) {
	blocked, retry, err := s.engine.IsBlocked(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, blockStatusResponse{Blocked: blocked, RetryAfter: int64(retry / time.Second)})
}

func (s *securityCenter) unblock(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Unblock(r.Context(), chi.URLParam(r, "key")); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *securityCenter) sessions(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.ActiveSessionCount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"active_sessions": n})
}

type apiKeySummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Scopes    []string  `json:"scopes"`
	PerMinute int       `json:"per_minute"`
	CreatedAt time.Time `json:"created_at"`
	Live      bool      `json:"live"`
}

func (s *securityCenter) apiKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.engine.ListAPIKeys(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	now := time.Now()
	out := make([]apiKeySummary, 0, len(keys))
	for _, k := range keys {
		out = append(out, apiKeySummary{
			ID:        k.ID,
			Name:      k.Name,
			Scopes:    k.Scopes.Names(),
			PerMinute: k.PerMinute,
			CreatedAt: k.CreatedAt,
			Live:      k.Live(now),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *securityCenter) revokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "keyID")
	if err := s.engine.RevokeAPIKey(r.Context(), id); err != nil {
		middleware.WriteError(w, err)
		return
	}
	s.logger.InfoContext(r.Context(), "security center action", "action", "revoke-api-key", "key_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *securityCenter) principalAction(action func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := action(r.Context(), id); err != nil {
			middleware.WriteError(w, err)
			return
		}
		s.logger.InfoContext(r.Context(), "security action", "path", r.URL.Path, "principal_id", id)
		w.WriteHeader(http.StatusNoContent)
	}
}

type principalCreator interface {
	Create(ctx context.Context, p principal.Principal) error
}

func bootstrapAdministrator(ctx context.Context, store principalCreator, cfg panelauth.Config, username, secret string) error {
	if len(secret) < cfg.Password.MinLength {
		return fmt.Errorf("bootstrap: PANELAUTH_BOOTSTRAP_PASSWORD must be at least %d characters", cfg.Password.MinLength)
	}
	if username == "" {
		return errors.New("bootstrap: empty username")
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxBytes,
	})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	hash, err := hasher.Hash(secret)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	return store.Create(ctx, principal.Principal{
		ID:             uuid.NewString(),
		Username:       username,
		Role:           permission.RoleAdmin,
		CredentialHash: hash,
		Status:         principal.StatusActive,
	})
}
