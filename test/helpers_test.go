//go:build integration
// +build integration

package test

import (
	"context"
	"testing"

	panelauth "github.com/MrEthical07/panelAuth"
	"github.com/MrEthical07/panelAuth/password"
	"github.com/MrEthical07/panelAuth/permission"
	"github.com/MrEthical07/panelAuth/principal"
	"github.com/MrEthical07/panelAuth/principal/memory"
	"github.com/redis/go-redis/v9"
)

const (
	testPassword = "integration passphrase"
	testIP       = "192.0.2.10"
)

func integrationConfig() panelauth.Config {
	cfg := panelauth.DefaultConfig()
	cfg.Token.SigningKey = []byte("integration-signing-key-0123456789ab")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

type harness struct {
	engine *panelauth.Engine
	store  *memory.Store
	hash   string
}

func newHarness(t *testing.T, rdb redis.UniversalClient, mutate ...func(*panelauth.Config)) *harness {
	t.Helper()

	cfg := integrationConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	hash, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	store := memory.New()
	engine, err := panelauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithPrincipalStore(store).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	return &harness{engine: engine, store: store, hash: hash}
}

func (h *harness) add(username string, role permission.Role, tenantID string) string {
	return h.store.Put(principal.Principal{
		Username:       username,
		Role:           role,
		TenantID:       tenantID,
		CredentialHash: h.hash,
	})
}

func (h *harness) login(t *testing.T, username string) *panelauth.Session {
	t.Helper()
	s, err := h.engine.Login(context.Background(), panelauth.LoginRequest{Username: username, Password: testPassword, SourceIP: testIP})
	if err != nil {
		t.Fatalf("Login(%s): %v", username, err)
	}
	return s
}

func (h *harness) tokens(t *testing.T, username string) *panelauth.TokenPair {
	t.Helper()
	p, err := h.engine.IssueTokens(context.Background(), panelauth.LoginRequest{Username: username, Password: testPassword, SourceIP: testIP})
	if err != nil {
		t.Fatalf("IssueTokens(%s): %v", username, err)
	}
	return p
}
