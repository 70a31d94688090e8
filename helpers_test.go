package panelauth

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/panelAuth/internal/testutil"
	"github.com/MrEthical07/panelAuth/permission"
	"github.com/MrEthical07/panelAuth/principal"
	"github.com/MrEthical07/panelAuth/principal/memory"
	"github.com/alicebob/miniredis/v2"
)

const (
	testIP       = "203.0.113.7"
	testPassword = "correct horse battery"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

type captureSink struct {
	events chan AuditEvent
}

func newCaptureSink(buffer int) *captureSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &captureSink{events: make(chan AuditEvent, buffer)}
}

func (s *captureSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// next waits for the first event of eventType, discarding others.
func (s *captureSink) next(t *testing.T, eventType string) AuditEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.events:
			if ev.EventType == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %q audit event", eventType)
			return AuditEvent{}
		}
	}
}

type testEnv struct {
	engine *Engine
	store  *memory.Store
	clock  *testutil.Clock
	mr     *miniredis.Miniredis
	sink   *captureSink
}

// testConfig returns a valid config with cheap Argon2 parameters and
// audit and metrics enabled.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.SigningKey = append([]byte(nil), testSigningKey...)
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 256
	cfg.Audit.DropIfFull = false
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func newTestEnv(t testing.TB, mutate ...func(*Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	rdb, mr := testutil.NewRedis(t)
	clock := testutil.NewClock()
	store := memory.New()
	sink := newCaptureSink(256)

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithPrincipalStore(store).
		WithAuditSink(sink).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, store: store, clock: clock, mr: mr, sink: sink}
}

func (env *testEnv) addPrincipal(t testing.TB, username string, role permission.Role, tenantID string) string {
	t.Helper()

	hash, err := env.engine.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	return env.store.Put(principal.Principal{
		Username:       username,
		TenantID:       tenantID,
		Role:           role,
		CredentialHash: hash,
		Status:         principal.StatusActive,
	})
}

func (env *testEnv) login(t testing.TB, username string) *Session {
	t.Helper()

	s, err := env.engine.Login(context.Background(), LoginRequest{
		Username: username,
		Password: testPassword,
		SourceIP: testIP,
	})
	if err != nil {
		t.Fatalf("Login(%s) failed: %v", username, err)
	}
	return s
}

func (env *testEnv) tokens(t testing.TB, username string) *TokenPair {
	t.Helper()

	pair, err := env.engine.IssueTokens(context.Background(), LoginRequest{
		Username: username,
		Password: testPassword,
		SourceIP: testIP,
	})
	if err != nil {
		t.Fatalf("IssueTokens(%s) failed: %v", username, err)
	}
	return pair
}

func assertKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if got := KindOf(err); got != want {
		t.Fatalf("expected kind %s, got %s (err=%v)", want, got, err)
	}
}
