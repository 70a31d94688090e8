// Command panelauth-loadtest measures Authorize and Refresh throughput
// against a real Redis or an in-process miniredis.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	panelauth "github.com/MrEthical07/panelAuth"
	"github.com/MrEthical07/panelAuth/password"
	"github.com/MrEthical07/panelAuth/permission"
	"github.com/MrEthical07/panelAuth/principal"
	"github.com/MrEthical07/panelAuth/principal/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const (
	seedPassword = "load test passphrase"
	sourceIP     = "198.51.100.1"
)

// settings are read from LOADTEST_* variables; flags override them.
type settings struct {
	Principals  int    `env:"LOADTEST_PRINCIPALS,default=1000"`
	Concurrency int    `env:"LOADTEST_CONCURRENCY,default=64"`
	Ops         int    `env:"LOADTEST_OPS,default=100000"`
	Rate        int    `env:"LOADTEST_RATE,default=0"`
	RedisAddr   string `env:"REDIS_ADDR"`
}

type principalState struct {
	session *panelauth.Session
	mu      sync.Mutex
	refresh string
}

func main() {
	var s settings
	if err := envdecode.Decode(&s); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		fmt.Fprintf(os.Stderr, "environment: %v\n", err)
		os.Exit(2)
	}
	flag.IntVar(&s.Principals, "principals", s.Principals, "number of principals to seed, one session and token family each")
	flag.IntVar(&s.Concurrency, "concurrency", s.Concurrency, "number of concurrent workers")
	flag.IntVar(&s.Ops, "ops", s.Ops, "operations per phase (authorize + refresh)")
	flag.IntVar(&s.Rate, "rate", s.Rate, "operations per second across all workers; 0 is unpaced")
	flag.StringVar(&s.RedisAddr, "redis-addr", s.RedisAddr, "redis address; miniredis when empty")
	flag.Parse()

	if s.Principals <= 0 || s.Concurrency <= 0 || s.Ops <= 0 || s.Rate < 0 {
		fmt.Fprintln(os.Stderr, "principals, concurrency and ops must be > 0; rate must be >= 0")
		os.Exit(2)
	}

	ctx := context.Background()
	client, cleanup, err := redisClient(s.RedisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	engine, store, err := newEngine(client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d principals...\n", s.Principals)
	startSeed := time.Now()
	states, err := seed(ctx, engine, store, s.Principals)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	authorizeStats := runPhase(ctx, s, states, func(state *principalState) error {
		d := engine.Authorize(ctx, panelauth.Request{
			Route:        "user.dashboard",
			Method:       "GET",
			SourceIP:     sourceIP,
			SessionToken: state.session.Token,
		})
		return d.Err
	})
	refreshStats := runPhase(ctx, s, states, func(state *principalState) error {
		state.mu.Lock()
		defer state.mu.Unlock()
		pair, err := engine.Refresh(ctx, state.refresh)
		if err != nil {
			return err
		}
		state.refresh = pair.RefreshToken
		return nil
	})

	fmt.Println("---- results ----")
	printStats("authorize", authorizeStats)
	printStats("refresh", refreshStats)
}

func redisClient(addr string) (redis.UniversalClient, func(), error) {
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// newEngine disables the abuse controls so every operation reaches the
// stores, and uses the cheapest accepted Argon2 cost so seeding is fast.
func newEngine(client redis.UniversalClient) (*panelauth.Engine, *memory.Store, error) {
	cfg := panelauth.DefaultConfig()
	cfg.Token.SigningKey = []byte("panelauth-loadtest-signing-key-0123456789")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Login.MaxAttempts = 1 << 20
	cfg.RateLimit.Enabled = false
	cfg.Threat.Enabled = false
	cfg.Store.OperationTimeout = 10 * time.Second

	store := memory.New()
	engine, err := panelauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithPrincipalStore(store).
		Build()
	return engine, store, err
}

func seed(ctx context.Context, engine *panelauth.Engine, store *memory.Store, n int) ([]principalState, error) {
	cfg := engine.Config()
	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	hash, err := hasher.Hash(seedPassword)
	if err != nil {
		return nil, err
	}

	states := make([]principalState, n)
	for i := range states {
		username := fmt.Sprintf("load-%d", i)
		store.Put(principal.Principal{
			Username:       username,
			Role:           permission.RoleUser,
			CredentialHash: hash,
		})
		req := panelauth.LoginRequest{Username: username, Password: seedPassword, SourceIP: sourceIP}

		s, err := engine.Login(ctx, req)
		if err != nil {
			return nil, err
		}
		pair, err := engine.IssueTokens(ctx, req)
		if err != nil {
			return nil, err
		}
		states[i].session = s
		states[i].refresh = pair.RefreshToken
	}
	return states, nil
}

func runPhase(ctx context.Context, s settings, states []principalState, op func(*principalState) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, s.Ops)
		mu        sync.Mutex
	)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if s.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.Rate), s.Concurrency)
	}

	start := time.Now()
	for w := 0; w < s.Concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= s.Ops {
					return
				}
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				state := &states[r.Intn(len(states))]
				t0 := time.Now()
				err := op(state)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
