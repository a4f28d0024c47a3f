// Command recovery-loadtest measures the Redis flow-session store behind the
// proxy: concurrent session reads, as on every verify and reset call, and
// token rotations, as after a successful verify.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	goRecovery "github.com/MrEthical07/goRecovery"
	"github.com/MrEthical07/goRecovery/proxy"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type flowState struct {
	id    string
	token string
	mu    sync.Mutex
}

func main() {
	var (
		flows       = flag.Int("flows", 50000, "number of flow sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (read + rotate)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "arf", "flow session key prefix")
		ttl         = flag.Duration("ttl", 15*time.Minute, "flow session ttl")
	)
	flag.Parse()

	if *flows <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "flows, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	client, cleanup, err := connect(*redisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	store := proxy.NewRedisSessionStore(client, *prefix)

	states := make([]flowState, *flows)
	fmt.Printf("seeding %d flow sessions...\n", *flows)
	startSeed := time.Now()
	for i := range states {
		states[i].id = fmt.Sprintf("flow-%d", i)
		states[i].token = fmt.Sprintf("tok-%d-0", i)
		err := store.Set(ctx, states[i].id, proxy.Session{
			Method:  goRecovery.MethodEmail,
			Contact: fmt.Sprintf("admin%d@example.com", i),
			Token:   states[i].token,
			OTPRef:  fmt.Sprintf("ref-%d", i),
		}, *ttl)
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	read := runPhase("read", states, *ops, *concurrency, func(s *flowState, _ int) error {
		_, err := store.Get(ctx, s.id)
		return err
	})
	rotate := runPhase("rotate", states, *ops, *concurrency, func(s *flowState, i int) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		next := fmt.Sprintf("%s-%d", s.id, i)
		if err := store.RotateToken(ctx, s.id, s.token, next); err != nil {
			return err
		}
		s.token = next
		return nil
	})

	report(os.Stdout, read, rotate)
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// runPhase spreads ops calls of op over concurrency workers, each picking a
// random flow per call.
func runPhase(name string, states []flowState, ops, concurrency int, op func(*flowState, int) error) *phaseResult {
	var (
		wg     sync.WaitGroup
		cursor atomic.Int64
	)
	res := &phaseResult{name: name, samples: make([]time.Duration, ops)}

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for {
				i := int(cursor.Add(1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(&states[r.Intn(len(states))], i)
				res.samples[i] = time.Since(t0)
				res.record(err)
			}
		}(time.Now().UnixNano() + int64(w))
	}
	wg.Wait()
	res.elapsed = time.Since(start)

	slices.Sort(res.samples)
	return res
}

type phaseResult struct {
	name     string
	elapsed  time.Duration
	samples  []time.Duration
	failures atomic.Int64
	missing  atomic.Int64
}

func (r *phaseResult) record(err error) {
	switch {
	case err == nil:
	case errors.Is(err, proxy.ErrSessionNotFound):
		r.missing.Add(1)
	default:
		r.failures.Add(1)
	}
}

// quantile expects sorted samples.
func (r *phaseResult) quantile(q float64) time.Duration {
	if len(r.samples) == 0 {
		return 0
	}
	idx := int(q * float64(len(r.samples)-1))
	return r.samples[idx].Round(time.Microsecond)
}

func (r *phaseResult) throughput() float64 {
	if r.elapsed <= 0 {
		return 0
	}
	return float64(len(r.samples)) / r.elapsed.Seconds()
}

func report(out io.Writer, results ...*phaseResult) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "phase\tops\tfailures\tmissing\ttotal\tops/sec\tp50\tp95\tp99")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%.0f\t%s\t%s\t%s\n",
			r.name,
			len(r.samples),
			r.failures.Load(),
			r.missing.Load(),
			r.elapsed.Round(time.Millisecond),
			r.throughput(),
			r.quantile(0.50),
			r.quantile(0.95),
			r.quantile(0.99),
		)
	}
	_ = tw.Flush()
}
