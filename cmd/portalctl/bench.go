package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goPortal "github.com/MrEthical07/goPortal"
	"github.com/MrEthical07/goPortal/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type benchOptions struct {
	sessions    int
	concurrency int
	ops         int
	redisAddr   string
	prefix      string
}

func newBenchCmd() *cobra.Command {
	opts := benchOptions{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark route evaluation and session patching",
		Long: `bench seeds sessions in Redis (or an in-process miniredis), then runs
two phases: Engine.Evaluate on random portal paths, and Store.Apply of the
patches a verification success produces.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.sessions <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
				return fmt.Errorf("sessions, concurrency, and ops must be > 0")
			}
			return runBench(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().IntVar(&opts.sessions, "sessions", 10000, "number of sessions to seed")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 64, "number of concurrent workers")
	cmd.Flags().IntVar(&opts.ops, "ops", 50000, "operations per phase (evaluate + apply)")
	cmd.Flags().StringVar(&opts.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "gps", "session key prefix")
	return cmd
}

func runBench(ctx context.Context, out io.Writer, opts benchOptions) error {
	addr := opts.redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("failed to start miniredis: %w", err)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Fprintf(out, "using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Fprintf(out, "using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := goPortal.DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	engine, err := goPortal.New().
		WithConfig(cfg).
		WithRedis(client).
		WithTokenValidator(goPortal.TokenValidatorFunc(func(context.Context, goPortal.SessionState) (bool, error) {
			return true, nil
		})).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	store := session.NewStore(client, opts.prefix, 24*time.Hour)
	policy := benchPolicy()

	ids := make([]string, opts.sessions)
	fmt.Fprintf(out, "seeding %d sessions...\n", opts.sessions)
	startSeed := time.Now()
	for i := 0; i < opts.sessions; i++ {
		created, err := store.Create(ctx, policy.Slug, buildSession(i))
		if err != nil {
			return fmt.Errorf("seed failed: %w", err)
		}
		ids[i] = created.ID
	}
	fmt.Fprintf(out, "seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	evaluateStats := runEvaluatePhase(ctx, engine, store, policy, ids, opts.ops, opts.concurrency)
	applyStats := runApplyPhase(ctx, store, ids, opts.ops, opts.concurrency)

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "evaluate", evaluateStats)
	printStats(out, "apply", applyStats)

	snap := engine.MetricsSnapshot()
	fmt.Fprintf(out, "redirected=%d allowed=%d\n",
		snap.Counters[goPortal.MetricRouteRedirected],
		snap.Counters[goPortal.MetricRouteAllowed],
	)
	return nil
}

var benchPaths = []string{
	"/default/status",
	"/default/login",
	"/default/mobile-phone-verification",
	"/default/change-password",
	"/default/payment/draft",
	"/default/payment/success",
}

func runEvaluatePhase(ctx context.Context, engine *goPortal.Engine, store *session.Store, policy goPortal.OrganizationPolicy, ids []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				id := ids[r.Intn(len(ids))]
				req := goPortal.ParseRoute(benchPaths[r.Intn(len(benchPaths))])

				t0 := time.Now()
				record, err := store.Get(ctx, id)
				if err == nil {
					_, err = engine.Evaluate(ctx, record.State, policy, req)
				}
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
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

func runApplyPhase(ctx context.Context, store *session.Store, ids []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				id := ids[r.Intn(len(ids))]
				patch := goPortal.SessionPatch{
					goPortal.FieldIsVerified: goPortal.Bool(i%2 == 0),
					goPortal.FieldMustLogin:  goPortal.Bool(i%2 == 0),
				}

				t0 := time.Now()
				_, err := store.Apply(ctx, id, patch)
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
	total := time.Since(start)
	return computeStats(total, latencies, failures)
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

func printStats(out io.Writer, name string, s phaseStats) {
	fmt.Fprintf(out, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
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

func benchPolicy() goPortal.OrganizationPolicy {
	return goPortal.OrganizationPolicy{
		Slug:                           "default",
		MobilePhoneVerificationEnabled: true,
		SubscriptionsEnabled:           true,
		PaymentRequiresInternet:        true,
		PasswordChangeExcludedMethods:  goPortal.DefaultPasswordChangeExcludedMethods(),
	}
}

// buildSession spreads the seeded sessions over the verification methods.
func buildSession(i int) goPortal.SessionState {
	methods := []goPortal.VerificationMethod{
		goPortal.MethodMobilePhone,
		goPortal.MethodBankCard,
		goPortal.MethodSAML,
		goPortal.MethodOther,
	}
	return goPortal.SessionState{
		Username:        fmt.Sprintf("user-%d", i),
		IsAuthenticated: i%5 != 0,
		IsVerified:      i%3 == 0,
		IsActive:        true,
		Method:          methods[i%len(methods)],
		PhoneNumber:     "+39333" + fmt.Sprintf("%07d", i),
	}
}
