package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"escrowflow/order"
	"escrowflow/test/actors"
	"escrowflow/test/chaos"
	"escrowflow/test/infra"
	"escrowflow/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func seedRNG(seed int64) { rand.Seed(seed) }

func TestEscrowConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	seedRNG(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	seedData := mustSeed(t, ctx, pool)
	repo := order.NewRepository(pool)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	// buyers race to open orders; payers deliver duplicate charge events
	for i := 0; i < *flConcurrency; i++ {
		buyerID := seedData.buyers[i%len(seedData.buyers)]
		g.Go(func() error { return actors.Buyer(ctx2, pool, repo, buyerID, stop) })
		g.Go(func() error { return actors.Payer(ctx2, pool, repo, stop) })
	}

	// two shippers fight over the same PAID rows
	g.Go(func() error { return actors.Shipper(ctx2, pool, repo, stop) })
	g.Go(func() error { return actors.Shipper(ctx2, pool, repo, stop) })
	// accepter and disputer race for each SHIPPED order
	g.Go(func() error { return actors.Accepter(ctx2, pool, repo, stop) })
	g.Go(func() error { return actors.Disputer(ctx2, pool, repo, stop) })
	// arbiter resolves whatever disputes the disputer froze
	g.Go(func() error { return actors.Arbiter(ctx2, pool, repo, seedData.arbiter, stop) })
	// outbox worker
	g.Go(func() error { return actors.OutboxWorker(ctx2, pool, stop) })
	// chaos: kill random backend
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

type seedIDs struct {
	buyers  []string
	sellers []string
	arbiter string
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool) seedIDs {
	t.Helper()
	var s seedIDs

	insertUser := func(role string) string {
		var id string
		err := pool.QueryRow(ctx,
			`INSERT INTO users (email, full_name, password_hash, role) VALUES ($1, $2, 'x', $3) RETURNING id`,
			fmt.Sprintf("stress%d@example.com", rand.Int63()), "Stress User", role).Scan(&id)
		if err != nil {
			t.Fatalf("seed user: %v", err)
		}
		return id
	}

	for i := 0; i < 4; i++ {
		s.buyers = append(s.buyers, insertUser("member"))
	}
	for i := 0; i < 3; i++ {
		s.sellers = append(s.sellers, insertUser("member"))
	}
	s.arbiter = insertUser("arbiter")

	// a deep catalog so the buyers keep finding unsold products all run long
	for _, sellerID := range s.sellers {
		for i := 0; i < 40; i++ {
			if _, err := pool.Exec(ctx,
				`INSERT INTO products (seller_id, title, price) VALUES ($1, $2, $3)`,
				sellerID, fmt.Sprintf("Stress item %d", rand.Int63()), int64(100+rand.Intn(9900))); err != nil {
				t.Fatalf("seed product: %v", err)
			}
		}
	}
	return s
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"orders", `SELECT id, status, charge_ref, tracking_code, ruling, updated_at FROM orders ORDER BY updated_at DESC LIMIT 50`},
		{"order_events", `SELECT id, order_id, type, created_at FROM order_events ORDER BY id DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, sent_at, created_at FROM outbox ORDER BY id DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
