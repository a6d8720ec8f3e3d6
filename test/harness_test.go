package test

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"gigflow/application"
	"gigflow/auth"
	"gigflow/dispute"
	"gigflow/escrow"
	"gigflow/gig"
	"gigflow/sweeper"
	"gigflow/test/infra"
)

// startDatabase provisions a migrated Postgres for the test: an explicit DSN
// (flag or GIGFLOW_TEST_PG_DSN) is reused with schema isolation, otherwise a
// container is started, falling back to a local server when Docker is absent.
func startDatabase(t *testing.T, ctx context.Context, overrideDSN string) *pgxpool.Pool {
	t.Helper()

	var (
		pgC    *infra.PGContainer
		dsn    string
		err    error
		shared bool
	)

	switch {
	case overrideDSN != "":
		dsn = overrideDSN
		shared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("GIGFLOW_TEST_PG_DSN") != "":
		dsn = os.Getenv("GIGFLOW_TEST_PG_DSN")
		shared = true
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
				t.Skipf("no Docker and no local postgres: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, shared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	})

	return pool
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

type services struct {
	apps *application.Service
	esc  *escrow.Service
	med  *dispute.Service
	sw   *sweeper.Service
}

func buildServices(pool *pgxpool.Pool) services {
	log := zerolog.Nop()
	appRepo := application.NewRepository()
	escRepo := escrow.NewRepository()

	esc := escrow.NewService(pool, escRepo, appRepo, nil, log)
	apps := application.NewService(pool, appRepo, esc)
	med := dispute.NewService(pool, appRepo, auth.NewRepository(pool), esc, log)
	sw := sweeper.NewService(pool, gig.NewRepository(pool), appRepo, apps, log)

	return services{apps: apps, esc: esc, med: med, sw: sw}
}

func seedUser(t *testing.T, ctx context.Context, pool *pgxpool.Pool, role string) string {
	t.Helper()
	var id string
	err := pool.QueryRow(ctx, `
		INSERT INTO users (email, full_name, role)
		VALUES ($1, $2, $3::user_role)
		RETURNING id
	`, fmt.Sprintf("%s-%d@example.com", role, rand.Int63()), "Test "+role, role).Scan(&id)
	if err != nil {
		t.Fatalf("seed %s: %v", role, err)
	}
	return id
}

func seedGig(t *testing.T, ctx context.Context, pool *pgxpool.Pool, employerID string, budgetCents int64) string {
	t.Helper()
	var id string
	err := pool.QueryRow(ctx, `
		INSERT INTO gigs (employer_id, title, budget_cents)
		VALUES ($1, $2, $3)
		RETURNING id
	`, employerID, "Test gig", budgetCents).Scan(&id)
	if err != nil {
		t.Fatalf("seed gig: %v", err)
	}
	return id
}

// seedApplication inserts a pending application with the worker's opening
// rate proposal on record.
func seedApplication(t *testing.T, ctx context.Context, pool *pgxpool.Pool, gigID, workerID, employerID string, rateCents int64) string {
	t.Helper()
	var id string
	err := pool.QueryRow(ctx, `
		INSERT INTO applications (gig_id, worker_id, employer_id, proposed_rate_cents, last_rate_amount_cents, last_rate_by)
		VALUES ($1, $2, $3, $4, $4, $2)
		RETURNING id
	`, gigID, workerID, employerID, rateCents).Scan(&id)
	if err != nil {
		t.Fatalf("seed application: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO rate_history (application_id, amount_cents, proposed_by)
		VALUES ($1, $2, $3)
	`, id, rateCents, workerID); err != nil {
		t.Fatalf("seed rate history: %v", err)
	}
	return id
}

func countRows(t *testing.T, ctx context.Context, pool *pgxpool.Pool, sql string, args ...any) int {
	t.Helper()
	var n int
	if err := pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		t.Fatalf("count query: %v", err)
	}
	return n
}

func appState(t *testing.T, ctx context.Context, pool *pgxpool.Pool, id string) (status, paymentStatus string) {
	t.Helper()
	err := pool.QueryRow(ctx, `SELECT status::text, payment_status::text FROM applications WHERE id = $1`, id).
		Scan(&status, &paymentStatus)
	if err != nil {
		t.Fatalf("read application: %v", err)
	}
	return status, paymentStatus
}

func gigStatus(t *testing.T, ctx context.Context, pool *pgxpool.Pool, id string) string {
	t.Helper()
	var s string
	if err := pool.QueryRow(ctx, `SELECT status::text FROM gigs WHERE id = $1`, id).Scan(&s); err != nil {
		t.Fatalf("read gig: %v", err)
	}
	return s
}
