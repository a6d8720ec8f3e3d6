package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TerminateRandomBackend randomly kills a backend connection of the test
// database, forcing in-flight settlement transactions to roll back mid-way.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(5) == 0 {
				_, _ = pool.Exec(ctx, `SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = current_database() AND pid <> pg_backend_pid() ORDER BY random() LIMIT 1`)
			}
		}
	}
}

// HoldRowLock periodically grabs the application row FOR UPDATE and sits on
// it, so webhook reconciliation, approval and mediation pile up behind the
// same lock the way they would behind a slow commit in production.
func HoldRowLock(ctx context.Context, pool *pgxpool.Pool, applicationID string, stop <-chan struct{}) {
	ticker := time.NewTicker(1500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			continue
		}
		_, _ = tx.Exec(ctx, `SELECT id FROM applications WHERE id = $1 FOR UPDATE`, applicationID)
		time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)
		_ = tx.Rollback(ctx)
	}
}
