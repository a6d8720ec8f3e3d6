package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return zero rows on a consistent database.
// Anything it returns is a violated invariant, whatever interleaving of
// webhooks, approvals, disputes and sweeps produced it.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_agreed_rate_iff_agreed_status",
			SQL: `SELECT id, rate_status, agreed_rate_cents FROM applications
                  WHERE (rate_status = 'agreed') <> (agreed_rate_cents IS NOT NULL)`,
		},
		{
			Name: "O2_funded_app_has_payment",
			SQL: `SELECT a.id FROM applications a
                  WHERE a.status IN ('funded','completed')
                    AND (a.payment_id IS NULL
                         OR NOT EXISTS (SELECT 1 FROM payments p WHERE p.application_id = a.id))`,
		},
		{
			Name: "O3_payment_app_is_funded",
			SQL: `SELECT p.id, a.status FROM payments p
                  JOIN applications a ON a.id = p.application_id
                  WHERE p.status IN ('in_escrow','released')
                    AND a.status NOT IN ('funded','completed')`,
		},
		{
			Name: "O4_single_payment_per_application",
			SQL: `SELECT application_id, COUNT(*) FROM payments
                  GROUP BY application_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_single_fund_ledger_entry",
			SQL: `SELECT application_id, entry_type, COUNT(*) FROM wallet_ledger
                  GROUP BY application_id, entry_type HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_fee_breakdown_adds_up",
			SQL: `SELECT id FROM payments
                  WHERE commission_cents + net_cents <> gross_cents`,
		},
		{
			Name: "O7_released_payment_settled_in_ledger",
			SQL: `SELECT p.id FROM payments p
                  WHERE p.status = 'released'
                    AND (NOT EXISTS (SELECT 1 FROM wallet_ledger l
                                     WHERE l.application_id = p.application_id
                                       AND l.entry_type = 'escrow_release'
                                       AND l.amount_cents = p.net_cents)
                         OR NOT EXISTS (SELECT 1 FROM wallet_ledger l
                                        WHERE l.application_id = p.application_id
                                          AND l.entry_type = 'commission'
                                          AND l.user_id IS NULL
                                          AND l.amount_cents = p.commission_cents))`,
		},
		{
			Name: "O8_held_payment_not_settled",
			SQL: `SELECT p.id FROM payments p
                  JOIN wallet_ledger l ON l.application_id = p.application_id
                  WHERE p.status = 'in_escrow'
                    AND l.entry_type IN ('escrow_release','commission')`,
		},
		{
			Name: "O9_one_winner_per_gig",
			SQL: `SELECT gig_id, COUNT(*) FROM applications
                  WHERE status IN ('accepted','funded','completed')
                  GROUP BY gig_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O10_cancelled_gig_never_funded",
			SQL: `SELECT g.id FROM gigs g
                  JOIN applications a ON a.gig_id = g.id
                  WHERE g.status = 'cancelled'
                    AND a.status IN ('funded','completed')`,
		},
		{
			Name: "O11_resolution_fields_consistent",
			SQL: `SELECT id FROM applications
                  WHERE (completion_resolved_at IS NOT NULL) <> (completion_resolution IS NOT NULL)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
