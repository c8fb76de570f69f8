package db

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Seed inserts demo tenants, contacts and campaigns for local development.
func Seed(ctx context.Context, db *pgxpool.Pool) error {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	genders := []string{"male", "female"}
	for t := 1; t <= 2; t++ {
		name := fmt.Sprintf("Demo Store %d", t)
		sender := fmt.Sprintf("STORE%d", t)
		_, err := db.Exec(ctx, `INSERT INTO tenants
	(id, name, sender_id, subscription_active, credit_balance, created_at, updated_at)
VALUES ($1,$2,$3,true,$4,now(),now()) ON CONFLICT DO NOTHING`,
			t, name, sender, int64(10000))
		if err != nil {
			return err
		}

		// contacts spread across genders and ages
		for c := 1; c <= 200; c++ {
			id := (t-1)*200 + c
			age := 18 + r.Intn(42)
			birthday := time.Now().AddDate(-age, 0, -r.Intn(365))
			_, err = db.Exec(ctx, `INSERT INTO contacts
	(id, tenant_id, phone, email, first_name, last_name, gender, birthday, subscribed, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,true,now()) ON CONFLICT DO NOTHING`,
				id, t,
				fmt.Sprintf("+2547%08d", id),
				fmt.Sprintf("contact%d@example.com", id),
				fmt.Sprintf("First%d", id),
				fmt.Sprintf("Last%d", id),
				genders[r.Intn(2)],
				birthday)
			if err != nil {
				return err
			}
		}

		_, err = db.Exec(ctx, `INSERT INTO campaigns
	(id, tenant_id, name, template, status, total, sent, failed, created_at, updated_at)
VALUES ($1,$2,$3,$4,'draft',0,0,0,now(),now()) ON CONFLICT DO NOTHING`,
			t, t,
			fmt.Sprintf("Welcome blast %d", t),
			"Hi {first_name}, new arrivals are in at Demo Store! Visit https://example.com/offers today.")
		if err != nil {
			return err
		}
	}
	return nil
}
