package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"savanna-sms/internal/core/domain"
)

// ContactRepository implements port.AudienceBuilder on the contacts tables.
// Every query is tenant-scoped and restricted to subscribed, adult contacts.
type ContactRepository struct {
	pool *pgxpool.Pool
}

// NewContactRepository returns a new repository instance.
func NewContactRepository(pool *pgxpool.Pool) *ContactRepository {
	return &ContactRepository{pool: pool}
}

// Count returns the audience size for the filter without materializing it.
func (r *ContactRepository) Count(ctx context.Context, tenantID int64, f domain.AudienceFilter) (int, error) {
	where, args := audienceWhere(tenantID, f)
	var query string
	if f.Dynamic() {
		query = `SELECT count(*) FROM contacts c WHERE ` + where
	} else {
		query = `SELECT count(*) FROM contacts c
			JOIN contact_list_members m ON m.contact_id = c.id WHERE ` + where
	}
	var n int
	err := r.pool.QueryRow(ctx, query, args...).Scan(&n)
	return n, err
}

// Build returns the full ordered audience for the filter.
func (r *ContactRepository) Build(ctx context.Context, tenantID int64, f domain.AudienceFilter) ([]domain.Contact, error) {
	where, args := audienceWhere(tenantID, f)
	const columns = `c.id, c.tenant_id, c.phone, c.email, c.first_name, c.last_name, c.gender, c.birthday`
	var query string
	if f.Dynamic() {
		query = `SELECT ` + columns + ` FROM contacts c WHERE ` + where + ` ORDER BY c.id`
	} else {
		query = `SELECT ` + columns + ` FROM contacts c
			JOIN contact_list_members m ON m.contact_id = c.id WHERE ` + where + ` ORDER BY c.id`
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Contact, error) {
		var c domain.Contact
		err := row.Scan(&c.ID, &c.TenantID, &c.Phone, &c.Email, &c.FirstName, &c.LastName, &c.Gender, &c.Birthday)
		return c, err
	})
}

// audienceWhere builds the shared WHERE clause. Only subscribed, adult
// contacts are ever eligible, regardless of the filter.
func audienceWhere(tenantID int64, f domain.AudienceFilter) (string, []any) {
	conds := []string{
		"c.tenant_id = $1",
		"c.subscribed",
		"(c.birthday IS NULL OR c.birthday <= now() - interval '18 years')",
	}
	args := []any{tenantID}

	if !f.Dynamic() {
		args = append(args, *f.ListID)
		conds = append(conds, fmt.Sprintf("m.list_id = $%d", len(args)))
		return strings.Join(conds, " AND "), args
	}
	if f.Gender != nil {
		args = append(args, *f.Gender)
		conds = append(conds, fmt.Sprintf("c.gender = $%d", len(args)))
	}
	if f.AgeGroup != nil {
		if cond, ok := ageGroupCond(*f.AgeGroup, &args); ok {
			conds = append(conds, cond)
		}
	}
	if f.NameSearch != nil && *f.NameSearch != "" {
		args = append(args, "%"+*f.NameSearch+"%")
		conds = append(conds, fmt.Sprintf("(c.first_name ILIKE $%d OR c.last_name ILIKE $%d)", len(args), len(args)))
	}
	return strings.Join(conds, " AND "), args
}

// ageGroupCond translates an age-group label into a birthday range.
func ageGroupCond(group string, args *[]any) (string, bool) {
	now := time.Now()
	switch group {
	case domain.AgeGroup18To25:
		return birthdayBetween(args, now, 18, 25), true
	case domain.AgeGroup26To35:
		return birthdayBetween(args, now, 26, 35), true
	case domain.AgeGroup36To45:
		return birthdayBetween(args, now, 36, 45), true
	case domain.AgeGroup46Plus:
		*args = append(*args, now.AddDate(-46, 0, 0))
		return fmt.Sprintf("c.birthday <= $%d", len(*args)), true
	default:
		return "", false
	}
}

func birthdayBetween(args *[]any, now time.Time, minAge, maxAge int) string {
	*args = append(*args, now.AddDate(-maxAge-1, 0, 0))
	low := len(*args)
	*args = append(*args, now.AddDate(-minAge, 0, 0))
	high := len(*args)
	return fmt.Sprintf("c.birthday > $%d AND c.birthday <= $%d", low, high)
}
