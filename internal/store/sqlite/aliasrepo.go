package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xueqianLu/ledgerctl/internal/alias"
	"github.com/xueqianLu/ledgerctl/internal/errs"
)

var _ alias.Directory = (*AliasRepo)(nil)

// AliasRepo is the SQLite alias directory. Aliases are unique per network.
type AliasRepo struct {
	db  *DB
	now func() time.Time
}

func NewAliasRepo(db *DB) *AliasRepo {
	return &AliasRepo{db: db, now: time.Now}
}

const aliasColumns = `alias, type, network, entity_id, public_key, key_ref_id, created_at`

func scanAlias(row rowScanner) (alias.Record, error) {
	var (
		rec       alias.Record
		typ, when string
	)
	if err := row.Scan(&rec.Alias, &typ, &rec.Network, &rec.EntityID, &rec.PublicKey, &rec.KeyRefID, &when); err != nil {
		return alias.Record{}, err
	}
	rec.Type = alias.Type(typ)
	created, err := parseTime(when)
	if err != nil {
		return alias.Record{}, fmt.Errorf("parse created_at of alias %s: %w", rec.Alias, err)
	}
	rec.CreatedAt = created
	return rec, nil
}

func (r *AliasRepo) Resolve(ctx context.Context, name string, typ alias.Type, network string) (*alias.Record, error) {
	query := `SELECT ` + aliasColumns + ` FROM aliases WHERE network = ? AND alias = ?`
	rec, err := scanAlias(r.db.Reader.QueryRowContext(ctx, query, network, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve alias %s: %w", name, err)
	}
	if typ != "" && rec.Type != typ {
		return nil, nil
	}
	return &rec, nil
}

func (r *AliasRepo) Register(ctx context.Context, rec alias.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	const query = `
		INSERT INTO aliases (network, alias, type, entity_id, public_key, key_ref_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.Writer.ExecContext(ctx, query,
		rec.Network, rec.Alias, string(rec.Type), rec.EntityID, strings.ToLower(rec.PublicKey), rec.KeyRefID, formatTime(rec.CreatedAt),
	)
	if isUniqueViolation(err) {
		return errs.State("alias %q is already registered on %s", rec.Alias, rec.Network)
	}
	if err != nil {
		return fmt.Errorf("register alias %s: %w", rec.Alias, err)
	}
	return nil
}

func (r *AliasRepo) Remove(ctx context.Context, name, network string) error {
	const query = `DELETE FROM aliases WHERE network = ? AND alias = ?`
	res, err := r.db.Writer.ExecContext(ctx, query, network, name)
	if err != nil {
		return fmt.Errorf("remove alias %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove alias %s: %w", name, err)
	}
	if n == 0 {
		return errs.NotFound("alias %q not found on %s", name, network)
	}
	return nil
}

func (r *AliasRepo) AvailableOrThrow(ctx context.Context, name, network string) error {
	const query = `SELECT COUNT(*) FROM aliases WHERE network = ? AND alias = ?`
	var count int
	if err := r.db.Reader.QueryRowContext(ctx, query, network, name).Scan(&count); err != nil {
		return fmt.Errorf("check alias %s: %w", name, err)
	}
	if count > 0 {
		return errs.State("alias %q is already registered on %s", name, network)
	}
	return nil
}

func (r *AliasRepo) List(ctx context.Context, filter alias.Filter) ([]alias.Record, error) {
	var (
		where []string
		args  []any
	)
	if filter.Network != "" {
		where = append(where, "network = ?")
		args = append(args, filter.Network)
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	return r.query(ctx, where, args)
}

func (r *AliasRepo) ByKeyRef(ctx context.Context, keyRefID, network string) ([]alias.Record, error) {
	return r.query(ctx, []string{"key_ref_id = ?", "network = ?"}, []any{keyRefID, network})
}

// KeyRefReferences lists network/alias for every alias on any network that
// references keyRefID.
func (r *AliasRepo) KeyRefReferences(ctx context.Context, keyRefID string) ([]string, error) {
	recs, err := r.query(ctx, []string{"key_ref_id = ?"}, []any{keyRefID})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Network+"/"+rec.Alias)
	}
	return out, nil
}

func (r *AliasRepo) query(ctx context.Context, where []string, args []any) ([]alias.Record, error) {
	query := `SELECT ` + aliasColumns + ` FROM aliases`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY network, alias`

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer rows.Close()

	var out []alias.Record
	for rows.Next() {
		rec, err := scanAlias(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aliases: %w", err)
	}
	return out, nil
}
