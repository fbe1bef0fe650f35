package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xueqianLu/ledgerctl/internal/errs"
	"github.com/xueqianLu/ledgerctl/internal/signer"
)

var _ signer.Index = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite credential index. It stores metadata only;
// secret material stays with the backends.
type CredentialRepo struct {
	db *DB
}

func NewCredentialRepo(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

func (r *CredentialRepo) Put(ctx context.Context, cred signer.Credential) error {
	labels, err := json.Marshal(cred.Labels)
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}
	const query = `
		INSERT INTO credentials (key_ref_id, algorithm, public_key, backend, handle, labels, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.Writer.ExecContext(ctx, query,
		cred.KeyRefID, string(cred.Algorithm), cred.PublicKey, cred.Backend, cred.Handle, string(labels), formatTime(cred.CreatedAt),
	)
	if isUniqueViolation(err) {
		return errs.State("keyRefId %s already exists", cred.KeyRefID)
	}
	if err != nil {
		return fmt.Errorf("insert credential %s: %w", cred.KeyRefID, err)
	}
	return nil
}

const credentialColumns = `key_ref_id, algorithm, public_key, backend, handle, labels, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (signer.Credential, error) {
	var (
		c                 signer.Credential
		alg, labels, when string
	)
	if err := row.Scan(&c.KeyRefID, &alg, &c.PublicKey, &c.Backend, &c.Handle, &labels, &when); err != nil {
		return signer.Credential{}, err
	}
	c.Algorithm = signer.Algorithm(alg)
	if err := json.Unmarshal([]byte(labels), &c.Labels); err != nil {
		return signer.Credential{}, fmt.Errorf("decode labels of %s: %w", c.KeyRefID, err)
	}
	created, err := parseTime(when)
	if err != nil {
		return signer.Credential{}, fmt.Errorf("parse created_at of %s: %w", c.KeyRefID, err)
	}
	c.CreatedAt = created
	return c, nil
}

func (r *CredentialRepo) Get(ctx context.Context, keyRefID string) (signer.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE key_ref_id = ?`
	c, err := scanCredential(r.db.Reader.QueryRowContext(ctx, query, keyRefID))
	if errors.Is(err, sql.ErrNoRows) {
		return signer.Credential{}, errs.NotFound("keyRefId %s not found", keyRefID)
	}
	if err != nil {
		return signer.Credential{}, fmt.Errorf("get credential %s: %w", keyRefID, err)
	}
	return c, nil
}

func (r *CredentialRepo) Delete(ctx context.Context, keyRefID string) error {
	const query = `DELETE FROM credentials WHERE key_ref_id = ?`
	res, err := r.db.Writer.ExecContext(ctx, query, keyRefID)
	if err != nil {
		return fmt.Errorf("delete credential %s: %w", keyRefID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete credential %s: %w", keyRefID, err)
	}
	if n == 0 {
		return errs.NotFound("keyRefId %s not found", keyRefID)
	}
	return nil
}

// List returns every credential ordered by creation time.
func (r *CredentialRepo) List(ctx context.Context) ([]signer.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials ORDER BY created_at, key_ref_id`
	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []signer.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return out, nil
}
