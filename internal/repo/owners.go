package repo

import (
	"context"
	"database/sql"
	"time"
)

func (r Repo) EnsureOwner(ctx context.Context, tx *sql.Tx, ownerID, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO owners(id, created_at) VALUES (?,?)`, ownerID, now)
	return err
}

func (r Repo) RenameOwner(ctx context.Context, ownerID, name string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := time.Now().UTC().Format(time.RFC3339)
	if err := r.EnsureOwner(ctx, tx, ownerID, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE owners SET name=? WHERE id=?`, name, ownerID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) GetOwnerName(ctx context.Context, ownerID string) (string, error) {
	var name string
	err := r.DB.QueryRowContext(ctx, `SELECT name FROM owners WHERE id=?`, ownerID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return name, err
}
