package app

import (
	"context"
	"fmt"
	"time"

	"orbit/internal/config"
	"orbit/internal/repo"
)

// ResolveOwner picks the active owner and makes sure a matching row exists.
// It prefers the CLI override, then the workspace config, then a local
// fallback so first-run commands work without any setup.
func ResolveOwner(ctx context.Context, ownerOverride string, cfg *config.Config, r repo.Repo) (string, error) {
	ownerID := ownerOverride
	name := ""
	if cfg != nil {
		if ownerID == "" {
			ownerID = cfg.Owner.ID
		}
		if ownerID == cfg.Owner.ID {
			name = cfg.Owner.Name
		}
	}
	if ownerID == "" {
		ownerID = "local-user"
	}
	if name != "" {
		if err := r.RenameOwner(ctx, ownerID, name); err != nil {
			return "", fmt.Errorf("ensure owner: %w", err)
		}
		return ownerID, nil
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	if err := r.EnsureOwner(ctx, tx, ownerID, now); err != nil {
		return "", fmt.Errorf("ensure owner: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return ownerID, nil
}
