// Package tenant resolves which connected GitHub account an operation runs
// as, and enforces that the records an operation touches belong to it.
package tenant

import (
	"context"
	"errors"
	"fmt"

	"ghmirror/internal/db"
	"ghmirror/internal/models"
)

// ErrIntegrationRequired means no active integration exists for the
// requested account, so nothing can be synced for it.
var ErrIntegrationRequired = errors.New("no active integration for this account")

// ErrNotOwned means the record belongs to a different integration.
var ErrNotOwned = errors.New("record is not owned by this integration")

// Resolve maps an external GitHub account id to its active integration.
// Inactive and errored integrations do not resolve; the account has to be
// re-connected first.
func Resolve(ctx context.Context, store *db.DB, accountID int64) (*models.Integration, error) {
	integ, err := store.GetActiveIntegrationByAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("account %d: %w", accountID, ErrIntegrationRequired)
		}
		return nil, err
	}
	return integ, nil
}

// RequireOwnership checks that a record's owning integration matches the one
// the operation runs as.
func RequireOwnership(integ *models.Integration, ownerID int64) error {
	if ownerID != integ.ID {
		return ErrNotOwned
	}
	return nil
}

type contextKey struct{}

// WithIntegration attaches the resolved integration to the context so layers
// below the command surface can recover it without replumbing arguments.
func WithIntegration(ctx context.Context, integ *models.Integration) context.Context {
	return context.WithValue(ctx, contextKey{}, integ)
}

// FromContext recovers the integration attached by WithIntegration.
func FromContext(ctx context.Context) (*models.Integration, bool) {
	integ, ok := ctx.Value(contextKey{}).(*models.Integration)
	return integ, ok
}
