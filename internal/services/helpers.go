package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/corralhq/corral/internal/models"
)

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// resolvePrincipalID maps a principal reference onto a principal id. UUIDs
// pass through untouched; anything else is treated as a principal name and
// converted with the same derivation used when the principal row is created,
// so shares may reference principals that do not exist yet.
func resolvePrincipalID(principal string) string {
	if _, err := uuid.Parse(principal); err == nil {
		return principal
	}
	return models.DeriveNamedID(principal)
}
