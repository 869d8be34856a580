package hooks

import (
	"context"

	"github.com/oriys/cloudcode/internal/domain"
)

// DeleteGuard protects a fixed set of object ids from deletion.
type DeleteGuard struct {
	reserved map[string]struct{}
}

// NewDeleteGuard creates a guard for the given ids.
func NewDeleteGuard(ids []string) *DeleteGuard {
	g := &DeleteGuard{reserved: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id != "" {
			g.reserved[id] = struct{}{}
		}
	}
	return g
}

// Reserved reports whether id is protected.
func (g *DeleteGuard) Reserved(id string) bool {
	_, ok := g.reserved[id]
	return ok
}

// BeforeDelete rejects the delete of a reserved object with
// domain.ErrReservedObject.
func (g *DeleteGuard) BeforeDelete(_ context.Context, _ string, obj Object) error {
	if g.Reserved(obj.ID()) {
		return domain.ErrReservedObject
	}
	return nil
}

// RegisterDefaults installs the reserved-installation guard.
func RegisterDefaults(r *Registry, reservedInstallationIDs []string) error {
	guard := NewDeleteGuard(reservedInstallationIDs)
	return r.RegisterBeforeDelete(domain.ClassInstallation, guard.BeforeDelete)
}
