// Package hooks holds the synchronous lifecycle hooks the platform calls
// before it mutates an object. A hook approves by returning nil.
package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/oriys/cloudcode/internal/domain"
	"github.com/oriys/cloudcode/internal/logging"
	"github.com/oriys/cloudcode/internal/metrics"
)

// Hook names.
const (
	BeforeDelete = "beforeDelete"
)

// Object is the object the platform is about to change.
type Object map[string]any

// ID returns the object's objectId.
func (o Object) ID() string {
	id, _ := o[domain.FieldObjectID].(string)
	return id
}

// BeforeDeleteFunc approves or rejects a delete.
type BeforeDeleteFunc func(ctx context.Context, className string, obj Object) error

// Registry maps classes to their hooks.
type Registry struct {
	mu           sync.RWMutex
	beforeDelete map[string][]BeforeDeleteFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{beforeDelete: make(map[string][]BeforeDeleteFunc)}
}

// RegisterBeforeDelete adds fn for className.
func (r *Registry) RegisterBeforeDelete(className string, fn BeforeDeleteFunc) error {
	if className == "" || fn == nil {
		return fmt.Errorf("register %s hook: class name and function are required", BeforeDelete)
	}
	r.mu.Lock()
	r.beforeDelete[className] = append(r.beforeDelete[className], fn)
	r.mu.Unlock()
	return nil
}

// Classes returns the classes with a beforeDelete hook.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.beforeDelete))
	for c := range r.beforeDelete {
		out = append(out, c)
	}
	return out
}

// RunBeforeDelete runs every hook of className in registration order and
// stops at the first rejection. Classes without hooks are approved.
func (r *Registry) RunBeforeDelete(ctx context.Context, className string, obj Object) error {
	r.mu.RLock()
	fns := r.beforeDelete[className]
	r.mu.RUnlock()

	for _, fn := range fns {
		if err := fn(ctx, className, obj); err != nil {
			metrics.RecordHookDecision(BeforeDelete, className, "rejected")
			logging.Op().Info("delete rejected", "class", className, "object_id", obj.ID(), "reason", err)
			return err
		}
	}
	metrics.RecordHookDecision(BeforeDelete, className, "approved")
	return nil
}
