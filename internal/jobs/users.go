package jobs

import (
	"context"
	"iter"

	"github.com/oriys/cloudcode/internal/domain"
	"github.com/oriys/cloudcode/internal/parse"
)

// UserStore is the user collection as seen by the migration job.
type UserStore interface {
	// Users lazily yields every user. Ranging again restarts from the
	// first record.
	Users(ctx context.Context, priv domain.Privilege) iter.Seq2[domain.UserRecord, error]
	SaveUser(ctx context.Context, user domain.UserRecord, priv domain.Privilege) error
}

// ParseUserStore reads and writes users through the REST API.
type ParseUserStore struct {
	client *parse.Client
}

// NewParseUserStore creates a UserStore backed by client.
func NewParseUserStore(client *parse.Client) *ParseUserStore {
	return &ParseUserStore{client: client}
}

func (s *ParseUserStore) Users(ctx context.Context, priv domain.Privilege) iter.Seq2[domain.UserRecord, error] {
	return func(yield func(domain.UserRecord, error) bool) {
		for obj, err := range s.client.Each(ctx, parse.NewQuery(domain.ClassUser), priv) {
			if err != nil {
				yield(domain.UserRecord{}, err)
				return
			}
			if !yield(domain.UserRecord{ObjectID: obj.ID(), Plan: obj[domain.FieldPlan]}, nil) {
				return
			}
		}
	}
}

// SaveUser writes the plan field only.
func (s *ParseUserStore) SaveUser(ctx context.Context, user domain.UserRecord, priv domain.Privilege) error {
	return s.client.Update(ctx, domain.ClassUser, user.ObjectID, map[string]any{domain.FieldPlan: user.Plan}, priv)
}
