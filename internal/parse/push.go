package parse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oriys/cloudcode/internal/domain"
)

// Push is one push notification request. Exactly one of Where or Channels
// selects the target installations.
type Push struct {
	Where          *Query
	Channels       []string
	Data           any
	ExpirationTime *time.Time
	PushTime       *time.Time
}

func (p *Push) body() (map[string]any, error) {
	if p.Where == nil && len(p.Channels) == 0 {
		return nil, errors.New("push needs a where query or channels")
	}
	if p.Data == nil {
		return nil, errors.New("push needs data")
	}
	body := map[string]any{"data": p.Data}
	if p.Where != nil {
		body["where"] = p.Where.Where()
	}
	if len(p.Channels) > 0 {
		body["channels"] = p.Channels
	}
	if p.ExpirationTime != nil {
		body["expiration_time"] = p.ExpirationTime.UTC().Format(time.RFC3339)
	}
	if p.PushTime != nil {
		body["push_time"] = p.PushTime.UTC().Format(time.RFC3339)
	}
	return body, nil
}

// SendPush submits p to the push delivery API. A failure reported by the
// delivery layer is returned as *domain.DeliveryError carrying every key of
// the error object.
func (c *Client) SendPush(ctx context.Context, p *Push, priv domain.Privilege) error {
	body, err := p.body()
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, "push", nil, body, priv)
	if err != nil {
		return deliveryError(err)
	}
	var out map[string]any
	if err := decode(resp.Body, &out); err != nil {
		return fmt.Errorf("decode push response: %w", err)
	}
	if ok, _ := out["result"].(bool); !ok {
		return &domain.DeliveryError{Message: "push not accepted", Fields: out}
	}
	return nil
}

func deliveryError(err error) error {
	var terr *domain.TransportError
	if !errors.As(err, &terr) || terr.Body == "" {
		return err
	}
	var fields map[string]any
	if decode([]byte(terr.Body), &fields) != nil || len(fields) == 0 {
		return err
	}
	derr := &domain.DeliveryError{Fields: fields}
	if msg, ok := fields["error"].(string); ok {
		derr.Message = msg
	}
	if code, ok := fields["code"].(json.Number); ok {
		if n, err := code.Int64(); err == nil {
			derr.Code = int(n)
		}
	}
	return derr
}
