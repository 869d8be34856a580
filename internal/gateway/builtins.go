package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/oriys/cloudcode/internal/domain"
	"github.com/oriys/cloudcode/internal/parse"
)

const (
	helloMessage    = "Hello world!"
	pushSentMessage = "Push notification sent!"
)

// Hello answers with a fixed greeting.
func Hello() FunctionFunc {
	return func(context.Context, domain.Params) (any, error) {
		return helloMessage, nil
	}
}

// AverageStars returns the mean "stars" of every Review of a movie.
func AverageStars(client *parse.Client) FunctionFunc {
	return func(ctx context.Context, params domain.Params) (any, error) {
		if err := params.Require("averageStars", "movie"); err != nil {
			return nil, err
		}
		movie := params.String("movie")

		q := parse.NewQuery(domain.ClassReview).
			WhereEqualTo(domain.FieldMovie, movie).
			Select(domain.FieldStars)

		sum := decimal.Zero
		n := 0
		for obj, err := range client.Each(ctx, q, domain.PrivilegeNone) {
			if err != nil {
				return nil, err
			}
			stars, err := toDecimal(obj[domain.FieldStars])
			if err != nil {
				return nil, fmt.Errorf("review %s: %w", obj.ID(), err)
			}
			sum = sum.Add(stars)
			n++
		}
		if n == 0 {
			return nil, fmt.Errorf("%w for movie %q", domain.ErrNoReviews, movie)
		}
		return sum.Div(decimal.NewFromInt(int64(n))).InexactFloat64(), nil
	}
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case json.Number:
		return decimal.NewFromString(t.String())
	case float64:
		return decimal.NewFromFloat(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case nil:
		return decimal.Zero, fmt.Errorf("%s is not set", domain.FieldStars)
	default:
		return decimal.Zero, fmt.Errorf("%s is not a number: %v", domain.FieldStars, v)
	}
}

// SendPushByInstallation pushes payload to the single installation with
// the given objectId.
func SendPushByInstallation(client *parse.Client) FunctionFunc {
	specs := []Param{
		{Name: "payload", Hint: "No message payload received"},
		{Name: "installationObjectId", Hint: "No installation object id received"},
	}
	return func(ctx context.Context, params domain.Params) (any, error) {
		if err := validateParams("sendPushByInstallation", params, specs); err != nil {
			return nil, err
		}
		payload, _ := params.Lookup("payload")
		data, err := pushData(payload)
		if err != nil {
			return nil, &domain.InvalidParamError{Function: "sendPushByInstallation", Param: "payload", Reason: err.Error()}
		}

		push := &parse.Push{
			Where: parse.NewQuery(domain.ClassInstallation).
				WhereEqualTo(domain.FieldObjectID, params.String("installationObjectId")),
			Data: data,
		}
		if err := client.SendPush(ctx, push, domain.PrivilegeMaster); err != nil {
			return nil, err
		}
		return pushSentMessage, nil
	}
}

// pushData turns the payload parameter into the push "data" object. A
// string holding a JSON object is decoded, any other string becomes the
// alert text.
func pushData(payload any) (any, error) {
	switch t := payload.(type) {
	case string:
		trimmed := strings.TrimSpace(t)
		if strings.HasPrefix(trimmed, "{") {
			var obj map[string]any
			if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
				return obj, nil
			}
		}
		return map[string]any{"alert": t}, nil
	case json.RawMessage:
		var v any
		if err := json.Unmarshal(t, &v); err != nil {
			return nil, err
		}
		return pushData(v)
	default:
		return t, nil
	}
}

// RegisterDefaults registers the built-in functions and the default
// proxy table.
func RegisterDefaults(g *Gateway, client *parse.Client) error {
	builtins := []struct {
		name, desc string
		alias      []string
		fn         Function
	}{
		{"hello", "Returns a fixed greeting.", nil, Hello()},
		{"averageStars", "Mean star rating of a movie's reviews.", []string{"average-stars"}, AverageStars(client)},
		{"sendPushByInstallation", "Sends a push to one installation.", []string{"send-push-by-installation"}, SendPushByInstallation(client)},
	}
	for _, b := range builtins {
		if err := g.Register(b.name, b.fn, b.desc, b.alias...); err != nil {
			return err
		}
	}
	for _, r := range DefaultRoutes() {
		if err := g.RegisterRoute(r); err != nil {
			return err
		}
	}
	return nil
}
