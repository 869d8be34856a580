package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/oriys/cloudcode/internal/domain"
	"github.com/oriys/cloudcode/internal/upstream"
)

// BodyAllParams sends the whole parameter bag as the request body.
const BodyAllParams = "*"

var pathParamPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Param is a named, required parameter. Hint is appended to the missing
// parameter message and Schema, when set, is a JSON Schema subset the
// value must satisfy.
type Param struct {
	Name   string
	Hint   string
	Schema map[string]any
}

// Route is a declarative REST proxy: the outbound call is built from the
// route and the invocation parameters alone.
type Route struct {
	Name        string
	Aliases     []string
	Description string
	Method      string
	// Path is appended to the server URL. "{name}" segments are replaced
	// with the escaped parameter value.
	Path string
	// Params are checked in order before any outbound call.
	Params []Param
	// Body names the parameter sent as JSON body, or BodyAllParams.
	Body string
	// Server names the parameter holding the server URL. Empty means the
	// configured server.
	Server    string
	Privilege domain.Privilege
}

func (r Route) validate() error {
	if r.Name == "" || r.Method == "" || r.Path == "" {
		return fmt.Errorf("route %q: name, method and path are required", r.Name)
	}
	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("route %s: path %q must start with /", r.Name, r.Path)
	}
	declared := make(map[string]bool, len(r.Params))
	for _, p := range r.Params {
		declared[p.Name] = true
	}
	for _, m := range pathParamPattern.FindAllStringSubmatch(r.Path, -1) {
		if !declared[m[1]] {
			return fmt.Errorf("route %s: path parameter %q is not declared", r.Name, m[1])
		}
	}
	if r.Server != "" && !declared[r.Server] {
		return fmt.Errorf("route %s: server parameter %q is not declared", r.Name, r.Server)
	}
	if r.Body != "" && r.Body != BodyAllParams && !declared[r.Body] {
		return fmt.Errorf("route %s: body parameter %q is not declared", r.Name, r.Body)
	}
	return nil
}

// DefaultRoutes is the proxy table of the built-in REST functions.
// pushSchema mirrors the push REST body: data is mandatory, an audience
// is given by where or channels.
var pushSchema = map[string]any{
	"type":     []any{"object", "string"},
	"required": []any{"data"},
	"properties": map[string]any{
		"data":                map[string]any{"type": "object"},
		"where":               map[string]any{"type": "object"},
		"channels":            map[string]any{"type": "array", "minItems": 1.0, "items": map[string]any{"type": "string"}},
		"push_time":           map[string]any{"type": "string"},
		"expiration_interval": map[string]any{"type": "integer", "minimum": 0.0},
	},
}

func DefaultRoutes() []Route {
	server := Param{
		Name:   "server",
		Hint:   "Parse server URL (WITHOUT trailing backslash) is required",
		Schema: map[string]any{"type": "string", "pattern": `^https?://`},
	}
	return []Route{
		{
			Name:        "deleteFile",
			Aliases:     []string{"delete-file"},
			Description: "Unconditionally deletes the named file.",
			Method:      http.MethodDelete,
			Path:        "/files/{filename}",
			Params: []Param{
				{Name: "filename", Hint: "Filename is not defined", Schema: map[string]any{"type": "string", "maxLength": 1024.0}},
				server,
			},
			Server:    "server",
			Privilege: domain.PrivilegeMaster,
		},
		{
			Name:        "getInstallationByObjectId",
			Aliases:     []string{"get-installation-by-id"},
			Description: "Fetches one installation by objectId.",
			Method:      http.MethodGet,
			Path:        "/classes/_Installation/{objectId}",
			Params: []Param{
				{Name: "objectId", Hint: "Installation's object id is not defined"},
				server,
			},
			Server:    "server",
			Privilege: domain.PrivilegeMaster,
		},
		{
			Name:        "sendPushViaRestApi",
			Aliases:     []string{"send-push-via-rest"},
			Description: "Posts the payload to the push endpoint unchanged.",
			Method:      http.MethodPost,
			Path:        "/push",
			Params: []Param{
				{Name: "payload", Hint: "Push data must be provided", Schema: pushSchema},
				server,
			},
			Body:      "payload",
			Server:    "server",
			Privilege: domain.PrivilegeMaster,
		},
		{
			Name:        "userMigrationJobWrapper",
			Aliases:     []string{"user-migration-job-wrapper"},
			Description: "Triggers the userMigration job with the given parameters.",
			Method:      http.MethodPost,
			Path:        "/jobs/userMigration",
			Body:        BodyAllParams,
			Privilege:   domain.PrivilegeMaster,
		},
	}
}

type routeFunction struct {
	route Route
	gw    *Gateway
}

func (f *routeFunction) Invoke(ctx context.Context, params domain.Params) (any, error) {
	r := f.route
	if err := validateParams(r.Name, params, r.Params); err != nil {
		return nil, err
	}

	req, err := f.build(params)
	if err != nil {
		return nil, err
	}
	resp, err := f.gw.transport.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Text(), nil
}

func (f *routeFunction) build(params domain.Params) (*upstream.Request, error) {
	r := f.route
	base := f.gw.cfg.ServerURL
	if r.Server != "" {
		base = strings.TrimRight(params.String(r.Server), "/")
	}
	if base == "" {
		return nil, fmt.Errorf("%s: no server URL configured", r.Name)
	}
	var bad error
	path := pathParamPattern.ReplaceAllStringFunc(r.Path, func(seg string) string {
		name := seg[1 : len(seg)-1]
		v := params.String(name)
		// PathEscape leaves dot segments alone; they would rewrite the path.
		if (v == "." || v == "..") && bad == nil {
			bad = &domain.InvalidParamError{Function: r.Name, Param: name, Reason: "dot path segment not allowed"}
		}
		return url.PathEscape(v)
	})
	if bad != nil {
		return nil, bad
	}

	req := &upstream.Request{
		Method: r.Method,
		URL:    base + path,
		Header: http.Header{},
	}
	f.gw.cfg.Credentials.Apply(req.Header, r.Privilege)

	if r.Body != "" {
		body, err := encodeBody(r, params)
		if err != nil {
			return nil, err
		}
		req.Body = body
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// encodeBody renders the request body. A string payload is forwarded as
// is, anything else is marshaled.
func encodeBody(r Route, params domain.Params) ([]byte, error) {
	var v any = map[string]any(params)
	if r.Body != BodyAllParams {
		v, _ = params.Lookup(r.Body)
	}
	switch t := v.(type) {
	case string:
		return []byte(t), nil
	case json.RawMessage:
		return t, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &domain.InvalidParamError{Function: r.Name, Param: r.Body, Reason: err.Error()}
	}
	return data, nil
}
