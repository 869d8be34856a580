// Package parse is a small REST client for the Parse Server API: object
// queries, updates, paginated iteration, push delivery and job triggers.
package parse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/oriys/cloudcode/internal/domain"
	"github.com/oriys/cloudcode/internal/upstream"
)

// Header names of the Parse REST API.
const (
	HeaderApplicationID = "X-Parse-Application-Id"
	HeaderMasterKey     = "X-Parse-Master-Key"
	HeaderRESTAPIKey    = "X-Parse-REST-API-Key"
)

// DefaultPageSize is the page size used by Each.
const DefaultPageSize = 100

// MaxLimit is the largest limit the server accepts for one query.
const MaxLimit = 1000

// Credentials are the process-wide keys sent with every call.
type Credentials struct {
	ApplicationID string
	MasterKey     string
	RESTAPIKey    string
}

// Apply writes the authentication headers for priv into h.
func (c Credentials) Apply(h http.Header, priv domain.Privilege) {
	if c.ApplicationID != "" {
		h.Set(HeaderApplicationID, c.ApplicationID)
	}
	if priv == domain.PrivilegeMaster && c.MasterKey != "" {
		h.Set(HeaderMasterKey, c.MasterKey)
		return
	}
	if c.RESTAPIKey != "" {
		h.Set(HeaderRESTAPIKey, c.RESTAPIKey)
	}
}

// Object is one decoded record. Numbers are kept as json.Number.
type Object map[string]any

// ID returns the record's objectId.
func (o Object) ID() string {
	id, _ := o[domain.FieldObjectID].(string)
	return id
}

// Client talks to one Parse Server.
type Client struct {
	serverURL string
	creds     Credentials
	transport upstream.Transport
	pageSize  int
}

// Option configures a Client.
type Option func(*Client)

// WithPageSize sets the page size used by Each.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 && n <= MaxLimit {
			c.pageSize = n
		}
	}
}

// NewClient creates a client for serverURL (for example
// "https://api.example.com/parse").
func NewClient(serverURL string, creds Credentials, transport upstream.Transport, opts ...Option) *Client {
	c := &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		creds:     creds,
		transport: transport,
		pageSize:  DefaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ServerURL returns the base URL of the server.
func (c *Client) ServerURL() string { return c.serverURL }

// PageSize returns the page size used by Each.
func (c *Client) PageSize() int { return c.pageSize }

// Find runs q and returns the matching records.
func (c *Client) Find(ctx context.Context, q *Query, priv domain.Privilege) ([]Object, error) {
	params, err := q.Values()
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodGet, classPath(q.ClassName()), params, nil, priv)
	if err != nil {
		return nil, err
	}
	var out struct {
		Results []Object `json:"results"`
	}
	if err := decode(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode %s results: %w", q.ClassName(), err)
	}
	return out.Results, nil
}

// Get fetches one record by id.
func (c *Client) Get(ctx context.Context, className, objectID string, priv domain.Privilege) (Object, error) {
	resp, err := c.do(ctx, http.MethodGet, classPath(className)+"/"+url.PathEscape(objectID), nil, nil, priv)
	if err != nil {
		return nil, err
	}
	var obj Object
	if err := decode(resp.Body, &obj); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", className, objectID, err)
	}
	return obj, nil
}

// Update writes fields onto an existing record. Fields not named are left
// untouched by the server.
func (c *Client) Update(ctx context.Context, className, objectID string, fields map[string]any, priv domain.Privilege) error {
	if objectID == "" {
		return fmt.Errorf("update %s: objectId is required", className)
	}
	_, err := c.do(ctx, http.MethodPut, classPath(className)+"/"+url.PathEscape(objectID), nil, fields, priv)
	return err
}

// TriggerJob starts a background job on the server and returns the raw
// response text.
func (c *Client) TriggerJob(ctx context.Context, name string, params any, priv domain.Privilege) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	resp, err := c.do(ctx, http.MethodPost, "jobs/"+url.PathEscape(name), nil, params, priv)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body any, priv domain.Privilege) (*upstream.Response, error) {
	req := &upstream.Request{
		Method: method,
		URL:    c.serverURL + "/" + path,
		Header: http.Header{},
	}
	if len(params) > 0 {
		req.URL += "?" + params.Encode()
	}
	c.creds.Apply(req.Header, priv)
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
		req.Body = data
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return nil, decodeError(err)
	}
	return resp, nil
}

func classPath(className string) string {
	switch className {
	case domain.ClassUser:
		return "users"
	default:
		return "classes/" + url.PathEscape(className)
	}
}

func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
