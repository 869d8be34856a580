package parse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/cloudcode/internal/domain"
	"github.com/oriys/cloudcode/internal/upstream"
	"github.com/oriys/cloudcode/internal/upstream/upstreamtest"
)

var testCreds = Credentials{ApplicationID: "app", MasterKey: "master", RESTAPIKey: "rest"}

func TestCredentialsApply(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	testCreds.Apply(h, domain.PrivilegeMaster)
	assert.Equal(t, "app", h.Get(HeaderApplicationID))
	assert.Equal(t, "master", h.Get(HeaderMasterKey))
	assert.Empty(t, h.Get(HeaderRESTAPIKey))

	h = http.Header{}
	testCreds.Apply(h, domain.PrivilegeNone)
	assert.Empty(t, h.Get(HeaderMasterKey))
	assert.Equal(t, "rest", h.Get(HeaderRESTAPIKey))
}

func TestFindEncodesQuery(t *testing.T) {
	t.Parallel()

	rec := upstreamtest.New(http.StatusOK, `{"results":[{"objectId":"a","stars":4}]}`)
	c := NewClient("https://api.example.com/parse/", testCreds, rec)

	objs, err := c.Find(context.Background(), NewQuery("Review").WhereEqualTo("movie", "Up").Limit(10), domain.PrivilegeNone)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "a", objs[0].ID())
	assert.Equal(t, json.Number("4"), objs[0]["stars"])

	req := rec.Last()
	require.NotNil(t, req)
	assert.Equal(t, http.MethodGet, req.Method)
	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	assert.Equal(t, "/parse/classes/Review", u.Path)
	assert.JSONEq(t, `{"movie":"Up"}`, u.Query().Get("where"))
	assert.Equal(t, "10", u.Query().Get("limit"))
}

func TestGetUsesUsersEndpointForUserClass(t *testing.T) {
	t.Parallel()

	rec := upstreamtest.New(http.StatusOK, `{"objectId":"u1","username":"ada"}`)
	c := NewClient("https://api.example.com/parse", testCreds, rec)

	obj, err := c.Get(context.Background(), domain.ClassUser, "u1", domain.PrivilegeMaster)
	require.NoError(t, err)
	assert.Equal(t, "ada", obj["username"])
	assert.Equal(t, "https://api.example.com/parse/users/u1", rec.Last().URL)
}

func TestUpdateSendsPUT(t *testing.T) {
	t.Parallel()

	rec := upstreamtest.New(http.StatusOK, `{"updatedAt":"2024-01-01T00:00:00.000Z"}`)
	c := NewClient("https://api.example.com/parse", testCreds, rec)

	err := c.Update(context.Background(), domain.ClassUser, "u1", map[string]any{"plan": "pro"}, domain.PrivilegeMaster)
	require.NoError(t, err)

	req := rec.Last()
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "https://api.example.com/parse/users/u1", req.URL)
	assert.JSONEq(t, `{"plan":"pro"}`, string(req.Body))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "master", req.Header.Get(HeaderMasterKey))
}

func TestAPIErrorDecoded(t *testing.T) {
	t.Parallel()

	rec := upstreamtest.New(http.StatusNotFound, `{"code":101,"error":"Object not found."}`)
	c := NewClient("https://api.example.com/parse", testCreds, rec)

	_, err := c.Get(context.Background(), "Review", "missing", domain.PrivilegeNone)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, domain.CodeObjectNotFound, apiErr.Code)
	assert.Equal(t, "Object not found.", apiErr.Message)
	assert.EqualError(t, err, "Request failed: Object not found. (code 101)")
	assert.True(t, IsNotFound(err))

	var terr *domain.TransportError
	assert.True(t, errors.As(err, &terr), "APIError should unwrap to the transport error")
}

func TestTriggerJobReturnsRawText(t *testing.T) {
	t.Parallel()

	rec := upstreamtest.New(http.StatusOK, `{}`)
	c := NewClient("https://api.example.com/parse", testCreds, rec)

	out, err := c.TriggerJob(context.Background(), "userMigration", map[string]any{"plan": "pro"}, domain.PrivilegeMaster)
	require.NoError(t, err)
	assert.Equal(t, "{}", out)
	assert.Equal(t, "https://api.example.com/parse/jobs/userMigration", rec.Last().URL)
	assert.JSONEq(t, `{"plan":"pro"}`, string(rec.Last().Body))
}

// pagedUsers serves n users with ids u000, u001, ... honoring limit and
// the objectId $gt cursor.
func pagedUsers(n int) *upstreamtest.Recorder {
	return &upstreamtest.Recorder{Handler: func(req *upstream.Request) upstreamtest.Reply {
		u, _ := url.Parse(req.URL)
		limit := 100
		fmt.Sscan(u.Query().Get("limit"), &limit)
		after := ""
		if w := u.Query().Get("where"); w != "" {
			var where map[string]map[string]string
			_ = json.Unmarshal([]byte(w), &where)
			after = where["objectId"]["$gt"]
		}
		var results []map[string]any
		for i := 0; i < n && len(results) < limit; i++ {
			id := fmt.Sprintf("u%03d", i)
			if id > after {
				results = append(results, map[string]any{"objectId": id})
			}
		}
		data, _ := json.Marshal(map[string]any{"results": results})
		return upstreamtest.Reply{Status: http.StatusOK, Body: string(data)}
	}}
}

func TestEachPaginatesByObjectID(t *testing.T) {
	t.Parallel()

	rec := pagedUsers(250)
	c := NewClient("https://api.example.com/parse", testCreds, rec, WithPageSize(100))

	var ids []string
	for obj, err := range c.Each(context.Background(), NewQuery(domain.ClassUser), domain.PrivilegeMaster) {
		require.NoError(t, err)
		ids = append(ids, obj.ID())
	}

	require.Len(t, ids, 250)
	assert.Equal(t, "u000", ids[0])
	assert.Equal(t, "u249", ids[249])
	assert.Equal(t, 3, rec.Calls())

	u, _ := url.Parse(rec.Requests()[0].URL)
	assert.Equal(t, "objectId", u.Query().Get("order"))
}

func TestEachStopsWhenConsumerBreaks(t *testing.T) {
	t.Parallel()

	rec := pagedUsers(250)
	c := NewClient("https://api.example.com/parse", testCreds, rec, WithPageSize(100))

	count := 0
	for _, err := range c.Each(context.Background(), NewQuery(domain.ClassUser), domain.PrivilegeMaster) {
		require.NoError(t, err)
		count++
		if count == 5 {
			break
		}
	}
	assert.Equal(t, 1, rec.Calls())
}

func TestEachYieldsFetchError(t *testing.T) {
	t.Parallel()

	rec := upstreamtest.New(http.StatusInternalServerError, "down")
	c := NewClient("https://api.example.com/parse", testCreds, rec)

	var errs []error
	for _, err := range c.Each(context.Background(), NewQuery(domain.ClassUser), domain.PrivilegeMaster) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.EqualError(t, errs[0], "Request failed: down")
}
