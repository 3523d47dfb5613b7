package m365

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mythidas/MSPByte-Remake-sub005/connector"
	"github.com/Mythidas/MSPByte-Remake-sub005/errors"
	"github.com/Mythidas/MSPByte-Remake-sub005/linker"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

type graphStub struct {
	server     *httptest.Server
	tokenCalls atomic.Int64
	userStatus int
}

func newGraphStub(t *testing.T) *graphStub {
	t.Helper()
	s := &graphStub{userStatus: http.StatusOK}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		s.tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		if r.Form.Get("grant_type") != "client_credentials" || r.Form.Get("client_secret") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 3600})
	})
	mux.HandleFunc("/organization", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"value": []any{map[string]any{"id": "org-1"}}})
	})
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if s.userStatus != http.StatusOK {
			w.WriteHeader(s.userStatus)
			return
		}

		// Graph omits navigation collections unless the request expands them.
		expand := r.URL.Query().Get("$expand")
		user := func(id, name, upn string, enabled bool) map[string]any {
			u := map[string]any{"id": id, "displayName": name, "userPrincipalName": upn, "accountEnabled": enabled}
			if strings.Contains(expand, "memberOf") {
				u["memberOf"] = []any{map[string]any{"id": "g1"}}
			}
			if strings.Contains(expand, "transitiveMemberOf") {
				u["transitiveMemberOf"] = []any{map[string]any{"id": "r1"}}
			}
			return u
		}

		if r.URL.Query().Get("page") == "2" {
			json.NewEncoder(w).Encode(map[string]any{
				"value": []any{user("u3", "Carol", "carol@x.com", true)},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"value": []any{
				user("u1", "Alice", "alice@x.com", true),
				user("u2", "Bob", "bob@x.com", false),
			},
			"@odata.nextLink": s.server.URL + "/users?page=2&$expand=" + url.QueryEscape(expand),
		})
	})

	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

func stubConnector(s *graphStub) *Connector {
	return New(
		Config{TenantID: "ms-tenant", ClientID: "client", ClientSecret: "secret"},
		WithBaseURL(s.server.URL, s.server.URL+"/token"),
		WithHTTPClient(s.server.Client()),
	)
}

func TestConnector_FetchFollowsNextLink(t *testing.T) {
	ctx := context.Background()
	s := newGraphStub(t)
	c := stubConnector(s)

	page, err := c.Fetch(ctx, connector.PageRequest{EntityType: types.EntityIdentity, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "u1", page.Records[0].ExternalID)
	assert.True(t, page.HasMore)

	page, err = c.Fetch(ctx, connector.PageRequest{EntityType: types.EntityIdentity, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "u3", page.Records[0].ExternalID)
	assert.False(t, page.HasMore)

	// Token acquired once and cached across requests.
	assert.Equal(t, int64(1), s.tokenCalls.Load())
}

func TestConnector_FetchExpandsMemberships(t *testing.T) {
	ctx := context.Background()
	s := newGraphStub(t)
	c := stubConnector(s)

	page, err := c.Fetch(ctx, connector.PageRequest{EntityType: types.EntityIdentity, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)

	// The membership refs survive fetch, normalization, and the link-rule
	// extractor; without $expand on the wire they would all be empty.
	out, err := normalizeUser(page.Records[0].Data)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, out["member_of"])
	assert.Equal(t, []string{"r1"}, out["roles"])

	entity := &types.Entity{NormalizedData: out}
	assert.Equal(t, []string{"g1"}, linker.StringRefs("member_of")(entity))
	assert.Equal(t, []string{"r1"}, linker.StringRefs("roles")(entity))
}

func TestConnector_CheckHealth(t *testing.T) {
	s := newGraphStub(t)
	c := stubConnector(s)
	require.NoError(t, c.CheckHealth(context.Background()))
}

func TestConnector_ThrottlingIsTransient(t *testing.T) {
	s := newGraphStub(t)
	s.userStatus = http.StatusTooManyRequests
	c := stubConnector(s)

	_, err := c.Fetch(context.Background(), connector.PageRequest{EntityType: types.EntityIdentity})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestConnector_AuthFailureIsInvalid(t *testing.T) {
	s := newGraphStub(t)
	s.userStatus = http.StatusForbidden
	c := stubConnector(s)

	_, err := c.Fetch(context.Background(), connector.PageRequest{EntityType: types.EntityIdentity})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestConnector_UnsupportedEntityType(t *testing.T) {
	s := newGraphStub(t)
	c := stubConnector(s)

	_, err := c.Fetch(context.Background(), connector.PageRequest{EntityType: types.EntityTicket})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestNormalizeUser(t *testing.T) {
	out, err := normalizeUser(map[string]any{
		"userPrincipalName": "alice@x.com",
		"displayName":       "Alice",
		"accountEnabled":    true,
		"memberOf": []any{
			map[string]any{"id": "g1"},
			map[string]any{"id": "g2"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice", out["name"])
	assert.Equal(t, true, out["enabled"])
	assert.Equal(t, []string{"g1", "g2"}, out["member_of"])

	_, err = normalizeUser(map[string]any{"displayName": "No UPN"})
	require.Error(t, err)
}

func TestNormalizeRole_AdminDetection(t *testing.T) {
	out, err := normalizeRole(map[string]any{
		"displayName":    "Global Administrator",
		"roleTemplateId": "62e90394-69f5-4237-9190-012177145e10",
	})
	require.NoError(t, err)
	assert.Equal(t, true, out["is_admin"])

	out, err = normalizeRole(map[string]any{
		"displayName":    "Helpdesk Administrator",
		"roleTemplateId": fmt.Sprintf("%036d", 0),
	})
	require.NoError(t, err)
	assert.Equal(t, false, out["is_admin"])
}
