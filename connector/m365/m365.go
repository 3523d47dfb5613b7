// Package m365 implements the Microsoft 365 connector over the Graph API:
// directory users, groups, and directory roles, fetched with OData paging
// under client-credentials auth.
package m365

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Mythidas/MSPByte-Remake-sub005/connector"
	"github.com/Mythidas/MSPByte-Remake-sub005/errors"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

// IntegrationType is the registry key for this connector.
const IntegrationType = "microsoft-365"

const (
	graphBaseURL = "https://graph.microsoft.com/v1.0"
	tokenURLFmt  = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	pageSizeMax  = 999
)

// endpoints maps canonical entity types onto Graph collections. Membership
// navigation collections only come back when expanded, so identities carry
// $expand for the group and role refs the link rules extract.
var endpoints = map[types.EntityType]string{
	types.EntityIdentity: "/users?$select=id,displayName,userPrincipalName,accountEnabled,mail&$expand=memberOf($select=id),transitiveMemberOf($select=id)",
	types.EntityGroup:    "/groups?$select=id,displayName,securityEnabled,mailEnabled",
	types.EntityRole:     "/directoryRoles?$select=id,displayName,roleTemplateId",
}

// Config holds the app registration credentials for one Microsoft tenant.
type Config struct {
	TenantID     string // Microsoft tenant GUID, not the MSP tenant
	ClientID     string
	ClientSecret string
}

// Connector talks to the Graph API.
type Connector struct {
	cfg     Config
	http    *http.Client
	baseURL string
	authURL string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// Option configures a Connector.
type Option func(*Connector)

// WithHTTPClient replaces the HTTP client. Tests point this at a stub
// server together with WithBaseURL.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Connector) { m.http = c }
}

// WithBaseURL overrides the Graph API base URL.
func WithBaseURL(api, auth string) Option {
	return func(m *Connector) {
		m.baseURL = api
		m.authURL = auth
	}
}

// New creates a Microsoft 365 connector.
func New(cfg Config, opts ...Option) *Connector {
	m := &Connector{
		cfg:     cfg,
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: graphBaseURL,
		authURL: fmt.Sprintf(tokenURLFmt, cfg.TenantID),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Type implements connector.Connector.
func (m *Connector) Type() string { return IntegrationType }

// SupportedEntityTypes implements connector.Connector.
func (m *Connector) SupportedEntityTypes() []types.EntityType {
	return []types.EntityType{types.EntityIdentity, types.EntityGroup, types.EntityRole}
}

// CheckHealth acquires a token and probes the organization endpoint.
func (m *Connector) CheckHealth(ctx context.Context) error {
	if _, err := m.accessToken(ctx); err != nil {
		return err
	}
	_, err := m.get(ctx, m.baseURL+"/organization?$select=id")
	return err
}

// Fetch implements connector.Connector. The cursor is Graph's
// @odata.nextLink verbatim.
func (m *Connector) Fetch(ctx context.Context, req connector.PageRequest) (*connector.Page, error) {
	endpoint, ok := endpoints[req.EntityType]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrUnsupportedEntityType,
			"Connector", "Fetch", fmt.Sprintf("entity type %q", req.EntityType))
	}

	target := req.Cursor
	if target == "" {
		size := req.PageSize
		if size <= 0 || size > pageSizeMax {
			size = pageSizeMax
		}
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		target = fmt.Sprintf("%s%s%s$top=%d", m.baseURL, endpoint, sep, size)
	}

	body, err := m.get(ctx, target)
	if err != nil {
		return nil, err
	}

	var listing struct {
		Value    []map[string]any `json:"value"`
		NextLink string           `json:"@odata.nextLink"`
		Count    int              `json:"@odata.count"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, errors.WrapInvalid(err, "Connector", "Fetch", "decode graph listing")
	}

	records := make([]connector.Record, 0, len(listing.Value))
	for _, item := range listing.Value {
		id, _ := item["id"].(string)
		if id == "" {
			continue
		}
		records = append(records, connector.Record{ExternalID: id, Data: item})
	}

	total := listing.Count
	if total == 0 {
		total = len(records)
	}
	return &connector.Page{
		Records:    records,
		Total:      total,
		NextCursor: listing.NextLink,
		HasMore:    listing.NextLink != "",
	}, nil
}

// get performs an authenticated GET, classifying HTTP failures for the
// retry policy: auth problems are invalid, throttling and server errors
// transient.
func (m *Connector) get(ctx context.Context, target string) ([]byte, error) {
	token, err := m.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Connector", "get", "build request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "Connector", "get", "call graph api")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapTransient(err, "Connector", "get", "read response")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		m.invalidateToken()
		return nil, errors.WrapInvalid(errors.ErrConnectorAuth, "Connector", "get",
			fmt.Sprintf("graph returned %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errors.WrapTransient(errors.ErrConnectorTimeout, "Connector", "get",
			fmt.Sprintf("graph returned %d", resp.StatusCode))
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("graph returned %d: %s", resp.StatusCode, truncate(body)),
			"Connector", "get", "unexpected response")
	}
}

// accessToken returns a cached token, refreshing through the
// client-credentials grant when within a minute of expiry.
func (m *Connector) accessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && time.Until(m.tokenExpiry) > time.Minute {
		return m.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {m.cfg.ClientID},
		"client_secret": {m.cfg.ClientSecret},
		"scope":         {"https://graph.microsoft.com/.default"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.authURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.WrapInvalid(err, "Connector", "accessToken", "build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.http.Do(req)
	if err != nil {
		return "", errors.WrapTransient(err, "Connector", "accessToken", "call token endpoint")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.WrapTransient(err, "Connector", "accessToken", "read token response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.WrapInvalid(errors.ErrConnectorAuth, "Connector", "accessToken",
			fmt.Sprintf("token endpoint returned %d", resp.StatusCode))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		return "", errors.WrapInvalid(errors.ErrConnectorAuth, "Connector", "accessToken",
			"token response missing access_token")
	}

	m.token = tok.AccessToken
	m.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return m.token, nil
}

func (m *Connector) invalidateToken() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
