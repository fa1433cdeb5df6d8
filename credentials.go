package overture

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// OAuthCredentials is the payload stored for OAuth vendors: an access token,
// the refresh token, and the access token's expiry in Unix milliseconds.
type OAuthCredentials struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	Expires int64  `json:"expires"`
}

// ParseOAuthCredentials decodes a stored credential payload. A payload that
// is not a JSON object with an access token is rejected.
func ParseOAuthCredentials(payload string) (OAuthCredentials, error) {
	var c OAuthCredentials
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return c, &ErrInvalidCredential{Reason: "not an oauth token payload"}
	}
	if c.Access == "" {
		return c, &ErrInvalidCredential{Reason: "missing access token"}
	}
	return c, nil
}

// Encode serialises the triple back into its stored form.
func (c OAuthCredentials) Encode() string {
	b, _ := json.Marshal(c)
	return string(b)
}

// ExpiredAt reports whether the access token is expired at the given time,
// with a safety margin so tokens are refreshed shortly before the deadline.
func (c OAuthCredentials) ExpiredAt(now time.Time) bool {
	if c.Expires == 0 {
		return false
	}
	const margin = 60 * 1000 // ms
	return now.UnixMilli() >= c.Expires-margin
}

// RefreshOAuthToken exchanges a refresh token at the vendor's token endpoint.
// The endpoint speaks standard OAuth: a form POST with
// grant_type=refresh_token, answering with access_token, refresh_token, and
// expires_in seconds.
func RefreshOAuthToken(ctx context.Context, client *http.Client, tokenURL, clientID, refreshToken string) (OAuthCredentials, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {clientID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return OAuthCredentials{}, fmt.Errorf("oauth: build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return OAuthCredentials{}, fmt.Errorf("oauth: refresh: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return OAuthCredentials{}, &ErrHTTP{Status: resp.StatusCode, URL: tokenURL, Body: truncateRunes(string(body), 512)}
	}

	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return OAuthCredentials{}, fmt.Errorf("oauth: decode refresh response: %w", err)
	}
	if tok.AccessToken == "" {
		return OAuthCredentials{}, fmt.Errorf("oauth: refresh response missing access_token")
	}
	out := OAuthCredentials{
		Access:  tok.AccessToken,
		Refresh: tok.RefreshToken,
		Expires: time.Now().UnixMilli() + tok.ExpiresIn*1000,
	}
	if out.Refresh == "" {
		// Endpoints may omit the refresh token when it is unchanged.
		out.Refresh = refreshToken
	}
	return out, nil
}

// CredentialResolver looks up and maintains a user's vendor credentials. For
// OAuth vendors it refreshes expired access tokens ahead of use and persists
// the rotated triple; concurrent refreshes for the same credential collapse
// into one flight.
type CredentialResolver struct {
	store  Store
	userID string
	client *http.Client
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time

	// tokenURL overrides the vendor's token endpoint when non-empty.
	tokenURL string

	// static keys override the store per vendor, for config-provisioned
	// deployments without a credential table.
	static map[string]string
}

// ResolverOption configures a CredentialResolver.
type ResolverOption func(*CredentialResolver)

// WithResolverLogger sets the refresh/persist diagnostics logger.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *CredentialResolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithHTTPClient sets the client used against token endpoints.
func WithHTTPClient(c *http.Client) ResolverOption {
	return func(r *CredentialResolver) {
		if c != nil {
			r.client = c
		}
	}
}

// WithStaticKey registers a fixed credential for a vendor, taking precedence
// over the store.
func WithStaticKey(vendor, key string) ResolverOption {
	return func(r *CredentialResolver) {
		r.static[vendor] = key
	}
}

// withClock overrides the resolver's clock in tests.
func withClock(now func() time.Time) ResolverOption {
	return func(r *CredentialResolver) { r.now = now }
}

// withTokenURL points refreshes at a test token endpoint.
func withTokenURL(u string) ResolverOption {
	return func(r *CredentialResolver) { r.tokenURL = u }
}

// NewCredentialResolver builds a resolver scoped to one user.
func NewCredentialResolver(store Store, userID string, opts ...ResolverOption) *CredentialResolver {
	r := &CredentialResolver{
		store:  store,
		userID: userID,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: nopLogger,
		now:    time.Now,
		static: make(map[string]string),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the stored credential payload for a vendor without
// touching its expiry. Static keys win over the store.
func (r *CredentialResolver) Resolve(ctx context.Context, vendor string) (string, error) {
	if key, ok := r.static[vendor]; ok {
		return key, nil
	}
	if r.store == nil {
		return "", fmt.Errorf("%w: %s", ErrCredentialMissing, vendor)
	}
	cred, err := r.store.GetCredential(ctx, r.userID, vendor)
	if err != nil {
		return "", err
	}
	return cred.APIKey, nil
}

// ResolveFresh returns a usable credential payload for a vendor, refreshing
// an expired OAuth access token first. Refresh failures are non-fatal: the
// stale payload is returned so the downstream 401 retry path can have a go.
// Persistence failures after a successful refresh are logged, not returned;
// the fresh token is still used for this turn.
func (r *CredentialResolver) ResolveFresh(ctx context.Context, vendor string) (string, error) {
	payload, err := r.Resolve(ctx, vendor)
	if err != nil {
		return "", err
	}
	info, err := Vendor(vendor)
	if err != nil || !info.OAuth {
		return payload, nil
	}

	oc, err := ParseOAuthCredentials(payload)
	if err != nil {
		return "", &ErrInvalidCredential{Vendor: vendor, Reason: err.Error()}
	}
	if !oc.ExpiredAt(r.now()) {
		return payload, nil
	}

	tokenURL := info.TokenURL
	if r.tokenURL != "" {
		tokenURL = r.tokenURL
	}
	fresh, err, _ := r.group.Do(r.userID+"/"+vendor, func() (any, error) {
		tok, err := RefreshOAuthToken(ctx, r.client, tokenURL, info.ClientID, oc.Refresh)
		if err != nil {
			return nil, err
		}
		r.persist(ctx, vendor, tok)
		return tok, nil
	})
	if err != nil {
		r.logger.Warn("oauth refresh failed, using stale token", "vendor", vendor, "error", err)
		return payload, nil
	}
	return fresh.(OAuthCredentials).Encode(), nil
}

// persist writes a rotated token back to the store under the credential row
// it came from.
func (r *CredentialResolver) persist(ctx context.Context, vendor string, tok OAuthCredentials) {
	if r.store == nil {
		return
	}
	cred, err := r.store.GetCredential(ctx, r.userID, vendor)
	if err != nil {
		r.logger.Warn("cannot persist refreshed token", "vendor", vendor, "error", err)
		return
	}
	if err := r.store.UpdateCredential(ctx, r.userID, cred.ID, tok.Encode()); err != nil {
		r.logger.Warn("cannot persist refreshed token", "vendor", vendor, "error", err)
	}
}

// PersistFunc returns a callback providers use to store tokens they rotate
// mid-request (the 401 retry path).
func (r *CredentialResolver) PersistFunc(vendor string) func(OAuthCredentials) {
	return func(tok OAuthCredentials) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		r.persist(ctx, vendor, tok)
	}
}
