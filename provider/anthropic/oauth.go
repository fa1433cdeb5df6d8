package anthropic

import (
	"net/http"
	"sync"
	"time"

	"github.com/nvoss/overture"
)

const oauthBeta = "oauth-2025-04-20"

// oauthTransport authenticates requests with an OAuth access token,
// refreshing it before dispatch when expired and retrying exactly once after
// a 401. Rotated tokens are handed to the persist callback.
type oauthTransport struct {
	base     http.RoundTripper
	tokenURL string
	clientID string
	persist  func(overture.OAuthCredentials)

	mu    sync.Mutex
	creds overture.OAuthCredentials
}

func newOAuthTransport(creds overture.OAuthCredentials, tokenURL, clientID string, persist func(overture.OAuthCredentials)) *oauthTransport {
	return &oauthTransport{
		base:     http.DefaultTransport,
		tokenURL: tokenURL,
		clientID: clientID,
		persist:  persist,
		creds:    creds,
	}
}

func (t *oauthTransport) current() overture.OAuthCredentials {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.creds
}

// refresh exchanges the refresh token and stores the result. Concurrent
// callers serialise; a caller that lost the race reuses the winner's token
// instead of burning another exchange.
func (t *oauthTransport) refresh(req *http.Request, stale overture.OAuthCredentials) (overture.OAuthCredentials, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.creds.Access != stale.Access {
		return t.creds, nil
	}
	fresh, err := overture.RefreshOAuthToken(req.Context(), &http.Client{Timeout: 30 * time.Second},
		t.tokenURL, t.clientID, t.creds.Refresh)
	if err != nil {
		return overture.OAuthCredentials{}, err
	}
	t.creds = fresh
	if t.persist != nil {
		t.persist(fresh)
	}
	return fresh, nil
}

func (t *oauthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	creds := t.current()
	if creds.ExpiredAt(time.Now()) {
		fresh, err := t.refresh(req, creds)
		if err == nil {
			creds = fresh
		}
		// On refresh failure the stale token goes out anyway; the 401 path
		// below gets one more chance.
	}

	resp, err := t.base.RoundTrip(authorize(req, creds.Access))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// One refresh-and-retry on 401. The body must be rewindable.
	if req.GetBody == nil {
		return resp, nil
	}
	resp.Body.Close()
	fresh, rerr := t.refresh(req, creds)
	if rerr != nil {
		return nil, rerr
	}
	retry := authorize(req, fresh.Access)
	body, berr := req.GetBody()
	if berr != nil {
		return nil, berr
	}
	retry.Body = body
	return t.base.RoundTrip(retry)
}

// authorize clones req with OAuth headers. The Messages API requires the
// oauth beta flag and rejects x-api-key when a Bearer token is present.
func authorize(req *http.Request, access string) *http.Request {
	out := req.Clone(req.Context())
	out.Header.Del("x-api-key")
	out.Header.Set("Authorization", "Bearer "+access)
	out.Header.Set("anthropic-beta", oauthBeta)
	return out
}
