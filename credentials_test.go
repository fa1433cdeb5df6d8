package overture

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseOAuthCredentials(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"valid", `{"access":"a","refresh":"r","expires":123}`, false},
		{"missing access", `{"refresh":"r"}`, true},
		{"plain api key", `sk-ant-xxx`, true},
		{"empty", ``, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOAuthCredentials(tt.payload)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOAuthCredentialsExpiredAt(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	tests := []struct {
		name    string
		expires int64
		want    bool
	}{
		{"zero never expires", 0, false},
		{"well in the future", now.UnixMilli() + 3_600_000, false},
		{"inside the margin", now.UnixMilli() + 30_000, true},
		{"already past", now.UnixMilli() - 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := OAuthCredentials{Access: "a", Expires: tt.expires}
			if got := c.ExpiredAt(now); got != tt.want {
				t.Errorf("ExpiredAt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRefreshOAuthToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "old-refresh" {
			t.Errorf("refresh_token = %q", got)
		}
		if got := r.PostForm.Get("client_id"); got != "client-1" {
			t.Errorf("client_id = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	tok, err := RefreshOAuthToken(context.Background(), srv.Client(), srv.URL, "client-1", "old-refresh")
	if err != nil {
		t.Fatalf("RefreshOAuthToken: %v", err)
	}
	if tok.Access != "new-access" || tok.Refresh != "new-refresh" {
		t.Errorf("token = %+v", tok)
	}
	if tok.Expires <= time.Now().UnixMilli() {
		t.Errorf("expires not in the future: %d", tok.Expires)
	}
}

func TestRefreshOAuthTokenKeepsOldRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "new", "expires_in": 60})
	}))
	defer srv.Close()

	tok, err := RefreshOAuthToken(context.Background(), srv.Client(), srv.URL, "c", "keep-me")
	if err != nil {
		t.Fatal(err)
	}
	if tok.Refresh != "keep-me" {
		t.Errorf("refresh = %q, want the old token kept", tok.Refresh)
	}
}

func TestRefreshOAuthTokenHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := RefreshOAuthToken(context.Background(), srv.Client(), srv.URL, "c", "r")
	if !IsHTTPStatus(err, http.StatusBadRequest) {
		t.Errorf("err = %v, want http 400", err)
	}
}

func TestResolveStaticKeyWins(t *testing.T) {
	store := newFakeStore()
	store.addCredential(&Credential{ID: "cred-1", UserID: "u", Vendor: "openai", APIKey: "from-store"})
	r := NewCredentialResolver(store, "u", WithStaticKey("openai", "from-config"))

	key, err := r.Resolve(context.Background(), "openai")
	if err != nil {
		t.Fatal(err)
	}
	if key != "from-config" {
		t.Errorf("key = %q, want static to win", key)
	}
}

func TestResolveMissingCredential(t *testing.T) {
	r := NewCredentialResolver(newFakeStore(), "u")
	_, err := r.Resolve(context.Background(), "anthropic")
	if err == nil {
		t.Fatal("want error")
	}
}

func TestResolveFreshNonOAuthPassthrough(t *testing.T) {
	store := newFakeStore()
	store.addCredential(&Credential{ID: "c", UserID: "u", Vendor: "anthropic", APIKey: "sk-ant-xxx"})
	r := NewCredentialResolver(store, "u")

	key, err := r.ResolveFresh(context.Background(), "anthropic")
	if err != nil {
		t.Fatal(err)
	}
	if key != "sk-ant-xxx" {
		t.Errorf("key = %q", key)
	}
}

func TestResolveFreshRefreshesExpiredToken(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh", "refresh_token": "r2", "expires_in": 3600,
		})
	}))
	defer srv.Close()

	now := time.Now()
	stale := OAuthCredentials{Access: "stale", Refresh: "r1", Expires: now.UnixMilli() - 1}
	store := newFakeStore()
	store.addCredential(&Credential{ID: "cred-1", UserID: "u", Vendor: "anthropic-oauth", APIKey: stale.Encode()})
	r := NewCredentialResolver(store, "u",
		WithHTTPClient(srv.Client()),
		withClock(func() time.Time { return now }),
		withTokenURL(srv.URL))

	payload, err := r.ResolveFresh(context.Background(), "anthropic-oauth")
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseOAuthCredentials(payload)
	if err != nil {
		t.Fatal(err)
	}
	if got.Access != "fresh" || got.Refresh != "r2" {
		t.Errorf("token = %+v", got)
	}
	if hits.Load() != 1 {
		t.Errorf("token endpoint hits = %d", hits.Load())
	}

	// The rotated triple must be persisted back to the credential row.
	cred, err := store.GetCredential(context.Background(), "u", "anthropic-oauth")
	if err != nil {
		t.Fatal(err)
	}
	persisted, err := ParseOAuthCredentials(cred.APIKey)
	if err != nil {
		t.Fatal(err)
	}
	if persisted.Access != "fresh" {
		t.Errorf("persisted access = %q", persisted.Access)
	}
}

func TestResolveFreshStaleOnRefreshFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	now := time.Now()
	stale := OAuthCredentials{Access: "stale", Refresh: "r1", Expires: now.UnixMilli() - 1}
	store := newFakeStore()
	store.addCredential(&Credential{ID: "c", UserID: "u", Vendor: "anthropic-oauth", APIKey: stale.Encode()})
	r := NewCredentialResolver(store, "u",
		WithHTTPClient(srv.Client()),
		withClock(func() time.Time { return now }),
		withTokenURL(srv.URL))

	payload, err := r.ResolveFresh(context.Background(), "anthropic-oauth")
	if err != nil {
		t.Fatalf("refresh failure must not be fatal: %v", err)
	}
	if payload != stale.Encode() {
		t.Errorf("payload = %q, want the stale triple", payload)
	}
}

func TestResolveFreshSingleFlight(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		<-release
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh", "refresh_token": "r2", "expires_in": 3600,
		})
	}))
	defer srv.Close()

	now := time.Now()
	stale := OAuthCredentials{Access: "stale", Refresh: "r1", Expires: now.UnixMilli() - 1}
	store := newFakeStore()
	store.addCredential(&Credential{ID: "c", UserID: "u", Vendor: "anthropic-oauth", APIKey: stale.Encode()})
	r := NewCredentialResolver(store, "u",
		WithHTTPClient(srv.Client()),
		withClock(func() time.Time { return now }),
		withTokenURL(srv.URL))

	const n = 8
	var wg sync.WaitGroup
	started := make(chan struct{}, n)
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			payload, err := r.ResolveFresh(context.Background(), "anthropic-oauth")
			if err != nil {
				t.Errorf("goroutine %d: %v", i, err)
				return
			}
			results[i] = payload
		}(i)
	}
	for i := 0; i < n; i++ {
		<-started
	}
	// Give the in-flight callers a moment to pile onto the single flight,
	// then let the endpoint answer.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := hits.Load(); got > 2 {
		t.Errorf("token endpoint hits = %d, want the flights collapsed", got)
	}
	for i, payload := range results {
		tok, err := ParseOAuthCredentials(payload)
		if err != nil {
			t.Fatalf("result %d: %v", i, err)
		}
		if tok.Access != "fresh" {
			t.Errorf("result %d access = %q", i, tok.Access)
		}
	}
}

func TestPersistFuncUpdatesStore(t *testing.T) {
	store := newFakeStore()
	store.addCredential(&Credential{ID: "c", UserID: "u", Vendor: "anthropic-oauth", APIKey: "{}"})
	r := NewCredentialResolver(store, "u")

	r.PersistFunc("anthropic-oauth")(OAuthCredentials{Access: "rotated", Refresh: "r", Expires: 99})

	cred, err := store.GetCredential(context.Background(), "u", "anthropic-oauth")
	if err != nil {
		t.Fatal(err)
	}
	tok, err := ParseOAuthCredentials(cred.APIKey)
	if err != nil {
		t.Fatal(err)
	}
	if tok.Access != "rotated" {
		t.Errorf("persisted access = %q", tok.Access)
	}
}
