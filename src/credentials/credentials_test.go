package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"relayci/src/config"
	"relayci/src/contracts"
)

type fakeIDTokens struct {
	token    string
	err      error
	audience string
}

func (f *fakeIDTokens) RequestIDToken(ctx context.Context, audience string) (string, error) {
	f.audience = audience
	return f.token, f.err
}

func testConfig(token string) *config.Config {
	return &config.Config{PyPIRepository: config.DefaultPyPIRepository, PyPIToken: token}
}

func TestTokenProvider(t *testing.T) {
	p := NewTokenProvider("pypi-secret", config.DefaultPyPIRepository)
	creds, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	env := creds.Env()
	if env["TWINE_USERNAME"] != "__token__" || env["TWINE_PASSWORD"] != "pypi-secret" {
		t.Errorf("Env() = %v", env)
	}
	if env["PYPI_REPOSITORY_URL"] != config.DefaultPyPIRepository {
		t.Errorf("PYPI_REPOSITORY_URL = %q", env["PYPI_REPOSITORY_URL"])
	}
	if secrets := creds.Secrets(); len(secrets) != 1 || secrets[0] != "pypi-secret" {
		t.Errorf("Secrets() = %v", secrets)
	}

	empty := NewTokenProvider("", config.DefaultPyPIRepository)
	if _, err := empty.Acquire(context.Background()); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("Acquire() without token error = %v, want ErrNoCredentials", err)
	}
}

func TestResolve(t *testing.T) {
	noOIDC := func(string) string { return "" }
	withOIDC := func(k string) string {
		switch k {
		case "ACTIONS_ID_TOKEN_REQUEST_URL":
			return "https://token.actions.example/"
		case "ACTIONS_ID_TOKEN_REQUEST_TOKEN":
			return "request-token"
		}
		return ""
	}

	tests := []struct {
		name     string
		set      string
		getenv   func(string) string
		wantName string
		wantErr  bool
	}{
		{name: "token fallback", set: PyPI, getenv: noOIDC, wantName: "token"},
		{name: "trusted publishing", set: PyPI, getenv: withOIDC, wantName: "oidc"},
		{name: "unknown set", set: "npm", getenv: noOIDC, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Resolve(tt.set, testConfig("tok"), tt.getenv, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var cfgErr *contracts.ConfigurationError
				if !errors.As(err, &cfgErr) {
					t.Errorf("Resolve() error type = %T", err)
				}
				return
			}
			if p.Name() != tt.wantName {
				t.Errorf("Resolve() provider = %s, want %s", p.Name(), tt.wantName)
			}
		})
	}
}

func TestOIDCProvider_Acquire(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/_/oidc/mint-token" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req mintRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Token != "id-token-jwt" {
			t.Errorf("exchanged token = %q", req.Token)
		}
		w.Write([]byte(`{"success": true, "token": "pypi-minted", "expires": 1700000900}`))
	}))
	defer server.Close()

	ids := &fakeIDTokens{token: "id-token-jwt"}
	p := NewOIDCProvider(ids, server.URL+"/legacy/", nil)

	creds, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if ids.audience != "pypi" {
		t.Errorf("audience = %q, want pypi", ids.audience)
	}
	if creds.Password != "pypi-minted" || creds.Username != "__token__" || creds.Source != "oidc" {
		t.Errorf("Acquire() = %+v", creds)
	}
	if creds.ExpiresAt == nil || creds.ExpiresAt.Unix() != 1700000900 {
		t.Errorf("ExpiresAt = %v", creds.ExpiresAt)
	}
}

func TestOIDCProvider_Errors(t *testing.T) {
	t.Run("id-token request fails", func(t *testing.T) {
		p := NewOIDCProvider(&fakeIDTokens{err: errors.New("403 forbidden")}, config.DefaultPyPIRepository, nil)
		if _, err := p.Acquire(context.Background()); err == nil {
			t.Error("Acquire() expected error")
		}
	})

	t.Run("exchange rejected", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"message":"Token request failed","errors":[{"code":"invalid-publisher","description":"valid token, but no corresponding publisher"}]}`))
		}))
		defer server.Close()

		p := NewOIDCProvider(&fakeIDTokens{token: "jwt"}, server.URL+"/legacy/", nil)
		_, err := p.Acquire(context.Background())
		if !errors.Is(err, ErrTokenExchange) {
			t.Fatalf("Acquire() error = %v, want ErrTokenExchange", err)
		}
	})
}

func TestMintTokenURL(t *testing.T) {
	tests := []struct {
		repo    string
		want    string
		wantErr bool
	}{
		{repo: "https://upload.pypi.org/legacy/", want: "https://pypi.org/_/oidc/mint-token"},
		{repo: "https://test.pypi.org/legacy/", want: "https://test.pypi.org/_/oidc/mint-token"},
		{repo: "not a url", wantErr: true},
	}
	for _, tt := range tests {
		got, err := MintTokenURL(tt.repo)
		if (err != nil) != tt.wantErr {
			t.Errorf("MintTokenURL(%q) error = %v, wantErr %v", tt.repo, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("MintTokenURL(%q) = %q, want %q", tt.repo, got, tt.want)
		}
	}
}
