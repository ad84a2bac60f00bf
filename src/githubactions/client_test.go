package githubactions

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestClient_RequestIDToken_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer request-token" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if got := r.URL.Query().Get("audience"); got != "pypi" {
			t.Errorf("audience = %q, want pypi", got)
		}
		if got := r.URL.Query().Get("api-version"); got != "2.0" {
			t.Errorf("existing query parameter lost, api-version = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"count": 1, "value": "id-token-jwt"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/token?api-version=2.0", "request-token")
	token, err := client.RequestIDToken(context.Background(), "pypi")
	if err != nil {
		t.Fatalf("RequestIDToken() error = %v", err)
	}
	if token != "id-token-jwt" {
		t.Errorf("token = %q, want id-token-jwt", token)
	}
}

func TestClient_RequestIDToken_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "forbidden", status: http.StatusForbidden, body: `{"message":"no permission"}`},
		{name: "empty value", status: http.StatusOK, body: `{"value":""}`},
		{name: "bad json", status: http.StatusOK, body: `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL, "request-token")
			if _, err := client.RequestIDToken(context.Background(), "pypi"); err == nil {
				t.Error("RequestIDToken() expected error")
			}
		})
	}
}

func TestClientFromEnv(t *testing.T) {
	_, err := ClientFromEnv(envMap(nil))
	if !errors.Is(err, ErrOIDCUnavailable) {
		t.Errorf("ClientFromEnv() error = %v, want ErrOIDCUnavailable", err)
	}

	env := envMap(map[string]string{
		EnvIDTokenRequestURL:   "https://token.actions.example/",
		EnvIDTokenRequestToken: "t",
	})
	if !OIDCAvailable(env) {
		t.Error("OIDCAvailable() = false")
	}
	client, err := ClientFromEnv(env)
	if err != nil || client == nil {
		t.Fatalf("ClientFromEnv() = %v, %v", client, err)
	}
}
