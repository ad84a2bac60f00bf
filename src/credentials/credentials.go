// Package credentials acquires publish credentials for the stage that needs them.
// Acquisition happens right before that stage runs, never earlier.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"relayci/src/config"
	"relayci/src/contracts"
	"relayci/src/githubactions"
	"relayci/src/logger"
)

var (
	// ErrNoCredentials means neither trusted publishing nor a static token is available.
	ErrNoCredentials = errors.New("no publish credentials available")
	// ErrTokenExchange means the index refused to mint an upload token.
	ErrTokenExchange = errors.New("trusted publishing token exchange failed")
)

// PyPI is the only credential set workflows can declare today.
const PyPI = "pypi"

// Audience requested for PyPI trusted publishing id-tokens.
const pypiAudience = "pypi"

// Credentials are short-lived upload credentials for one publish stage.
type Credentials struct {
	Username      string
	Password      string
	RepositoryURL string
	// Source names how the credentials were obtained ("oidc" or "token").
	Source    string
	ExpiresAt *time.Time
}

// Env returns the step environment the upload client reads.
func (c *Credentials) Env() map[string]string {
	env := map[string]string{
		"TWINE_USERNAME": c.Username,
		"TWINE_PASSWORD": c.Password,
	}
	if c.RepositoryURL != "" {
		env["TWINE_REPOSITORY_URL"] = c.RepositoryURL
		env["PYPI_REPOSITORY_URL"] = c.RepositoryURL
	}
	return env
}

// Secrets returns the values that must be masked in step output.
func (c *Credentials) Secrets() []string {
	if c.Password == "" {
		return nil
	}
	return []string{c.Password}
}

// Provider acquires credentials on demand.
type Provider interface {
	Acquire(ctx context.Context) (*Credentials, error)
	Name() string
}

// Resolve picks the provider for a stage's declared credential set. Trusted
// publishing wins when the runner exposes an OIDC endpoint.
func Resolve(name string, cfg *config.Config, getenv func(string) string, log logger.Logger) (Provider, error) {
	if name != PyPI {
		return nil, &contracts.ConfigurationError{Field: "credentials", Reason: fmt.Sprintf("unknown credential set %q (supported: %s)", name, PyPI)}
	}
	if log == nil {
		log = logger.NewSilentLogger()
	}

	if githubactions.OIDCAvailable(getenv) {
		client, err := githubactions.ClientFromEnv(getenv)
		if err != nil {
			return nil, err
		}
		log.Debug("[Credentials] Using trusted publishing for %s", cfg.PyPIRepository)
		return NewOIDCProvider(client, cfg.PyPIRepository, log), nil
	}

	log.Debug("[Credentials] Using static API token for %s", cfg.PyPIRepository)
	return NewTokenProvider(cfg.PyPIToken, cfg.PyPIRepository), nil
}

// TokenProvider hands out a static API token.
type TokenProvider struct {
	token      string
	repository string
}

// NewTokenProvider creates a provider for a static token.
func NewTokenProvider(token, repository string) *TokenProvider {
	return &TokenProvider{token: token, repository: repository}
}

func (p *TokenProvider) Name() string { return "token" }

// Acquire returns the static token, or ErrNoCredentials when none is configured.
func (p *TokenProvider) Acquire(ctx context.Context) (*Credentials, error) {
	if p.token == "" {
		return nil, fmt.Errorf("%w: set PYPI_API_TOKEN or grant the job `id-token: write` for trusted publishing", ErrNoCredentials)
	}
	return &Credentials{
		Username:      "__token__",
		Password:      p.token,
		RepositoryURL: p.repository,
		Source:        p.Name(),
	}, nil
}

// IDTokenSource requests OIDC id-tokens.
type IDTokenSource interface {
	RequestIDToken(ctx context.Context, audience string) (string, error)
}

// OIDCProvider exchanges a GitHub Actions id-token for a short-lived upload token.
type OIDCProvider struct {
	source     IDTokenSource
	repository string
	httpClient *http.Client
	log        logger.Logger
}

// NewOIDCProvider creates a trusted publishing provider.
func NewOIDCProvider(source IDTokenSource, repository string, log logger.Logger) *OIDCProvider {
	if log == nil {
		log = logger.NewSilentLogger()
	}
	return &OIDCProvider{
		source:     source,
		repository: repository,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

func (p *OIDCProvider) Name() string { return "oidc" }

// Acquire requests an id-token and mints an upload token with it.
func (p *OIDCProvider) Acquire(ctx context.Context) (*Credentials, error) {
	idToken, err := p.source.RequestIDToken(ctx, pypiAudience)
	if err != nil {
		return nil, fmt.Errorf("trusted publishing: %w", err)
	}

	mintURL, err := MintTokenURL(p.repository)
	if err != nil {
		return nil, err
	}

	p.log.Debug("[Credentials] Exchanging id-token at %s", mintURL)
	token, expires, err := mintToken(ctx, p.httpClient, mintURL, idToken)
	if err != nil {
		return nil, err
	}

	return &Credentials{
		Username:      "__token__",
		Password:      token,
		RepositoryURL: p.repository,
		Source:        p.Name(),
		ExpiresAt:     expires,
	}, nil
}
