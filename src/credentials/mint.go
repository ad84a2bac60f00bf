package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"relayci/src/contracts"
)

type mintRequest struct {
	Token string `json:"token"`
}

type mintResponse struct {
	Success *bool  `json:"success,omitempty"`
	Token   string `json:"token"`
	Expires int64  `json:"expires,omitempty"`
	Message string `json:"message,omitempty"`
	Errors  []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors,omitempty"`
}

// MintTokenURL derives the token exchange endpoint from an upload repository URL.
// Uploads to upload.pypi.org mint on pypi.org.
func MintTokenURL(repository string) (string, error) {
	u, err := url.Parse(repository)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", &contracts.ConfigurationError{Field: "PYPI_REPOSITORY_URL", Reason: fmt.Sprintf("invalid repository URL %q", repository)}
	}
	host := u.Host
	if host == "upload.pypi.org" {
		host = "pypi.org"
	}
	return u.Scheme + "://" + host + "/_/oidc/mint-token", nil
}

func mintToken(ctx context.Context, client *http.Client, mintURL, idToken string) (string, *time.Time, error) {
	body, err := json.Marshal(mintRequest{Token: idToken})
	if err != nil {
		return "", nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", mintURL, bytes.NewReader(body))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", nil, fmt.Errorf("%w: read response: %v", ErrTokenExchange, err)
	}

	var parsed mintResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", nil, fmt.Errorf("%w: status %d: %s", ErrTokenExchange, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if resp.StatusCode != http.StatusOK || parsed.Token == "" {
		reasons := make([]string, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			reasons = append(reasons, fmt.Sprintf("%s: %s", e.Code, e.Description))
		}
		detail := parsed.Message
		if len(reasons) > 0 {
			detail = strings.TrimSpace(detail + " " + strings.Join(reasons, "; "))
		}
		return "", nil, fmt.Errorf("%w: status %d: %s", ErrTokenExchange, resp.StatusCode, detail)
	}

	var expires *time.Time
	if parsed.Expires > 0 {
		t := time.Unix(parsed.Expires, 0).UTC()
		expires = &t
	}
	return parsed.Token, expires, nil
}
