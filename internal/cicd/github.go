package cicd

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"golang.org/x/crypto/nacl/box"

	"github.com/gameforge/gfops/internal/secure"
)

// GitHubTarget stores secrets as GitHub Actions repository secrets.
// Values are sealed client-side with the repository public key, so the
// plaintext never appears in the API request beyond the sealed box.
type GitHubTarget struct {
	client *gh.Client
	owner  string
	repo   string
}

// NewGitHubTarget creates the production target. The rate limit
// middleware sleeps through secondary limits instead of failing the
// sync run.
func NewGitHubTarget(owner, repo, token string) *GitHubTarget {
	client := gh.NewClient(github_ratelimit.NewClient(nil)).WithAuthToken(token)
	return &GitHubTarget{client: client, owner: owner, repo: repo}
}

// NewGitHubTargetWithBaseURL creates a target against a custom API base
// URL, used by tests with httptest.
func NewGitHubTargetWithBaseURL(httpClient *http.Client, baseURL, owner, repo string) (*GitHubTarget, error) {
	client := gh.NewClient(httpClient)
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	client.BaseURL = u
	return &GitHubTarget{client: client, owner: owner, repo: repo}, nil
}

// Name implements Target.
func (t *GitHubTarget) Name() string { return "github" }

// Push implements Target.
func (t *GitHubTarget) Push(ctx context.Context, name string, value *secure.Buffer) error {
	key, _, err := t.client.Actions.GetRepoPublicKey(ctx, t.owner, t.repo)
	if err != nil {
		return fmt.Errorf("fetch repository public key: %w", err)
	}

	recipient, err := decodePublicKey(key.GetKey())
	if err != nil {
		return err
	}

	var sealed []byte
	err = value.WithBytes(func(plaintext []byte) error {
		var sealErr error
		sealed, sealErr = box.SealAnonymous(nil, plaintext, recipient, rand.Reader)
		return sealErr
	})
	if err != nil {
		return fmt.Errorf("seal secret value: %w", err)
	}

	secret := &gh.EncryptedSecret{
		Name:           name,
		KeyID:          key.GetKeyID(),
		EncryptedValue: base64.StdEncoding.EncodeToString(sealed),
	}
	if _, err := t.client.Actions.CreateOrUpdateRepoSecret(ctx, t.owner, t.repo, secret); err != nil {
		return fmt.Errorf("store secret %s: %w", name, err)
	}
	return nil
}

// decodePublicKey turns the base64 repository key into the fixed-size
// array nacl/box expects.
func decodePublicKey(encoded string) (*[32]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode repository public key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("repository public key is %d bytes, expected 32", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}
