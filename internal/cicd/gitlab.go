package cicd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gameforge/gfops/internal/secure"
)

// defaultGitLabBaseURL targets gitlab.com unless config overrides it
// for a self-hosted instance.
const defaultGitLabBaseURL = "https://gitlab.com"

// GitLabTarget stores secrets as GitLab CI/CD project variables, always
// masked and protected. Two REST endpoints do not warrant an SDK.
type GitLabTarget struct {
	baseURL   string
	projectID string
	token     string
	client    *http.Client
}

// NewGitLabTarget creates the target. An empty baseURL means gitlab.com.
func NewGitLabTarget(baseURL, projectID, token string) *GitLabTarget {
	if baseURL == "" {
		baseURL = defaultGitLabBaseURL
	}
	return &GitLabTarget{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		projectID: projectID,
		token:     token,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Name implements Target.
func (t *GitLabTarget) Name() string { return "gitlab" }

// Push implements Target. Update first; a 404 means the variable does
// not exist yet and gets created instead.
func (t *GitLabTarget) Push(ctx context.Context, name string, value *secure.Buffer) error {
	return value.WithBytes(func(plaintext []byte) error {
		form := url.Values{
			"value":     {string(plaintext)},
			"masked":    {"true"},
			"protected": {"true"},
		}

		status, err := t.send(ctx, http.MethodPut, t.variableURL(name), form)
		if err != nil {
			return err
		}
		if status == http.StatusNotFound {
			form.Set("key", name)
			status, err = t.send(ctx, http.MethodPost, t.variablesURL(), form)
			if err != nil {
				return err
			}
		}
		if status < 200 || status >= 300 {
			// Status only: the response body may echo variable values.
			return fmt.Errorf("GitLab returned status %d for variable %s", status, name)
		}
		return nil
	})
}

func (t *GitLabTarget) variablesURL() string {
	return fmt.Sprintf("%s/api/v4/projects/%s/variables", t.baseURL, url.PathEscape(t.projectID))
}

func (t *GitLabTarget) variableURL(name string) string {
	return t.variablesURL() + "/" + url.PathEscape(name)
}

func (t *GitLabTarget) send(ctx context.Context, method, endpoint string, form url.Values) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, err
	}
	req.Header.Set("PRIVATE-TOKEN", t.token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("GitLab request failed: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
