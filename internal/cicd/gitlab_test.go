package cicd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gameforge/gfops/internal/secure"
)

func TestGitLabPushUpdatesExistingVariable(t *testing.T) {
	t.Parallel()

	var gotMethod, gotPath, gotToken string
	var gotForm map[string][]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotToken = r.Header.Get("PRIVATE-TOKEN")
		gotForm = r.PostForm
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	target := NewGitLabTarget(server.URL, "1234", "glpat-token")
	value := secure.NewBuffer([]byte("rotated-value"))
	defer value.Destroy()

	require.NoError(t, target.Push(context.Background(), "PROD_API_KEY", value))

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/api/v4/projects/1234/variables/PROD_API_KEY", gotPath)
	assert.Equal(t, "glpat-token", gotToken)
	assert.Equal(t, []string{"rotated-value"}, gotForm["value"])
	assert.Equal(t, []string{"true"}, gotForm["masked"])
	assert.Equal(t, []string{"true"}, gotForm["protected"])
}

func TestGitLabPushCreatesMissingVariable(t *testing.T) {
	t.Parallel()

	var posted bool
	var gotForm map[string][]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch r.Method {
		case http.MethodPut:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPost:
			posted = true
			gotForm = r.PostForm
			assert.Equal(t, "/api/v4/projects/1234/variables", r.URL.Path)
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer server.Close()

	target := NewGitLabTarget(server.URL, "1234", "glpat-token")
	value := secure.NewBuffer([]byte("new-value"))
	defer value.Destroy()

	require.NoError(t, target.Push(context.Background(), "NEW_SECRET", value))

	assert.True(t, posted)
	assert.Equal(t, []string{"NEW_SECRET"}, gotForm["key"])
	assert.Equal(t, []string{"new-value"}, gotForm["value"])
}

func TestGitLabPushServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"value does not satisfy masking requirements"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	target := NewGitLabTarget(server.URL, "1234", "glpat-token")
	value := secure.NewBuffer([]byte("short"))
	defer value.Destroy()

	err := target.Push(context.Background(), "PROD_API_KEY", value)

	require.Error(t, err)
	// Status only: the body may echo the value.
	assert.Contains(t, err.Error(), "status 400")
	assert.NotContains(t, err.Error(), "short")
}

func TestGitLabDefaultBaseURL(t *testing.T) {
	t.Parallel()

	target := NewGitLabTarget("", "1234", "token")
	assert.Equal(t, "https://gitlab.com/api/v4/projects/1234/variables", target.variablesURL())
}
