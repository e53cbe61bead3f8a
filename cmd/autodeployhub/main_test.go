package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsupr/AutoDeployHub/pkg/jwt"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(envFileVariable, filepath.Join(t.TempDir(), "absent.env"))
	cmd := newRoot().Command()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	t.Setenv("SECRET_KEY", "cli-secret")

	out, err := execute(t, "token", "--subject", "ops")
	require.NoError(t, err)

	claims, err := jwt.Parse(strings.TrimSpace(out), "cli-secret")
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
}

func TestTokenCommandRequiresSubject(t *testing.T) {
	_, err := execute(t, "token")
	assert.Error(t, err)
}

func TestWorkloadsListPrintsTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/workloads", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"ID": "w1", "Name": "demo", "Branch": "main", "RepoURL": "https://github.com/acme/demo.git"},
		})
	}))
	defer srv.Close()

	out, err := execute(t, "--url", srv.URL, "--token", "tok", "workloads", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "demo")
	assert.Contains(t, out, "https://github.com/acme/demo.git")
}

func TestDeployCommandFailsOnFailedAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/workloads/w1/deploy", r.URL.Path)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ID":     "a1",
			"Status": "failed",
			"Log":    []map[string]any{{"Seq": 1, "At": "2024-05-01T12:00:00Z", "Message": "FATAL ERROR: boom"}},
		})
	}))
	defer srv.Close()

	out, err := execute(t, "--url", srv.URL, "deploy", "w1")
	require.Error(t, err)
	assert.Contains(t, out, "[2024-05-01 12:00:00] FATAL ERROR: boom")
	assert.Contains(t, out, "finished with status failed")
}

func TestRollbackCommandValidatesArgs(t *testing.T) {
	_, err := execute(t, "rollback", "w1")
	assert.ErrorIs(t, err, errorWantedRollbackArg)
}

func TestMigrateRejectsUnknownAction(t *testing.T) {
	_, err := execute(t, "migrate", "sideways")
	assert.Error(t, err)
}
