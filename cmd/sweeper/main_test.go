package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sweeper/internal/falcon/falcontest"
)

const childCID = "9889013e3aa74eb28370dc224a9e2066"

type result struct {
	code   int
	stdout string
	stderr string
}

func setupAPI(t *testing.T) *falcontest.Server {
	t.Helper()
	api := falcontest.New(t,
		falcontest.Tenant{
			Name:    "Parent",
			Devices: []falcontest.Device{{ID: "aid-1", Hostname: "web-01", AgentVersion: "7.10", OSVersion: "Windows 11", OSBuild: "22631", LastLoginUser: "svc"}},
		},
		falcontest.Tenant{
			CID:   childCID,
			Name:  "Child One",
			Users: []falcontest.User{{UUID: "07b61a51-00e5-4947-b5a0-1520456f1c1b", Email: "a@x.com"}},
		},
	)
	for _, key := range []string{"FALCON_CLOUD", "FALCON_PARENT_NAME", "LOG_LEVEL", "LOG_FORMAT"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("CLIENT_ID", falcontest.ClientID)
	t.Setenv("CLIENT_SECRET", api.ClientSecret())
	t.Setenv("FALCON_BASE_URL", api.URL())
	return api
}

func runCLI(t *testing.T, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	envFile := filepath.Join(t.TempDir(), "missing.env")
	code := run(context.Background(), append(args, "--env-file", envFile), &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func writeUsers(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestUsersCommand(t *testing.T) {
	t.Run("simulate searches children by default", func(t *testing.T) {
		setupAPI(t)
		res := runCLI(t, "users", "--file", writeUsers(t, "# stale\nA@x.com\nghost@x.com\n"))

		assert.Equal(t, 0, res.code, res.stderr)
		assert.Equal(t,
			"SIMULATE - A@x.com - simulated delete of uuid 07b61a51-00e5-4947-b5a0-1520456f1c1b, tenant Child One\n"+
				"NOTFOUND - ghost@x.com - not found in any tenant\n",
			res.stdout)
		assert.Contains(t, res.stderr, "run_id")
	})

	t.Run("delete removes the user from its tenant", func(t *testing.T) {
		api := setupAPI(t)
		res := runCLI(t, "users", "--action", "delete", "--file", writeUsers(t, "a@x.com\n"))

		assert.Equal(t, 0, res.code, res.stderr)
		assert.Equal(t, "DELETE - a@x.com uuid 07b61a51-00e5-4947-b5a0-1520456f1c1b, tenant Child One\n", res.stdout)
		assert.False(t, api.HasUser(childCID, "07b61a51-00e5-4947-b5a0-1520456f1c1b"))
	})

	t.Run("failed keys exit with 2", func(t *testing.T) {
		setupAPI(t)
		res := runCLI(t, "users", "--file", writeUsers(t, "not-an-email\na@x.com\n"))

		assert.Equal(t, exitKeyFailures, res.code)
		assert.Contains(t, res.stdout, "ERROR - not-an-email - email must be a valid email\n")
		assert.Contains(t, res.stdout, "SIMULATE - a@x.com")
		assert.Contains(t, res.stderr, "1 of 2 keys failed")
	})

	t.Run("missing file", func(t *testing.T) {
		setupAPI(t)
		res := runCLI(t, "users", "--file", filepath.Join(t.TempDir(), "nope.txt"))
		assert.Equal(t, exitSetupFailure, res.code)
		assert.Empty(t, res.stdout)
	})
}

func TestHostsCommand(t *testing.T) {
	t.Run("delete hides the host and writes metrics", func(t *testing.T) {
		api := setupAPI(t)
		metricsFile := filepath.Join(t.TempDir(), "sweeper.prom")
		res := runCLI(t, "hosts", "--hosts", "web-01", "--action", "delete", "--metrics-file", metricsFile)

		assert.Equal(t, 0, res.code, res.stderr)
		assert.Equal(t, "DELETED - web-01 AID:aid-1 AgentVer:7.10 OS:Windows 11@22631 last_login_user:svc\n", res.stdout)
		assert.True(t, api.IsHidden("", "aid-1"))

		raw, err := os.ReadFile(metricsFile)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `sweeper_actions_total{kind="device",result="success"} 1`)
		assert.Contains(t, string(raw), "sweeper_tenant_sessions 1")
	})

	t.Run("children are skipped unless requested", func(t *testing.T) {
		api := setupAPI(t)
		res := runCLI(t, "hosts", "--hosts", "web-01")

		assert.Equal(t, 0, res.code, res.stderr)
		assert.Empty(t, api.CallsFor(childCID))
		assert.NotContains(t, api.TokenRequests(), childCID)
	})

	t.Run("hosts flag is required", func(t *testing.T) {
		setupAPI(t)
		res := runCLI(t, "hosts")
		assert.Equal(t, exitSetupFailure, res.code)
		assert.Contains(t, res.stderr, "hosts")
	})
}

func TestSetupFailures(t *testing.T) {
	t.Run("rejected credentials name the parent tenant", func(t *testing.T) {
		setupAPI(t)
		t.Setenv("CLIENT_SECRET", "wrong")
		res := runCLI(t, "hosts", "--hosts", "web-01", "--parent-name", "ACME Parent")

		assert.Equal(t, exitSetupFailure, res.code)
		assert.Empty(t, res.stdout)
		assert.Contains(t, res.stderr, `"ACME Parent"`)
	})

	t.Run("rejected child aborts the run", func(t *testing.T) {
		api := setupAPI(t)
		api.RejectTenant(childCID)
		res := runCLI(t, "users", "--file", writeUsers(t, "a@x.com\n"))

		assert.Equal(t, exitSetupFailure, res.code)
		assert.Empty(t, res.stdout)
		assert.Contains(t, res.stderr, childCID)
	})

	t.Run("unknown action", func(t *testing.T) {
		setupAPI(t)
		res := runCLI(t, "hosts", "--hosts", "web-01", "--action", "nuke")
		assert.Equal(t, exitSetupFailure, res.code)
		assert.True(t, strings.Contains(res.stderr, "action must be one of [simulate delete]"))
	})

	t.Run("missing credentials", func(t *testing.T) {
		setupAPI(t)
		t.Setenv("CLIENT_ID", "")
		res := runCLI(t, "hosts", "--hosts", "web-01")
		assert.Equal(t, exitSetupFailure, res.code)
		assert.Contains(t, res.stderr, "client_id must not be blank")
	})
}
