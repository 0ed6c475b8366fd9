package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/relaychat/internal/chat"
	"github.com/Tyrowin/relaychat/internal/identity"
)

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestTokenIssuesVerifiableToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	stdout, _, err := executeCLI(t, "token", "--user-id", "u-42", "--username", "dora")
	require.NoError(t, err)

	verifier, err := identity.NewJWT("cli-secret")
	require.NoError(t, err)
	got, err := verifier.Verify(strings.TrimSpace(stdout))
	require.NoError(t, err)
	assert.Equal(t, chat.Identity{UserID: "u-42", Username: "dora"}, got)
}

func TestTokenDefaultsUsernameToUserID(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	stdout, _, err := executeCLI(t, "token", "--user-id", "u-7")
	require.NoError(t, err)

	verifier, err := identity.NewJWT("cli-secret")
	require.NoError(t, err)
	got, err := verifier.Verify(strings.TrimSpace(stdout))
	require.NoError(t, err)
	assert.Equal(t, "u-7", got.Username)
}

func TestTokenRequiresUserID(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	_, _, err := executeCLI(t, "token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--user-id")
}

func TestTokenRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, _, err := executeCLI(t, "token", "--user-id", "u-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestServeRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, _, err := executeCLI(t, "serve")
	require.Error(t, err)
}
