package main

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, fs afero.Fs, args ...string) (string, error) {
	t.Helper()
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("CACHE_BACKEND", "memory")
	t.Setenv("LOG_LEVEL", "error")

	cmd := newRootCmd(fs)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env", "test"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestTreeCmd(t *testing.T) {
	out, err := run(t, afero.NewMemMapFs(), "tree", "root")
	require.NoError(t, err)
	assert.Contains(t, out, "root (id=1, kind=")
	assert.Contains(t, out, "\n  help (id=2, ")
	assert.Contains(t, out, "\n  __sys__ (id=3, ")

	out, err = run(t, afero.NewMemMapFs(), "tree", "root", "help")
	require.NoError(t, err)
	assert.NotContains(t, out, "__sys__")

	_, err = run(t, afero.NewMemMapFs(), "tree", "root", "missing")
	assert.Error(t, err)
}

func TestDecideCmd(t *testing.T) {
	t.Run("wheel member is allowed by the wildcard entry", func(t *testing.T) {
		out, err := run(t, afero.NewMemMapFs(), "decide", "--user", "root", "--resource", "2", "--permission", "write")
		require.NoError(t, err)
		assert.Equal(t, "Allow write (matched (Allow, g:3, *) on resource 1)\n", out)
	})

	t.Run("user by id", func(t *testing.T) {
		out, err := run(t, afero.NewMemMapFs(), "decide", "-u", "2", "-r", "1", "-p", "admin")
		require.NoError(t, err)
		assert.Contains(t, out, "Allow admin")
	})

	t.Run("anonymous is denied by default", func(t *testing.T) {
		out, err := run(t, afero.NewMemMapFs(), "decide", "--resource", "1", "--permission", "read")
		require.NoError(t, err)
		assert.Equal(t, "Deny read (no matching entry)\n", out)
	})

	t.Run("extra group", func(t *testing.T) {
		out, err := run(t, afero.NewMemMapFs(), "decide", "--resource", "1", "--permission", "read", "--group", "3")
		require.NoError(t, err)
		assert.Contains(t, out, "Allow read")
	})

	t.Run("missing resource fails", func(t *testing.T) {
		_, err := run(t, afero.NewMemMapFs(), "decide", "--user", "root", "--resource", "999", "--permission", "read")
		assert.Error(t, err)
	})

	t.Run("permission flag is required", func(t *testing.T) {
		_, err := run(t, afero.NewMemMapFs(), "decide", "--resource", "1")
		assert.Error(t, err)
	})
}

func TestACLCmd(t *testing.T) {
	out, err := run(t, afero.NewMemMapFs(), "acl", "1")
	require.NoError(t, err)
	assert.Equal(t, "(Allow, g:3, *)\n", out)

	out, err = run(t, afero.NewMemMapFs(), "acl", "2")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = run(t, afero.NewMemMapFs(), "acl", "2", "--effective")
	require.NoError(t, err)
	assert.Equal(t, "resource 2\nresource 1\n  (Allow, g:3, *)\n", out)

	_, err = run(t, afero.NewMemMapFs(), "acl", "abc")
	assert.Error(t, err)
}

func TestSeedCmd(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/seed.yaml", []byte(`
owner: system
users:
  - principal: system
  - principal: alice
    enabled: true
permissions:
  - name: visit
resources:
  - name: docs
    acl:
      - effect: allow
        permission: visit
        user: alice
`), 0o644))

	out, err := run(t, fs, "seed", "--file", "/seed.yaml")
	require.NoError(t, err)
	assert.Equal(t, "seeded 2 users, 0 groups, 1 permissions, 1 root resources\n", out)

	_, err = run(t, fs, "seed", "--file", "/missing.yaml")
	assert.Error(t, err)
}

func TestInvalidateCmd(t *testing.T) {
	out, err := run(t, afero.NewMemMapFs(), "invalidate")
	require.NoError(t, err)
	assert.Equal(t, "invalidated auth_long_term, default\n", out)

	out, err = run(t, afero.NewMemMapFs(), "invalidate", "default")
	require.NoError(t, err)
	assert.Equal(t, "invalidated default\n", out)

	_, err = run(t, afero.NewMemMapFs(), "invalidate", "bogus")
	assert.Error(t, err)
}
