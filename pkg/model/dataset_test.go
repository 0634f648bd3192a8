package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocatorLocal(t *testing.T) {
	ds, err := ParseLocator("rpool/data")
	require.NoError(t, err)
	assert.Equal(t, "rpool/data", ds.Name)
	assert.False(t, ds.Remote())
	assert.Equal(t, "", ds.Endpoint())
	assert.Equal(t, "rpool/data", ds.String())
}

func TestParseLocatorRemote(t *testing.T) {
	ds, err := ParseLocator("ssh:2222:backup@vault.example.com:tank/backup/data")
	require.NoError(t, err)
	assert.True(t, ds.Remote())
	assert.Equal(t, "tank/backup/data", ds.Name)
	assert.Equal(t, "backup", ds.User)
	assert.Equal(t, "vault.example.com", ds.Host)
	assert.Equal(t, 2222, ds.Port)
	assert.Equal(t, "backup@vault.example.com:2222", ds.Endpoint())
	assert.Equal(t, "backup@vault.example.com:tank/backup/data", ds.String())
}

func TestParseLocatorDefaults(t *testing.T) {
	ds, err := ParseLocator("ssh::host:tank/a")
	require.NoError(t, err)
	assert.Equal(t, DefaultSSHPort, ds.Port)
	assert.Equal(t, "root", ds.User)
	assert.Equal(t, "host", ds.Host)
}

func TestParseLocatorErrors(t *testing.T) {
	for _, bad := range []string{
		"",
		"ssh:22:user@host",          // missing dataset
		"ssh:notaport:user@host:ds", // bad port
		"ssh:22:@:ds",               // missing host
		"pool/data@snap",            // snapshot, not a dataset
	} {
		_, err := ParseLocator(bad)
		require.Errorf(t, err, "locator %q", bad)
		assert.ErrorIs(t, err, ErrConfiguration)
	}
}

func TestDatasetChild(t *testing.T) {
	parent, err := ParseLocator("ssh:22:root@host:tank/data")
	require.NoError(t, err)
	child := parent.Child("tank/data/www")
	assert.Equal(t, "tank/data/www", child.Name)
	assert.Equal(t, parent.Endpoint(), child.Endpoint())
}

func TestRebaseName(t *testing.T) {
	got, err := RebaseName("pool/data/www/logs", "pool/data", "backup/mirror")
	require.NoError(t, err)
	assert.Equal(t, "backup/mirror/www/logs", got)

	got, err = RebaseName("pool/data", "pool/data", "backup/mirror")
	require.NoError(t, err)
	assert.Equal(t, "backup/mirror", got)

	_, err = RebaseName("pool/other", "pool/data", "backup/mirror")
	require.Error(t, err)

	// sibling with a common name prefix is not a descendant
	_, err = RebaseName("pool/database", "pool/data", "backup/mirror")
	require.Error(t, err)
}
