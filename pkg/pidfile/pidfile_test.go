// Copyright © 2024 Zyncio

package pidfile

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zyncio/zync/pkg/model"
)

type fakeProber map[int]bool

func (p fakeProber) Alive(pid int) bool { return p[pid] }

const lockPath = "/var/run/zync.pid"

func TestAcquireAndRelease(t *testing.T) {
	fs := afero.NewMemMapFs()

	lock, err := Acquire(lockPath, WithFs(fs), WithPid(100), WithProber(fakeProber{}))
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, lockPath)
	require.NoError(t, err)
	assert.Equal(t, "100\n", string(data))

	require.NoError(t, lock.Release())
	exists, err := afero.Exists(fs, lockPath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAcquireAbortsWhenOwnerLives(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, lockPath, []byte("200\n"), 0o644))

	_, err := Acquire(lockPath, WithFs(fs), WithPid(100), WithProber(fakeProber{200: true}))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrLock)
	assert.Contains(t, err.Error(), "200")

	// the living owner's file is untouched
	data, err := afero.ReadFile(fs, lockPath)
	require.NoError(t, err)
	assert.Equal(t, "200\n", string(data))
}

func TestAcquireReclaimsStaleFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, lockPath, []byte("200\n"), 0o644))

	lock, err := Acquire(lockPath, WithFs(fs), WithPid(100), WithProber(fakeProber{200: false}))
	require.NoError(t, err)
	defer func() { _ = lock.Release() }()

	data, err := afero.ReadFile(fs, lockPath)
	require.NoError(t, err)
	assert.Equal(t, "100\n", string(data))
}

func TestAcquireReclaimsMalformedFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, lockPath, []byte("not a pid"), 0o644))

	lock, err := Acquire(lockPath, WithFs(fs), WithPid(100), WithProber(fakeProber{}))
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, lockPath)
	require.NoError(t, err)
	assert.Equal(t, "100\n", string(data))
	require.NoError(t, lock.Release())
}

func TestSecondAcquireBlocked(t *testing.T) {
	fs := afero.NewMemMapFs()
	probe := fakeProber{100: true, 101: true}

	_, err := Acquire(lockPath, WithFs(fs), WithPid(100), WithProber(probe))
	require.NoError(t, err)

	_, err = Acquire(lockPath, WithFs(fs), WithPid(101), WithProber(probe))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrLock)
}

func TestReleaseLeavesForeignFile(t *testing.T) {
	fs := afero.NewMemMapFs()

	lock, err := Acquire(lockPath, WithFs(fs), WithPid(100), WithProber(fakeProber{}))
	require.NoError(t, err)

	// someone else reclaimed and rewrote the file behind our back
	require.NoError(t, afero.WriteFile(fs, lockPath, []byte("300\n"), 0o644))
	require.NoError(t, lock.Release())

	data, err := afero.ReadFile(fs, lockPath)
	require.NoError(t, err)
	assert.Equal(t, "300\n", string(data))
}

func TestUnixProberRejectsNonPositive(t *testing.T) {
	assert.False(t, UnixProber{}.Alive(0))
	assert.False(t, UnixProber{}.Alive(-1))
}
