package pid_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"codeberg.org/mutker/hwmond/internal/errors"
	"codeberg.org/mutker/hwmond/internal/pid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hwmond.pid")

	require.NoError(t, pid.Write(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	// rewriting our own file is fine
	require.NoError(t, pid.Write(path))

	require.NoError(t, pid.Remove(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, pid.Remove(path))
}

func TestWriteRefusesLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hwmond.pid")
	// the parent of the test binary is alive for the duration of the test
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0o600))

	err := pid.Write(path)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
}

func TestWriteReplacesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hwmond.pid")

	for _, content := range []string{"not a pid", "", "-3"} {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		require.NoError(t, pid.Write(path), content)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
	}
}

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, filepath.Join(os.TempDir(), "hwmond.pid"), pid.DefaultPath())
}
