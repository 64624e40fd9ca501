package blob

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS_RoundTrip(t *testing.T) {
	fs := LocalFS{Root: t.TempDir()}

	key, err := fs.Put("exports/j1/report.pdf", strings.NewReader("%PDF-1.3"))
	require.NoError(t, err)
	assert.True(t, fs.Exists(key))

	f, err := fs.Open(key)
	require.NoError(t, err)
	body, err := io.ReadAll(f)
	require.NoError(t, f.Close())
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.3", string(body))

	require.NoError(t, fs.Delete(key))
	assert.False(t, fs.Exists(key))
	require.NoError(t, fs.Delete(key), "deleting twice is fine")
}

func TestLocalFS_RejectsEscapes(t *testing.T) {
	fs := LocalFS{Root: t.TempDir()}
	for _, key := range []string{"../outside.pdf", "/etc/passwd", ".", ""} {
		_, err := fs.Put(key, strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrInvalidKey, key)
		assert.False(t, fs.Exists(key))
	}
}
