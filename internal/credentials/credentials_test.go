package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShapes(t *testing.T) {
	t.Parallel()

	keys, err := Parse([]byte(`{"apiKeys": ["a", " b ", ""]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	keys, err = Parse([]byte(`  ["x","y"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, keys)

	_, err = Parse([]byte(`{"apiKeys": "nope"}`))
	assert.Error(t, err)
}

func TestParseList(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"k1", "k2"}, ParseList(" k1, ,k2,"))
	assert.Empty(t, ParseList(""))
}

func TestResolveMergesAndDeduplicates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"apiKeys":["b","c"]}`), 0o600))

	keys, err := Resolve([]string{"a", "b"}, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	keys, err = Resolve([]string{"a"}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys)

	_, err = Resolve(nil, filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
