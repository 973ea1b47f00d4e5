package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiplog/shiplog/log"
)

func TestReadRunIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.txt")
	require.NoError(t, os.WriteFile(path, []byte("12345\n\n  67890  \nnot-a-number\n11111\n"), 0644))

	ids, err := readRunIDs(log.NewContext(t.Context(), "test"), path)
	require.NoError(t, err)

	assert.Equal(t, []int64{12345, 67890, 11111}, ids)
}

func TestReadRunIDsMissingFile(t *testing.T) {
	_, err := readRunIDs(t.Context(), filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestWriteRunIDsDrainsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.txt")
	require.NoError(t, writeRunIDs(path, []int64{67890, 11111}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "67890\n11111\n", string(data))

	require.NoError(t, writeRunIDs(path, nil))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}
