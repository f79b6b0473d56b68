package transport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, body := range files {
		p := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return root
}

func TestFSRead(t *testing.T) {
	root := writeTree(t, map[string]string{
		"list":         "2\nrt\nc0_bw\n",
		"rt/table":     "10.0.1.0/24\t-\t0\n\n",
		"c0_bw/rate":   "  10Mbps  \n",
		"c0_bw/config": "",
	})
	tr, err := Open(root, testOptions())
	require.NoError(t, err)
	assert.Equal(t, BackendFS, tr.Backend())

	elements, err := tr.Read("", ListHandler)
	require.NoError(t, err)
	assert.Equal(t, []string{"rt", "c0_bw"}, elements)

	table, err := tr.Read("rt", "table")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.1.0/24\t-\t0"}, table)

	rate, err := tr.Read("c0_bw", "rate")
	require.NoError(t, err)
	assert.Equal(t, []string{"10Mbps"}, rate)

	empty, err := tr.Read("c0_bw", "config")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFSReadMissing(t *testing.T) {
	root := writeTree(t, map[string]string{"rt/table": ""})
	tr := NewFS(root, testOptions())

	lines, err := tr.Read("rt", "nothing")
	require.NoError(t, err)
	assert.Nil(t, lines)

	_, err = tr.Read("", ListHandler)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestFSWrite(t *testing.T) {
	root := writeTree(t, map[string]string{"c0_loss/drop_prob": "0.1\n"})
	tr := NewFS(root, testOptions())

	require.NoError(t, tr.Write("c0_loss", "drop_prob", "0.25"))
	data, err := os.ReadFile(filepath.Join(root, "c0_loss", "drop_prob"))
	require.NoError(t, err)
	assert.Equal(t, "0.25", string(data))

	// handler files are never created
	err = tr.Write("c0_loss", "missing", "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	_, statErr := os.Stat(filepath.Join(root, "c0_loss", "missing"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestOpenMissingPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"), testOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
}
