package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrC0ns0le/clickctl/internal/click/transport"
	"github.com/DrC0ns0le/clickctl/internal/click/transport/transporttest"
	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

func fixture() *transporttest.Memory {
	return transporttest.NewMemory().
		Set("rt", "class", "r", "RadixIPLookup").
		Set("rt", "table", "r", "10.0.1.0/24\t-\t0").
		Set("rt", "set", "w").
		Set("c0_bw", "rate", "rw", "10Mbps").
		Set("c0_bw", "config", "r", "10Mbps")
}

func TestParse(t *testing.T) {
	mem := fixture()
	s := NewStore(mem, logging.Discard())
	require.NoError(t, s.Parse(false))

	snap := s.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, []string{"rt", "c0_bw"}, snap.Elements)

	h, err := s.Handler("rt", "table")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.1.0/24\t-\t0"}, h.Lines)
	assert.Equal(t, Permission{Read: true}, h.Perm)

	set, err := s.Handler("rt", "set")
	require.NoError(t, err)
	assert.Nil(t, set.Lines)
	assert.True(t, set.Perm.Write)
	assert.False(t, set.Perm.Read)

	keys, err := s.Keys("rt")
	require.NoError(t, err)
	assert.Equal(t, []string{"class", "set", "table"}, keys)
	assert.NotContains(t, keys, "handlers")

	_, err = s.Handler("nope", "rate")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Handler("rt", "rate")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "rate", nf.Key)
}

func TestParseStaleness(t *testing.T) {
	mem := fixture()
	s := NewStore(mem, logging.Discard())
	require.NoError(t, s.Parse(false))
	first := s.Snapshot()

	mem.Age(time.Hour)
	reads := mem.Reads()
	require.NoError(t, s.Parse(false))
	assert.Equal(t, reads, mem.Reads())
	assert.Same(t, first, s.Snapshot())

	require.NoError(t, s.Parse(true))
	assert.NotSame(t, first, s.Snapshot())

	mem.Touch()
	require.NoError(t, s.SetValue("c0_bw", "rate", "50Mbps"))
	assert.Equal(t, []string{"10Mbps"}, s.Snapshot().Value("c0_bw", "rate"))
	require.NoError(t, s.Parse(false))
	assert.Equal(t, []string{"50Mbps"}, s.Snapshot().Value("c0_bw", "rate"))
}

type brokenHandlers struct {
	*transporttest.Memory
}

func (b brokenHandlers) Read(node, key string) ([]string, error) {
	if node == "rt" && key == transport.HandlersHandler {
		return []string{"table r extra"}, nil
	}
	return b.Memory.Read(node, key)
}

func TestParseFailureKeepsSnapshot(t *testing.T) {
	mem := fixture()
	s := NewStore(mem, logging.Discard())
	require.NoError(t, s.Parse(false))
	good := s.Snapshot()

	s.transport = brokenHandlers{mem}
	err := s.Parse(true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedHandlers)
	assert.ErrorIs(t, err, transport.ErrTransport)
	assert.Same(t, good, s.Snapshot())
}

func TestSetValueError(t *testing.T) {
	s := NewStore(fixture(), logging.Discard())
	err := s.SetValue("nope", "rate", "1")
	require.Error(t, err)
	assert.True(t, transport.IsStatus(err))
}

func TestParsePermission(t *testing.T) {
	assert.Equal(t, Permission{Read: true, Write: true}, ParsePermission("rw"))
	assert.Equal(t, Permission{Write: true}, ParsePermission("w"))
	assert.Equal(t, "rw", ParsePermission("rw").String())
}
