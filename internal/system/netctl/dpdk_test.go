package netctl

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDPDK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ifconfig.json")
	require.False(t, DPDKMode(path))
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"ip": "10.0.1.1", "interface": "dpdk0"},
		{"ip": "10.0.2.1", "interface": "dpdk1", "netmask": "255.255.0.0"},
		{"interface": "dpdk2"}
	]`), 0o644))
	require.True(t, DPDKMode(path))

	d, err := LoadDPDK(path)
	require.NoError(t, err)

	p, err := d.Prefix("dpdk0")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParsePrefix("10.0.1.1/24"), p)

	p, err = d.Prefix("10.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParsePrefix("10.0.2.1/16"), p)

	_, err = d.Prefix("eth9")
	assert.ErrorIs(t, err, ErrNoAddress)

	assert.Equal(t, map[netip.Addr]string{
		netip.MustParseAddr("10.0.1.1"): "dpdk0",
		netip.MustParseAddr("10.0.2.1"): "dpdk1",
	}, d.Addresses())
}

func TestMaskBits(t *testing.T) {
	for mask, want := range map[string]int{"255.255.255.0": 24, "255.255.255.252": 30, "16": 16, "/8": 8} {
		bits, err := maskBits(mask)
		require.NoError(t, err, mask)
		assert.Equal(t, want, bits, mask)
	}
	_, err := maskBits("wide")
	assert.Error(t, err)
}
