package pfresolved

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableAddRefCreatesEntry(t *testing.T) {
	tbl := NewTable("clients", nil)
	a := netip.MustParseAddr("192.0.2.1")
	tbl.addRef(a)

	entries := tbl.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, a, entries[0].Prefix.Addr())
	require.Equal(t, 32, entries[0].Prefix.Bits())
	require.Equal(t, 1, entries[0].RefCount)
	require.False(t, entries[0].Static)
}

func TestTableAddRefIncrementsSharedEntry(t *testing.T) {
	tbl := NewTable("clients", nil)
	a := netip.MustParseAddr("192.0.2.1")
	tbl.addRef(a)
	tbl.addRef(a)

	entries := tbl.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, 2, entries[0].RefCount)
}

func TestTableRemoveRefDeletesAtZero(t *testing.T) {
	tbl := NewTable("clients", nil)
	a := netip.MustParseAddr("192.0.2.1")
	tbl.addRef(a)
	tbl.addRef(a)
	tbl.removeRef(a)
	require.Len(t, tbl.Entries(), 1)

	tbl.removeRef(a)
	require.Empty(t, tbl.Entries())
}

func TestTableStaticEntrySurvivesZeroRefcount(t *testing.T) {
	a := netip.MustParseAddr("192.0.2.1")
	tbl := NewTable("clients", []TableEntry{{Prefix: netip.PrefixFrom(a, a.BitLen()), Static: true}})
	tbl.addRef(a)
	tbl.removeRef(a)

	entries := tbl.Entries()
	require.Len(t, entries, 1)
	require.True(t, entries[0].Static)
	require.Equal(t, 0, entries[0].RefCount)
}

func TestTableEntriesSortedByAddress(t *testing.T) {
	tbl := NewTable("clients", nil)
	tbl.addRef(netip.MustParseAddr("192.0.2.3"))
	tbl.addRef(netip.MustParseAddr("192.0.2.1"))
	tbl.addRef(netip.MustParseAddr("192.0.2.2"))

	entries := tbl.Entries()
	require.Len(t, entries, 3)
	require.Equal(t, "192.0.2.1", entries[0].Prefix.Addr().String())
	require.Equal(t, "192.0.2.2", entries[1].Prefix.Addr().String())
	require.Equal(t, "192.0.2.3", entries[2].Prefix.Addr().String())
}

func TestTableStaticCIDRPreservesPrefixLength(t *testing.T) {
	network := netip.MustParsePrefix("192.0.2.0/24")
	host := netip.MustParseAddr("192.0.2.5")
	tbl := NewTable("t", []TableEntry{{Prefix: network, Static: true}})
	tbl.addRef(host)

	entries := tbl.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, network, entries[0].Prefix)
	require.True(t, entries[0].Static)
	require.Equal(t, 0, entries[0].RefCount)
	require.Equal(t, netip.PrefixFrom(host, 32), entries[1].Prefix)
	require.Equal(t, 1, entries[1].RefCount)
}
