package pfresolved

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func addrs(ss ...string) []netip.Addr {
	out := make([]netip.Addr, len(ss))
	for i, s := range ss {
		out[i] = netip.MustParseAddr(s)
	}
	return out
}

func TestDiffAddresses(t *testing.T) {
	cases := []struct {
		name            string
		old, new        []netip.Addr
		added, removed  []netip.Addr
	}{
		{
			name: "no change",
			old:  addrs("10.0.0.1", "10.0.0.2"),
			new:  addrs("10.0.0.1", "10.0.0.2"),
		},
		{
			name:    "all new",
			old:     nil,
			new:     addrs("10.0.0.1", "10.0.0.2"),
			added:   addrs("10.0.0.1", "10.0.0.2"),
			removed: nil,
		},
		{
			name:    "all removed",
			old:     addrs("10.0.0.1", "10.0.0.2"),
			new:     nil,
			added:   nil,
			removed: addrs("10.0.0.1", "10.0.0.2"),
		},
		{
			name:    "interleaved add and remove",
			old:     addrs("10.0.0.1", "10.0.0.3", "10.0.0.5"),
			new:     addrs("10.0.0.2", "10.0.0.3", "10.0.0.4"),
			added:   addrs("10.0.0.2", "10.0.0.4"),
			removed: addrs("10.0.0.1", "10.0.0.5"),
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d := diffAddresses(c.old, c.new)
			require.Equal(t, c.added, d.Added)
			require.Equal(t, c.removed, d.Removed)
		})
	}
}
