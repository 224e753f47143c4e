package pfresolved

import (
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustAddr(s string) netip.Addr { return netip.MustParseAddr(s) }

func addrStrings(addrs []netip.Addr) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

type fakePusher struct {
	setCalls   int
	clearCalls int
}

func (p *fakePusher) SetAddresses(t *Table) error { p.setCalls++; return nil }
func (p *fakePusher) ClearAddresses(name string) error { p.clearCalls++; return nil }
func (p *fakePusher) Close() error { return nil }

func writeControllerConfig(t *testing.T, tableName string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pfresolved.conf")
	content := `
[[table]]
name = "` + tableName + `"
hosts = ["a.example.com"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestLinkPair(t *testing.T) (*Link, *Link) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return NewLink(a), NewLink(b)
}

func TestControllerInitPFTablesPushesEachTable(t *testing.T) {
	path := writeControllerConfig(t, "web")
	link, _ := newTestLinkPair(t)
	pusher := &fakePusher{}

	c, err := NewController(path, link, pusher)
	require.NoError(t, err)
	require.NoError(t, c.InitPFTables())
	require.Equal(t, 1, pusher.setCalls)
}

func TestControllerReloadRebuildsTables(t *testing.T) {
	path := writeControllerConfig(t, "web")
	link, _ := newTestLinkPair(t)
	pusher := &fakePusher{}

	c, err := NewController(path, link, pusher)
	require.NoError(t, err)

	// Change the config on disk and reload.
	require.NoError(t, os.WriteFile(path, []byte(`
[[table]]
name = "backends"
hosts = ["a.example.com", "b.example.com"]
`), 0o644))
	require.NoError(t, c.Reload())

	require.Equal(t, 1, pusher.clearCalls, "reload should clear the pf state for the previous table set")

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.tables, 1)
	require.Equal(t, "backends", c.tables[0].Name)
	require.Len(t, c.hosts, 2)
}

func TestControllerHandleResultAppliesSuccess(t *testing.T) {
	path := writeControllerConfig(t, "web")
	link, _ := newTestLinkPair(t)
	pusher := &fakePusher{}

	c, err := NewController(path, link, pusher)
	require.NoError(t, err)

	c.handleResult(Message{
		Type:     MessageResolveOk,
		Hostname: "a.example.com",
		Family:   AddressFamilyV4,
		TTL:      120,
		Records:  []AddressRecord{{Addr: mustAddr("192.0.2.5")}},
	})

	c.mu.Lock()
	host := c.hosts[0]
	c.mu.Unlock()
	require.Equal(t, []string{"192.0.2.5"}, addrStrings(host.Addresses(AddressFamilyV4)))
}
