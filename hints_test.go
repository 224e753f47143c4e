package pfresolved

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHintsWriterWritesGroupedByTable(t *testing.T) {
	clients := NewTable("clients", nil)
	backends := NewTable("backends", nil)

	web := NewHost("web.example.com", []*Table{clients})
	web.UpdateAddresses(AddressFamilyV4, []netip.Addr{netip.MustParseAddr("192.0.2.1")})

	db := NewHost("db.example.com", []*Table{backends})
	db.UpdateAddresses(AddressFamilyV6, []netip.Addr{netip.MustParseAddr("2001:db8::1")})

	hw := &HintsWriter{
		Path:   filepath.Join(t.TempDir(), "hints.txt"),
		Tables: []*Table{clients, backends},
		Hosts:  []*Host{web, db},
	}
	require.NoError(t, hw.Write())

	data, err := readFile(hw.Path)
	require.NoError(t, err)
	require.Contains(t, data, "backends:")
	require.Contains(t, data, "clients:")
	require.Contains(t, data, "web.example.com")
	require.Contains(t, data, "192.0.2.1")
	require.Contains(t, data, "db.example.com")
	require.Contains(t, data, "2001:db8::1")
}

func TestHintsWriterNoPathConfigured(t *testing.T) {
	hw := &HintsWriter{}
	require.NoError(t, hw.Write())
}

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	return string(b), err
}
