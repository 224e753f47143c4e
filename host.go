package pfresolved

import (
	"net/netip"
	"sync"

	"github.com/sirupsen/logrus"
)

// Host is a single configured hostname. It belongs to zero or more Tables
// and tracks its currently resolved address set and refresh state
// independently for each address family, mirroring pfresolved_host's
// separate v4/v6 bookkeeping on one struct.
type Host struct {
	mu          sync.Mutex
	Hostname    string
	Tables      []*Table
	addressesV4 []netip.Addr
	addressesV6 []netip.Addr
	StateV4     RefreshState
	StateV6     RefreshState
}

// stateFor returns the RefreshState for the given family.
func (h *Host) stateFor(family AddressFamily) *RefreshState {
	if family == AddressFamilyV4 {
		return &h.StateV4
	}
	return &h.StateV6
}

// NewHost creates a Host belonging to the given tables. A host with no
// tables is legal (the config loader rejects it, per spec.md, but nothing in
// the data model requires it).
func NewHost(hostname string, tables []*Table) *Host {
	return &Host{
		Hostname: hostname,
		Tables:   tables,
		StateV4:  RefreshState{Family: AddressFamilyV4},
		StateV6:  RefreshState{Family: AddressFamilyV6},
	}
}

// Addresses returns the host's current resolved addresses for family,
// sorted, the form diffAddresses expects as "old".
func (h *Host) Addresses(family AddressFamily) []netip.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if family == AddressFamilyV4 {
		return append([]netip.Addr(nil), h.addressesV4...)
	}
	return append([]netip.Addr(nil), h.addressesV6...)
}

// UpdateAddresses replaces the host's resolved address set for family with
// addrs (which need not be sorted), applying the added/removed delta to
// every table the host belongs to and returning that delta. This is the Go
// counterpart to parent_update_host_addresses + parent_add_table_entries +
// parent_remove_table_entries combined: the diff is computed once and then
// each table's refcounts are adjusted for every entry in the delta.
func (h *Host) UpdateAddresses(family AddressFamily, addrs []netip.Addr) AddressDiff {
	h.mu.Lock()
	sortAddresses(addrs)
	var old []netip.Addr
	if family == AddressFamilyV4 {
		old = h.addressesV4
	} else {
		old = h.addressesV6
	}
	diff := diffAddresses(old, addrs)
	if family == AddressFamilyV4 {
		h.addressesV4 = addrs
	} else {
		h.addressesV6 = addrs
	}
	tables := append([]*Table(nil), h.Tables...)
	h.mu.Unlock()

	for _, addr := range diff.Added {
		for _, t := range tables {
			t.addRef(addr)
		}
	}
	for _, addr := range diff.Removed {
		for _, t := range tables {
			t.removeRef(addr)
		}
	}

	fields := logrus.Fields{
		"component": "host",
		"host":      h.Hostname,
		"family":    family,
	}
	if len(diff.Added) > 0 || len(diff.Removed) > 0 {
		Log.WithFields(fields).WithField("added", diff.Added).WithField("removed", diff.Removed).
			Info("addresses changed")
	} else {
		Log.WithFields(fields).WithField("addresses", addrs).Debug("addresses did not change")
	}
	return diff
}
