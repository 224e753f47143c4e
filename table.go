package pfresolved

import (
	"net/netip"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// TableEntry is one address within a Table: either a statically configured
// entry from the configuration file, which may carry an arbitrary prefix
// length (e.g. a /24), or one contributed by a Host's current resolved
// addresses, always a full-length prefix (/32 or /128). RefCount tracks how
// many hosts currently resolve to this address; an entry with RefCount 0
// that is not Static is removed, the reference invariant described for
// pfresolved_table_entry.
type TableEntry struct {
	Prefix   netip.Prefix
	Static   bool
	Negate   bool
	RefCount int
}

// Table is a named pf address table that the kernel pusher keeps in sync
// with its current set of TableEntries.
type Table struct {
	mu      sync.Mutex
	Name    string
	entries map[netip.Prefix]*TableEntry
}

// NewTable creates an empty table, optionally seeded with static entries
// from the configuration file. Static entries always have RefCount 0 but are
// never removed by incref/decref bookkeeping.
func NewTable(name string, static []TableEntry) *Table {
	t := &Table{
		Name:    name,
		entries: make(map[netip.Prefix]*TableEntry, len(static)),
	}
	for _, e := range static {
		e.Static = true
		entry := e
		t.entries[entry.Prefix] = &entry
	}
	return t
}

// Entries returns a stable, address-sorted snapshot of the table's current
// entries, in the order the kernel table pusher sends them.
func (t *Table) Entries() []TableEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TableEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Prefix.Addr().Compare(out[j].Prefix.Addr()); c != 0 {
			return c < 0
		}
		return out[i].Prefix.Bits() < out[j].Prefix.Bits()
	})
	return out
}

// addRef increments the reference count for a single resolved address
// (always a full-length prefix) in this table, creating a non-static entry
// if one does not already exist. Matches parent_add_table_entries: an
// entry found with a refcount that is negative, or zero and non-static,
// indicates a prior bookkeeping bug and is logged but not treated as fatal.
func (t *Table) addRef(addr netip.Addr) {
	prefix := netip.PrefixFrom(addr, addr.BitLen())
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[prefix]
	if !ok {
		entry = &TableEntry{Prefix: prefix}
		t.entries[prefix] = entry
	} else if entry.RefCount < 0 || (entry.RefCount == 0 && !entry.Static) {
		Log.WithFields(logrus.Fields{
			"component": "table",
			"table":     t.Name,
			"address":   addr,
			"refcount":  entry.RefCount,
			"static":    entry.Static,
		}).Error("table entries are inconsistent before incrementing")
	}
	entry.RefCount++
}

// removeRef decrements the reference count for a single resolved address in
// this table, removing the entry once it reaches zero and is not static.
// Matches parent_remove_table_entries.
func (t *Table) removeRef(addr netip.Addr) {
	prefix := netip.PrefixFrom(addr, addr.BitLen())
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[prefix]
	if !ok {
		Log.WithFields(logrus.Fields{
			"component": "table",
			"table":     t.Name,
			"address":   addr,
		}).Error("table entries are inconsistent: old entry not found")
		return
	}
	if entry.RefCount <= 0 {
		Log.WithFields(logrus.Fields{
			"component": "table",
			"table":     t.Name,
			"address":   addr,
			"refcount":  entry.RefCount,
		}).Error("table entries are inconsistent before decrementing")
	}
	if entry.RefCount > 0 {
		entry.RefCount--
	} else {
		entry.RefCount = 0
	}
	if entry.RefCount > 0 || entry.Static {
		return
	}
	delete(t.entries, prefix)
}
