package pfresolved

// TablePusher reconciles a Table's current entries into the kernel's pf
// table state. Implementations are platform-specific (pf is a BSD/Darwin
// packet filter facility); on platforms without a pf device, NewTablePusher
// returns a pusher that only logs what it would have done, so the
// controller can still be developed and tested off-target.
type TablePusher interface {
	// SetAddresses pushes table's current entry set to the kernel,
	// creating the pf table first if it does not exist yet. Matches
	// pftable_set_addresses's create-on-ESRCH retry.
	SetAddresses(table *Table) error

	// ClearAddresses empties a table by name, used for every known table
	// at the start of a reload and at shutdown.
	ClearAddresses(name string) error

	// Close releases the underlying pf device.
	Close() error
}
