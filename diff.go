package pfresolved

import "net/netip"

// AddressDiff is the result of comparing a host's previous resolved address
// set against a newly resolved one.
type AddressDiff struct {
	Added   []netip.Addr
	Removed []netip.Addr
}

// diffAddresses walks old and new in parallel, the way
// parent_update_host_addresses walks two qsort-ed arrays with a single
// linear merge instead of hashing either set. Both slices must already be
// sorted; new is sorted by the caller (UpdateAddresses), old was sorted the
// previous time it was assigned.
func diffAddresses(old, new []netip.Addr) AddressDiff {
	var diff AddressDiff
	i, j := 0, 0
	for i < len(old) && j < len(new) {
		switch old[i].Compare(new[j]) {
		case 0:
			i++
			j++
		case -1:
			diff.Removed = append(diff.Removed, old[i])
			i++
		default:
			diff.Added = append(diff.Added, new[j])
			j++
		}
	}
	for ; i < len(old); i++ {
		diff.Removed = append(diff.Removed, old[i])
	}
	for ; j < len(new); j++ {
		diff.Added = append(diff.Added, new[j])
	}
	return diff
}
