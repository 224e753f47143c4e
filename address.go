package pfresolved

import (
	"fmt"
	"net/netip"
)

// AddressFamily selects which resource record type a lookup resolves:
// AddressFamilyV4 for A records, AddressFamilyV6 for AAAA records. The
// controller tracks refresh state independently per family, the way
// pfresolved_host in the original keeps separate v4 and v6 bookkeeping on
// the same host.
type AddressFamily uint8

const (
	AddressFamilyV4 AddressFamily = iota
	AddressFamilyV6
)

func (f AddressFamily) String() string {
	switch f {
	case AddressFamilyV4:
		return "inet"
	case AddressFamilyV6:
		return "inet6"
	default:
		return "unknown"
	}
}

// Address is a single resolved IP address belonging to a Host, annotated
// with the DNSSEC security status under which it was obtained.
type Address struct {
	Addr     netip.Addr
	Security DNSSECStatus
}

// DNSSECStatus classifies a resolved record by the outcome of DNSSEC
// validation, mirroring the disposition the forwarder library hands back
// per answer.
type DNSSECStatus uint8

const (
	// DNSSECStatusUnchecked means validation was not attempted (level none,
	// or no validator configured).
	DNSSECStatusUnchecked DNSSECStatus = iota
	// DNSSECStatusInsecure means the zone has no DS chain to the anchor.
	DNSSECStatusInsecure
	// DNSSECStatusSecure means the answer validated against the trust anchor.
	DNSSECStatusSecure
	// DNSSECStatusBogus means validation explicitly failed.
	DNSSECStatusBogus
)

func (s DNSSECStatus) String() string {
	switch s {
	case DNSSECStatusInsecure:
		return "insecure"
	case DNSSECStatusSecure:
		return "secure"
	case DNSSECStatusBogus:
		return "bogus"
	default:
		return "unchecked"
	}
}

// AddressRecord is the wire representation of a single resolved address, as
// carried in a ResolveOk message. It is deliberately a plain value type so
// message.go can encode/decode it without reaching into Address/Host
// internals.
type AddressRecord struct {
	Addr netip.Addr
}

func (r AddressRecord) String() string {
	return fmt.Sprintf("%s", r.Addr)
}

// sortAddresses orders a slice of netip.Addr by their byte representation so
// diffAddresses can linear-merge an old and new set instead of hashing them.
func sortAddresses(addrs []netip.Addr) {
	insertionSortAddrs(addrs)
}

// insertionSortAddrs is used instead of sort.Slice for the small (typically
// single-digit) address counts a DNS answer carries; avoids pulling in a
// closure-based comparator for what is usually fewer than 8 elements.
func insertionSortAddrs(addrs []netip.Addr) {
	for i := 1; i < len(addrs); i++ {
		for j := i; j > 0 && addrs[j-1].Compare(addrs[j]) > 0; j-- {
			addrs[j-1], addrs[j] = addrs[j], addrs[j-1]
		}
	}
}
