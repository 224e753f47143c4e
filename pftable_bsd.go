//go:build openbsd || freebsd || netbsd || dragonfly || darwin

package pfresolved

import (
	"fmt"
	"net/netip"
	"os"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// pf ioctl numbers, from OpenBSD's sys/net/pfvar.h, reproduced here because
// golang.org/x/sys/unix does not expose pf's table ioctls. Derived the same
// way the C headers derive them: _IOWR('D', n, struct pfioc_table).
const (
	diocrClrAddrs  = iowr('D', 88, unsafe.Sizeof(pfiocTable{}))
	diocrAddTables = iowr('D', 83, unsafe.Sizeof(pfiocTable{}))
	diocrSetAddrs  = iowr('D', 91, unsafe.Sizeof(pfiocTable{}))
)

const pfTableNameSize = 32

func iowr(group byte, num uint, size uintptr) uintptr {
	const iocInOut = 0xC0000000
	const iocParmMask = 0x1fff
	return iocInOut | (uintptr(size)&iocParmMask)<<16 | uintptr(group)<<8 | uintptr(num)
}

// pfrTable mirrors struct pfr_table's name field, the only part of it this
// pusher needs to set.
type pfrTable struct {
	name [pfTableNameSize]byte
}

// pfiocTable mirrors struct pfioc_table, trimmed to the fields
// pftable_set_addresses/pftable_clear_addresses/pftable_create_table
// actually use.
type pfiocTable struct {
	table    pfrTable
	buffer   unsafe.Pointer
	esize    int32
	size     int32
	size2    int32
	nadd     int32
	ndel     int32
	nchange  int32
	flags    int32
	ticket   uint32
}

// pfrAddr mirrors struct pfr_addr: a single address entry as the kernel
// expects it in a DIOCRSETADDRS buffer.
type pfrAddr struct {
	addr   [16]byte
	ifname [16]byte
	af     uint8
	net    uint8
	not    uint8
	fback  uint8
	pad    [4]byte
}

// bsdTablePusher talks to /dev/pf directly via ioctl(2).
type bsdTablePusher struct {
	fd int
}

// NewTablePusher opens the pf device at devicePath (typically
// /dev/pf) for table administration.
func NewTablePusher(devicePath string) (TablePusher, error) {
	f, err := os.OpenFile(devicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening pf device %s: %w", devicePath, err)
	}
	return &bsdTablePusher{fd: int(f.Fd())}, nil
}

func setTableName(dst *[pfTableNameSize]byte, name string) error {
	if len(name) >= pfTableNameSize {
		return fmt.Errorf("table name %q too long", name)
	}
	copy(dst[:], name)
	return nil
}

func (p *bsdTablePusher) SetAddresses(table *Table) error {
	entries := table.Entries()
	buf := make([]pfrAddr, len(entries))
	for i, e := range entries {
		buf[i] = prefixToPfrAddr(e.Prefix, e.Negate)
	}

	io := pfiocTable{
		esize: int32(unsafe.Sizeof(pfrAddr{})),
		size:  int32(len(buf)),
	}
	if err := setTableName(&io.table.name, table.Name); err != nil {
		return err
	}
	if len(buf) > 0 {
		io.buffer = unsafe.Pointer(&buf[0])
	}

	Log.WithFields(logrus.Fields{"component": "pftable", "table": table.Name}).Info("updating pf table addresses")

	err := p.ioctl(diocrSetAddrs, &io)
	if err != nil && err == unix.ESRCH {
		Log.WithFields(logrus.Fields{"component": "pftable", "table": table.Name}).
			Info("pf table does not exist, creating it")
		if cerr := p.createTable(table.Name); cerr != nil {
			return fmt.Errorf("creating pf table %s: %w", table.Name, cerr)
		}
		err = p.ioctl(diocrSetAddrs, &io)
	}
	if err != nil {
		return fmt.Errorf("setting addresses for pf table %s: %w", table.Name, err)
	}
	Log.WithFields(logrus.Fields{
		"component": "pftable",
		"table":     table.Name,
		"added":     io.nadd,
		"deleted":   io.ndel,
		"changed":   io.nchange,
	}).Debug("updated pf table addresses")
	return nil
}

func (p *bsdTablePusher) ClearAddresses(name string) error {
	io := pfiocTable{}
	if err := setTableName(&io.table.name, name); err != nil {
		return err
	}
	Log.WithFields(logrus.Fields{"component": "pftable", "table": name}).Info("clearing pf table addresses")
	if err := p.ioctl(diocrClrAddrs, &io); err != nil {
		return fmt.Errorf("clearing pf table %s: %w", name, err)
	}
	return nil
}

func (p *bsdTablePusher) createTable(name string) error {
	table := pfrTable{}
	if err := setTableName(&table.name, name); err != nil {
		return err
	}
	io := pfiocTable{
		buffer: unsafe.Pointer(&table),
		esize:  int32(unsafe.Sizeof(table)),
		size:   1,
	}
	Log.WithFields(logrus.Fields{"component": "pftable", "table": name}).Info("creating pf table")
	return p.ioctl(diocrAddTables, &io)
}

func (p *bsdTablePusher) Close() error {
	return unix.Close(p.fd)
}

func (p *bsdTablePusher) ioctl(cmd uintptr, io *pfiocTable) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(p.fd), cmd, uintptr(unsafe.Pointer(io)))
	if errno != 0 {
		return errno
	}
	return nil
}

func prefixToPfrAddr(prefix netip.Prefix, negate bool) pfrAddr {
	var out pfrAddr
	if negate {
		out.not = 1
	}
	addr := prefix.Addr()
	out.net = uint8(prefix.Bits())
	if addr.Is4() {
		out.af = unix.AF_INET
		b := addr.As4()
		copy(out.addr[:], b[:])
	} else {
		out.af = unix.AF_INET6
		b := addr.As16()
		copy(out.addr[:], b[:])
	}
	return out
}
