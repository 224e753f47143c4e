//go:build !openbsd && !freebsd && !netbsd && !dragonfly && !darwin

package pfresolved

import "github.com/sirupsen/logrus"

// stubTablePusher stands in for bsdTablePusher on platforms with no pf
// device (mainly Linux, used for development and CI). It logs what it would
// have pushed instead of touching the kernel.
type stubTablePusher struct {
	devicePath string
}

// NewTablePusher on a non-BSD platform never opens a real device; it always
// succeeds and logs table changes at debug level so controller logic can
// still be exercised in tests.
func NewTablePusher(devicePath string) (TablePusher, error) {
	Log.WithFields(logrus.Fields{"component": "pftable", "device": devicePath}).
		Warn("pf table device unsupported on this platform, table pushes will only be logged")
	return &stubTablePusher{devicePath: devicePath}, nil
}

func (p *stubTablePusher) SetAddresses(table *Table) error {
	entries := table.Entries()
	Log.WithFields(logrus.Fields{
		"component": "pftable",
		"table":     table.Name,
		"entries":   len(entries),
	}).Debug("would update pf table addresses")
	return nil
}

func (p *stubTablePusher) ClearAddresses(name string) error {
	Log.WithFields(logrus.Fields{"component": "pftable", "table": name}).Debug("would clear pf table addresses")
	return nil
}

func (p *stubTablePusher) Close() error {
	return nil
}
