package pfresolved

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
)

// HintsWriter renders the current table/host/address state to a
// human-readable YAML-ish hints file, grouped by table, for operator
// inspection. It is rewritten from scratch on every call, mirroring
// parent_write_hints_file's fopen(..., "w").
type HintsWriter struct {
	Path   string
	Tables []*Table
	Hosts  []*Host
}

// Write rewrites the hints file. A Path of "" means no hints file is
// configured, matching the original's early return when sc_hints_file is
// unset.
func (h *HintsWriter) Write() error {
	if h.Path == "" {
		Log.WithField("component", "hints").Info("no hints file configured")
		return nil
	}
	f, err := os.Create(h.Path)
	if err != nil {
		return fmt.Errorf("opening hints file %s: %w", h.Path, err)
	}
	defer f.Close()
	return h.render(f)
}

func (h *HintsWriter) render(w io.Writer) error {
	tables := append([]*Table(nil), h.Tables...)
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })

	for _, table := range tables {
		if _, err := fmt.Fprintf(w, "%s:\n", table.Name); err != nil {
			return err
		}
		for _, host := range h.Hosts {
			if !hostBelongsTo(host, table) {
				continue
			}
			if _, err := fmt.Fprintf(w, "- %s:", host.Hostname); err != nil {
				return err
			}
			addrs := append(host.Addresses(AddressFamilyV4), host.Addresses(AddressFamilyV6)...)
			for i, a := range addrs {
				sep := ","
				if i == 0 {
					sep = ""
				}
				if _, err := fmt.Fprintf(w, "%s %s", sep, a); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

func hostBelongsTo(h *Host, t *Table) bool {
	for _, ht := range h.Tables {
		if ht == t {
			return true
		}
	}
	return false
}

// logHintsWriteError is used by the controller when a scheduled hints write
// (on SIGUSR1/SIGHUP/shutdown) fails; it never treats the error as fatal.
func logHintsWriteError(err error) {
	Log.WithField("component", "hints").WithError(err).Error("failed to write hints file")
}
