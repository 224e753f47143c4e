package dnssec

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/miekg/dns"
)

// LoadTrustAnchors reads a trust-anchor file (one DS record per line, in
// standard DNS presentation format, e.g. the format the IANA root anchor is
// published in) and registers each one with v. Blank lines and lines
// starting with ";" are ignored, matching how unbound's trust-anchor-file
// option tolerates comments.
func LoadTrustAnchors(v *Validator, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening trust anchor file %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	n := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		rr, err := dns.NewRR(line)
		if err != nil {
			return fmt.Errorf("parsing trust anchor line %q: %w", line, err)
		}
		ds, ok := rr.(*dns.DS)
		if !ok {
			return fmt.Errorf("trust anchor line %q is not a DS record", line)
		}
		v.SetAnchor(ds.Header().Name, ds.KeyTag, ds.Algorithm, ds.DigestType, ds.Digest)
		n++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading trust anchor file %s: %w", path, err)
	}
	if n == 0 {
		return fmt.Errorf("trust anchor file %s contains no DS records", path)
	}
	return nil
}
