package pfresolved

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// validEndpoint returns nil if addr, in the form of <host>:<port>, is usable
// as a forwarder address in the configuration file.
func validEndpoint(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	if ip := net.ParseIP(host); ip != nil {
		return nil
	}
	return validHostname(host)
}

// validHostname returns nil if name is a valid hostname as per
// https://tools.ietf.org/html/rfc3696#section-2 and
// https://tools.ietf.org/html/rfc1123#page-13. Every [[table]] host entry in
// the configuration file is checked with this before a Host is created for
// it.
func validHostname(name string) error {
	if name == "" {
		return errors.New("hostname empty")
	}
	if len(name) > 255 {
		return fmt.Errorf("invalid hostname %q: too long", name)
	}
	name = strings.TrimSuffix(name, ".")
	labels := strings.Split(name, ".")
	for _, label := range labels {
		if label == "" {
			return fmt.Errorf("invalid hostname %q: empty label", name)
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return fmt.Errorf("invalid hostname %q: label can not start or end with -", name)
		}
		for _, c := range label {
			switch {
			case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '-':
			default:
				return fmt.Errorf("invalid hostname %q: invalid character %q", name, string(c))
			}
		}
	}
	for _, c := range labels[len(labels)-1] {
		if c < '0' || c > '9' {
			return nil
		}
	}
	return fmt.Errorf("invalid hostname %q: last label can not be all numeric", name)
}
