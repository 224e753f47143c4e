package pfresolved

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/net/idna"
)

// Config is the parsed form of the daemon's TOML configuration file.
// Struct tags follow the teacher's kebab-case convention so the file reads
// like the rest of the ecosystem's configs.
type Config struct {
	MinTTL        int      `toml:"min-ttl"`
	MaxTTL        int      `toml:"max-ttl"`
	HintsFile     string   `toml:"hints-file"`
	PFDevice      string   `toml:"pf-device"`
	ControlSocket string   `toml:"control-socket"`
	Resolvers     []string `toml:"resolvers"`
	OutboundIP    string   `toml:"outbound-ip"`
	UseDoT        bool     `toml:"use-dot"`
	CertBundle    string   `toml:"cert-bundle"`
	DNSSECLevel   string   `toml:"dnssec-level"`
	TrustAnchor   string   `toml:"trust-anchor"`

	Tables []ConfigTable `toml:"table"`
}

// ConfigTable is one `[[table]]` block: a named pf table, an optional list
// of statically configured entries, and the hostnames that belong to it.
type ConfigTable struct {
	Name   string   `toml:"name"`
	Static []string `toml:"static"`
	Hosts  []string `toml:"hosts"`
}

const (
	defaultMinTTL = 10
	defaultMaxTTL = 86400

	// DefaultControlSocket is where pfresolvectl connects when -s is not
	// given, the Go equivalent of PFRESOLVED_SOCKET.
	DefaultControlSocket = "/var/run/pfresolved.sock"
)

// LoadConfig parses and validates a configuration file, the way
// cmd/routedns/config.go's loadConfig reads its TOML file into a config
// struct. It never opens the pf device or talks to the worker; that is left
// to the caller so -n/no-action mode can validate a config without side
// effects.
func LoadConfig(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if c.MinTTL == 0 {
		c.MinTTL = defaultMinTTL
	}
	if c.MaxTTL == 0 {
		c.MaxTTL = defaultMaxTTL
	}
	if c.ControlSocket == "" {
		c.ControlSocket = DefaultControlSocket
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the config for internal consistency: TTL ordering,
// resolver endpoint syntax, valid hostnames, unique table names, and static
// entry syntax. It does not touch the filesystem or the network.
func (c *Config) Validate() error {
	if c.MinTTL > c.MaxTTL {
		return fmt.Errorf("min-ttl (%d) is greater than max-ttl (%d)", c.MinTTL, c.MaxTTL)
	}
	for _, r := range c.Resolvers {
		if err := validEndpoint(r); err != nil {
			return fmt.Errorf("invalid resolver %q: %w", r, err)
		}
	}
	switch c.DNSSECLevel {
	case "", "none", "log", "validate", "force":
	default:
		return fmt.Errorf("invalid dnssec-level %q", c.DNSSECLevel)
	}

	seen := make(map[string]bool, len(c.Tables))
	for i, t := range c.Tables {
		if t.Name == "" {
			return fmt.Errorf("table with empty name")
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate table name %q", t.Name)
		}
		seen[t.Name] = true

		for _, s := range t.Static {
			if _, _, err := parseStaticEntry(s); err != nil {
				return fmt.Errorf("table %q: %w", t.Name, err)
			}
		}
		for j, h := range t.Hosts {
			ascii, err := normalizeHostname(h)
			if err != nil {
				return fmt.Errorf("table %q: %w", t.Name, err)
			}
			if err := validHostname(ascii); err != nil {
				return fmt.Errorf("table %q: %w", t.Name, err)
			}
			c.Tables[i].Hosts[j] = ascii
		}
	}
	return nil
}

// normalizeHostname converts a hostname from the configuration file to its
// ASCII/punycode form, so an operator-entered internationalized domain name
// resolves the way the rest of the daemon (host keys, DNS queries, the
// hints file) expects: plain ASCII labels.
func normalizeHostname(name string) (string, error) {
	ascii, err := idna.Lookup.ToASCII(name)
	if err != nil {
		return "", fmt.Errorf("invalid hostname %q: %w", name, err)
	}
	return ascii, nil
}

// parseStaticEntry parses a static pf table entry from the configuration
// file, either a bare address (defaulting to a full-length prefix, /32 or
// /128) or a CIDR. A leading "!" negates the entry (pfte_negate), matching
// the informal syntax pfresolvectl's parser accepts.
func parseStaticEntry(s string) (netip.Prefix, bool, error) {
	negate := false
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "!") {
		negate = true
		s = strings.TrimSpace(s[1:])
	}
	addr, err := netip.ParseAddr(s)
	if err == nil {
		return netip.PrefixFrom(addr, addr.BitLen()), negate, nil
	}
	prefix, perr := netip.ParsePrefix(s)
	if perr != nil {
		return netip.Prefix{}, false, fmt.Errorf("invalid static entry %q: %w", s, err)
	}
	return prefix, negate, nil
}

// ResolveTables builds the Table graph, Host graph, and the back-references
// between them from the validated config. It is the Go equivalent of
// parse_config populating sc_tables/sc_hosts.
func (c *Config) ResolveTables() ([]*Table, []*Host, error) {
	tables := make(map[string]*Table, len(c.Tables))
	hostsByName := make(map[string]*Host)

	for _, tc := range c.Tables {
		var static []TableEntry
		for _, s := range tc.Static {
			prefix, negate, err := parseStaticEntry(s)
			if err != nil {
				return nil, nil, err
			}
			static = append(static, TableEntry{Prefix: prefix, Negate: negate})
		}
		tables[tc.Name] = NewTable(tc.Name, static)
	}

	for _, tc := range c.Tables {
		table := tables[tc.Name]
		for _, hostname := range tc.Hosts {
			h, ok := hostsByName[hostname]
			if !ok {
				h = NewHost(hostname, nil)
				hostsByName[hostname] = h
			}
			h.Tables = append(h.Tables, table)
		}
	}

	tableList := make([]*Table, 0, len(tables))
	for _, t := range tables {
		tableList = append(tableList, t)
	}
	hostList := make([]*Host, 0, len(hostsByName))
	for _, h := range hostsByName {
		hostList = append(hostList, h)
	}
	return tableList, hostList, nil
}
