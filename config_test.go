package pfresolved

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
min-ttl = 30
max-ttl = 3600
hints-file = "/var/run/pfresolved.hints"
pf-device = "/dev/pf"
resolvers = ["9.9.9.9:53", "149.112.112.112:53"]
dnssec-level = "validate"

[[table]]
name = "web_backends"
static = ["10.0.0.1", "!10.0.0.2"]
hosts = ["a.example.com", "b.example.com"]

[[table]]
name = "api_backends"
hosts = ["b.example.com"]
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pfresolved.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigValid(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 30, cfg.MinTTL)
	require.Equal(t, 3600, cfg.MaxTTL)
	require.Len(t, cfg.Tables, 2)
}

func TestLoadConfigDefaultsTTLs(t *testing.T) {
	path := writeTempConfig(t, `
[[table]]
name = "t"
hosts = ["a.example.com"]
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, defaultMinTTL, cfg.MinTTL)
	require.Equal(t, defaultMaxTTL, cfg.MaxTTL)
}

func TestLoadConfigRejectsInvertedTTLs(t *testing.T) {
	path := writeTempConfig(t, `
min-ttl = 100
max-ttl = 10
[[table]]
name = "t"
hosts = ["a.example.com"]
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigRejectsBadResolverAddress(t *testing.T) {
	path := writeTempConfig(t, `
resolvers = ["not-an-endpoint"]
[[table]]
name = "t"
hosts = ["a.example.com"]
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigRejectsDuplicateTableNames(t *testing.T) {
	path := writeTempConfig(t, `
[[table]]
name = "t"
hosts = ["a.example.com"]
[[table]]
name = "t"
hosts = ["b.example.com"]
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigRejectsBadHostname(t *testing.T) {
	path := writeTempConfig(t, `
[[table]]
name = "t"
hosts = ["-bad-hostname"]
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestResolveTablesBuildsSharedHostAcrossTables(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	tables, hosts, err := cfg.ResolveTables()
	require.NoError(t, err)
	require.Len(t, tables, 2)
	require.Len(t, hosts, 2)

	var shared *Host
	for _, h := range hosts {
		if h.Hostname == "b.example.com" {
			shared = h
		}
	}
	require.NotNil(t, shared)
	require.Len(t, shared.Tables, 2)
}

func TestParseStaticEntryNegation(t *testing.T) {
	prefix, negate, err := parseStaticEntry("! 192.0.2.1")
	require.NoError(t, err)
	require.True(t, negate)
	require.Equal(t, "192.0.2.1/32", prefix.String())
}

func TestParseStaticEntryPreservesCIDRPrefixLength(t *testing.T) {
	prefix, negate, err := parseStaticEntry("192.0.2.0/24")
	require.NoError(t, err)
	require.False(t, negate)
	require.Equal(t, 24, prefix.Bits())
	require.Equal(t, "192.0.2.0/24", prefix.String())
}
