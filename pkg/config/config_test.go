package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tonaccess/pkg/models"
	"tonaccess/pkg/store"

	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests configuration loading and validation
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
}

// SetupTest creates a scratch directory
func (s *ConfigTestSuite) SetupTest() {
	s.tempDir = s.T().TempDir()
}

func (s *ConfigTestSuite) writeFile(content string) string {
	path := filepath.Join(s.tempDir, "ton-access.toml")
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestDefault tests built-in values
func (s *ConfigTestSuite) TestDefault() {
	cfg := Default()

	s.Equal("https://ton-access.orbs.network/mngr/nodes", cfg.Manager.URL)
	s.Equal(time.Minute, cfg.Manager.RefreshAfter.Std())
	s.Equal(10*time.Minute, cfg.Manager.StaleAfter.Std())
	s.Equal(3, cfg.Resolver.FanOut)
	s.Equal(models.EndpointConfig{
		Network:        models.Mainnet,
		Host:           "ton.access.orbs.network",
		AccessVersion:  1,
		ProtocolFormat: models.FormatDefault,
	}, cfg.Resolver.Endpoint())
	s.Equal(store.DriverNone, cfg.Store.Driver)
	s.Equal(20*time.Second, cfg.Server.RequestTimeout.Std())
	s.Equal(30*time.Second, cfg.Manager.RetryInterval.Std())
	s.NoError(cfg.Validate())
}

// TestLoadWithoutFile tests that an empty path uses defaults
func (s *ConfigTestSuite) TestLoadWithoutFile() {
	cfg, err := Load("")
	s.Require().NoError(err)
	s.Equal(Default().Manager, cfg.Manager)
}

// TestLoadMissingFile tests that a named missing file is an error
func (s *ConfigTestSuite) TestLoadMissingFile() {
	_, err := Load(filepath.Join(s.tempDir, "absent.toml"))
	s.Error(err)
}

// TestLoadFile tests partial overrides from TOML
func (s *ConfigTestSuite) TestLoadFile() {
	path := s.writeFile(`
[manager]
url = "http://127.0.0.1:9000/mngr/nodes"
stale_after = "5m"
refresh_after = "30s"

[resolver]
fan_out = 5
network = "testnet"
host = "edge.example.org"

[store]
driver = "sqlite"

[log]
level = "debug"
json = true
`)

	cfg, err := Load(path)
	s.Require().NoError(err)

	s.Equal("http://127.0.0.1:9000/mngr/nodes", cfg.Manager.URL)
	s.Equal(5*time.Minute, cfg.Manager.StaleAfter.Std())
	s.Equal(30*time.Second, cfg.Manager.RefreshAfter.Std())
	s.Equal(15*time.Second, cfg.Manager.FetchTimeout.Std())
	s.Equal(5, cfg.Resolver.FanOut)
	s.Equal(models.Testnet, cfg.Resolver.Endpoint().Network)
	s.Equal("edge.example.org", cfg.Resolver.Endpoint().Host)
	s.Equal(DefaultSQLitePath, cfg.Store.Options().Path)
	s.Equal("debug", cfg.Log.Level)
	s.True(cfg.Log.JSON)
	s.Equal(DefaultAddr, cfg.Server.Addr)
}

// TestLoadInvalid tests parse and validation failures
func (s *ConfigTestSuite) TestLoadInvalid() {
	testCases := []struct {
		name    string
		content string
	}{
		{"bad toml", "[manager\nurl ="},
		{"bad duration", "[manager]\nstale_after = \"ten minutes\""},
		{"unknown key", "[manager]\ncolour = \"blue\""},
		{"refresh above stale", "[manager]\nrefresh_after = \"20m\""},
		{"relative manager url", "[manager]\nurl = \"/mngr/nodes\""},
		{"zero fan out", "[resolver]\nfan_out = 0"},
		{"bad network", "[resolver]\nnetwork = \"devnet\""},
		{"redis without addr", "[store]\ndriver = \"redis\""},
		{"unknown driver", "[store]\ndriver = \"etcd\""},
		{"bad level", "[log]\nlevel = \"verbose\""},
		{"host with query", "[resolver]\nhost = \"evil.example?x=\""},
	}

	for _, tc := range testCases {
		_, err := Load(s.writeFile(tc.content))
		s.Error(err, tc.name)
	}
}

// TestValidateCollectsErrors tests that every problem is reported
func (s *ConfigTestSuite) TestValidateCollectsErrors() {
	cfg := Default()
	cfg.Resolver.FanOut = 0
	cfg.Server.Addr = ""

	err := cfg.Validate()
	s.ErrorIs(err, ErrInvalidConfig)
	s.Contains(err.Error(), "fan_out")
	s.Contains(err.Error(), "server.addr")
}

// TestEnvOverrides tests environment variables over file values
func (s *ConfigTestSuite) TestEnvOverrides() {
	s.T().Setenv(EnvAddr, "127.0.0.1:9999")
	s.T().Setenv(EnvFanOut, "7")
	s.T().Setenv(EnvLogLevel, "warn")

	cfg, err := Load(s.writeFile("[server]\naddr = \":7000\""))
	s.Require().NoError(err)
	s.Equal("127.0.0.1:9999", cfg.Server.Addr)
	s.Equal(7, cfg.Resolver.FanOut)
	s.Equal("warn", cfg.Log.Level)
}

// TestInvalidEnvFanOut tests that a malformed environment value fails loading
func (s *ConfigTestSuite) TestInvalidEnvFanOut() {
	s.T().Setenv(EnvFanOut, "three")

	_, err := Load("")
	s.ErrorIs(err, ErrInvalidConfig)
	s.Contains(err.Error(), EnvFanOut)
}

// TestServerTimeouts tests the server and retry timing keys
func (s *ConfigTestSuite) TestServerTimeouts() {
	cfg, err := Load(s.writeFile(`
[manager]
retry_interval = "45s"

[server]
request_timeout = "3s"
graceful_shutdown_timeout = "5s"
`))
	s.Require().NoError(err)
	s.Equal(3*time.Second, cfg.Server.RequestTimeout.Std())
	s.Equal(5*time.Second, cfg.Server.GracefulShutdownTimeout.Std())
	s.Equal(45*time.Second, cfg.Manager.RetryInterval.Std())

	_, err = Load(s.writeFile("[server]\nrequest_timeout = \"0s\""))
	s.ErrorIs(err, ErrInvalidConfig)
}

// TestEncodeRoundTrip tests that rendered config loads back
func (s *ConfigTestSuite) TestEncodeRoundTrip() {
	cfg := Default()
	cfg.Manager.StaleAfter = Duration(7 * time.Minute)

	data, err := Encode(cfg)
	s.Require().NoError(err)
	s.Contains(string(data), "7m0s")

	loaded, err := Load(s.writeFile(string(data)))
	s.Require().NoError(err)
	s.Equal(*cfg, *loaded)
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}
