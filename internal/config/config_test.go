package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAppConfigFillMissingDefaults(t *testing.T) {
	cfg := AppConfig{}
	cfg.FillMissingDefaults()

	if cfg.Radio.Connector != ConnectorIP {
		t.Fatalf("expected default connector %q, got %q", ConnectorIP, cfg.Radio.Connector)
	}
	if cfg.Radio.Port != DefaultRadioPort {
		t.Fatalf("expected default radio port %d, got %d", DefaultRadioPort, cfg.Radio.Port)
	}
	if cfg.Radio.SerialBaud != DefaultSerialBaud {
		t.Fatalf("expected default serial baud %d, got %d", DefaultSerialBaud, cfg.Radio.SerialBaud)
	}
	if cfg.VNS.ListenPort != DefaultVNSPort {
		t.Fatalf("expected default vns port %d, got %d", DefaultVNSPort, cfg.VNS.ListenPort)
	}
	if cfg.VNS.IdleTimeoutMinutes != 5 {
		t.Fatalf("expected default idle timeout 5, got %d", cfg.VNS.IdleTimeoutMinutes)
	}
	if cfg.Nodes.MaxNodeAgeHours != 24 {
		t.Fatalf("expected default max node age 24, got %d", cfg.Nodes.MaxNodeAgeHours)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.Logging.Level)
	}
}

func TestDefaultDeniesAdminCommands(t *testing.T) {
	cfg := Default()
	if cfg.VNS.AllowAdminCommands {
		t.Fatalf("expected admin commands to be denied by default")
	}
	if !cfg.VNS.Enabled {
		t.Fatalf("expected vns to be enabled by default")
	}
	if cfg.Update.VersionCheckDisabled {
		t.Fatalf("expected version check to be enabled by default")
	}
}

func TestLoadPartialFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
  "radio": {
    "connector": "ip",
    "radio_host": "192.168.0.1"
  },
  "logging": {
    "level": "debug"
  }
}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Radio.Host != "192.168.0.1" {
		t.Fatalf("expected explicit host preserved, got %q", cfg.Radio.Host)
	}
	if cfg.Radio.Port != DefaultRadioPort {
		t.Fatalf("expected radio port to default, got %d", cfg.Radio.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected explicit log level preserved, got %q", cfg.Logging.Level)
	}
	if cfg.Store.TelemetryRetentionHours != 48 {
		t.Fatalf("expected telemetry retention to default, got %d", cfg.Store.TelemetryRetentionHours)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.VNS.ListenPort != DefaultVNSPort {
		t.Fatalf("expected defaults for missing file, got %+v", cfg.VNS)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("MESHMONITOR_RADIO_HOST", "10.0.0.7")
	t.Setenv("MESHMONITOR_LISTEN_PORT", "4404")
	t.Setenv("MESHMONITOR_ALLOW_ADMIN_COMMANDS", "true")
	t.Setenv("MESHMONITOR_MAX_NODE_AGE_HOURS", "72")
	t.Setenv("MESHMONITOR_VERSION_CHECK_DISABLED", "1")

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.Radio.Host != "10.0.0.7" {
		t.Fatalf("radio host override not applied: %q", cfg.Radio.Host)
	}
	if cfg.VNS.ListenPort != 4404 {
		t.Fatalf("listen port override not applied: %d", cfg.VNS.ListenPort)
	}
	if !cfg.VNS.AllowAdminCommands {
		t.Fatalf("allow admin commands override not applied")
	}
	if cfg.Nodes.MaxNodeAgeHours != 72 {
		t.Fatalf("max node age override not applied: %d", cfg.Nodes.MaxNodeAgeHours)
	}
	if !cfg.Update.VersionCheckDisabled {
		t.Fatalf("version check override not applied")
	}
}

func TestApplyEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("MESHMONITOR_LISTEN_PORT", "not-a-number")
	t.Setenv("MESHMONITOR_ALLOW_ADMIN_COMMANDS", "maybe")

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.VNS.ListenPort != DefaultVNSPort {
		t.Fatalf("malformed port should keep default, got %d", cfg.VNS.ListenPort)
	}
	if cfg.VNS.AllowAdminCommands {
		t.Fatalf("malformed bool should keep default")
	}
}

func TestAppConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr bool
	}{
		{
			name:   "valid ip",
			mutate: func(c *AppConfig) { c.Radio.Host = "192.168.1.10" },
		},
		{
			name:    "invalid ip without host",
			mutate:  func(c *AppConfig) {},
			wantErr: true,
		},
		{
			name: "valid serial",
			mutate: func(c *AppConfig) {
				c.Radio.Connector = ConnectorSerial
				c.Radio.SerialPort = "/dev/ttyACM0"
			},
		},
		{
			name: "invalid serial without port",
			mutate: func(c *AppConfig) {
				c.Radio.Connector = ConnectorSerial
			},
			wantErr: true,
		},
		{
			name: "unknown connector",
			mutate: func(c *AppConfig) {
				c.Radio.Connector = ConnectorType("usb")
			},
			wantErr: true,
		},
		{
			name: "invalid vns port",
			mutate: func(c *AppConfig) {
				c.Radio.Host = "192.168.1.10"
				c.VNS.ListenPort = 700000
			},
			wantErr: true,
		},
		{
			name: "vns disabled skips port check",
			mutate: func(c *AppConfig) {
				c.Radio.Host = "192.168.1.10"
				c.VNS.Enabled = false
				c.VNS.ListenPort = 0
			},
		},
	}

	for _, tc := range tests {
		cfg := Default()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected error, got nil", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: expected no error, got %v", tc.name, err)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.Radio.Host = "radio.local"
	cfg.VNS.AllowAdminCommands = true

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if loaded.Radio.Host != "radio.local" || !loaded.VNS.AllowAdminCommands {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
}
