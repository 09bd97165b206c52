package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ConnectorType identifies which transport backend talks to the radio.
type ConnectorType string

const (
	ConnectorIP     ConnectorType = "ip"
	ConnectorSerial ConnectorType = "serial"

	DefaultRadioPort  = 4403
	DefaultSerialBaud = 115200
	DefaultVNSPort    = 4403
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
}

// RadioConfig points at the physical radio.
type RadioConfig struct {
	Connector  ConnectorType `json:"connector"`
	Host       string        `json:"radio_host"`
	Port       int           `json:"radio_port"`
	SerialPort string        `json:"serial_port"`
	SerialBaud int           `json:"serial_baud"`
}

// VNSConfig controls the virtual node listener.
type VNSConfig struct {
	Enabled            bool `json:"enabled"`
	ListenPort         int  `json:"listen_port"`
	AllowAdminCommands bool `json:"allow_admin_commands"`
	IdleTimeoutMinutes int  `json:"idle_timeout_minutes"`
}

// StoreConfig controls the sqlite store and retention.
type StoreConfig struct {
	DatabasePath                    string `json:"database_path"`
	TelemetryRetentionHours         int    `json:"telemetry_retention_hours"`
	FavoriteTelemetryRetentionHours int    `json:"favorite_telemetry_retention_hours"`
}

// NodesConfig governs node aging and offline signaling.
type NodesConfig struct {
	MaxNodeAgeHours                  int `json:"max_node_age_hours"`
	InactiveNodeThresholdHours       int `json:"inactive_node_threshold_hours"`
	InactiveNodeCheckIntervalMinutes int `json:"inactive_node_check_interval_minutes"`
	InactiveNodeCooldownHours        int `json:"inactive_node_cooldown_hours"`
}

// HTTPConfig controls the operator API listener.
type HTTPConfig struct {
	ListenAddr string `json:"listen_addr"`
}

// AutoAckConfig replies to incoming texts matching a pattern.
type AutoAckConfig struct {
	Enabled             bool   `json:"enabled"`
	Pattern             string `json:"pattern"`
	ReplyText           string `json:"reply_text"`
	TapbackEmoji        string `json:"tapback_emoji"`
	DelaySeconds        int    `json:"delay_seconds"`
	SkipIncompleteNodes bool   `json:"skip_incomplete_nodes"`
}

// AutoWelcomeConfig greets first-seen nodes once.
type AutoWelcomeConfig struct {
	Enabled     bool   `json:"enabled"`
	Message     string `json:"message"`
	WaitForName bool   `json:"wait_for_name"`
	MaxHops     int    `json:"max_hops"`
}

// AutoAnnounceConfig broadcasts a message on a schedule.
type AutoAnnounceConfig struct {
	Enabled         bool   `json:"enabled"`
	Message         string `json:"message"`
	Channel         int    `json:"channel"`
	IntervalMinutes int    `json:"interval_minutes"`
	OnStartup       bool   `json:"on_startup"`
}

// ResponderRule maps a trigger pattern to a canned reply.
type ResponderRule struct {
	Pattern string `json:"pattern"`
	Reply   string `json:"reply"`
}

// TracerouteFilterConfig narrows the scheduled-traceroute candidate pool.
// Each filter applies only when its enable bit is set.
type TracerouteFilterConfig struct {
	ByChannel   bool     `json:"by_channel"`
	Channels    []int    `json:"channels"`
	ByRole      bool     `json:"by_role"`
	Roles       []uint32 `json:"roles"`
	ByHwModel   bool     `json:"by_hw_model"`
	HwModels    []uint32 `json:"hw_models"`
	ByNameRegex bool     `json:"by_name_regex"`
	NameRegex   string   `json:"name_regex"`
	ByNodeSet   bool     `json:"by_node_set"`
	NodeIDs     []string `json:"node_ids"`
}

// ScheduledTracerouteConfig drives the periodic traceroute automation.
type ScheduledTracerouteConfig struct {
	Enabled         bool                   `json:"enabled"`
	IntervalMinutes int                    `json:"traceroute_interval_minutes"`
	Filter          TracerouteFilterConfig `json:"filter"`
}

// AutomationConfig groups all automation hooks.
type AutomationConfig struct {
	AutoAck    AutoAckConfig             `json:"auto_ack"`
	Welcome    AutoWelcomeConfig         `json:"welcome"`
	Announce   AutoAnnounceConfig        `json:"announce"`
	Responders []ResponderRule           `json:"responders"`
	Traceroute ScheduledTracerouteConfig `json:"traceroute"`
}

// UpdateConfig controls release checking.
type UpdateConfig struct {
	VersionCheckDisabled bool `json:"version_check_disabled"`
	AutoUpgradeEnabled   bool `json:"auto_upgrade_enabled"`
}

// AppConfig is the root persisted configuration.
type AppConfig struct {
	Radio      RadioConfig      `json:"radio"`
	VNS        VNSConfig        `json:"vns"`
	Store      StoreConfig      `json:"store"`
	Nodes      NodesConfig      `json:"nodes"`
	HTTP       HTTPConfig       `json:"http"`
	Automation AutomationConfig `json:"automation"`
	Update     UpdateConfig     `json:"update"`
	Logging    LoggingConfig    `json:"logging"`
}

func Default() AppConfig {
	return AppConfig{
		Radio: RadioConfig{
			Connector:  ConnectorIP,
			Port:       DefaultRadioPort,
			SerialBaud: DefaultSerialBaud,
		},
		VNS: VNSConfig{
			Enabled:            true,
			ListenPort:         DefaultVNSPort,
			AllowAdminCommands: false,
			IdleTimeoutMinutes: 5,
		},
		Store: StoreConfig{
			DatabasePath:                    "meshmonitor.db",
			TelemetryRetentionHours:         48,
			FavoriteTelemetryRetentionHours: 24 * 7,
		},
		Nodes: NodesConfig{
			MaxNodeAgeHours:                  24,
			InactiveNodeThresholdHours:       2,
			InactiveNodeCheckIntervalMinutes: 15,
			InactiveNodeCooldownHours:        12,
		},
		HTTP: HTTPConfig{
			ListenAddr: ":8080",
		},
		Automation: AutomationConfig{
			AutoAck: AutoAckConfig{
				Pattern:      `(?i)^(ping|test)\b`,
				TapbackEmoji: "\U0001F44D",
				DelaySeconds: 2,
			},
			Welcome: AutoWelcomeConfig{
				WaitForName: true,
				MaxHops:     3,
			},
			Announce: AutoAnnounceConfig{
				IntervalMinutes: 360,
			},
			Traceroute: ScheduledTracerouteConfig{
				IntervalMinutes: 60,
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.ApplyEnv()

			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()
	cfg.ApplyEnv()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	def := Default()
	if c.Radio.Connector == "" {
		c.Radio.Connector = def.Radio.Connector
	}
	if c.Radio.Port <= 0 {
		c.Radio.Port = def.Radio.Port
	}
	if c.Radio.SerialBaud <= 0 {
		c.Radio.SerialBaud = def.Radio.SerialBaud
	}
	if c.VNS.ListenPort <= 0 {
		c.VNS.ListenPort = def.VNS.ListenPort
	}
	if c.VNS.IdleTimeoutMinutes <= 0 {
		c.VNS.IdleTimeoutMinutes = def.VNS.IdleTimeoutMinutes
	}
	if c.Store.DatabasePath == "" {
		c.Store.DatabasePath = def.Store.DatabasePath
	}
	if c.Store.TelemetryRetentionHours <= 0 {
		c.Store.TelemetryRetentionHours = def.Store.TelemetryRetentionHours
	}
	if c.Store.FavoriteTelemetryRetentionHours <= 0 {
		c.Store.FavoriteTelemetryRetentionHours = def.Store.FavoriteTelemetryRetentionHours
	}
	if c.Nodes.MaxNodeAgeHours <= 0 {
		c.Nodes.MaxNodeAgeHours = def.Nodes.MaxNodeAgeHours
	}
	if c.Nodes.InactiveNodeThresholdHours <= 0 {
		c.Nodes.InactiveNodeThresholdHours = def.Nodes.InactiveNodeThresholdHours
	}
	if c.Nodes.InactiveNodeCheckIntervalMinutes <= 0 {
		c.Nodes.InactiveNodeCheckIntervalMinutes = def.Nodes.InactiveNodeCheckIntervalMinutes
	}
	if c.Nodes.InactiveNodeCooldownHours <= 0 {
		c.Nodes.InactiveNodeCooldownHours = def.Nodes.InactiveNodeCooldownHours
	}
	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = def.HTTP.ListenAddr
	}
	if c.Automation.Traceroute.IntervalMinutes <= 0 {
		c.Automation.Traceroute.IntervalMinutes = def.Automation.Traceroute.IntervalMinutes
	}
	if c.Automation.Announce.IntervalMinutes <= 0 {
		c.Automation.Announce.IntervalMinutes = def.Automation.Announce.IntervalMinutes
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// ApplyEnv overrides selected options from MESHMONITOR_* variables, so
// container deployments need no config file.
func (c *AppConfig) ApplyEnv() {
	envString("MESHMONITOR_RADIO_HOST", &c.Radio.Host)
	envInt("MESHMONITOR_RADIO_PORT", &c.Radio.Port)
	envString("MESHMONITOR_SERIAL_PORT", &c.Radio.SerialPort)
	envInt("MESHMONITOR_SERIAL_BAUD", &c.Radio.SerialBaud)
	if v, ok := os.LookupEnv("MESHMONITOR_CONNECTOR"); ok {
		c.Radio.Connector = ConnectorType(strings.ToLower(strings.TrimSpace(v)))
	}
	envInt("MESHMONITOR_LISTEN_PORT", &c.VNS.ListenPort)
	envBool("MESHMONITOR_ALLOW_ADMIN_COMMANDS", &c.VNS.AllowAdminCommands)
	envString("MESHMONITOR_DATABASE_PATH", &c.Store.DatabasePath)
	envInt("MESHMONITOR_MAX_NODE_AGE_HOURS", &c.Nodes.MaxNodeAgeHours)
	envInt("MESHMONITOR_INACTIVE_NODE_THRESHOLD_HOURS", &c.Nodes.InactiveNodeThresholdHours)
	envInt("MESHMONITOR_INACTIVE_NODE_CHECK_INTERVAL_MINUTES", &c.Nodes.InactiveNodeCheckIntervalMinutes)
	envInt("MESHMONITOR_INACTIVE_NODE_COOLDOWN_HOURS", &c.Nodes.InactiveNodeCooldownHours)
	envString("MESHMONITOR_HTTP_LISTEN_ADDR", &c.HTTP.ListenAddr)
	envInt("MESHMONITOR_TRACEROUTE_INTERVAL_MINUTES", &c.Automation.Traceroute.IntervalMinutes)
	envBool("MESHMONITOR_VERSION_CHECK_DISABLED", &c.Update.VersionCheckDisabled)
	envBool("MESHMONITOR_AUTO_UPGRADE_ENABLED", &c.Update.AutoUpgradeEnabled)
	envString("MESHMONITOR_LOG_LEVEL", &c.Logging.Level)
}

func envString(name string, dst *string) {
	if v, ok := os.LookupEnv(name); ok {
		*dst = strings.TrimSpace(v)
	}
}

func envInt(name string, dst *int) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return
	}
	*dst = n
}

func envBool(name string, dst *bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return
	}
	*dst = b
}

func (c AppConfig) Validate() error {
	switch c.Radio.Connector {
	case ConnectorIP:
		if strings.TrimSpace(c.Radio.Host) == "" {
			return errors.New("radio host is required")
		}
	case ConnectorSerial:
		if strings.TrimSpace(c.Radio.SerialPort) == "" {
			return errors.New("serial port is required")
		}
		if c.Radio.SerialBaud <= 0 {
			return errors.New("serial baud must be positive")
		}
	default:
		return fmt.Errorf("unknown connector: %s", c.Radio.Connector)
	}

	if c.VNS.Enabled {
		if c.VNS.ListenPort <= 0 || c.VNS.ListenPort > 65535 {
			return fmt.Errorf("invalid vns listen port: %d", c.VNS.ListenPort)
		}
	}
	if c.Store.DatabasePath == "" {
		return errors.New("database path is required")
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
