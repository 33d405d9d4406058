// Package config loads the configuration of a CAN TP node from YAML and
// the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"comstack/cantp-go/pkg/canif"
	"comstack/cantp-go/pkg/cantp"
	"comstack/cantp-go/pkg/internal/logger"
	"comstack/cantp-go/pkg/types"
)

// Config is the root node configuration
type Config struct {
	// NodeName is the logical name of the node, used as channel ID
	NodeName string `mapstructure:"node_name"`

	Log     LogConfig     `mapstructure:"log"`
	Channel ChannelConfig `mapstructure:"channel"`
	CanTp   CanTpConfig   `mapstructure:"cantp"`
	Routes  []RouteConfig `mapstructure:"routes"`
	Trace   TraceConfig   `mapstructure:"trace"`
}

// LogConfig defines logger settings
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr or file paths
	Outputs []string `mapstructure:"outputs"`
	// Tags: layer tags to log, e.g. SRV.CanTp or E.CIF; empty keeps the default set
	Tags []string `mapstructure:"tags"`
	// FrameDebug logs hex dumps of every frame
	FrameDebug  bool           `mapstructure:"frame_debug"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ChannelConfig selects and configures the bus medium
type ChannelConfig struct {
	// Kind: tcp, udp, quic or serial
	Kind    string `mapstructure:"kind"`
	Address string `mapstructure:"address"`
	Server  bool   `mapstructure:"server"`

	ReconnectDelayMS int `mapstructure:"reconnect_delay_ms"`
	ReadTimeoutMS    int `mapstructure:"read_timeout_ms"` // Stream media drop silent peers, UDP polls; 0 selects the medium default
	WriteTimeoutMS   int `mapstructure:"write_timeout_ms"`
	QueueSize        int `mapstructure:"queue_size"`

	// FD sends CAN FD frames, BRS switches bit rate in their data phase
	FD  bool `mapstructure:"fd"`
	BRS bool `mapstructure:"brs"`

	Serial SerialConfig `mapstructure:"serial"`
}

// SerialConfig configures an SLCAN adapter
type SerialConfig struct {
	Port       string `mapstructure:"port"`
	BaudRate   int    `mapstructure:"baud_rate"`
	Bitrate    int    `mapstructure:"bitrate"`
	ListenOnly bool   `mapstructure:"listen_only"`
}

// CanTpConfig configures the transport protocol engine.
// Durations are given in milliseconds, STmin in microseconds.
type CanTpConfig struct {
	TickMS             int  `mapstructure:"tick_ms"`
	FrameSize          int  `mapstructure:"frame_size"`
	Padding            int  `mapstructure:"padding"` // -1 disables padding
	PeerResponseMS     int  `mapstructure:"peer_response_ms"`
	BlockWaitMS        int  `mapstructure:"block_wait_ms"`
	ConsecutiveFrameMS int  `mapstructure:"consecutive_frame_ms"`
	BlockSize          int  `mapstructure:"block_size"`
	STminUS            int  `mapstructure:"stmin_us"`
	MaxWaitFrames      int  `mapstructure:"max_wait_frames"`
	MaxTransmitRetries int  `mapstructure:"max_transmit_retries"`
	WaitRetryMS        int  `mapstructure:"wait_retry_ms"`
	BufferSize         int  `mapstructure:"buffer_size"`
	RxSlots            int  `mapstructure:"rx_slots"`
	InboxSize          int  `mapstructure:"inbox_size"`
	Statistics         bool `mapstructure:"statistics"`
}

// RouteConfig binds a PDU to a node address pair and CAN identifiers
type RouteConfig struct {
	PduID    int    `mapstructure:"pdu_id"`
	Source   int    `mapstructure:"source"` // Local address
	Target   int    `mapstructure:"target"` // Peer address
	TxID     uint32 `mapstructure:"tx_id"`
	RxID     uint32 `mapstructure:"rx_id"`
	Extended bool   `mapstructure:"extended"`
	Priority string `mapstructure:"priority"` // low or high
}

// TraceConfig enables the CBOR frame trace
type TraceConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// Default returns a Config populated with defaults
func Default() *Config {
	return &Config{
		NodeName: "cantp-node",
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stdout"},
			Rotation: RotationConfig{
				Filename:   "logs/cantp.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Channel: ChannelConfig{
			Kind:             "tcp",
			Address:          "127.0.0.1:29536",
			ReconnectDelayMS: 5000,
			QueueSize:        64,
			Serial: SerialConfig{
				BaudRate: 115200,
				Bitrate:  500000,
			},
		},
		CanTp: CanTpConfig{
			TickMS:             1,
			FrameSize:          cantp.ClassicFrameSize,
			Padding:            -1,
			PeerResponseMS:     1000,
			BlockWaitMS:        1000,
			ConsecutiveFrameMS: 1000,
			MaxWaitFrames:      3,
			MaxTransmitRetries: 4,
			WaitRetryMS:        10,
			BufferSize:         cantp.MaxShortFFLength,
			RxSlots:            4,
			InboxSize:          256,
			Statistics:         true,
		},
		Routes: []RouteConfig{
			{PduID: 1, Source: 0xF1, Target: 0x10, TxID: 0x7E0, RxID: 0x7E8, Priority: "low"},
		},
		Trace: TraceConfig{Path: "cantp-trace.cbor"},
	}
}

// Load reads configuration from path (if non-empty), otherwise it searches
// common locations. Environment variables use the prefix CANTP with `.`
// and `-` replaced by `_`, e.g. CANTP_CANTP_BLOCK_SIZE=8.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CANTP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	seedDefaults(v, cfg)

	if path == "" {
		if envPath := os.Getenv("CANTP_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cantp")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".cantp"))
		}
	}

	// A missing file leaves defaults and environment in effect
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// Default routes only apply when the key is absent; an explicit empty
	// list is rejected by validate
	defaultRoutes := cfg.Routes
	cfg.Routes = nil
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if !v.IsSet("routes") && !v.InConfig("routes") {
		cfg.Routes = defaultRoutes
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// seedDefaults registers every key so environment-only configs work
func seedDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("node_name", cfg.NodeName)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.tags", cfg.Log.Tags)
	v.SetDefault("log.frame_debug", cfg.Log.FrameDebug)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	v.SetDefault("channel.kind", cfg.Channel.Kind)
	v.SetDefault("channel.address", cfg.Channel.Address)
	v.SetDefault("channel.server", cfg.Channel.Server)
	v.SetDefault("channel.reconnect_delay_ms", cfg.Channel.ReconnectDelayMS)
	v.SetDefault("channel.read_timeout_ms", cfg.Channel.ReadTimeoutMS)
	v.SetDefault("channel.write_timeout_ms", cfg.Channel.WriteTimeoutMS)
	v.SetDefault("channel.queue_size", cfg.Channel.QueueSize)
	v.SetDefault("channel.fd", cfg.Channel.FD)
	v.SetDefault("channel.brs", cfg.Channel.BRS)
	v.SetDefault("channel.serial.port", cfg.Channel.Serial.Port)
	v.SetDefault("channel.serial.baud_rate", cfg.Channel.Serial.BaudRate)
	v.SetDefault("channel.serial.bitrate", cfg.Channel.Serial.Bitrate)
	v.SetDefault("channel.serial.listen_only", cfg.Channel.Serial.ListenOnly)

	v.SetDefault("cantp.tick_ms", cfg.CanTp.TickMS)
	v.SetDefault("cantp.frame_size", cfg.CanTp.FrameSize)
	v.SetDefault("cantp.padding", cfg.CanTp.Padding)
	v.SetDefault("cantp.peer_response_ms", cfg.CanTp.PeerResponseMS)
	v.SetDefault("cantp.block_wait_ms", cfg.CanTp.BlockWaitMS)
	v.SetDefault("cantp.consecutive_frame_ms", cfg.CanTp.ConsecutiveFrameMS)
	v.SetDefault("cantp.block_size", cfg.CanTp.BlockSize)
	v.SetDefault("cantp.stmin_us", cfg.CanTp.STminUS)
	v.SetDefault("cantp.max_wait_frames", cfg.CanTp.MaxWaitFrames)
	v.SetDefault("cantp.max_transmit_retries", cfg.CanTp.MaxTransmitRetries)
	v.SetDefault("cantp.wait_retry_ms", cfg.CanTp.WaitRetryMS)
	v.SetDefault("cantp.buffer_size", cfg.CanTp.BufferSize)
	v.SetDefault("cantp.rx_slots", cfg.CanTp.RxSlots)
	v.SetDefault("cantp.inbox_size", cfg.CanTp.InboxSize)
	v.SetDefault("cantp.statistics", cfg.CanTp.Statistics)

	v.SetDefault("trace.enable", cfg.Trace.Enable)
	v.SetDefault("trace.path", cfg.Trace.Path)
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if _, unknown := logger.ParseTagMask(c.Log.Tags); len(unknown) > 0 {
		return fmt.Errorf("invalid log.tags: %q", unknown)
	}
	if strings.TrimSpace(c.NodeName) == "" {
		c.NodeName = "cantp-node"
	}

	c.Channel.Kind = strings.ToLower(strings.TrimSpace(c.Channel.Kind))
	switch c.Channel.Kind {
	case "tcp", "udp", "quic":
		if c.Channel.Address == "" {
			return fmt.Errorf("channel.address is required for %s", c.Channel.Kind)
		}
	case "serial":
		if c.Channel.Serial.Port == "" {
			return fmt.Errorf("channel.serial.port is required")
		}
	default:
		return fmt.Errorf("invalid channel.kind: %q", c.Channel.Kind)
	}

	if c.CanTp.Padding > 0xFF {
		return fmt.Errorf("invalid cantp.padding: %d", c.CanTp.Padding)
	}
	if c.CanTp.BlockSize < 0 || c.CanTp.BlockSize > 0xFF {
		return fmt.Errorf("invalid cantp.block_size: %d", c.CanTp.BlockSize)
	}
	if c.CanTp.STminUS < 0 {
		return fmt.Errorf("invalid cantp.stmin_us: %d", c.CanTp.STminUS)
	}
	if c.CanTp.FrameSize > 8 && !c.Channel.FD {
		return fmt.Errorf("cantp.frame_size %d requires channel.fd", c.CanTp.FrameSize)
	}
	if _, err := c.EngineConfig(); err != nil {
		return err
	}

	if len(c.Routes) == 0 {
		return fmt.Errorf("at least one route is required")
	}
	for i := range c.Routes {
		r := &c.Routes[i]
		if r.PduID < 0 || r.PduID > 0xFFFF {
			return fmt.Errorf("routes[%d]: invalid pdu_id %d", i, r.PduID)
		}
		if r.Source < 0 || r.Source > 0xFFFF || r.Target < 0 || r.Target > 0xFFFF {
			return fmt.Errorf("routes[%d]: addresses must fit 16 bits", i)
		}
		limit := uint32(types.CANStdIDMask)
		if r.Extended {
			limit = uint32(types.CANExtIDMask)
		}
		if r.TxID > limit || r.RxID > limit {
			return fmt.Errorf("routes[%d]: identifier exceeds 0x%X", i, limit)
		}
		r.Priority = strings.ToLower(strings.TrimSpace(r.Priority))
		switch r.Priority {
		case "", "low", "high":
		default:
			return fmt.Errorf("routes[%d]: invalid priority %q", i, r.Priority)
		}
	}
	if _, err := canif.NewRouteTable(c.CanIfRoutes()...); err != nil {
		return fmt.Errorf("routes: %w", err)
	}

	if c.Trace.Enable && c.Trace.Path == "" {
		return fmt.Errorf("trace.path is required when tracing")
	}
	return nil
}

// EngineConfig converts the cantp section to an engine configuration
func (c *Config) EngineConfig() (cantp.Config, error) {
	tp := c.CanTp
	if tp.TickMS <= 0 {
		return cantp.Config{}, fmt.Errorf("invalid cantp.tick_ms: %d", tp.TickMS)
	}

	ec := cantp.DefaultConfig()
	ec.TickPeriod = time.Duration(tp.TickMS) * time.Millisecond
	ec.FrameSize = tp.FrameSize
	if tp.Padding >= 0 {
		pad := byte(tp.Padding)
		ec.Padding = &pad
	}
	ec.PeerResponseTicks = ec.Ticks(ms(tp.PeerResponseMS))
	ec.BlockWaitTicks = ec.Ticks(ms(tp.BlockWaitMS))
	ec.ConsecutiveFrameTicks = ec.Ticks(ms(tp.ConsecutiveFrameMS))
	ec.BlockSize = uint8(tp.BlockSize)
	ec.STmin = time.Duration(tp.STminUS) * time.Microsecond
	ec.MaxWaitFrames = tp.MaxWaitFrames
	ec.MaxTransmitRetries = tp.MaxTransmitRetries
	ec.WaitRetryTicks = ec.Ticks(ms(tp.WaitRetryMS))
	ec.BufferSize = tp.BufferSize
	ec.RxSlots = tp.RxSlots
	ec.InboxSize = tp.InboxSize
	ec.EnableStatistics = tp.Statistics

	if err := ec.Validate(); err != nil {
		return cantp.Config{}, fmt.Errorf("cantp: %w", err)
	}
	return ec, nil
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// CanIfRoutes converts the route section to interface routes
func (c *Config) CanIfRoutes() []canif.Route {
	out := make([]canif.Route, 0, len(c.Routes))
	for _, r := range c.Routes {
		route := canif.Route{
			PduID: types.PduID(r.PduID),
			Key:   cantp.Key{Source: cantp.Address(r.Source), Target: cantp.Address(r.Target)},
			TxID:  types.MakeStdID(uint16(r.TxID)),
			RxID:  types.MakeStdID(uint16(r.RxID)),
		}
		if r.Extended {
			route.TxID = types.MakeExtID(r.TxID)
			route.RxID = types.MakeExtID(r.RxID)
		}
		if r.Priority == "high" {
			route.Priority = types.TxPriorityHigh
		}
		out = append(out, route)
	}
	return out
}

// LogOptions converts the log section to logger options
func (c *Config) LogOptions() logger.Options {
	return logger.Options{
		Level:   c.Log.Level,
		Format:  c.Log.Format,
		Outputs: c.Log.Outputs,
		Rotation: logger.Rotation{
			Enable:     c.Log.Rotation.Enable,
			Filename:   c.Log.Rotation.Filename,
			MaxSizeMB:  c.Log.Rotation.MaxSizeMB,
			MaxBackups: c.Log.Rotation.MaxBackups,
			MaxAgeDays: c.Log.Rotation.MaxAgeDays,
			Compress:   c.Log.Rotation.Compress,
		},
		Development: c.Log.Development,
	}
}

// MustLoad is a convenience that panics on error
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
