package stack

import (
	"fmt"
	"time"

	"comstack/cantp-go/pkg/channel"
	"comstack/cantp-go/pkg/config"
	"comstack/cantp-go/pkg/trace"
)

// OpenPhysical creates the medium selected by cfg
func OpenPhysical(cfg config.ChannelConfig) (channel.PhysicalChannel, error) {
	reconnect := time.Duration(cfg.ReconnectDelayMS) * time.Millisecond
	read := time.Duration(cfg.ReadTimeoutMS) * time.Millisecond
	write := time.Duration(cfg.WriteTimeoutMS) * time.Millisecond

	switch cfg.Kind {
	case "tcp":
		return channel.NewTCPChannel(channel.TCPChannelConfig{
			Address:        cfg.Address,
			IsServer:       cfg.Server,
			ReconnectDelay: reconnect,
			ReadTimeout:    read,
			WriteTimeout:   write,
		})
	case "udp":
		return channel.NewUDPChannel(channel.UDPChannelConfig{
			Address:      cfg.Address,
			IsServer:     cfg.Server,
			ReadTimeout:  read,
			WriteTimeout: write,
		})
	case "quic":
		return channel.NewQUICChannel(channel.QUICChannelConfig{
			Address:        cfg.Address,
			IsServer:       cfg.Server,
			ReconnectDelay: reconnect,
			ReadTimeout:    read,
			WriteTimeout:   write,
		})
	case "serial":
		return channel.NewSerialChannel(channel.SerialChannelConfig{
			Port:        cfg.Serial.Port,
			BaudRate:    cfg.Serial.BaudRate,
			Bitrate:     cfg.Serial.Bitrate,
			ListenOnly:  cfg.Serial.ListenOnly,
			ReadTimeout: read,
		})
	default:
		return nil, fmt.Errorf("unsupported channel kind %q", cfg.Kind)
	}
}

// NewFromConfig creates a node on physical from a loaded configuration.
// When tracing is enabled the trace file is created here and closed by
// Stop.
func NewFromConfig(cfg *config.Config, physical channel.PhysicalChannel, callbacks Callbacks) (*Stack, error) {
	engine, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}

	opts := Options{
		Name:      cfg.NodeName,
		Engine:    engine,
		Routes:    cfg.CanIfRoutes(),
		FD:        cfg.Channel.FD,
		BRS:       cfg.Channel.BRS,
		QueueSize: cfg.Channel.QueueSize,
		Tags:      cfg.Log.Tags,
	}

	var rec *trace.Recorder
	if cfg.Trace.Enable {
		if rec, err = trace.Create(cfg.Trace.Path); err != nil {
			return nil, err
		}
		opts.Trace = rec
	}

	s, err := New(opts, physical, callbacks)
	if err != nil {
		if rec != nil {
			rec.Close()
		}
		return nil, err
	}
	s.ownedTrace = rec
	return s, nil
}
