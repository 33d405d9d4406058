package cantp

import (
	"testing"
	"time"
)

// TestConfig_Validate tests rejection of unusable configurations
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"Default", func(c *Config) {}, false},
		{"CAN FD 64", func(c *Config) { c.FrameSize = 64 }, false},
		{"Frame size 7", func(c *Config) { c.FrameSize = 7 }, true},
		{"Frame size 10", func(c *Config) { c.FrameSize = 10 }, true},
		{"Zero timeout", func(c *Config) { c.ConsecutiveFrameTicks = 0 }, true},
		{"Negative wait frames", func(c *Config) { c.MaxWaitFrames = -1 }, true},
		{"Zero buffer", func(c *Config) { c.BufferSize = 0 }, true},
		{"Buffer above pdu length", func(c *Config) { c.BufferSize = 70000 }, true},
		{"Zero tick", func(c *Config) { c.TickPeriod = 0 }, true},
		{"Zero wait retry", func(c *Config) { c.WaitRetryTicks = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestConfig_Ticks tests duration to tick conversion
func TestConfig_Ticks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickPeriod = 5 * time.Millisecond

	tests := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{100 * time.Microsecond, 1},
		{5 * time.Millisecond, 1},
		{6 * time.Millisecond, 2},
		{time.Second, 200},
	}

	for _, tt := range tests {
		if got := cfg.Ticks(tt.d); got != tt.want {
			t.Errorf("Ticks(%v) = %d, want %d", tt.d, got, tt.want)
		}
	}
}
