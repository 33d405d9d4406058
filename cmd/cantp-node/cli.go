package main

import (
	"flag"
	"time"
)

// Options holds CLI options for the node
type Options struct {
	ConfigPath string
	PduID      uint
	Send       string        // Hex payload to send
	Interval   time.Duration // Resend period, 0 sends once
	Echo       bool          // Answer every received message with its payload
	Duration   time.Duration // Exit after this long, 0 runs until interrupted
}

// ParseFlags parses CLI flags from args and returns Options
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("cantp-node", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.UintVar(&opts.PduID, "pdu", 1, "PDU ID to send on")
	fs.StringVar(&opts.Send, "send", "", "Hex payload to send, e.g. 22F190")
	fs.DurationVar(&opts.Interval, "interval", 0, "Resend period (0 = once)")
	fs.BoolVar(&opts.Echo, "echo", false, "Echo received messages back to the sender")
	fs.DurationVar(&opts.Duration, "duration", 0, "Exit after this duration (0 = until interrupted)")
	_ = fs.Parse(args)
	return opts
}
