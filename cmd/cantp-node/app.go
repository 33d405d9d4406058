package main

import (
	"context"
	"encoding/hex"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"comstack/cantp-go/pkg/config"
	"comstack/cantp-go/pkg/stack"
	"comstack/cantp-go/pkg/types"
)

// run is the main entry point after CLI parsing
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	var payload []byte
	if opts.Send != "" {
		payload, err = hex.DecodeString(strings.ReplaceAll(opts.Send, " ", ""))
		if err != nil {
			_, _ = os.Stderr.WriteString("invalid -send payload: " + err.Error() + "\n")
			return 2
		}
	}

	zl := stack.SetupLogging(cfg.Log)
	defer func() { _ = zl.Sync() }()
	zap.ReplaceGlobals(zl)

	zap.L().Info("cantp-node starting", zap.String("node", cfg.NodeName),
		zap.String("channel", cfg.Channel.Kind), zap.String("address", cfg.Channel.Address))

	physical, err := stack.OpenPhysical(cfg.Channel)
	if err != nil {
		zap.L().Error("failed to open medium", zap.Error(err))
		return 1
	}

	var node *stack.Stack
	callbacks := stack.Callbacks{
		OnTxConfirmation: func(pduID types.PduID, result types.Result) {
			zap.L().Info("message sent", zap.Uint16("pdu", uint16(pduID)), zap.Stringer("result", result),
				zap.Stringer("code", result.Code()))
		},
		OnRxIndication: func(pduID types.PduID, data []byte, result types.Result) {
			if !types.IsSuccess(result) {
				zap.L().Warn("reception failed", zap.Uint16("pdu", uint16(pduID)), zap.Stringer("result", result))
				return
			}
			zap.L().Info("message received", zap.Uint16("pdu", uint16(pduID)),
				zap.Int("length", len(data)), zap.String("data", hex.EncodeToString(data)))
			if opts.Echo {
				if err := node.Send(pduID, data); err != nil {
					zap.L().Warn("echo failed", zap.Error(err))
				}
			}
		},
	}

	node, err = stack.NewFromConfig(cfg, physical, callbacks)
	if err != nil {
		physical.Close()
		zap.L().Error("failed to create node", zap.Error(err))
		return 1
	}
	if err := node.Start(); err != nil {
		physical.Close()
		zap.L().Error("failed to start node", zap.Error(err))
		return 1
	}
	defer func() {
		_ = node.Stop()
		stats := node.Statistics()
		zap.L().Info("cantp-node stopped",
			zap.Uint64("tx_messages", stats.Engine.TxMessages),
			zap.Uint64("rx_messages", stats.Engine.RxMessages),
			zap.Uint64("timeouts", stats.Engine.TimeoutErrors),
			zap.Uint64("frames_tx", stats.Channel.FramesTx),
			zap.Uint64("frames_rx", stats.Channel.FramesRx))
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	pduID := types.PduID(opts.PduID)
	send := func() {
		if err := node.SendContext(ctx, pduID, payload); err != nil {
			zap.L().Warn("send failed", zap.Uint16("pdu", uint16(pduID)), zap.Error(err))
		}
	}

	if payload != nil {
		send()
	}

	var resend <-chan time.Time
	if payload != nil && opts.Interval > 0 {
		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()
		resend = ticker.C
	}

	zap.L().Info("node is running; press Ctrl+C to exit")
	for {
		select {
		case <-ctx.Done():
			return 0
		case <-resend:
			send()
		}
	}
}
