package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/livewire/internal/connection"
	"github.com/rickgao/livewire/internal/frame"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one frame and optionally wait for its response",
	Long: `Connect, send a single frame and exit. With --await the frame carries a
correlation id and the response frame is printed as JSON.`,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().String("type", "", "frame type (required)")
	sendCmd.Flags().String("payload", "", "frame payload as JSON")
	sendCmd.Flags().Bool("await", false, "wait for the correlated response")
	sendCmd.Flags().Duration("timeout", 0, "request timeout (default channel.request_timeout)")
	sendCmd.Flags().Duration("connect-timeout", 30*time.Second, "how long to wait for the connection")
	sendCmd.MarkFlagRequired("type")
}

// buildOutbound validates the payload flag and builds the frame to send.
func buildOutbound(typ, payload string) (frame.Outbound, error) {
	out := frame.Outbound{Type: typ}
	if payload == "" {
		return out, nil
	}
	if !json.Valid([]byte(payload)) {
		return frame.Outbound{}, errors.New("payload is not valid JSON")
	}
	out.Payload = json.RawMessage(payload)
	return out, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	typ, _ := cmd.Flags().GetString("type")
	payload, _ := cmd.Flags().GetString("payload")
	await, _ := cmd.Flags().GetBool("await")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	connectTimeout, _ := cmd.Flags().GetDuration("connect-timeout")

	out, err := buildOutbound(typ, payload)
	if err != nil {
		return err
	}

	logger, err := setupLogger(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logStartup(logger, "send", cfg)

	ctx, cancel := signalContext(logger)
	defer cancel()

	m, err := newManager(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	connectCtx, connectCancel := context.WithTimeout(ctx, connectTimeout)
	err = waitConnected(connectCtx, m)
	connectCancel()
	if err != nil {
		return err
	}

	if !await {
		if _, err := m.Send(out, connection.SendOptions{}); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		logger.Info("frame sent", "type", typ)
		return nil
	}

	resp, err := m.Request(ctx, out, timeout)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}

	data, err := frame.Encode(resp)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
