package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pushgw/internal/config"
	"pushgw/internal/gateway"
	"pushgw/internal/transport"
	"pushgw/internal/transport/h2"
	logx "pushgw/pkg/logx"
)

type pushFlags struct {
	conn       string
	device     string
	payload    string
	token      string
	id         string
	topic      string
	priority   string
	expiration string
	collapseID string
	timeout    time.Duration
	verbose    bool
}

func newPushCmd(cfgPath *string) *cobra.Command {
	var f pushFlags
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Send one notification and print the gateway response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.NewManager(*cfgPath).Load()
			if err != nil {
				return err
			}
			payload, err := readPayload(f.payload, cmd.InOrStdin())
			if err != nil {
				return err
			}
			log := logx.Nop()
			if f.verbose {
				log = logx.New(cmd.ErrOrStderr(), "debug")
			}
			return push(ctx, cfg, h2.New(h2.WithLogger(log)), log, f, payload, cmd.OutOrStdout())
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.conn, "conn", "", "connection name (optional when only one is configured)")
	fl.StringVar(&f.device, "device", "", "device id")
	fl.StringVar(&f.payload, "payload", "-", "payload JSON file, - for stdin")
	fl.StringVar(&f.token, "token", "", "provider token (token auth connections)")
	fl.StringVar(&f.id, "id", "", "apns-id (generated when empty)")
	fl.StringVar(&f.topic, "topic", "", "apns-topic")
	fl.StringVar(&f.priority, "priority", "", "apns-priority")
	fl.StringVar(&f.expiration, "expiration", "", "apns-expiration")
	fl.StringVar(&f.collapseID, "collapse-id", "", "apns-collapse-id")
	fl.DurationVar(&f.timeout, "timeout", 0, "response wait (default: connection timeout)")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "log transport activity to stderr")
	_ = cmd.MarkFlagRequired("device")
	return cmd
}

func readPayload(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func pickConnection(cfg *config.Config, name string) (gateway.Descriptor, error) {
	if name != "" {
		return cfg.Connection(name)
	}
	if len(cfg.Connections) != 1 {
		return gateway.Descriptor{}, errors.New("--conn is required when more than one connection is configured")
	}
	return cfg.Connections[0].Descriptor()
}

func (f pushFlags) headers() gateway.Headers {
	h := gateway.Headers{}
	set := func(k gateway.HeaderKey, v string) {
		if v = strings.TrimSpace(v); v != "" {
			h[k] = v
		}
	}
	set(gateway.HeaderID, f.id)
	set(gateway.HeaderTopic, f.topic)
	set(gateway.HeaderPriority, f.priority)
	set(gateway.HeaderExpiration, f.expiration)
	set(gateway.HeaderCollapseID, f.collapseID)
	return gateway.WithNotificationID(h)
}

func push(ctx context.Context, cfg *config.Config, ad transport.Adapter, log logx.Logger, f pushFlags, payload []byte, out io.Writer) error {
	d, err := pickConnection(cfg, f.conn)
	if err != nil {
		return err
	}
	topts, err := cfg.TransportOptions()
	if err != nil {
		return err
	}

	mb := gateway.NewMailbox()
	m, err := gateway.Start(ctx, d, mb, ad, gateway.WithLogger(log), gateway.WithTransportOptions(topts))
	if err != nil {
		return err
	}
	defer func() {
		m.Close()
		wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = m.Wait(wctx)
		cancel()
	}()

	h := f.headers()
	var id transport.StreamID
	if d.AuthMode() == gateway.AuthToken {
		id, err = m.RequestToken(ctx, f.token, f.device, payload, h)
	} else {
		id, err = m.Request(ctx, f.device, payload, h)
	}
	if err != nil {
		return err
	}

	msg, err := m.Await(ctx, mb, id, f.timeout)
	if err != nil {
		return err
	}
	if msg.Kind == gateway.MessageResponseFailed {
		return msg.Err
	}
	resp := msg.Response
	nid := resp.NotificationID()
	if nid == "" {
		nid, _ = h.Lookup(gateway.HeaderID)
	}
	fmt.Fprintf(out, "status=%d apns-id=%s", resp.Status, nid)
	if r := resp.Reason(); r != "" {
		fmt.Fprintf(out, " reason=%s", r)
	}
	fmt.Fprintln(out)
	if !resp.OK() {
		return fmt.Errorf("push refused: %d %s", resp.Status, resp.Reason())
	}
	return nil
}
