package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"pushgw/internal/gateway"
	logx "pushgw/pkg/logx"
)

// reporter periodically logs the state of every connection.
type reporter struct {
	reg *gateway.Registry
	log logx.Logger
	c   *cron.Cron
}

func newReporter(spec string, reg *gateway.Registry, log logx.Logger) (*reporter, error) {
	r := &reporter{reg: reg, log: log}
	r.c = cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := r.c.AddFunc(spec, r.report); err != nil {
		return nil, fmt.Errorf("reporter.spec: %w", err)
	}
	return r, nil
}

func (r *reporter) start() { r.c.Start() }

// stop waits for a running report to finish, bounded by ctx.
func (r *reporter) stop(ctx context.Context) {
	done := r.c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (r *reporter) report() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snaps := r.reg.Snapshots(ctx)
	up := 0
	for _, s := range snaps {
		if s.State == gateway.StateConnected {
			up++
		}
		r.log.Info("connection status",
			logx.String("connection", s.Name),
			logx.String("authority", s.Authority),
			logx.String("state", s.State.String()),
			logx.Int("attempt", s.Attempt),
			logx.String("session", s.Session),
			logx.Duration("for", time.Since(s.Since).Round(time.Second)),
		)
	}
	r.log.Info("status summary", logx.Int("connections", len(snaps)), logx.Int("up", up))
}
