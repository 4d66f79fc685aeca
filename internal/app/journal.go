package app

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"pushgw/internal/eventbus"
	"pushgw/internal/gateway"
	"pushgw/internal/storage"
	logx "pushgw/pkg/logx"
)

// journal appends gateway activity to the delivery store.
type journal struct {
	store storage.Store
	log   logx.Logger

	// Failed writes are logged at most once per interval so a broken disk
	// does not flood the log.
	failLog rate.Sometimes
}

func newJournal(store storage.Store, log logx.Logger) *journal {
	return &journal{
		store:   store,
		log:     log,
		failLog: rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
}

func (j *journal) run(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe("gateway.", 1024)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			rec, ok := recordOf(ev)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := j.store.Append(wctx, rec)
			cancel()
			if err != nil && ctx.Err() == nil {
				j.failLog.Do(func() {
					j.log.Warn("journal append failed", logx.String("kind", rec.Kind), logx.Err(err))
				})
			}
		}
	}
}

// recordOf maps a bus event to a journal row. Push acknowledgements are not
// journaled; the response that follows carries the outcome.
func recordOf(ev eventbus.Event) (storage.DeliveryRecord, bool) {
	a, ok := ev.Data.(gateway.Activity)
	if !ok || ev.Type == gateway.TopicPushSent {
		return storage.DeliveryRecord{}, false
	}
	at := a.At
	if at.IsZero() {
		at = ev.Time
	}
	return storage.DeliveryRecord{
		At:         at,
		Kind:       ev.Type,
		Connection: a.Connection,
		Session:    a.Session,
		StreamID:   uint32(a.StreamID),
		DeviceID:   a.DeviceID,
		Status:     a.Status,
		Reason:     a.Reason,
		APNsID:     a.APNsID,
		Attempt:    a.Attempt,
		DelayMS:    a.Delay.Milliseconds(),
		Error:      a.Error,
	}, true
}
