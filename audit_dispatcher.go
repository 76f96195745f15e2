package accountguard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// sinkDeliveryTimeout bounds a single AuditSink.Emit call made by the
// dispatcher goroutine.
const sinkDeliveryTimeout = 5 * time.Second

// auditDispatcher hands security events to the AuditSink on one goroutine
// so a slow Kafka broker or disk never holds up a login. The event log
// append has already happened by the time an event gets here.
type auditDispatcher struct {
	sink       AuditSink
	logger     *zap.Logger
	dropIfFull bool

	queue    chan SecurityEvent
	stop     chan struct{}
	wg       sync.WaitGroup
	dropped  atomic.Uint64
	stopped  atomic.Bool
	stopOnce sync.Once
}

// newAuditDispatcher returns nil when fan-out is off; a nil dispatcher is
// safe to use.
func newAuditDispatcher(cfg AuditConfig, sink AuditSink, logger *zap.Logger) *auditDispatcher {
	if !cfg.Enabled || sink == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 1
	}

	d := &auditDispatcher{
		sink:       sink,
		logger:     logger.Named("audit"),
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan SecurityEvent, size),
		stop:       make(chan struct{}),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

func (d *auditDispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

func (d *auditDispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		default:
			return
		}
	}
}

// deliver isolates the loop from a misbehaving sink.
func (d *auditDispatcher) deliver(ev SecurityEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("audit sink panicked",
				zap.Any("panic", r),
				zap.String("event_id", ev.ID),
				zap.String("kind", string(ev.Kind)))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), sinkDeliveryTimeout)
	defer cancel()
	d.sink.Emit(ctx, ev)
}

// Emit queues ev. With DropIfFull a full queue drops the event; otherwise
// Emit waits for room, ctx or Close.
func (d *auditDispatcher) Emit(ctx context.Context, ev SecurityEvent) {
	if d == nil || d.stopped.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFull {
		select {
		case d.queue <- ev:
		case <-d.stop:
		default:
			d.recordDrop(ev)
		}
		return
	}

	select {
	case d.queue <- ev:
	case <-ctx.Done():
		d.recordDrop(ev)
	case <-d.stop:
	}
}

// recordDrop logs the first drop and then every power of two so a stuck
// sink does not flood the log.
func (d *auditDispatcher) recordDrop(ev SecurityEvent) {
	n := d.dropped.Add(1)
	if n&(n-1) == 0 {
		d.logger.Warn("audit event dropped",
			zap.Uint64("dropped_total", n),
			zap.String("kind", string(ev.Kind)))
	}
}

func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.stopped.Store(true)
		close(d.stop)
		d.wg.Wait()
	})
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
