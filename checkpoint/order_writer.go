package checkpoint

import (
	"bytes"
	"context"
	"runtime"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/terraskye/eventlog"
)

type orderItem struct {
	stream      string
	eventNumber int64
	link        eventlog.EventData
	tag         eventlog.CheckpointTag
	onCommitted func()
}

// OrderWriter appends link events to one order-stream.
//
// At most one write is in flight. Links enqueued while a write is
// outstanding are coalesced into the next write, up to the batch size.
// Links are written in the order they were enqueued and their callbacks run
// in that same order, on a goroutine of their own, once the write holding
// them has committed.
type OrderWriter struct {
	client   Client
	stream   string
	maxBatch int
	logger   *logrus.Entry
	onFault  func(error)

	mu      sync.Mutex
	queue   []orderItem
	version int64
	covered eventlog.CheckpointTag
	last    eventlog.CheckpointTag
	started bool
	err     error

	wake     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	notifier *notifier
}

// NewOrderWriter returns a writer for stream. onFault, when set, is called
// once with the fault that stopped the writer, after the writer goroutine has
// finished, so it may call Stop.
func NewOrderWriter(client Client, stream string, maxBatch int, logger *logrus.Entry, onFault func(error)) *OrderWriter {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatchSize
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &OrderWriter{
		client:   client,
		stream:   stream,
		maxBatch: maxBatch,
		logger:   logger.WithField("order_stream", stream),
		onFault:  onFault,
		version:  -1,
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		notifier: newNotifier(),
	}
}

// Start begins writing after the order-stream's last event number version.
// Enqueued links whose position is covered by the recovered tag are already
// in the order-stream: they are not written again but their callbacks still
// run in order.
func (w *OrderWriter) Start(version int64, recovered eventlog.CheckpointTag) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.ctx.Err() != nil {
		return
	}
	w.started = true
	w.version = version
	w.covered = recovered
	w.last = recovered
	go w.notifier.run()
	go w.run()
}

// Enqueue queues a link to ev, recorded as reaching tag.
func (w *OrderWriter) Enqueue(ev eventlog.ResolvedEvent, tag eventlog.CheckpointTag, onCommitted func()) error {
	link, err := newLinkEvent(ev, tag)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	if w.ctx.Err() != nil {
		return ErrStopped
	}
	w.queue = append(w.queue, orderItem{
		stream:      ev.PositionStreamID,
		eventNumber: ev.PositionEventNumber,
		link:        link,
		tag:         tag,
		onCommitted: onCommitted,
	})
	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// nextBatch waits for queued links and takes up to maxBatch of them. It
// returns nil once the writer is stopped.
func (w *OrderWriter) nextBatch() []orderItem {
	for {
		w.mu.Lock()
		if w.ctx.Err() != nil {
			w.mu.Unlock()
			return nil
		}
		if n := min(len(w.queue), w.maxBatch); n > 0 {
			batch := w.queue[:n:n]
			w.queue = w.queue[n:]
			w.mu.Unlock()
			return batch
		}
		w.mu.Unlock()

		select {
		case <-w.wake:
		case <-w.ctx.Done():
			return nil
		}
	}
}

func (w *OrderWriter) run() {
	var fault error
	defer func() {
		close(w.done)
		if fault != nil && w.onFault != nil {
			w.onFault(fault)
		}
	}()
	for {
		batch := w.nextBatch()
		if batch == nil {
			return
		}

		w.mu.Lock()
		covered, version := w.covered, w.version
		w.mu.Unlock()

		events := make([]eventlog.EventData, 0, len(batch))
		for _, item := range batch {
			if !covered.Covers(item.stream, item.eventNumber) {
				events = append(events, item.link)
			}
		}
		if skipped := len(batch) - len(events); skipped > 0 {
			eventlog.LinksSkipped.Add(w.ctx, int64(skipped), metric.WithAttributes(attribute.String("order_stream", w.stream)))
		}

		if len(events) > 0 {
			var expected eventlog.StreamState = eventlog.NoStream{}
			if version >= 0 {
				expected = eventlog.Revision(version)
			}
			res, err := w.client.AppendToStream(w.ctx, w.stream, expected, events...)
			if err != nil {
				if w.ctx.Err() != nil {
					return
				}
				fault = w.fail(err)
				return
			}
			version = res.NextExpectedVersion
			attrs := metric.WithAttributes(attribute.String("order_stream", w.stream))
			eventlog.LinksWritten.Add(w.ctx, int64(len(events)), attrs)
			eventlog.OrderBatchSize.Record(w.ctx, int64(len(events)), attrs)
		}

		callbacks := make([]func(), 0, len(batch))
		for _, item := range batch {
			if item.onCommitted != nil {
				callbacks = append(callbacks, item.onCommitted)
			}
		}

		w.mu.Lock()
		w.version = version
		w.last = batch[len(batch)-1].tag
		w.mu.Unlock()
		w.notifier.push(callbacks...)
	}
}

func (w *OrderWriter) fail(err error) error {
	fault := &eventlog.OrderStreamWriteError{Stream: w.stream, Err: err}

	w.mu.Lock()
	w.err = fault
	w.queue = nil
	w.mu.Unlock()

	// A callback may be waiting on done, so a fault only halts the notifier.
	w.notifier.halt()
	w.cancel()
	eventlog.OrderStreamFaults.Add(context.Background(), 1, metric.WithAttributes(attribute.String("order_stream", w.stream)))
	w.logger.WithError(err).Error("order-stream write failed, stopping")
	return fault
}

// Stop halts the writer. No callback runs after Stop returns, and links that
// were not committed never have their callbacks run. Stop waits for an
// in-flight write and a running callback to return. It may be called from a
// callback, in which case only that callback is still running when Stop
// returns.
func (w *OrderWriter) Stop() {
	w.notifier.stop()
	w.cancel()

	w.mu.Lock()
	started := w.started
	w.queue = nil
	w.mu.Unlock()
	if started {
		<-w.done
	}
}

// Err returns the fault that stopped the writer, if any.
func (w *OrderWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Version returns the last event number of the order-stream written or
// recovered by this writer.
func (w *OrderWriter) Version() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.version
}

// LastCommittedTag returns the tag of the last committed link.
func (w *OrderWriter) LastCommittedTag() eventlog.CheckpointTag {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Pending returns the number of links queued and not yet taken by a write.
func (w *OrderWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// notifier runs commit callbacks in order on its own goroutine, so a
// callback may enqueue further links.
type notifier struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	gid     uint64
	// running is held while a callback runs so stop can wait for it.
	running sync.Mutex
	wake    chan struct{}
	quit    chan struct{}
	once    sync.Once
}

func newNotifier() *notifier {
	return &notifier{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
}

func (n *notifier) push(fns ...func()) {
	if len(fns) == 0 {
		return
	}
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, fns...)
	n.mu.Unlock()
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) next() (func(), bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped || len(n.queue) == 0 {
		return nil, false
	}
	fn := n.queue[0]
	n.queue = n.queue[1:]
	return fn, true
}

func (n *notifier) run() {
	n.mu.Lock()
	n.gid = goroutineID()
	n.mu.Unlock()

	for {
		select {
		case <-n.wake:
		case <-n.quit:
			return
		}
		for n.runNext() {
		}
	}
}

// runNext takes the next callback while holding running, so a callback is
// either never started or finished once stop has taken running.
func (n *notifier) runNext() bool {
	n.running.Lock()
	defer n.running.Unlock()
	fn, ok := n.next()
	if !ok {
		return false
	}
	fn()
	return true
}

// halt drops queued callbacks and ends the notifier without waiting for a
// running callback.
func (n *notifier) halt() {
	n.once.Do(func() {
		n.mu.Lock()
		n.stopped = true
		n.queue = nil
		n.mu.Unlock()
		close(n.quit)
	})
}

// stop halts the notifier and waits for a running callback, unless it is
// called from that callback.
func (n *notifier) stop() {
	n.halt()

	n.mu.Lock()
	self := n.gid != 0 && n.gid == goroutineID()
	n.mu.Unlock()
	if self {
		return
	}
	n.running.Lock()
	n.running.Unlock()
}

// goroutineID parses the id of the calling goroutine from its stack header.
func goroutineID() uint64 {
	var buf [64]byte
	b := bytes.TrimPrefix(buf[:runtime.Stack(buf[:], false)], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
