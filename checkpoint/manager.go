// Package checkpoint records the order in which a multi-stream consumer
// processes events from several source streams.
//
// The order is materialized as link events in the consumer's order-stream,
// which is the only durable record of it. A checkpoint stream records the
// checkpoints the consumer acknowledged, so recovery knows which recorded
// links still have to be replayed.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/terraskye/eventlog"
)

const (
	DefaultMaxBatchSize = 500
	DefaultPageSize     = 100
)

var (
	ErrNotInitialized = errors.New("checkpoint manager not initialized")
	ErrNotLoaded      = errors.New("checkpoint manager state not loaded")
	ErrInvalidState   = errors.New("invalid checkpoint manager state")
	ErrNotRunning     = errors.New("checkpoint manager not running")
	ErrStopped        = errors.New("checkpoint manager stopped")
	// ErrTagStreams is returned for tags that do not track exactly the
	// manager's source streams.
	ErrTagStreams = errors.New("checkpoint tag streams do not match")
	// ErrTagNotAdvancing is returned when a recorded tag is not strictly
	// after the working tag.
	ErrTagNotAdvancing = errors.New("checkpoint tag does not advance")
	// ErrTagNotCovering is returned when a tag does not include the
	// position of the event recorded with it.
	ErrTagNotCovering = errors.New("checkpoint tag does not cover event")
	// ErrCheckpointAhead is returned when a checkpoint is requested for a
	// tag whose order is not yet committed.
	ErrCheckpointAhead = errors.New("checkpoint ahead of committed order")
)

// Client is the part of eventlog.Client the manager writes and reads with.
type Client interface {
	AppendToStream(ctx context.Context, stream string, expected eventlog.StreamState, events ...eventlog.EventData) (eventlog.WriteResult, error)
	ReadStreamBackward(ctx context.Context, stream string, start int64, count int) (eventlog.StreamSlice, error)
}

// State is the lifecycle state of a Manager.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "Unloaded"
	case StateLoading:
		return "Loading"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

type options struct {
	logger   *logrus.Entry
	maxBatch int
	pageSize int
}

type Option func(*options)

func WithLogger(logger *logrus.Entry) Option {
	return func(o *options) { o.logger = logger }
}

// WithMaxBatchSize bounds the number of links written in one append.
func WithMaxBatchSize(n int) Option {
	return func(o *options) { o.maxBatch = n }
}

// WithPageSize sets the page size used to scan the order-stream on load.
func WithPageSize(n int) Option {
	return func(o *options) { o.pageSize = n }
}

// Manager merges the positions of several source streams into one
// checkpoint tag and records the merge order in an order-stream.
//
// A Manager has a single owner: RecordEventOrder must be called from one
// processing loop, in the order the events are processed. Callbacks passed
// to RecordEventOrder run on another goroutine and may call it again.
type Manager struct {
	client   Client
	name     string
	streams  []string
	pageSize int
	logger   *logrus.Entry
	writer   *OrderWriter

	mu          sync.Mutex
	initialized bool
	loaded      bool
	state       State
	working     eventlog.CheckpointTag
	err         error

	loadedCh chan LoadResult
	faulted  chan struct{}

	// checkpointMu serializes checkpoint writes.
	checkpointMu      sync.Mutex
	checkpointVersion int64
	checkpointTag     eventlog.CheckpointTag
}

// NewManager returns the checkpoint manager of the projection name reading
// streams.
func NewManager(client Client, name string, streams []string, opts ...Option) *Manager {
	o := options{
		logger:   logrus.NewEntry(logrus.StandardLogger()),
		maxBatch: DefaultMaxBatchSize,
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.pageSize <= 0 {
		o.pageSize = DefaultPageSize
	}

	m := &Manager{
		client:            client,
		name:              name,
		streams:           append([]string(nil), streams...),
		pageSize:          o.pageSize,
		logger:            o.logger.WithField("projection", name),
		loadedCh:          make(chan LoadResult, 1),
		faulted:           make(chan struct{}),
		checkpointVersion: -1,
	}
	m.writer = NewOrderWriter(client, eventlog.OrderStreamName(name), o.maxBatch, m.logger, m.fault)
	return m
}

// Name returns the projection name.
func (m *Manager) Name() string { return m.name }

// Initialize prepares the manager for loading. It is idempotent.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateStopped {
		return ErrStopped
	}
	m.initialized = true
	return nil
}

// BeginLoadState starts recovering the manager's state and returns
// immediately. The result is delivered once on Loaded. A failed load faults
// the manager.
func (m *Manager) BeginLoadState(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case !m.initialized:
		return ErrNotInitialized
	case m.state != StateUnloaded:
		return fmt.Errorf("begin load in state %s: %w", m.state, ErrInvalidState)
	}
	m.state = StateLoading

	go m.load(ctx)
	return nil
}

func (m *Manager) load(ctx context.Context) {
	res, err := load(ctx, m.client, m.name, m.pageSize)
	if err != nil {
		res.Err = err
		m.logger.WithError(err).Error("load checkpoint state")
		m.fault(err)
		m.loadedCh <- res
		return
	}

	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		res.Err = ErrStopped
		m.loadedCh <- res
		return
	}
	m.loaded = true
	m.mu.Unlock()

	m.checkpointMu.Lock()
	m.checkpointVersion = res.CheckpointVersion
	m.checkpointTag = res.CheckpointTag
	m.checkpointMu.Unlock()

	m.writer.Start(res.OrderStreamVersion, res.OrderTag)
	m.logger.WithFields(logrus.Fields{
		"checkpoint": res.CheckpointTag.String(),
		"order_tag":  res.OrderTag.String(),
		"pending":    len(res.Pending),
	}).Info("checkpoint state loaded")
	m.loadedCh <- res
}

// Loaded delivers the result of BeginLoadState.
func (m *Manager) Loaded() <-chan LoadResult {
	return m.loadedCh
}

// Start sets the working checkpoint tag and starts accepting events. tag
// must track exactly the manager's source streams; InitialTag positions
// every stream before its first event.
func (m *Manager) Start(tag eventlog.CheckpointTag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	switch {
	case m.state == StateStopped:
		return ErrStopped
	case m.state != StateLoading:
		return fmt.Errorf("start in state %s: %w", m.state, ErrInvalidState)
	case !m.loaded:
		return ErrNotLoaded
	}
	if !tag.SameStreams(eventlog.InitialTag(m.streams...)) {
		return fmt.Errorf("start at %s: %w", tag, ErrTagStreams)
	}
	m.working = tag
	m.state = StateRunning
	m.logger.WithField("tag", tag.String()).Debug("checkpoint manager started")
	return nil
}

// RecordEventOrder records that ev was processed and brought the consumer
// to tag. onCommitted runs once the link is durably committed, in the order
// the calls were made. It never runs if the write fails or the manager is
// stopped first.
func (m *Manager) RecordEventOrder(ev eventlog.ResolvedEvent, tag eventlog.CheckpointTag, onCommitted func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.state != StateRunning {
		return ErrNotRunning
	}
	if !tag.SameStreams(m.working) {
		return fmt.Errorf("record %s: %w", tag, ErrTagStreams)
	}
	if tag.Compare(m.working) != eventlog.After {
		return fmt.Errorf("record %s after %s: %w", tag, m.working, ErrTagNotAdvancing)
	}
	if !tag.Covers(ev.PositionStreamID, ev.PositionEventNumber) {
		return fmt.Errorf("record %d@%s with %s: %w", ev.PositionEventNumber, ev.PositionStreamID, tag, ErrTagNotCovering)
	}

	if err := m.writer.Enqueue(ev, tag, onCommitted); err != nil {
		return err
	}
	m.working = tag
	return nil
}

// RequestCheckpoint durably acknowledges tag in the checkpoint stream. The
// order up to tag must already be committed.
func (m *Manager) RequestCheckpoint(ctx context.Context, tag eventlog.CheckpointTag) error {
	m.mu.Lock()
	err, state := m.err, m.state
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if state != StateRunning {
		return ErrNotRunning
	}

	committed := m.writer.LastCommittedTag()
	switch tag.Compare(committed) {
	case eventlog.Before, eventlog.Equal:
	default:
		return fmt.Errorf("checkpoint %s, committed %s: %w", tag, committed, ErrCheckpointAhead)
	}

	data, err := json.Marshal(tag)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	m.checkpointMu.Lock()
	defer m.checkpointMu.Unlock()
	if tag.Compare(m.checkpointTag) == eventlog.Equal {
		return nil
	}
	var expected eventlog.StreamState = eventlog.NoStream{}
	if m.checkpointVersion >= 0 {
		expected = eventlog.Revision(m.checkpointVersion)
	}
	res, err := m.client.AppendToStream(ctx, eventlog.CheckpointStreamName(m.name), expected, eventlog.EventData{
		EventID:   uuid.New(),
		EventType: eventlog.EventTypeCheckpoint,
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("write checkpoint of %q: %w", m.name, err)
	}
	m.checkpointVersion = res.NextExpectedVersion
	m.checkpointTag = tag
	return nil
}

// Tag returns the working checkpoint tag, the tag of the last recorded event.
func (m *Manager) Tag() eventlog.CheckpointTag {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.working
}

// LastCommittedTag returns the tag of the last durably committed link.
func (m *Manager) LastCommittedTag() eventlog.CheckpointTag {
	return m.writer.LastCommittedTag()
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stop halts the manager. Links that were not committed are dropped and
// their callbacks never run. Stop waits for a running callback unless it is
// called from one. Restart by loading the state again in a new Manager.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.state = StateStopped
	m.mu.Unlock()
	m.writer.Stop()
}

// Err returns the fault that stopped the manager, if any.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Faulted is closed when the manager stops on a fault.
func (m *Manager) Faulted() <-chan struct{} {
	return m.faulted
}

func (m *Manager) fault(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return
	}
	m.err = err
	m.state = StateStopped
	close(m.faulted)
}
