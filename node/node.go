// Package node wires a StreamLog backend, the consistency store, the commit
// bus and projection checkpoint managers from a config.Config.
package node

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/terraskye/eventlog"
	"github.com/terraskye/eventlog/checkpoint"
	"github.com/terraskye/eventlog/config"
	"github.com/terraskye/eventlog/consistency"
	"github.com/terraskye/eventlog/eventbus/memory"
	"github.com/terraskye/eventlog/logging"
	"github.com/terraskye/eventlog/otel"
	badgerlog "github.com/terraskye/eventlog/streamlog/badger"
	memlog "github.com/terraskye/eventlog/streamlog/memory"
)

type options struct {
	logger    *logrus.Entry
	telemetry []otel.Option
	traced    bool
}

type Option func(*options)

// WithLogger sets the base logger. The caller keeps control of its level;
// the config log level only applies to the logger Open creates.
func WithLogger(logger *logrus.Entry) Option {
	return func(o *options) { o.logger = logger }
}

// WithTelemetry wraps the client with otel spans and metrics.
func WithTelemetry(opts ...otel.Option) Option {
	return func(o *options) {
		o.traced = true
		o.telemetry = opts
	}
}

// Node is a single event log node.
type Node struct {
	cfg    config.Config
	logger *logrus.Entry
	store  *consistency.Store
	client eventlog.Client
	bus    *memory.EventBus

	mu       sync.Mutex
	managers map[string]*checkpoint.Manager
	closed   bool
}

// Open validates cfg and starts a node.
func Open(cfg config.Config, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		l := logrus.New()
		l.SetLevel(cfg.Level())
		o.logger = logrus.NewEntry(l)
	}

	log, err := openLog(cfg.Storage, o.logger)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:      cfg,
		logger:   o.logger,
		managers: make(map[string]*checkpoint.Manager),
	}
	storeOpts := []consistency.Option{
		consistency.WithLogger(o.logger.WithField("component", "store")),
		consistency.WithRetryPolicy(cfg.RetryPolicy()),
	}
	if cfg.Bus.Enabled {
		n.bus = memory.NewEventBus(cfg.Bus.BufferSize)
		storeOpts = append(storeOpts, consistency.WithPublisher(n.bus))
	}
	n.store = consistency.NewStore(log, storeOpts...)

	var client eventlog.Client = logging.WithClientLogging(o.logger.WithField("component", "client"), n.store)
	if o.traced {
		client = otel.WithClientTelemetry(client, o.telemetry...)
	}
	n.client = client

	o.logger.WithFields(logrus.Fields{
		"backend": cfg.Storage.Backend,
		"bus":     cfg.Bus.Enabled,
	}).Info("event log node opened")
	return n, nil
}

func openLog(cfg config.Storage, logger *logrus.Entry) (eventlog.StreamLog, error) {
	switch cfg.Backend {
	case config.BackendBadger:
		l, err := badgerlog.Open(badgerlog.Options{
			Dir:        cfg.Dir,
			SyncWrites: cfg.SyncWrites,
			Logger:     logger.WithField("component", "badger"),
		})
		if err != nil {
			return nil, fmt.Errorf("open badger log in %q: %w", cfg.Dir, err)
		}
		return l, nil
	default:
		return memlog.NewLog(), nil
	}
}

// Client returns the node's client.
func (n *Node) Client() eventlog.Client { return n.client }

// Bus returns the commit bus, nil when the bus is disabled.
func (n *Node) Bus() *memory.EventBus { return n.bus }

// Projection returns a new checkpoint manager for the projection name
// reading streams. A node holds one manager per projection; a stopped or
// faulted manager is replaced.
func (n *Node) Projection(name string, streams ...string) (*checkpoint.Manager, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, eventlog.ErrClosed
	}
	if m, ok := n.managers[name]; ok && m.State() != checkpoint.StateStopped {
		return nil, fmt.Errorf("projection %q already running", name)
	}
	m := checkpoint.NewManager(n.client, name, streams,
		checkpoint.WithLogger(n.logger.WithField("component", "checkpoint")),
		checkpoint.WithMaxBatchSize(n.cfg.Checkpoint.MaxBatchSize),
		checkpoint.WithPageSize(n.cfg.Checkpoint.PageSize),
	)
	n.managers[name] = m
	return m, nil
}

// Close stops every checkpoint manager, then the bus and the store.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	managers := n.managers
	n.managers = nil
	n.mu.Unlock()

	for _, m := range managers {
		m.Stop()
	}
	var errs []error
	if n.bus != nil {
		errs = append(errs, n.bus.Close())
	}
	errs = append(errs, n.client.Close())
	return errors.Join(errs...)
}
