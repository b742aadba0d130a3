// Copyright 2025 The ingestd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package phttp

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/httpsyslog/ingestd/common"
	"github.com/httpsyslog/ingestd/internal/fasttime"
	"github.com/httpsyslog/ingestd/internal/rescue"
	"github.com/httpsyslog/ingestd/logger"
)

// maxAcceptsAtATime bounds how many newly accepted connections may be
// in flight towards their own goroutine at once, the Go counterpart of
// the reference accept loop's own MAX_ACCEPTS_AT_A_TIME: a batch of
// ready connections shouldn't be allowed to starve the cap check and
// context-cancellation check between accepts.
const maxAcceptsAtATime = 30

// minIWSizePerReader is the smallest per-connection buffer the window
// sizing calculation below will ever produce, mirroring
// min_iw_size_per_reader in the reference reader-options setup.
const minIWSizePerReader = 1024

// Config configures one HTTPSourceDriver listener.
type Config struct {
	Name          string `config:"name"`
	LocalAddress  string `config:"address"`
	MaxConnections int   `config:"max-connections"`
	ListenBacklog int    `config:"listen-backlog"`
	KeepAliveAcrossReloads bool `config:"keep-alive-across-reloads"`
	InitWindowSize int    `config:"init-window-size"`
	BufferCapacity int    `config:"buffer-capacity"`
	PollTimeout    time.Duration `config:"poll-timeout"`

	Transport     TransportKind `config:"transport"`
	TLSConfig     *tls.Config
	SocketOptions SocketOptions `config:"socket-options"`

	ExtractLogMessages ExtractLogMessagesFunc
	CreateResponse     CreateResponseFunc
}

func (c Config) listenerPersistKey() string {
	return c.Name + ".listen_fd"
}

func (c Config) connectionsPersistKey() string {
	return c.Name + ".connections"
}

// windowSize divides InitWindowSize by MaxConnections and clamps the
// result up to minIWSizePerReader, matching http_sd_setup_reader_options's
// MAX(init_window_size / max_connections, min_iw_size_per_reader).
func (c Config) windowSize() int {
	if c.MaxConnections <= 0 {
		return minIWSizePerReader
	}
	size := c.InitWindowSize / c.MaxConnections
	if size < minIWSizePerReader {
		size = minIWSizePerReader
	}
	return size
}

// connection bundles one accepted socket with its protocol engine.
type connection struct {
	id        string
	raw       net.Conn
	transport Transport
	server    *Server
	openedAt  int64

	// handedOff is set by Deinit when the connection's raw fd has been
	// captured into the PersistRegistry for the next driver generation
	// to adopt; runConnection must then not close it out from under
	// that generation once its own context is cancelled.
	handedOff atomic.Bool
}

func newConnection(id string, raw net.Conn, cfg Config) *connection {
	t := NewConnTransport(raw, cfg.PollTimeout)
	s := NewServer(t, cfg.BufferCapacity)
	s.SetExtractLogMessages(cfg.ExtractLogMessages)
	s.SetCreateResponse(cfg.CreateResponse)
	return &connection{
		id:        id,
		raw:       raw,
		transport: t,
		server:    s,
		openedAt:  fasttime.UnixTimestamp(),
	}
}

// Driver accepts HTTP connections on a listening socket and drives each
// one through its own Server, the Go counterpart of HTTPSourceDriver.
// It supports carrying its listening socket and live connections across
// a configuration reload via a shared PersistRegistry.
type Driver struct {
	cfg      Config
	registry *PersistRegistry
	sink     func(record any)

	listener net.Listener

	mu          sync.Mutex
	connections map[string]*connection

	numConnections atomic.Int64
	wg             sync.WaitGroup

	accepted        prometheus.Counter
	rejected        prometheus.Counter
	active          prometheus.Gauge
	recordsDelivered prometheus.Counter
}

// NewDriver returns a Driver that will deliver extracted records to
// sink and persist listener/connection state in registry across
// reloads.
func NewDriver(cfg Config, registry *PersistRegistry, sink func(record any)) *Driver {
	// A driver rebuilt under the same name (reload, or a second Agent in
	// one process) reuses the collectors already registered for it.
	register := func(c prometheus.Collector) prometheus.Collector {
		if err := prometheus.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				return are.ExistingCollector
			}
		}
		return c
	}
	return &Driver{
		cfg:         cfg,
		registry:    registry,
		sink:        sink,
		connections: make(map[string]*connection),
		accepted: register(prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   common.App,
			Subsystem:   "http_source",
			Name:        "accepted_total",
			Help:        "HTTP connections accepted",
			ConstLabels: prometheus.Labels{"name": cfg.Name},
		})).(prometheus.Counter),
		rejected: register(prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   common.App,
			Subsystem:   "http_source",
			Name:        "rejected_total",
			Help:        "HTTP connections rejected for exceeding max-connections",
			ConstLabels: prometheus.Labels{"name": cfg.Name},
		})).(prometheus.Counter),
		active: register(prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   common.App,
			Subsystem:   "http_source",
			Name:        "active_connections",
			Help:        "currently open HTTP connections",
			ConstLabels: prometheus.Labels{"name": cfg.Name},
		})).(prometheus.Gauge),
		recordsDelivered: register(prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   common.App,
			Subsystem:   "http_source",
			Name:        "records_delivered_total",
			Help:        "log records extracted and handed upstream",
			ConstLabels: prometheus.Labels{"name": cfg.Name},
		})).(prometheus.Counter),
	}
}

// Init opens the listening socket (adopting a persisted one if
// present), restores any connections kept alive across a prior reload,
// and starts the accept loop. ctx governs the lifetime of every
// goroutine Init starts; cancelling it stops accepting and unwinds
// in-flight connections.
func (d *Driver) Init(ctx context.Context) error {
	if err := d.openListener(); err != nil {
		return errors.Wrapf(err, "http_source[%s]: failed to open listener", d.cfg.Name)
	}

	d.restoreKeptAliveConnections(ctx)

	d.wg.Add(1)
	go d.acceptLoop(ctx)

	return nil
}

func (d *Driver) openListener() error {
	if persisted, ok := d.registry.FetchListener(d.cfg.listenerPersistKey()); ok {
		logger.Infof("http_source[%s]: adopting listener persisted across reload", d.cfg.Name)
		d.listener = persisted.Listener
		return nil
	}

	lc := ListenConfig(d.cfg.SocketOptions)
	l, err := lc.Listen(context.Background(), "tcp", d.cfg.LocalAddress)
	if err != nil {
		return err
	}
	d.listener = l
	return nil
}

func (d *Driver) restoreKeptAliveConnections(ctx context.Context) {
	persisted := d.registry.FetchConnections(d.cfg.connectionsPersistKey())
	for _, pc := range persisted {
		c := newConnection(pc.ID, pc.Conn, d.cfg)
		d.addConnection(c)
		d.wg.Add(1)
		go func() {
			defer rescue.HandleCrash()
			d.runConnection(ctx, c)
		}()
	}
	if len(persisted) > 0 {
		logger.Infof("http_source[%s]: restored %d connections kept alive across reload", d.cfg.Name, len(persisted))
	}
}

func (d *Driver) acceptLoop(ctx context.Context) {
	defer d.wg.Done()

	sem := make(chan struct{}, maxAcceptsAtATime)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := d.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			logger.Errorf("http_source[%s]: accept failed: %v", d.cfg.Name, err)
			return
		}

		sem <- struct{}{}
		d.wg.Add(1)
		go func() {
			<-sem
			d.handleConnection(ctx, conn)
		}()
	}
}

func (d *Driver) handleConnection(ctx context.Context, raw net.Conn) {
	defer d.wg.Done()
	defer rescue.HandleCrash()

	if d.cfg.MaxConnections > 0 && d.numConnections.Load() >= int64(d.cfg.MaxConnections) {
		logger.Warnf("http_source[%s]: rejecting connection, at capacity (%d)", d.cfg.Name, d.cfg.MaxConnections)
		d.rejected.Inc()
		_ = raw.Close()
		return
	}

	if d.cfg.Transport == TransportTLS {
		raw = WrapTLS(raw, d.cfg.TLSConfig)
	}

	d.accepted.Inc()
	c := newConnection(uuid.New().String(), raw, d.cfg)
	d.addConnection(c)
	d.runConnection(ctx, c)
}

func (d *Driver) runConnection(ctx context.Context, c *connection) {
	defer d.removeConnection(c)
	defer c.server.Close()
	defer func() {
		if !c.handedOff.Load() {
			_ = c.raw.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.server.Prepare()
		record, status := c.server.Process()
		if record != nil {
			d.recordsDelivered.Inc()
			if d.sink != nil {
				d.sink(record)
			}
			continue
		}
		switch status {
		case StatusAgain:
			continue
		default: // StatusError, StatusEOF
			return
		}
	}
}

func (d *Driver) addConnection(c *connection) {
	d.mu.Lock()
	d.connections[c.id] = c
	d.mu.Unlock()
	d.numConnections.Add(1)
	d.active.Inc()
}

func (d *Driver) removeConnection(c *connection) {
	d.mu.Lock()
	delete(d.connections, c.id)
	d.mu.Unlock()
	d.numConnections.Add(-1)
	d.active.Dec()
}

// ActiveConnections returns the number of currently open connections.
func (d *Driver) ActiveConnections() int {
	return int(d.numConnections.Load())
}

// Name returns the configured name of the source this driver serves.
func (d *Driver) Name() string {
	return d.cfg.Name
}

// Deinit tears down the driver. If d.cfg.KeepAliveAcrossReloads is set,
// the listener and every live connection are handed to the registry for
// the next driver generation instead of being closed, and the accept
// loop keeps running until the ctx passed to Init is cancelled;
// otherwise the listener and every connection are closed and an
// aggregated error (if any connection failed to close cleanly) is
// returned, the same shape http_sd_save_connections/save_listener give
// the reference implementation's reload path.
func (d *Driver) Deinit(ctx context.Context) error {
	_ = ctx

	if !d.cfg.KeepAliveAcrossReloads {
		return d.closeEverything()
	}

	d.registry.SaveListener(d.cfg.listenerPersistKey(), d.listener)

	d.mu.Lock()
	persisted := make([]PersistedConnection, 0, len(d.connections))
	for id, c := range d.connections {
		c.handedOff.Store(true)
		persisted = append(persisted, PersistedConnection{ID: id, Conn: c.raw})
	}
	d.mu.Unlock()
	d.registry.SaveConnections(d.cfg.connectionsPersistKey(), persisted)

	return nil
}

func (d *Driver) closeEverything() error {
	var result *multierror.Error

	if d.listener != nil {
		if err := d.listener.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "closing listener"))
		}
	}

	d.mu.Lock()
	conns := make([]*connection, 0, len(d.connections))
	for _, c := range d.connections {
		conns = append(conns, c)
	}
	d.mu.Unlock()

	for _, c := range conns {
		if err := c.raw.Close(); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "closing connection %s", c.id))
		}
	}

	return result.ErrorOrNil()
}
