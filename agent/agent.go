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

// Package agent wires the process together: configuration, logging, one
// HTTP source driver per configured listener, the shared record sink,
// and the admin HTTP server.
package agent

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/httpsyslog/ingestd/common"
	"github.com/httpsyslog/ingestd/confengine"
	"github.com/httpsyslog/ingestd/extractor"
	"github.com/httpsyslog/ingestd/internal/sigs"
	"github.com/httpsyslog/ingestd/logger"
	"github.com/httpsyslog/ingestd/pipeline"
	"github.com/httpsyslog/ingestd/protocol/phttp"
	"github.com/httpsyslog/ingestd/server"
)

// ExtractorKind selects which extractor.* constructor backs a source.
type ExtractorKind string

const (
	ExtractorSingleMessage ExtractorKind = "single-message"
	ExtractorNewlineSplit  ExtractorKind = "newline-split"
	ExtractorJSONArray     ExtractorKind = "json-array"
)

// TLSConfig names the certificate/key pair a "tls" transport source
// terminates connections with.
type TLSConfig struct {
	CertFile string `config:"cert-file"`
	KeyFile  string `config:"key-file"`
}

// SourceConfig configures one HTTP ingestion listener.
type SourceConfig struct {
	Name                   string              `config:"name"`
	Address                string              `config:"address"`
	MaxConnections         int                 `config:"max-connections"`
	ListenBacklog          int                 `config:"listen-backlog"`
	KeepAliveAcrossReloads bool                `config:"keep-alive-across-reloads"`
	InitWindowSize         int                 `config:"init-window-size"`
	BufferCapacity         int                 `config:"buffer-capacity"`
	PollTimeout            time.Duration       `config:"poll-timeout"`
	Transport              phttp.TransportKind `config:"transport"`
	TLS                    *TLSConfig          `config:"tls"`
	SocketOptions          phttp.SocketOptions `config:"socket-options"`
	Extractor              ExtractorKind       `config:"extractor"`
}

func (c SourceConfig) validate() error {
	if c.Transport == phttp.TransportTLS && c.TLS == nil {
		return errors.Errorf("source[%s]: transport is tls but no tls block is configured", c.Name)
	}
	if c.Transport != phttp.TransportTLS && c.TLS != nil {
		return errors.Errorf("source[%s]: tls block configured but transport is %q, not tls", c.Name, c.Transport)
	}
	return nil
}

func (c SourceConfig) buildTLSConfig() (*tls.Config, error) {
	if c.TLS == nil {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.TLS.CertFile, c.TLS.KeyFile)
	if err != nil {
		return nil, errors.Wrapf(err, "source[%s]: failed to load TLS certificate", c.Name)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

func (c SourceConfig) extractLogMessages() phttp.ExtractLogMessagesFunc {
	switch c.Extractor {
	case ExtractorNewlineSplit:
		return extractor.NewlineSplit(c.Name)
	case ExtractorJSONArray:
		return extractor.JSONArray(c.Name)
	default:
		return extractor.SingleMessage(c.Name)
	}
}

// Config is the top-level agent configuration, unpacked from the
// "agent" section of the process configuration file.
type Config struct {
	Sources  []SourceConfig  `config:"sources"`
	Pipeline pipeline.Config `config:"pipeline"`
}

// Agent is the process-level orchestrator: it owns the record sink, the
// admin HTTP server, and one Driver per configured source, and is the
// Go counterpart of the teacher's Controller.
type Agent struct {
	ctx    context.Context
	cancel context.CancelFunc

	buildInfo common.BuildInfo
	registry  *phttp.PersistRegistry

	sink    *pipeline.Sink
	svr     *server.Server
	drivers []*phttp.Driver
}

func setupLogger(conf *confengine.Config) error {
	var opts logger.Options
	if err := conf.UnpackChildOrDefault("logger", &opts); err != nil {
		return err
	}

	if opts.Filename == "" {
		opts.Stdout = true
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 10
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 7
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 100
	}

	logger.SetOptions(opts)
	return nil
}

// ackResponse is the default CreateResponseFunc: every completed
// request, regardless of what (if anything) was extracted from it, is
// answered with a small JSON acknowledgement.
func ackResponse(_ *phttp.Request) *phttp.Response {
	resp := phttp.NewResponse(phttp.StatusOK)
	resp.Headers.Add("Content-Type", "application/json")
	resp.Body = []byte(`{"status":"ok"}`)
	return resp
}

func buildDriver(sc SourceConfig, registry *phttp.PersistRegistry, publish func(record any)) (*phttp.Driver, error) {
	if err := sc.validate(); err != nil {
		return nil, err
	}
	tlsConfig, err := sc.buildTLSConfig()
	if err != nil {
		return nil, err
	}

	dcfg := phttp.Config{
		Name:                   sc.Name,
		LocalAddress:           sc.Address,
		MaxConnections:         sc.MaxConnections,
		ListenBacklog:          sc.ListenBacklog,
		KeepAliveAcrossReloads: sc.KeepAliveAcrossReloads,
		InitWindowSize:         sc.InitWindowSize,
		BufferCapacity:         sc.BufferCapacity,
		PollTimeout:            sc.PollTimeout,
		Transport:              sc.Transport,
		TLSConfig:              tlsConfig,
		SocketOptions:          sc.SocketOptions,
		ExtractLogMessages:     sc.extractLogMessages(),
		CreateResponse:         ackResponse,
	}
	if dcfg.BufferCapacity <= 0 {
		dcfg.BufferCapacity = common.DefaultBufferCapacity
	}
	if dcfg.Transport == "" {
		dcfg.Transport = phttp.TransportTCP
	}

	return phttp.NewDriver(dcfg, registry, publish), nil
}

// New loads the agent configuration out of conf's "agent" section,
// builds the record sink, the admin server, and one Driver per
// configured source. Start must be called to actually begin accepting
// connections.
func New(conf *confengine.Config) (*Agent, error) {
	if err := setupLogger(conf); err != nil {
		return nil, err
	}

	var cfg Config
	if err := conf.UnpackChild("agent", &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Sources) == 0 {
		return nil, errors.New("agent: at least one source must be configured")
	}

	svr, err := server.New(conf)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		ctx:       ctx,
		cancel:    cancel,
		buildInfo: common.GetBuildInfo(),
		registry:  phttp.NewPersistRegistry(),
		sink:      pipeline.New(cfg.Pipeline),
		svr:       svr,
	}

	for _, sc := range cfg.Sources {
		d, err := buildDriver(sc, a.registry, a.publish)
		if err != nil {
			cancel()
			return nil, err
		}
		a.drivers = append(a.drivers, d)
	}

	return a, nil
}

func (a *Agent) publish(record any) {
	rec, ok := record.(pipeline.Record)
	if !ok {
		logger.Warnf("agent: dropping record of unexpected type %T", record)
		return
	}
	a.sink.Publish(rec)
}

// Start brings up the admin server (if enabled) and every configured
// source's driver.
func (a *Agent) Start() error {
	a.setupServer()

	for _, d := range a.drivers {
		if err := d.Init(a.ctx); err != nil {
			return errors.Wrap(err, "agent: failed to start source")
		}
	}

	if a.svr != nil {
		go func() {
			err := a.svr.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("failed to start admin server: %v", err)
			}
		}()
	}

	return nil
}

func (a *Agent) setupServer() {
	if a.svr == nil {
		return
	}

	a.svr.RegisterGetRoute("/metrics", func(w http.ResponseWriter, r *http.Request) {
		a.recordMetrics()
		promhttp.Handler().ServeHTTP(w, r)
	})
	a.svr.RegisterPostRoute("/-/logger", func(w http.ResponseWriter, r *http.Request) {
		logger.SetLoggerLevel(r.FormValue("level"))
		_, _ = w.Write([]byte(`{"status": "success"}`))
	})
	a.svr.RegisterPostRoute("/-/reload", func(w http.ResponseWriter, r *http.Request) {
		if err := sigs.SelfReload(); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(err.Error()))
		}
	})
}

// Reload re-reads logger options, then tears down and rebuilds every
// source's driver against the new configuration. A source with
// keep-alive-across-reloads enabled hands its listening socket and
// live connections to the registry during teardown and the rebuilt
// driver adopts them during Init, so well-behaved clients never see a
// connection reset across a reload (spec testable property 8).
func (a *Agent) Reload(conf *confengine.Config) error {
	if err := setupLogger(conf); err != nil {
		return err
	}

	var cfg Config
	if err := conf.UnpackChild("agent", &cfg); err != nil {
		return err
	}
	if len(cfg.Sources) == 0 {
		return errors.New("agent: at least one source must be configured")
	}

	next := make([]*phttp.Driver, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		d, err := buildDriver(sc, a.registry, a.publish)
		if err != nil {
			return err
		}
		next = append(next, d)
	}

	for _, d := range a.drivers {
		if err := d.Deinit(a.ctx); err != nil {
			logger.Errorf("agent: error tearing down source during reload: %v", err)
		}
	}
	a.cancel()

	a.ctx, a.cancel = context.WithCancel(context.Background())
	for _, d := range next {
		if err := d.Init(a.ctx); err != nil {
			return errors.Wrap(err, "agent: failed to start reloaded source")
		}
	}
	a.drivers = next

	return nil
}

// Stop tears down every source's driver and closes the record sink.
// Deinit runs before the context is cancelled so a keep-alive-across-
// reloads source still gets a consistent snapshot of its live
// connections (handed to a registry nothing will ever adopt again);
// everything else is closed outright through closeEverything, and the
// process exiting reclaims whatever descriptors that snapshot held.
func (a *Agent) Stop() {
	for _, d := range a.drivers {
		if err := d.Deinit(a.ctx); err != nil {
			logger.Errorf("agent: error stopping source: %v", err)
		}
	}
	a.cancel()
	a.sink.Close()
}
