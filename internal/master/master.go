package master

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"yqhp/cherry/internal/config"
	"yqhp/cherry/internal/dictionary"
	"yqhp/cherry/internal/eventsink"
	"yqhp/cherry/internal/pipeline"
	"yqhp/cherry/internal/protocol"
	"yqhp/cherry/pkg/utils"
)

// State represents the state of the master node.
type State string

const (
	// StateStarting indicates the master is bootstrapping.
	StateStarting State = "starting"
	// StateRunning indicates the master is accepting workers.
	StateRunning State = "running"
	// StateStopped indicates the master has shut down.
	StateStopped State = "stopped"
)

// Status is a summary of the cluster for the operator.
type Status struct {
	State      State                  `json:"state"`
	Version    string                 `json:"version"`
	Nodes      int                    `json:"nodes"`
	MaxClients int                    `json:"max_clients"`
	TotalSpeed int64                  `json:"total_speed"`
	Secure     bool                   `json:"secure"`
	Async      bool                   `json:"async_allowed"`
	Dictionary *dictionary.Descriptor `json:"dictionary,omitempty"`
	Capture    int64                  `json:"capture_size"`
}

// Option configures a Master.
type Option func(*Master)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Master) { m.log = log }
}

// WithClock sets the clock used for delays, timeouts and the speed report.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Master) { m.clock = clock }
}

// WithSink adds an event sink.
func WithSink(sink eventsink.Sink) Option {
	return func(m *Master) { m.sinks = append(m.sinks, sink) }
}

// WithChecksummer overrides the checksummer built from the config.
func WithChecksummer(sum dictionary.Checksummer) Option {
	return func(m *Master) { m.checksummer = sum }
}

// WithListenHost sets the interface the listeners bind to, all by default.
func WithListenHost(host string) Option {
	return func(m *Master) { m.host = host }
}

// WithListeners makes Start serve on already opened listeners instead of
// binding the configured ports.
func WithListeners(join, file net.Listener) Option {
	return func(m *Master) {
		m.joinLn = join
		m.fileLn = file
	}
}

// Master is the coordinating node of a cluster.
type Master struct {
	cfg         *config.Config
	log         *zap.Logger
	clock       clockwork.Clock
	checksummer dictionary.Checksummer
	sinks       eventsink.Multi
	host        string

	registry   *NodeRegistry
	aggregator *Aggregator
	server     *Server
	files      *FileServer

	dictionary  *dictionary.Descriptor
	captureSize int64

	joinLn net.Listener
	fileLn net.Listener

	state    atomic.Value // State
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a master for cfg. Nothing is opened until Start.
func New(cfg *config.Config, opts ...Option) *Master {
	m := &Master{
		cfg:   cfg,
		log:   zap.NewNop(),
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.checksummer == nil {
		m.checksummer = dictionary.NewChecksummer(cfg.Master.ChecksumCommand)
	}
	m.sinks = append(eventsink.Multi{eventsink.LogSink{Log: m.log}}, m.sinks...)
	m.registry = NewNodeRegistry(cfg.Master.MaxClients)
	m.aggregator = NewAggregator(m.registry, m.clock, m.log)
	m.state.Store(StateStarting)
	return m
}

// Start runs the bootstrap pipeline: validate the configuration, describe the
// dictionary, check the capture file, open both listeners and start serving.
func (m *Master) Start(ctx context.Context) error {
	var failure error
	p := pipeline.New(
		pipeline.Func(m.validate),
		pipeline.Deferred(m.describeDictionary),
		pipeline.Deferred(m.statCapture),
		pipeline.Func(m.listen),
		pipeline.Func(m.serve),
	).OnError(func(err error, index int) {
		failure = err
	})

	if err := p.Run(ctx); err != nil {
		return err
	}
	if failure != nil {
		m.closeListeners()
		return failure
	}
	return nil
}

func (m *Master) validate(ctx context.Context, p *pipeline.Pipeline, s pipeline.Storage) error {
	v := config.NewValidator()
	if err := v.ValidateMaster(m.cfg); err != nil {
		return err
	}
	for _, w := range v.Warnings {
		m.log.Warn(w)
	}
	return p.Next()
}

func (m *Master) describeDictionary(ctx context.Context) (pipeline.Storage, error) {
	desc, err := dictionary.Describe(ctx, m.cfg.Master.Dictionary, m.checksummer)
	if err != nil {
		return nil, fmt.Errorf("dictionary: %w", err)
	}
	m.dictionary = desc
	m.log.Debug(fmt.Sprintf("Dictionary %s: %d bytes, checksum %s", desc.Path, desc.Size, desc.Checksum))
	return pipeline.Storage{"dictionary": desc}, nil
}

func (m *Master) statCapture(ctx context.Context) (pipeline.Storage, error) {
	size, err := dictionary.Stat(m.cfg.Master.CaptureFile)
	if err != nil {
		return nil, fmt.Errorf("capture file: %w", err)
	}
	m.captureSize = size
	return pipeline.Storage{"capture_size": size}, nil
}

func (m *Master) listen(ctx context.Context, p *pipeline.Pipeline, s pipeline.Storage) error {
	if m.joinLn != nil && m.fileLn != nil {
		return p.Next()
	}
	var lc net.ListenConfig

	joinLn, err := lc.Listen(ctx, "tcp", net.JoinHostPort(m.host, strconv.Itoa(m.cfg.Master.Port)))
	if err != nil {
		return fmt.Errorf("listen join port: %w", err)
	}
	m.joinLn = joinLn

	fileLn, err := lc.Listen(ctx, "tcp", net.JoinHostPort(m.host, strconv.Itoa(m.cfg.Master.FilePort)))
	if err != nil {
		return fmt.Errorf("listen file port: %w", err)
	}
	m.fileLn = fileLn
	return p.Next()
}

func (m *Master) serve(ctx context.Context, p *pipeline.Pipeline, s pipeline.Storage) error {
	policy := &AdmissionPolicy{
		MinVersion:   m.cfg.Master.MinVersion,
		AsyncAllowed: m.cfg.Master.AsyncAllowed,
		Secret:       m.cfg.Master.Secret,
		Dictionary:   m.dictionary,
	}
	m.server = NewServer(ServerConfig{
		JoinTimeout:    m.cfg.Master.JoinTimeout,
		BadSecretDelay: m.cfg.Master.BadSecretDelay,
		WriteTimeout:   m.cfg.Master.WriteTimeout,
	}, policy, m.registry, m.aggregator, m.sinks, m.clock, m.log)
	m.files = NewFileServer(m.cfg.Master.CaptureFile, m.cfg.Master.TransferTimeout, m.log)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel

	m.wg.Add(3)
	utils.SafeGo(m.log, "join-server", func() {
		defer m.wg.Done()
		if err := m.server.Serve(runCtx, m.joinLn); err != nil {
			m.log.Error("join server stopped", zap.Error(err))
		}
	})
	utils.SafeGo(m.log, "file-server", func() {
		defer m.wg.Done()
		if err := m.files.Serve(runCtx, m.fileLn); err != nil {
			m.log.Error("file server stopped", zap.Error(err))
		}
	})
	utils.SafeGo(m.log, "speed-report", func() {
		defer m.wg.Done()
		m.aggregator.Run(runCtx, m.cfg.Master.ReportInterval, func(total int64) {
			m.log.Info(fmt.Sprintf("Total speed: %d PMK/s", total))
		})
	})

	m.state.Store(StateRunning)
	m.log.Info(fmt.Sprintf("Master listening on %s, files on %s", m.joinLn.Addr(), m.fileLn.Addr()))
	return p.Next()
}

// Stop tells joined workers to leave, closes both listeners and waits for the
// connection handlers to return or ctx to expire.
func (m *Master) Stop(ctx context.Context) error {
	var err error
	m.stopOnce.Do(func() {
		m.registry.Broadcast(&protocol.Leave{}, FilterAll)
		m.closeListeners()
		if m.cancel != nil {
			m.cancel()
		}

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			if m.server != nil {
				m.server.Wait()
			}
			if m.files != nil {
				m.files.Wait()
			}
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
		m.state.Store(StateStopped)
	})
	return err
}

func (m *Master) closeListeners() {
	if m.joinLn != nil {
		_ = m.joinLn.Close()
	}
	if m.fileLn != nil {
		_ = m.fileLn.Close()
	}
}

// Addr returns the join-port address once started.
func (m *Master) Addr() net.Addr {
	if m.joinLn == nil {
		return nil
	}
	return m.joinLn.Addr()
}

// FileAddr returns the file-port address once started.
func (m *Master) FileAddr() net.Addr {
	if m.fileLn == nil {
		return nil
	}
	return m.fileLn.Addr()
}

// State returns the current state.
func (m *Master) State() State {
	return m.state.Load().(State)
}

// Registry returns the node registry.
func (m *Master) Registry() *NodeRegistry {
	return m.registry
}

// Status returns a summary of the cluster.
func (m *Master) Status() Status {
	return Status{
		State:      m.State(),
		Version:    protocol.VersionTxt,
		Nodes:      m.registry.Count(),
		MaxClients: m.registry.MaxClients(),
		TotalSpeed: m.registry.TotalSpeed(),
		Secure:     m.cfg.Master.Secret != "",
		Async:      m.cfg.Master.AsyncAllowed,
		Dictionary: m.dictionary,
		Capture:    m.captureSize,
	}
}

// ClusterMap returns joined nodes grouped by dictionary mode.
func (m *Master) ClusterMap() ClusterMap {
	return m.aggregator.ClusterMap()
}
