package worker

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
	"yqhp/cherry/internal/pipeline"
	"yqhp/cherry/internal/protocol"
	"yqhp/cherry/internal/tool"
)

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(w *Worker) { w.log = log }
}

// WithClock sets the clock driving the echo ticker.
func WithClock(clock clockwork.Clock) Option {
	return func(w *Worker) { w.clock = clock }
}

// WithTools sets the driver registry, tool.DefaultRegistry by default.
func WithTools(tools *tool.Registry) Option {
	return func(w *Worker) { w.tools = tools }
}

// WithRunner sets the process runner handed to the driver.
func WithRunner(runner tool.Runner) Option {
	return func(w *Worker) { w.runner = runner }
}

// WithChecksummer overrides the checksummer built from the config.
func WithChecksummer(sum dictionary.Checksummer) Option {
	return func(w *Worker) { w.checksummer = sum }
}

// Worker is a cracking node that joins a master.
type Worker struct {
	cfg         *config.Config
	log         *zap.Logger
	clock       clockwork.Clock
	tools       *tool.Registry
	runner      tool.Runner
	checksummer dictionary.Checksummer

	// 引导阶段的结果
	driver     tool.Driver
	speed      atomic.Int64
	dictionary *dictionary.Descriptor

	// 连接状态
	mu         sync.Mutex
	conn       *protocol.Conn
	state      atomic.Value // State
	totalSpeed atomic.Int64
}

// New creates a worker for cfg.Worker. Nothing is opened until Bootstrap.
func New(cfg *config.Config, opts ...Option) *Worker {
	w := &Worker{
		cfg:   cfg,
		log:   zap.NewNop(),
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.tools == nil {
		w.tools = tool.DefaultRegistry()
	}
	if w.checksummer == nil {
		w.checksummer = dictionary.NewChecksummer(cfg.Worker.ChecksumCommand)
	}
	w.state.Store(StateIdle)
	return w
}

// Bootstrap prepares the worker and joins the cluster. It returns once the
// capture file has been saved and the worker is ready.
func (w *Worker) Bootstrap(ctx context.Context) error {
	p := pipeline.New(
		pipeline.Func(w.validate),
		pipeline.Sub(w.toolPipeline),
		pipeline.Func(w.dictionaryMode),
		pipeline.Deferred(w.describeDictionary),
		pipeline.Func(w.join),
		pipeline.Deferred(w.fetchHandshake),
	).OnFinish(func() {
		w.setState(StateReady)
	})

	if err := p.Run(ctx); err != nil {
		w.closeConn()
		return err
	}
	return nil
}

// Run bootstraps the worker and then reports its speed until the master ends
// the session or ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Bootstrap(ctx); err != nil {
		return err
	}
	return w.Serve(ctx)
}

func (w *Worker) validate(ctx context.Context, p *pipeline.Pipeline, s pipeline.Storage) error {
	v := config.NewValidator()
	if err := v.ValidateWorker(w.cfg); err != nil {
		return err
	}
	for _, warning := range v.Warnings {
		w.log.Warn(warning)
	}
	return p.Next()
}

// toolPipeline loads the driver: search, then either take the configured
// speed or run the benchmark, then sanity check the speed.
func (w *Worker) toolPipeline() *pipeline.Pipeline {
	return pipeline.New(
		pipeline.Func(w.searchTool),
		pipeline.Func(w.fixedSpeed),
		pipeline.Deferred(w.benchmark),
		pipeline.Func(w.checkSpeed),
	)
}

func (w *Worker) searchTool(ctx context.Context, p *pipeline.Pipeline, s pipeline.Storage) error {
	tc := w.cfg.Worker.Tool
	driver, err := w.tools.New(tc.Name, tc.BinaryPath(), w.runner)
	if err != nil {
		return err
	}
	if err := driver.Search(ctx); err != nil {
		return err
	}
	w.driver = driver
	s["tool_version"] = driver.Version()
	w.log.Info(fmt.Sprintf("Found %s %s at %s", driver.Name(), driver.Version(), driver.Path()))
	return p.Next()
}

func (w *Worker) fixedSpeed(ctx context.Context, p *pipeline.Pipeline, s pipeline.Storage) error {
	if speed := w.cfg.Worker.Tool.Speed; speed > 0 {
		w.speed.Store(speed)
		s["speed"] = speed
		w.log.Info(fmt.Sprintf("Using configured speed %d PMK/s", speed))
		return p.Skip(1)
	}
	return p.Next()
}

func (w *Worker) benchmark(ctx context.Context) (pipeline.Storage, error) {
	w.log.Info(fmt.Sprintf("Benchmarking %s...", w.driver.Name()))
	speed, err := w.driver.Benchmark(ctx)
	if err != nil {
		return nil, err
	}
	w.speed.Store(speed)
	w.log.Info(fmt.Sprintf("Benchmark: %d PMK/s", speed))
	return pipeline.Storage{"speed": speed}, nil
}

func (w *Worker) checkSpeed(ctx context.Context, p *pipeline.Pipeline, s pipeline.Storage) error {
	speed := w.speed.Load()
	if speed <= 0 || speed >= config.MaxWorkerSpeed {
		return fmt.Errorf("speed %d PMK/s out of range (0, %d)", speed, config.MaxWorkerSpeed)
	}
	return p.Next()
}

// dictionaryMode skips describing the dictionary for async workers.
func (w *Worker) dictionaryMode(ctx context.Context, p *pipeline.Pipeline, s pipeline.Storage) error {
	if w.cfg.Worker.Async {
		return p.Skip(1)
	}
	return p.Next()
}

func (w *Worker) describeDictionary(ctx context.Context) (pipeline.Storage, error) {
	desc, err := dictionary.Describe(ctx, w.cfg.Worker.Dictionary, w.checksummer)
	if err != nil {
		return nil, fmt.Errorf("dictionary: %w", err)
	}
	w.dictionary = desc
	w.log.Debug(fmt.Sprintf("Dictionary %s: %d bytes, checksum %s", desc.Path, desc.Size, desc.Checksum))
	return pipeline.Storage{"dictionary": desc}, nil
}

// joinRequest builds the join message for the connect ack.
func (w *Worker) joinRequest(ack *protocol.Connect) (*protocol.JoinRequest, error) {
	wc := w.cfg.Worker
	req := &protocol.JoinRequest{
		VersionNum: protocol.VersionNum,
		VersionTxt: protocol.VersionTxt,
		Async:      wc.Async,
		Speed:      w.speed.Load(),
		Tool:       protocol.Tool{Name: w.driver.Name(), Version: w.driver.Version()},
	}
	if ack.Secure {
		if wc.MasterSecret == "" {
			return nil, ErrSecretRequired
		}
		req.Secret = protocol.AuthDigest(ack.Salt, wc.MasterSecret)
	}
	if !wc.Async && w.dictionary != nil {
		req.DictionarySize = w.dictionary.Size
		req.DictionaryChecksum = w.dictionary.Checksum
	}
	return req, nil
}

func (w *Worker) masterAddr(port int) string {
	return net.JoinHostPort(w.cfg.Worker.MasterIP, strconv.Itoa(port))
}

func (w *Worker) dial(ctx context.Context, port int) (*protocol.Conn, error) {
	d := net.Dialer{Timeout: w.cfg.Worker.ConnectTimeout}
	raw, err := d.DialContext(ctx, "tcp", w.masterAddr(port))
	if err != nil {
		return nil, err
	}
	return protocol.NewConn(raw), nil
}

func (w *Worker) setState(s State) {
	w.state.Store(s)
}

// State returns the current state.
func (w *Worker) State() State {
	return w.state.Load().(State)
}

// Speed returns the speed the worker reports, in PMK/s.
func (w *Worker) Speed() int64 {
	return w.speed.Load()
}

// SetSpeed changes the speed sent with the next echo.
func (w *Worker) SetSpeed(speed int64) {
	w.speed.Store(speed)
}

// TotalSpeed returns the cluster speed from the last echo reply.
func (w *Worker) TotalSpeed() int64 {
	return w.totalSpeed.Load()
}

// Driver returns the loaded tool driver, nil before bootstrap.
func (w *Worker) Driver() tool.Driver {
	return w.driver
}

func (w *Worker) connection() *protocol.Conn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn
}

func (w *Worker) closeConn() {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
