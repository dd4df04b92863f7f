// Package api provides the read-only HTTP status API of a master.
package api

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"yqhp/cherry/internal/master"
)

// Cluster is the view of a master the API reads from.
type Cluster interface {
	Status() master.Status
	ClusterMap() master.ClusterMap
}

// Config holds the configuration for the status server.
type Config struct {
	// Address is the address to listen on (e.g., ":9080").
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:      ":9080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Server serves cluster status over HTTP.
type Server struct {
	app     *fiber.App
	cluster Cluster
	config  *Config
	log     *zap.Logger
}

// NewServer creates a status server over cluster.
func NewServer(cluster Cluster, config *Config, log *zap.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		ErrorHandler:          errorHandler,
		AppName:               "cherry",
		DisableStartupMessage: true,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
	})

	s := &Server{app: app, cluster: cluster, config: config, log: log}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.app.Use(fiberrecover.New())
	s.app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		s.log.Debug("status request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)),
		)
		return err
	})
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.health)

	api := s.app.Group("/api/v1")
	api.Get("/status", s.status)
	api.Get("/nodes", s.nodes)
	api.Get("/nodes/:uid", s.node)
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) status(c *fiber.Ctx) error {
	return c.JSON(s.cluster.Status())
}

func (s *Server) nodes(c *fiber.Ctx) error {
	return c.JSON(s.cluster.ClusterMap())
}

func (s *Server) node(c *fiber.Ctx) error {
	uid, err := strconv.ParseUint(c.Params("uid"), 10, 64)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "uid must be a non-negative integer")
	}

	m := s.cluster.ClusterMap()
	for _, group := range [][]master.NodeInfo{m.Sync, m.Async} {
		for _, n := range group {
			if n.UID == uid {
				return c.JSON(n)
			}
		}
	}
	return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("node %d not found", uid))
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listener(ln)
	}()

	select {
	case <-ctx.Done():
		return s.app.ShutdownWithTimeout(5 * time.Second)
	case err := <-errCh:
		return err
	}
}

// ListenAndServe binds the configured address and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listen status address: %w", err)
	}
	s.log.Info(fmt.Sprintf("Status API listening on %s", ln.Addr()))
	return s.Serve(ctx, ln)
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   fmt.Sprintf("error_%d", code),
		Message: message,
	})
}
