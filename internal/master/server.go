package master

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"yqhp/cherry/internal/eventsink"
	"yqhp/cherry/internal/protocol"
	"yqhp/cherry/pkg/utils"
)

// WelcomeMessage is sent to every worker after a successful join.
const WelcomeMessage = "Welcome to the cluster!"

// ServerConfig holds the join-port settings.
type ServerConfig struct {
	// JoinTimeout bounds how long a connection may stay unauthenticated.
	JoinTimeout time.Duration
	// BadSecretDelay delays bad-secret rejections.
	BadSecretDelay time.Duration
	// WriteTimeout bounds every write to a worker. Zero disables it.
	WriteTimeout time.Duration
}

// Server accepts worker connections on the join port.
type Server struct {
	cfg        ServerConfig
	policy     *AdmissionPolicy
	registry   *NodeRegistry
	aggregator *Aggregator
	sink       eventsink.Sink
	clock      clockwork.Clock
	log        *zap.Logger

	wg sync.WaitGroup
}

// NewServer creates a join-port server.
func NewServer(cfg ServerConfig, policy *AdmissionPolicy, registry *NodeRegistry, aggregator *Aggregator,
	sink eventsink.Sink, clock clockwork.Clock, log *zap.Logger) *Server {
	return &Server{
		cfg:        cfg,
		policy:     policy,
		registry:   registry,
		aggregator: aggregator,
		sink:       sink,
		clock:      clock,
		log:        log,
	}
}

// Serve accepts connections on ln until ln is closed or ctx is done. Each
// connection is handled on its own goroutine.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	for {
		raw, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		conn := protocol.NewConn(raw)
		conn.SetWriteTimeout(s.cfg.WriteTimeout)

		s.wg.Add(1)
		utils.SafeGo(s.log, "join-conn", func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		})
	}
}

// Wait blocks until all connection handlers have returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

// handle runs one connection from accept to close.
func (s *Server) handle(ctx context.Context, conn *protocol.Conn) {
	defer conn.Close()

	if !s.registry.Reserve() {
		s.log.Warn(fmt.Sprintf("Client %s rejected: workers count limited", conn.RemoteIP()))
		_ = conn.Send(&protocol.Connect{Status: protocol.StatusRejected, Reason: protocol.ReasonMaxNodes})
		return
	}
	defer s.registry.Release()

	node := NewNode(conn)
	log := s.log.With(zap.String("session", node.Session), zap.String("ip", node.IP))
	log.Debug(fmt.Sprintf("Client %s connected", node.IP))

	err := conn.Send(&protocol.Connect{
		Status:       protocol.StatusConnected,
		VersionTxt:   protocol.VersionTxt,
		VersionNum:   protocol.VersionNum,
		AsyncAllowed: s.policy.AsyncAllowed,
		Secure:       s.policy.Secure(),
		Salt:         node.Salt,
	})
	if err != nil {
		log.Debug("connect ack failed", zap.Error(err))
		return
	}

	msgs, gone := s.readLoop(conn, log)
	joinTimer := s.clock.NewTimer(s.cfg.JoinTimeout)
	defer joinTimer.Stop()
	joinDeadline := joinTimer.Chan()

	defer s.disconnect(ctx, node, log)

	for {
		select {
		case <-ctx.Done():
			return
		case <-joinDeadline:
			log.Warn(fmt.Sprintf("Client %s did not join within %s", node.IP, s.cfg.JoinTimeout))
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if s.dispatch(ctx, node, msg, gone, log) {
				return
			}
			if joinDeadline != nil && s.registry.IsJoined(node) {
				joinTimer.Stop()
				joinDeadline = nil
			}
		}
	}
}

// readLoop decodes messages on its own goroutine. gone is closed when the
// peer's side of the connection ends; msgs is closed right after.
func (s *Server) readLoop(conn *protocol.Conn, log *zap.Logger) (<-chan protocol.Message, <-chan struct{}) {
	msgs := make(chan protocol.Message, 8)
	gone := make(chan struct{})

	utils.SafeGo(s.log, "join-reader", func() {
		defer close(msgs)
		defer close(gone)
		for {
			msg, err := conn.Receive(protocol.DecodeFromWorker)
			if err != nil {
				if protocol.IsDropped(err) {
					log.Debug("dropped message", zap.Error(err))
					continue
				}
				return
			}
			select {
			case msgs <- msg:
			case <-conn.Done():
				return
			}
		}
	})
	return msgs, gone
}

// dispatch handles one message and reports whether the connection must close.
func (s *Server) dispatch(ctx context.Context, node *Node, msg protocol.Message, gone <-chan struct{}, log *zap.Logger) bool {
	switch m := msg.(type) {
	case *protocol.JoinRequest:
		return s.join(ctx, node, m, gone, log)

	case *protocol.EchoReport:
		reply, err := s.aggregator.Report(node, m.Speed)
		if err != nil {
			log.Debug("echo from node that has not joined")
			return false
		}
		if err := node.conn.Send(reply); err != nil {
			log.Debug("echo reply failed", zap.Error(err))
			return true
		}
		return false

	case *protocol.Event:
		if !s.registry.IsJoined(node) {
			log.Debug("event from node that has not joined", zap.String("event", m.Event))
			return false
		}
		s.event(ctx, node, m, log)
		return false

	case *protocol.Leave:
		log.Debug(fmt.Sprintf("Client %s left", node.IP))
		return true

	case *protocol.Notice:
		log.Info(fmt.Sprintf("[%s] %s", node.IP, m.Body), zap.String("type", m.Type))
		return false

	default:
		log.Debug("unhandled message", zap.String("header", string(msg.Kind())))
		return false
	}
}

func (s *Server) join(ctx context.Context, node *Node, req *protocol.JoinRequest, gone <-chan struct{}, log *zap.Logger) bool {
	if s.registry.State(node) != NodeUnauthenticated {
		log.Debug("duplicate join ignored")
		return false
	}

	reason := s.policy.Check(node.Salt, req)
	if reason == protocol.ReasonBadSecret && s.cfg.BadSecretDelay > 0 {
		select {
		case <-s.clock.After(s.cfg.BadSecretDelay):
		case <-gone:
			log.Debug("peer closed during bad secret delay")
			return true
		case <-ctx.Done():
			return true
		}
	}

	if reason != "" {
		log.Warn(fmt.Sprintf("Client %s rejected: %s", node.IP, reason))
		_ = node.conn.Send(protocol.Rejected(reason))
		return true
	}

	uid, err := s.registry.Join(node, req.Async, req.Speed, req.Tool)
	if err != nil {
		log.Debug("join failed", zap.Error(err))
		return false
	}

	if err := node.conn.Send(&protocol.JoinResult{Status: protocol.StatusJoined}, protocol.Log(WelcomeMessage)); err != nil {
		log.Debug("join reply failed", zap.Error(err))
		return true
	}

	mode := "sync"
	if req.Async {
		mode = "async"
	}
	log.Info(fmt.Sprintf("Client %s joined the cluster (%s, %d PMK/s, %s %s)",
		node.IP, mode, req.Speed, req.Tool.Name, req.Tool.Version), zap.Uint64("uid", uid))
	s.publish(ctx, eventsink.Event{Type: eventsink.TypeJoined, Session: node.Session, IP: node.IP, UID: uid, Speed: req.Speed})
	return false
}

func (s *Server) event(ctx context.Context, node *Node, ev *protocol.Event, log *zap.Logger) {
	if ev.Event != protocol.EventKeyFound {
		log.Debug("unknown event", zap.String("event", ev.Event))
		return
	}

	info := s.registry.Info(node)
	log.Info(fmt.Sprintf("Key found by %s: %s", node.IP, ev.Password))
	s.registry.Broadcast(protocol.Log(fmt.Sprintf("Key found by %s: %s", node.IP, ev.Password)), FilterAll)
	s.publish(ctx, eventsink.Event{
		Type:     eventsink.TypeKeyFound,
		Session:  node.Session,
		IP:       node.IP,
		UID:      info.UID,
		Password: ev.Password,
	})
}

func (s *Server) disconnect(ctx context.Context, node *Node, log *zap.Logger) {
	info := s.registry.Info(node)
	if s.registry.Remove(node) {
		s.publish(ctx, eventsink.Event{Type: eventsink.TypeLeft, Session: node.Session, IP: node.IP, UID: info.UID})
	}
	log.Info(fmt.Sprintf("Client %s disconnected", node.IP))
}

func (s *Server) publish(ctx context.Context, e eventsink.Event) {
	if s.sink == nil {
		return
	}
	e.Time = s.clock.Now()
	if err := s.sink.Publish(context.WithoutCancel(ctx), e); err != nil {
		s.log.Warn("event publish failed", zap.String("type", e.Type), zap.Error(err))
	}
}
