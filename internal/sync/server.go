package sync

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
)

// Server accepts TCP subscribers for a Hub.
type Server struct {
	Addr   string
	Hub    *Hub
	Logger *zap.Logger
}

func NewServer(addr string, hub *Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Addr: addr, Hub: hub, Logger: logger.Named("tcp-sync")}
}

// Run listens on s.Addr until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts subscribers on ln until ctx is done. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.Logger.Info("listening", zap.Stringer("addr", ln.Addr()))
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.Logger.Warn("accept", zap.Error(err))
			continue
		}

		s.welcome(conn)
		s.Hub.Add(conn)
		s.Logger.Info("client connected", zap.Stringer("remote", conn.RemoteAddr()))

		go func(c net.Conn) {
			defer func() {
				s.Hub.Remove(c)
				s.Logger.Info("client disconnected", zap.Stringer("remote", c.RemoteAddr()))
			}()

			// Subscribers only listen; incoming lines are discarded.
			sc := bufio.NewScanner(c)
			for sc.Scan() {
			}
		}(conn)
	}
}

func (s *Server) welcome(conn net.Conn) {
	b, _ := json.Marshal(welcome("tcp", s.Hub.Stats().TCPClients+1))
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, _ = conn.Write(append(b, '\n'))
}
