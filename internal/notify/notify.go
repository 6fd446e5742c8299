// Package notify pushes new-chapter datagrams to registered UDP listeners.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"novelhub/pkg/models"
)

const (
	RegisterMessageType   = "register"
	NewChapterMessageType = "new_chapter"
)

// RegisterMessage subscribes the sender address. Works narrows the
// subscription to the listed addresses; empty means every work.
type RegisterMessage struct {
	Type     string   `json:"type"`
	ClientID string   `json:"client_id"`
	Works    []string `json:"works,omitempty"`
}

type NewChapterMessage struct {
	Type      string `json:"type"`
	Work      string `json:"work"`
	ChapterID string `json:"chapter_id"`
	Title     string `json:"title,omitempty"`
}

type Client struct {
	ClientID string
	Addr     *net.UDPAddr
	Works    map[string]bool
}

func (c Client) wants(work string) bool {
	return len(c.Works) == 0 || c.Works[work]
}

type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

func (r *Registry) Register(clientID string, addr *net.UDPAddr, works []string) {
	if clientID == "" || addr == nil {
		return
	}
	c := Client{ClientID: clientID, Addr: addr}
	if len(works) > 0 {
		c.Works = make(map[string]bool, len(works))
		for _, w := range works {
			c.Works[w] = true
		}
	}
	r.mu.Lock()
	r.clients[clientID] = c
	r.mu.Unlock()
}

func (r *Registry) Remove(clientID string) {
	r.mu.Lock()
	delete(r.clients, clientID)
	r.mu.Unlock()
}

func (r *Registry) Snapshot() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

type Server struct {
	addr     string
	registry *Registry
	logger   *zap.Logger

	mu   sync.RWMutex
	conn *net.UDPConn
}

func NewServer(addr string, registry *Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{addr: addr, registry: registry, logger: logger.Named("udp-notify")}
}

// Run reads register messages until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, conn)
}

// Serve takes ownership of conn and closes it on return.
func (s *Server) Serve(ctx context.Context, conn *net.UDPConn) error {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	s.logger.Info("listening", zap.Stringer("addr", conn.LocalAddr()))

	buffer := make([]byte, 2048)
	for {
		n, addr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		msg, err := parseRegisterMessage(buffer[:n])
		if err != nil {
			s.logger.Warn("invalid message", zap.Stringer("from", addr), zap.Error(err))
			continue
		}
		if msg.Type != RegisterMessageType {
			continue
		}
		s.registry.Register(msg.ClientID, addr, msg.Works)
		s.logger.Info("registered client", zap.String("client", msg.ClientID), zap.Stringer("addr", addr))
	}
}

// Observe announces chapters that were stored for the first time.
func (s *Server) Observe(ev models.FetchEvent) {
	if ev.Type == models.EventChapterSaved && ev.New {
		s.BroadcastNewChapter(ev.Work, ev.ChapterID, ev.Title)
	}
}

func (s *Server) BroadcastNewChapter(work, cid, title string) {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		s.logger.Debug("not running, dropping notification", zap.String("work", work))
		return
	}
	payload, err := json.Marshal(NewChapterMessage{
		Type:      NewChapterMessageType,
		Work:      work,
		ChapterID: cid,
		Title:     title,
	})
	if err != nil {
		s.logger.Warn("failed to marshal broadcast", zap.Error(err))
		return
	}

	for _, client := range s.registry.Snapshot() {
		if client.wants(work) {
			s.sendWithRetry(conn, client, payload)
		}
	}
}

func (s *Server) sendWithRetry(conn *net.UDPConn, client Client, payload []byte) {
	if err := sendOnce(conn, client, payload); err == nil {
		return
	}
	if err := sendOnce(conn, client, payload); err != nil {
		s.logger.Warn("failed to notify client",
			zap.String("client", client.ClientID),
			zap.Stringer("addr", client.Addr),
			zap.Error(err))
		s.registry.Remove(client.ClientID)
	}
}

func sendOnce(conn *net.UDPConn, client Client, payload []byte) error {
	if client.Addr == nil {
		return errors.New("missing client address")
	}
	_, err := conn.WriteToUDP(payload, client.Addr)
	return err
}

func parseRegisterMessage(data []byte) (RegisterMessage, error) {
	var msg RegisterMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	if msg.ClientID == "" || msg.Type == "" {
		return msg, errors.New("missing required fields")
	}
	return msg, nil
}
