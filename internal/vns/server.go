package vns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"meshmonitor/internal/bus"
	"meshmonitor/internal/config"
	"meshmonitor/internal/domain"
	"meshmonitor/internal/events"
	"meshmonitor/internal/meshproto"
	"meshmonitor/internal/persistence"
	"meshmonitor/internal/radio"
	"meshmonitor/internal/transport"
)

const (
	clientQueueCap = 100
	drainPacing    = 10 * time.Millisecond
	idleSweep      = time.Minute
)

// DeliveryTracker correlates forwarded packets with the routing acks that
// come back for them.
type DeliveryTracker interface {
	TrackMessage(id uint32, to domain.NodeNum)
}

// Server exposes the physical radio to standard Meshtastic clients over the
// same TCP framing the device itself speaks. Connected apps see the real
// mesh through the monitor instead of competing for the radio link.
type Server struct {
	logger   *slog.Logger
	bus      bus.MessageBus
	cfg      config.VNSConfig
	session  *radio.Session
	store    *persistence.Store
	delivery DeliveryTracker

	maxNodeAge time.Duration

	mu      sync.Mutex
	clients map[string]*client
	nextID  int

	listener net.Listener
}

func NewServer(logger *slog.Logger, b bus.MessageBus, cfg config.VNSConfig, maxNodeAge time.Duration, session *radio.Session, store *persistence.Store, delivery DeliveryTracker) *Server {
	return &Server{
		logger:     logger,
		bus:        b,
		cfg:        cfg,
		session:    session,
		store:      store,
		delivery:   delivery,
		maxNodeAge: maxNodeAge,
		clients:    make(map[string]*client),
	}
}

func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.ListenPort)
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("virtual node listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.logger.Info("virtual node server listening", "addr", addr)

	go s.runBroadcast(ctx)
	go s.runIdleSweep(ctx)
	go func() {
		<-ctx.Done()
		_ = listener.Close()
		s.closeAllClients("shutdown")
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		s.addClient(ctx, conn)
	}
}

func (s *Server) addClient(ctx context.Context, conn net.Conn) {
	s.mu.Lock()
	s.nextID++
	c := newClient(fmt.Sprintf("vn-%d", s.nextID), conn, s)
	s.clients[c.id] = c
	count := len(s.clients)
	s.mu.Unlock()

	s.logger.Info("client connected", "client", c.id, "remote", conn.RemoteAddr().String(), "clients", count)
	s.audit(c.id, "vns.connect", conn.RemoteAddr().String(), "")

	go c.runReader(ctx)
	go c.runWriter(ctx)
}

func (s *Server) removeClient(c *client, reason string) {
	s.mu.Lock()
	if _, ok := s.clients[c.id]; !ok {
		s.mu.Unlock()

		return
	}
	delete(s.clients, c.id)
	count := len(s.clients)
	s.mu.Unlock()

	c.close()
	s.logger.Info("client disconnected", "client", c.id, "reason", reason, "clients", count)
	s.audit(c.id, "vns.disconnect", "", reason)
}

// Addr reports the bound listen address, nil before Run has opened it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// closeAllClients drops every connected client, unblocking their reader
// goroutines. Runs on shutdown; new connections are already refused by then.
func (s *Server) closeAllClients(reason string) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		s.removeClient(c, reason)
	}
}

// ClientCount reports the number of connected virtual node clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.clients)
}

// runBroadcast re-frames every device record for all connected clients,
// using the exact payload bytes the radio sent.
func (s *Server) runBroadcast(ctx context.Context) {
	sub := s.bus.Subscribe(events.TopicRadioFrom)
	defer s.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			ev, isFrom := msg.(events.RadioFrom)
			if !isFrom || len(ev.Raw) == 0 {
				continue
			}
			frame, err := transport.EncodeFrame(ev.Raw)
			if err != nil {
				continue
			}
			s.mu.Lock()
			for _, c := range s.clients {
				c.enqueue(frame)
			}
			s.mu.Unlock()
		}
	}
}

func (s *Server) runIdleSweep(ctx context.Context) {
	if s.cfg.IdleTimeoutMinutes <= 0 {
		return
	}
	timeout := time.Duration(s.cfg.IdleTimeoutMinutes) * time.Minute
	ticker := time.NewTicker(idleSweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var stale []*client
			s.mu.Lock()
			for _, c := range s.clients {
				if time.Since(c.lastActive()) > timeout {
					stale = append(stale, c)
				}
			}
			s.mu.Unlock()
			for _, c := range stale {
				s.removeClient(c, "idle timeout")
			}
		}
	}
}

func (s *Server) audit(actor, action, resource, details string) {
	entry := domain.AuditEntry{Actor: actor, Action: action, Resource: resource, Details: details}
	stored, err := s.store.Audit.Append(context.Background(), entry)
	if err != nil {
		s.logger.Warn("audit write failed", "action", action, "error", err)

		return
	}
	s.bus.Publish(events.TopicAudit, events.AuditRecorded{Entry: &stored})
}

// handleToRadio dispatches one decoded client record.
func (s *Server) handleToRadio(ctx context.Context, c *client, payload []byte) {
	record, err := meshproto.DecodeToRadio(payload)
	if err != nil {
		s.logger.Debug("client sent undecodable record", "client", c.id, "error", err)

		return
	}
	c.touch()

	switch {
	case record.Heartbeat:
		// Keepalive only; never forwarded to the radio.
	case record.Disconnect:
		s.removeClient(c, "client disconnect")
	case record.WantConfigID != 0:
		s.serveConfig(ctx, c, record.WantConfigID)
	case record.Packet != nil:
		s.handleClientPacket(ctx, c, record.Packet)
	}
}

func (s *Server) handleClientPacket(ctx context.Context, c *client, pkt *meshproto.MeshPacket) {
	if pkt.Decoded == nil {
		// Clients encrypt for channels we already own the keys to; the
		// radio path only carries plaintext app payloads.
		s.logger.Debug("dropping encrypted client packet", "client", c.id)

		return
	}

	port := meshproto.NormalizePort(uint32(pkt.Decoded.PortNum))
	switch port {
	case meshproto.PortNodeInfo:
		// The virtual node is the radio itself; client self-advertisements
		// would corrupt the mesh nodedb. A self-addressed user record is an
		// owner update for the radio and passes through.
		if pkt.From == 0 || pkt.From != pkt.To {
			s.logger.Debug("dropping client nodeinfo broadcast", "client", c.id)

			return
		}
	case meshproto.PortAdmin:
		if !s.admitAdmin(ctx, c, pkt) {
			return
		}
	}

	s.forwardToRadio(ctx, c, pkt, port)
}

// forwardToRadio substitutes the local node as the source, strips client PKI
// material and hands the packet to the radio session. Text messages also
// land in the store as local messages so the monitor's own history matches
// what the mesh saw.
func (s *Server) forwardToRadio(ctx context.Context, c *client, pkt *meshproto.MeshPacket, port meshproto.PortNum) {
	local := s.session.LocalNode()
	if pkt.From == 0 || pkt.From != local {
		pkt.From = local
	}
	pkt.PublicKey = nil
	pkt.PkiEncrypted = false

	if err := s.session.Send(meshproto.MarshalToRadioPacket(pkt)); err != nil {
		s.logger.Warn("client packet send failed", "client", c.id, "error", err)

		return
	}

	if port == meshproto.PortTextMessage && pkt.Decoded.Emoji == 0 {
		channel := domain.DirectChannel
		if pkt.To == domain.BroadcastNodeNum {
			channel = int(pkt.Channel)
		}
		msg := domain.Message{
			MessageID:  pkt.ID,
			FromNodeID: domain.FormatNodeID(local),
			ToNodeID:   domain.FormatNodeID(pkt.To),
			Channel:    channel,
			Text:       string(pkt.Decoded.Payload),
			Timestamp:  time.Now(),
			PortNum:    uint32(meshproto.PortTextMessage),
			Delivery:   domain.DeliveryPending,
			RequestID:  pkt.ID,
			IsLocal:    true,
		}
		if _, err := s.store.Messages.Upsert(ctx, msg); err != nil {
			s.logger.Warn("client message echo failed", "client", c.id, "error", err)
		} else {
			s.bus.Publish(events.TopicMessageSaved, events.MessageSaved{Message: &msg})
		}
		// Without tracking, routing acks for the forwarded packet resolve
		// nothing and the message stays pending forever.
		s.delivery.TrackMessage(pkt.ID, pkt.To)
	}
}
