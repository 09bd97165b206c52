package radio

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"meshmonitor/internal/bus"
	"meshmonitor/internal/domain"
	"meshmonitor/internal/events"
	"meshmonitor/internal/meshproto"
	"meshmonitor/internal/transport"
)

const (
	quietInterval   = 30 * time.Second
	writeTimeout    = 8 * time.Second
	heartbeatPeriod = 25 * time.Second
	configDeadline  = 60 * time.Second
	rebootGrace     = 30 * time.Second
	maxBackoff      = 15 * time.Second
	passkeyLifetime = 290 * time.Second
	outboxCapacity  = 128
)

// CachedRecord is one device config record captured during session
// bootstrap, kept as raw payload bytes so it can be re-framed verbatim.
type CachedRecord struct {
	Kind meshproto.FromRadioKind
	Raw  []byte
}

// Session owns the link to the physical radio: it connects, replays the
// want-config bootstrap, fans decoded records out on the bus and serializes
// every outbound payload through a single writer.
type Session struct {
	logger    *slog.Logger
	bus       bus.MessageBus
	transport transport.Transport

	mu         sync.Mutex
	state      domain.SessionState
	localNode  domain.NodeNum
	myInfo     *meshproto.MyNodeInfo
	metadata   *meshproto.DeviceMetadata
	initConfig []CachedRecord
	configured bool

	passkey      []byte
	passkeySetAt time.Time

	wantConfigID uint32
	quiet        time.Duration
	outbox       chan []byte
	stop         context.CancelFunc
	stopped      chan struct{}
}

func NewSession(logger *slog.Logger, b bus.MessageBus, tr transport.Transport) *Session {
	return &Session{
		logger:    logger,
		bus:       b,
		transport: tr,
		state:     domain.SessionDisconnected,
		quiet:     quietInterval,
		outbox:    make(chan []byte, outboxCapacity),
		stopped:   make(chan struct{}),
	}
}

func (s *Session) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.stop = cancel
	s.mu.Unlock()

	go s.runConnector(ctx)
}

// Stop tears the session down for good: best-effort disconnect record, then
// transport close. Safe to call more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.stop
	s.stop = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	writeCtx, cancelWrite := context.WithTimeout(context.Background(), 2*time.Second)
	if err := s.transport.WriteFrame(writeCtx, meshproto.MarshalDisconnect()); err != nil {
		s.logger.Debug("disconnect write failed", "error", err)
	}
	cancelWrite()

	cancel()
	<-s.stopped
	s.setState(domain.SessionUserDisconnected, nil)
}

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// LocalNode returns the device's own node number, zero before the first
// MyNodeInfo arrives.
func (s *Session) LocalNode() domain.NodeNum {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.localNode
}

func (s *Session) MyInfo() *meshproto.MyNodeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.myInfo
}

func (s *Session) Metadata() *meshproto.DeviceMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.metadata
}

// CachedInitConfig returns the bootstrap records captured from the device,
// in arrival order. The slice is a copy; the raw payloads are shared.
func (s *Session) CachedInitConfig() []CachedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CachedRecord, len(s.initConfig))
	copy(out, s.initConfig)

	return out
}

// Send queues one encoded ToRadio payload for the writer goroutine. It never
// blocks; a full outbox is an error so callers can surface backpressure.
func (s *Session) Send(payload []byte) error {
	select {
	case s.outbox <- payload:
		return nil
	default:
		return errors.New("radio outbox full")
	}
}

// SetSessionPasskey caches the admin session key returned by the device.
func (s *Session) SetSessionPasskey(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passkey = key
	s.passkeySetAt = time.Now()
}

// SessionPasskey returns the cached admin key, or nil once the device-side
// lifetime has lapsed.
func (s *Session) SessionPasskey() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.passkey == nil || time.Since(s.passkeySetAt) > passkeyLifetime {
		return nil
	}

	return s.passkey
}

func (s *Session) runConnector(ctx context.Context) {
	defer close(s.stopped)

	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		s.setState(domain.SessionConnecting, nil)
		if err := s.transport.Connect(ctx); err != nil {
			s.logger.Error("transport connect failed", "error", err)
			s.setState(domain.SessionDisconnected, err)
			if !sleepWithContext(ctx, backoff) {
				return
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}

		backoff = time.Second
		if err := s.beginBootstrap(ctx); err != nil {
			s.logger.Warn("want_config send failed", "error", err)
		}

		writerCtx, cancelWriter := context.WithCancel(ctx)
		go s.runWriter(writerCtx)
		go s.runHeartbeat(writerCtx)
		err := s.runReader(ctx)
		cancelWriter()
		_ = s.transport.Close()
		if ctx.Err() != nil {
			return
		}
		s.setState(domain.SessionDisconnected, err)

		if !sleepWithContext(ctx, backoff) {
			return
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

// beginBootstrap starts a fresh want-config exchange. The previous init
// cache stays visible until the new one completes.
func (s *Session) beginBootstrap(ctx context.Context) error {
	id := rand.Uint32()
	if id == 0 {
		id = 1
	}

	s.mu.Lock()
	s.wantConfigID = id
	s.configured = false
	s.state = domain.SessionConfiguring
	s.mu.Unlock()
	s.publishStatus(nil)

	payload := meshproto.MarshalWantConfig(id)
	writeCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := s.transport.WriteFrame(writeCtx, payload); err != nil {
		return err
	}
	s.publishOut(payload)

	return nil
}

func (s *Session) runReader(ctx context.Context) error {
	var pending []CachedRecord
	configStarted := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		readCtx, cancel := context.WithTimeout(ctx, s.quiet)
		payload, err := s.transport.ReadFrame(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			if isQuietTimeout(err) {
				// The link itself is fine, the device just went silent.
				// Flag it and keep reading instead of tearing down; the
				// next frame clears the flag in place.
				switch s.State() {
				case domain.SessionConnected:
					s.logger.Warn("no traffic from device", "quiet", s.quiet)
					s.setState(domain.SessionNodeOffline, errors.New("no traffic from device"))
				case domain.SessionConfiguring:
					if time.Since(configStarted) > configDeadline {
						s.setState(domain.SessionNodeOffline, errors.New("device did not complete config"))
					}
				}
				continue
			}

			return err
		}

		if s.State() == domain.SessionNodeOffline && !s.isConfiguring() {
			s.setState(domain.SessionConnected, nil)
		}
		if s.State() == domain.SessionConfiguring && time.Since(configStarted) > configDeadline {
			s.setState(domain.SessionNodeOffline, errors.New("device did not complete config"))
		}

		record, err := meshproto.DecodeFromRadio(payload)
		if err != nil {
			s.logger.Warn("decode fromradio failed", "error", err, "len", len(payload))
			continue
		}

		switch record.Kind {
		case meshproto.KindMyInfo:
			s.mu.Lock()
			s.myInfo = record.MyInfo
			s.localNode = record.MyInfo.MyNodeNum
			s.mu.Unlock()
		case meshproto.KindMetadata:
			s.mu.Lock()
			s.metadata = record.Metadata
			s.mu.Unlock()
		case meshproto.KindRebooted:
			s.handleReboot(ctx)
			pending = nil
			configStarted = time.Now()
			continue
		case meshproto.KindConfigComplete:
			if s.finishBootstrap(record.ConfigCompleteID, pending) {
				pending = nil
			}
			s.bus.Publish(events.TopicRadioFrom, events.RadioFrom{Record: record, Raw: payload})
			continue
		}

		if s.isConfiguring() && cacheableKind(record.Kind) {
			pending = append(pending, CachedRecord{Kind: record.Kind, Raw: payload})
		}

		s.bus.Publish(events.TopicRadioFrom, events.RadioFrom{Record: record, Raw: payload})
	}
}

// isQuietTimeout reports whether a read failed only because no frame arrived
// within the quiet interval. Both transports surface this as a deadline
// error; anything else means the link itself broke.
func isQuietTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded)
}

func (s *Session) isConfiguring() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return !s.configured
}

// cacheableKind reports whether a bootstrap record belongs in the init
// cache. Live traffic and transient records are excluded.
func cacheableKind(kind meshproto.FromRadioKind) bool {
	switch kind {
	case meshproto.KindPacket, meshproto.KindQueueStatus, meshproto.KindLogRecord,
		meshproto.KindMqttProxy, meshproto.KindXModem, meshproto.KindClientNotification:
		return false
	default:
		return true
	}
}

func (s *Session) finishBootstrap(completeID uint32, pending []CachedRecord) bool {
	s.mu.Lock()
	if completeID != s.wantConfigID {
		s.mu.Unlock()
		s.logger.Debug("ignoring stale config_complete", "id", completeID)

		return false
	}
	s.initConfig = pending
	s.configured = true
	s.state = domain.SessionConnected
	local := s.localNode
	s.mu.Unlock()

	s.logger.Info("device session configured", "node", domain.FormatNodeID(local), "records", len(pending))
	s.publishStatus(nil)

	return true
}

// handleReboot rides out a device reboot: wait for the radio to come back,
// then run the bootstrap again so the init cache reflects post-reboot state.
func (s *Session) handleReboot(ctx context.Context) {
	s.logger.Warn("device rebooted, waiting before reconfigure")
	s.setState(domain.SessionRebooting, nil)
	if !sleepWithContext(ctx, rebootGrace) {
		return
	}
	if err := s.beginBootstrap(ctx); err != nil {
		s.logger.Warn("post-reboot want_config failed", "error", err)
	}
}

func (s *Session) runWriter(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-s.outbox:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := s.transport.WriteFrame(writeCtx, payload)
			cancel()
			if err != nil {
				s.logger.Warn("radio write failed", "error", err, "len", len(payload))
				continue
			}
			s.publishOut(payload)
		}
	}
}

func (s *Session) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Send(meshproto.MarshalHeartbeat()); err != nil {
				s.logger.Debug("heartbeat enqueue failed", "error", err)
			}
		}
	}
}

func (s *Session) setState(state domain.SessionState, err error) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.publishStatus(err)
}

func (s *Session) publishStatus(err error) {
	s.mu.Lock()
	status := events.SessionStatus{
		State:     string(s.state),
		Transport: s.transport.Name(),
		LocalNode: s.localNode,
		Timestamp: time.Now(),
	}
	s.mu.Unlock()
	if err != nil {
		status.Err = err.Error()
	}
	s.bus.Publish(events.TopicSessionStatus, status)
}

func (s *Session) publishOut(payload []byte) {
	s.bus.Publish(events.TopicRadioOut, events.RadioOut{
		Len: len(payload),
		Hex: strings.ToUpper(hex.EncodeToString(payload)),
	})
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
