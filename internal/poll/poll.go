package poll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"meshmonitor/internal/domain"
	"meshmonitor/internal/meshproto"
	"meshmonitor/internal/persistence"
	"meshmonitor/internal/radio"
)

const (
	recentMessageLimit  = 100
	recentRouteLimit    = 50
	telemetryFlagWindow = 24 * time.Hour
)

// Connection summarizes the radio link for API consumers. NodeResponsive
// distinguishes a healthy link from one where the device has gone silent:
// the session keeps the transport open but flags the node offline.
type Connection struct {
	State            string         `json:"state"`
	Connected        bool           `json:"connected"`
	Configuring      bool           `json:"configuring"`
	NodeResponsive   bool           `json:"nodeResponsive"`
	UserDisconnected bool           `json:"userDisconnected"`
	LocalNodeNum     domain.NodeNum `json:"localNodeNum"`
	LocalNodeID      string         `json:"localNodeId"`
	FirmwareVersion  string         `json:"firmwareVersion,omitempty"`
}

// ConfigRecord is one device config section captured during session
// bootstrap, raw payload included so clients can decode the sections they
// care about.
type ConfigRecord struct {
	Kind string `json:"kind"`
	Raw  []byte `json:"raw"`
}

// TelemetryNodes flags which nodes own samples of each kind, so clients can
// show sensor badges without loading the series data.
type TelemetryNodes struct {
	Device      []domain.NodeNum `json:"device"`
	Environment []domain.NodeNum `json:"environment"`
	Power       []domain.NodeNum `json:"power"`
}

// Snapshot is the single payload a polling client needs to render the whole
// mesh view.
type Snapshot struct {
	Connection         Connection                `json:"connection"`
	Nodes              []domain.Node             `json:"nodes"`
	Messages           []domain.Message          `json:"messages"`
	Channels           []domain.Channel          `json:"channels"`
	Unread             map[string]int            `json:"unread"`
	Telemetry          TelemetryNodes            `json:"telemetry"`
	Traceroutes        []domain.TracerouteRecord `json:"traceroutes"`
	TracerouteFailures int                       `json:"tracerouteFailures"`
	DeviceConfig       *meshproto.DeviceMetadata `json:"deviceConfig,omitempty"`
	Config             []ConfigRecord            `json:"config,omitempty"`
	GeneratedAt        time.Time                 `json:"generatedAt"`
}

// Service assembles poll snapshots from read-only store queries. It shares
// no locks with the ingestion path; sqlite WAL keeps readers unblocked.
type Service struct {
	logger     *slog.Logger
	session    *radio.Session
	store      *persistence.Store
	maxNodeAge time.Duration
}

func NewService(logger *slog.Logger, session *radio.Session, store *persistence.Store, maxNodeAge time.Duration) *Service {
	return &Service{
		logger:     logger,
		session:    session,
		store:      store,
		maxNodeAge: maxNodeAge,
	}
}

func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Connection:  s.connection(),
		GeneratedAt: time.Now(),
	}

	nodes, err := s.store.Nodes.ListActive(ctx, s.maxNodeAge)
	if err != nil {
		return nil, fmt.Errorf("snapshot nodes: %w", err)
	}
	snap.Nodes = nodes

	messages, err := s.store.Messages.ListRecent(ctx, recentMessageLimit)
	if err != nil {
		return nil, fmt.Errorf("snapshot messages: %w", err)
	}
	snap.Messages = messages

	channels, err := s.store.Channels.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot channels: %w", err)
	}
	snap.Channels = channels

	unread, err := s.store.Messages.UnreadCounts(ctx, snap.Connection.LocalNodeID)
	if err != nil {
		return nil, fmt.Errorf("snapshot unread counts: %w", err)
	}
	snap.Unread = unread

	since := time.Now().Add(-telemetryFlagWindow)
	for _, set := range []struct {
		kind domain.TelemetryKind
		dst  *[]domain.NodeNum
	}{
		{domain.TelemetryDevice, &snap.Telemetry.Device},
		{domain.TelemetryEnvironment, &snap.Telemetry.Environment},
		{domain.TelemetryPower, &snap.Telemetry.Power},
	} {
		nums, err := s.store.Telemetry.NodesWithKind(ctx, set.kind, since)
		if err != nil {
			return nil, fmt.Errorf("snapshot telemetry nodes: %w", err)
		}
		*set.dst = nums
	}

	routes, err := s.store.Traceroutes.ListRecent(ctx, recentRouteLimit)
	if err != nil {
		return nil, fmt.Errorf("snapshot traceroutes: %w", err)
	}
	for _, rec := range routes {
		if rec.Failed() {
			snap.TracerouteFailures++
			continue
		}
		snap.Traceroutes = append(snap.Traceroutes, rec)
	}

	snap.DeviceConfig = s.session.Metadata()
	for _, rec := range s.session.CachedInitConfig() {
		switch rec.Kind {
		case meshproto.KindConfig, meshproto.KindModuleConfig:
			snap.Config = append(snap.Config, ConfigRecord{Kind: rec.Kind.String(), Raw: rec.Raw})
		}
	}

	return snap, nil
}

// ConnectionInfo reports the radio link summary on its own, for callers
// that do not need a full snapshot.
func (s *Service) ConnectionInfo() Connection {
	return s.connection()
}

func (s *Service) connection() Connection {
	state := s.session.State()
	conn := Connection{
		State:            string(state),
		Connected:        state == domain.SessionConnected,
		Configuring:      state == domain.SessionConfiguring,
		NodeResponsive:   state == domain.SessionConnected || state == domain.SessionConfiguring,
		UserDisconnected: state == domain.SessionUserDisconnected,
		LocalNodeNum:     s.session.LocalNode(),
	}
	if conn.LocalNodeNum != 0 {
		conn.LocalNodeID = domain.FormatNodeID(conn.LocalNodeNum)
	}
	if md := s.session.Metadata(); md != nil {
		conn.FirmwareVersion = md.FirmwareVersion
	}

	return conn
}

// MarkConversationRead moves the read watermark for one conversation key to
// now, so subsequent snapshots report it as caught up.
func (s *Service) MarkConversationRead(ctx context.Context, key string) error {
	return s.store.Messages.MarkConversationRead(ctx, key, time.Now())
}
