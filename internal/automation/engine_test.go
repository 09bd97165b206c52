package automation

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"meshmonitor/internal/bus"
	"meshmonitor/internal/config"
	"meshmonitor/internal/domain"
	"meshmonitor/internal/events"
	"meshmonitor/internal/persistence"
)

type sentText struct {
	channel int
	to      domain.NodeNum
	text    string
}

type sentReaction struct {
	channel int
	to      domain.NodeNum
	emoji   string
	replyID uint32
}

type fakeSender struct {
	mu        sync.Mutex
	texts     []sentText
	reactions []sentReaction
	routes    []domain.NodeNum
}

func (f *fakeSender) SendText(_ context.Context, channel int, to domain.NodeNum, text string) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, sentText{channel: channel, to: to, text: text})

	return domain.Message{Text: text}, nil
}

func (f *fakeSender) SendReaction(_ context.Context, channel int, to domain.NodeNum, emoji string, replyID uint32) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, sentReaction{channel: channel, to: to, emoji: emoji, replyID: replyID})

	return domain.Message{}, nil
}

func (f *fakeSender) SendTraceroute(_ context.Context, to domain.NodeNum, _ uint32) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes = append(f.routes, to)

	return uint32(len(f.routes)), nil
}

func (f *fakeSender) textCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.texts)
}

func (f *fakeSender) lastText() sentText {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.texts[len(f.texts)-1]
}

func newTestEngine(t *testing.T, cfg config.AutomationConfig) (*Engine, *fakeSender, *persistence.Store) {
	t.Helper()
	logger := slog.Default()
	store, err := persistence.NewStore(context.Background(), filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	sender := &fakeSender{}
	engine, err := New(logger, bus.New(logger), cfg, store, sender, sender, func() domain.NodeNum { return 1 }, 24*time.Hour)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	return engine, sender, store
}

func seedNode(t *testing.T, store *persistence.Store, n domain.Node) domain.Node {
	t.Helper()
	if n.NodeID == "" {
		n.NodeID = domain.FormatNodeID(n.NodeNum)
	}
	if n.LastHeard.IsZero() {
		n.LastHeard = time.Now()
	}
	if err := store.Nodes.Upsert(context.Background(), n); err != nil {
		t.Fatalf("seed node: %v", err)
	}

	return n
}

func incomingText(from domain.NodeNum, channel int, text string) events.MessageSaved {
	return events.MessageSaved{Message: &domain.Message{
		MessageID:  100,
		FromNodeID: domain.FormatNodeID(from),
		ToNodeID:   domain.FormatNodeID(domain.BroadcastNodeNum),
		Channel:    channel,
		Text:       text,
		Timestamp:  time.Now(),
	}}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAutoAckRepliesOnSameChannel(t *testing.T) {
	cfg := config.AutomationConfig{AutoAck: config.AutoAckConfig{
		Enabled:      true,
		Pattern:      `(?i)^ping\b`,
		ReplyText:    "pong",
		TapbackEmoji: "\U0001F44D",
	}}
	engine, sender, _ := newTestEngine(t, cfg)

	engine.handleMessage(context.Background(), incomingText(0x42, 2, "ping from the hill"))

	waitFor(t, "auto-ack reply", func() bool { return sender.textCount() == 1 })
	if got := sender.lastText(); got.channel != 2 || got.text != "pong" {
		t.Fatalf("reply = %+v", got)
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.reactions) != 1 || sender.reactions[0].replyID != 100 {
		t.Fatalf("reactions = %+v", sender.reactions)
	}
}

func TestAutoAckAnswersDMToSender(t *testing.T) {
	cfg := config.AutomationConfig{AutoAck: config.AutoAckConfig{
		Enabled:   true,
		Pattern:   `^test$`,
		ReplyText: "copy",
	}}
	engine, sender, _ := newTestEngine(t, cfg)

	ev := incomingText(0x42, domain.DirectChannel, "test")
	engine.handleMessage(context.Background(), ev)

	waitFor(t, "dm reply", func() bool { return sender.textCount() == 1 })
	if got := sender.lastText(); got.channel != domain.DirectChannel || got.to != 0x42 {
		t.Fatalf("reply = %+v", got)
	}
}

func TestAutoAckSkipsUnnamedSender(t *testing.T) {
	cfg := config.AutomationConfig{AutoAck: config.AutoAckConfig{
		Enabled:             true,
		Pattern:             `^ping$`,
		ReplyText:           "pong",
		SkipIncompleteNodes: true,
	}}
	engine, sender, store := newTestEngine(t, cfg)
	seedNode(t, store, domain.Node{NodeNum: 0x42})

	engine.handleMessage(context.Background(), incomingText(0x42, 0, "ping"))

	time.Sleep(100 * time.Millisecond)
	if sender.textCount() != 0 {
		t.Fatal("replied to unnamed sender")
	}
}

func TestAutoAckIgnoresLocalAndUpdates(t *testing.T) {
	cfg := config.AutomationConfig{AutoAck: config.AutoAckConfig{
		Enabled:   true,
		Pattern:   `^ping$`,
		ReplyText: "pong",
	}}
	engine, sender, _ := newTestEngine(t, cfg)

	local := incomingText(0x42, 0, "ping")
	local.Message.IsLocal = true
	engine.handleMessage(context.Background(), local)

	update := incomingText(0x42, 0, "ping")
	update.IsUpdate = true
	engine.handleMessage(context.Background(), update)

	time.Sleep(100 * time.Millisecond)
	if sender.textCount() != 0 {
		t.Fatal("replied to local or update events")
	}
}

func TestResponderRuleMatches(t *testing.T) {
	cfg := config.AutomationConfig{Responders: []config.ResponderRule{
		{Pattern: `(?i)weather`, Reply: "sunny on the ridge"},
	}}
	engine, sender, _ := newTestEngine(t, cfg)

	engine.handleMessage(context.Background(), incomingText(0x42, 0, "any weather up there?"))

	waitFor(t, "responder reply", func() bool { return sender.textCount() == 1 })
	if got := sender.lastText(); got.text != "sunny on the ridge" {
		t.Fatalf("reply = %+v", got)
	}
}

func TestWelcomeGreetsOnce(t *testing.T) {
	cfg := config.AutomationConfig{Welcome: config.AutoWelcomeConfig{
		Enabled:     true,
		Message:     "Welcome to the mesh, {name}!",
		WaitForName: true,
		MaxHops:     3,
	}}
	engine, sender, store := newTestEngine(t, cfg)
	node := seedNode(t, store, domain.Node{NodeNum: 0x42, LongName: "Hilltop"})

	ev := events.NodeUpdated{Node: &node}
	engine.handleNode(context.Background(), ev)
	engine.handleNode(context.Background(), ev)

	if sender.textCount() != 1 {
		t.Fatalf("welcome sent %d times, want 1", sender.textCount())
	}
	got := sender.lastText()
	if got.channel != domain.DirectChannel || got.to != 0x42 {
		t.Fatalf("welcome target = %+v", got)
	}
	if got.text != "Welcome to the mesh, Hilltop!" {
		t.Fatalf("welcome text = %q", got.text)
	}
}

func TestWelcomeWaitsForName(t *testing.T) {
	cfg := config.AutomationConfig{Welcome: config.AutoWelcomeConfig{
		Enabled:     true,
		Message:     "hello",
		WaitForName: true,
	}}
	engine, sender, store := newTestEngine(t, cfg)
	node := seedNode(t, store, domain.Node{NodeNum: 0x42})

	engine.handleNode(context.Background(), events.NodeUpdated{Node: &node})
	if sender.textCount() != 0 {
		t.Fatal("welcomed a node without a name")
	}

	// The name arrives later; the node is still unwelcomed.
	node.LongName = "Hilltop"
	seedNode(t, store, node)
	engine.handleNode(context.Background(), events.NodeUpdated{Node: &node})
	if sender.textCount() != 1 {
		t.Fatalf("welcome sent %d times after name arrived, want 1", sender.textCount())
	}
}

func TestWelcomeRespectsMaxHops(t *testing.T) {
	cfg := config.AutomationConfig{Welcome: config.AutoWelcomeConfig{
		Enabled: true,
		Message: "hello",
		MaxHops: 2,
	}}
	engine, sender, store := newTestEngine(t, cfg)

	far := uint32(5)
	node := seedNode(t, store, domain.Node{NodeNum: 0x42, LongName: "Distant", HopsAway: &far})

	engine.handleNode(context.Background(), events.NodeUpdated{Node: &node})
	if sender.textCount() != 0 {
		t.Fatal("welcomed a node beyond the hop limit")
	}
}

func TestScheduledTracerouteRotatesPool(t *testing.T) {
	cfg := config.AutomationConfig{Traceroute: config.ScheduledTracerouteConfig{
		Enabled:         true,
		IntervalMinutes: 60,
	}}
	engine, sender, store := newTestEngine(t, cfg)

	seedNode(t, store, domain.Node{NodeNum: 0x10, LongName: "A"})
	seedNode(t, store, domain.Node{NodeNum: 0x20, LongName: "B"})
	seedNode(t, store, domain.Node{NodeNum: 1, LongName: "Local"})

	ctx := context.Background()
	engine.issueNextTraceroute(ctx)
	engine.issueNextTraceroute(ctx)
	engine.issueNextTraceroute(ctx)

	sender.mu.Lock()
	routes := append([]domain.NodeNum(nil), sender.routes...)
	sender.mu.Unlock()

	if len(routes) != 3 {
		t.Fatalf("issued %d traceroutes, want 3", len(routes))
	}
	for _, num := range routes {
		if num == 1 {
			t.Fatal("scheduled traceroute targeted the local node")
		}
	}
	if routes[0] == routes[1] && routes[1] == routes[2] {
		t.Fatalf("rotation stuck on %08x", routes[0])
	}
}

func TestTracerouteFilterByNodeSet(t *testing.T) {
	cfg := config.AutomationConfig{Traceroute: config.ScheduledTracerouteConfig{
		Enabled:         true,
		IntervalMinutes: 60,
		Filter: config.TracerouteFilterConfig{
			ByNodeSet: true,
			NodeIDs:   []string{domain.FormatNodeID(0x20)},
		},
	}}
	engine, sender, store := newTestEngine(t, cfg)

	seedNode(t, store, domain.Node{NodeNum: 0x10, LongName: "A"})
	seedNode(t, store, domain.Node{NodeNum: 0x20, LongName: "B"})

	ctx := context.Background()
	engine.issueNextTraceroute(ctx)
	engine.issueNextTraceroute(ctx)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.routes) != 2 {
		t.Fatalf("issued %d traceroutes, want 2", len(sender.routes))
	}
	for _, num := range sender.routes {
		if num != 0x20 {
			t.Fatalf("filter admitted %08x", num)
		}
	}
}

func TestTracerouteFilterByNameRegex(t *testing.T) {
	cfg := config.AutomationConfig{Traceroute: config.ScheduledTracerouteConfig{
		Enabled:         true,
		IntervalMinutes: 60,
		Filter: config.TracerouteFilterConfig{
			ByNameRegex: true,
			NameRegex:   `^Relay`,
		},
	}}
	engine, sender, store := newTestEngine(t, cfg)

	seedNode(t, store, domain.Node{NodeNum: 0x10, LongName: "Relay North"})
	seedNode(t, store, domain.Node{NodeNum: 0x20, LongName: "Base Camp"})

	engine.issueNextTraceroute(context.Background())

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.routes) != 1 || sender.routes[0] != 0x10 {
		t.Fatalf("routes = %v, want only the relay", sender.routes)
	}
}
