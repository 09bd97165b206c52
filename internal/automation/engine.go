package automation

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"meshmonitor/internal/bus"
	"meshmonitor/internal/config"
	"meshmonitor/internal/domain"
	"meshmonitor/internal/events"
	"meshmonitor/internal/meshproto"
	"meshmonitor/internal/persistence"
)

// MessageSender issues mesh messages on behalf of an automation.
type MessageSender interface {
	SendText(ctx context.Context, channel int, to domain.NodeNum, text string) (domain.Message, error)
	SendReaction(ctx context.Context, channel int, to domain.NodeNum, emoji string, replyID uint32) (domain.Message, error)
}

// TracerouteIssuer starts route discoveries for the traceroute schedule.
type TracerouteIssuer interface {
	SendTraceroute(ctx context.Context, to domain.NodeNum, channel uint32) (uint32, error)
}

const tracerouteCursorKey = "automation.traceroute.cursor"

// Engine runs the reactive automations (auto-ack, responders, welcome) off
// the bus and the scheduled ones (announce, traceroute) off tickers. All
// outbound traffic goes through the injected sender interfaces.
type Engine struct {
	logger *slog.Logger
	bus    bus.MessageBus
	cfg    config.AutomationConfig
	store  *persistence.Store
	sender MessageSender
	tracer TracerouteIssuer

	localNode  func() domain.NodeNum
	maxNodeAge time.Duration

	ackPattern *regexp.Regexp
	responders []responderRule
	nameFilter *regexp.Regexp
}

type responderRule struct {
	pattern *regexp.Regexp
	reply   string
}

func New(logger *slog.Logger, b bus.MessageBus, cfg config.AutomationConfig, store *persistence.Store,
	sender MessageSender, tracer TracerouteIssuer, localNode func() domain.NodeNum, maxNodeAge time.Duration) (*Engine, error) {
	e := &Engine{
		logger:     logger,
		bus:        b,
		cfg:        cfg,
		store:      store,
		sender:     sender,
		tracer:     tracer,
		localNode:  localNode,
		maxNodeAge: maxNodeAge,
	}

	if cfg.AutoAck.Enabled {
		re, err := regexp.Compile(cfg.AutoAck.Pattern)
		if err != nil {
			return nil, fmt.Errorf("auto-ack pattern: %w", err)
		}
		e.ackPattern = re
	}
	for _, rule := range cfg.Responders {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("responder pattern %q: %w", rule.Pattern, err)
		}
		e.responders = append(e.responders, responderRule{pattern: re, reply: rule.Reply})
	}
	if f := cfg.Traceroute.Filter; f.ByNameRegex {
		re, err := regexp.Compile(f.NameRegex)
		if err != nil {
			return nil, fmt.Errorf("traceroute name filter: %w", err)
		}
		e.nameFilter = re
	}

	return e, nil
}

func (e *Engine) Run(ctx context.Context) {
	messages := e.bus.Subscribe(events.TopicMessageSaved)
	nodes := e.bus.Subscribe(events.TopicNodeUpdated)
	defer e.bus.Unsubscribe(messages)
	defer e.bus.Unsubscribe(nodes)

	if e.cfg.Announce.Enabled {
		go e.runAnnounce(ctx)
	}
	if e.cfg.Traceroute.Enabled {
		go e.runScheduledTraceroute(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if ev, isSaved := msg.(events.MessageSaved); isSaved {
				e.handleMessage(ctx, ev)
			}
		case msg, ok := <-nodes:
			if !ok {
				return
			}
			if ev, isNode := msg.(events.NodeUpdated); isNode {
				e.handleNode(ctx, ev)
			}
		}
	}
}

func (e *Engine) handleMessage(ctx context.Context, ev events.MessageSaved) {
	msg := ev.Message
	if msg == nil || ev.IsUpdate || msg.IsLocal || msg.Emoji {
		return
	}

	if e.ackPattern != nil && e.ackPattern.MatchString(msg.Text) {
		e.autoAck(ctx, *msg)

		return
	}

	for _, rule := range e.responders {
		if rule.pattern.MatchString(msg.Text) {
			e.replyTo(ctx, *msg, rule.reply, "")

			return
		}
	}
}

// autoAck answers after a settle delay, so the reply does not collide with
// the sender's own retransmissions.
func (e *Engine) autoAck(ctx context.Context, msg domain.Message) {
	if e.cfg.AutoAck.SkipIncompleteNodes && !e.senderHasName(ctx, msg.FromNodeID) {
		e.logger.Debug("auto-ack skipped, sender has no name", "from", msg.FromNodeID)

		return
	}

	delay := time.Duration(e.cfg.AutoAck.DelaySeconds) * time.Second
	go func() {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		e.replyTo(ctx, msg, e.cfg.AutoAck.ReplyText, e.cfg.AutoAck.TapbackEmoji)
	}()
}

// replyTo answers on the message's own conversation: the channel for
// broadcasts, a DM back to the sender otherwise.
func (e *Engine) replyTo(ctx context.Context, msg domain.Message, text, emoji string) {
	channel := msg.Channel
	var to domain.NodeNum
	if channel == domain.DirectChannel {
		num, err := domain.ParseNodeID(msg.FromNodeID)
		if err != nil {
			e.logger.Warn("reply skipped, bad sender id", "from", msg.FromNodeID, "error", err)

			return
		}
		to = num
	}

	if emoji != "" {
		if _, err := e.sender.SendReaction(ctx, channel, to, emoji, msg.MessageID); err != nil {
			e.logger.Warn("auto reaction failed", "error", err)
		}
	}
	if text != "" {
		if _, err := e.sender.SendText(ctx, channel, to, text); err != nil {
			e.logger.Warn("auto reply failed", "error", err)
		}
	}
}

func (e *Engine) senderHasName(ctx context.Context, nodeID string) bool {
	node, err := e.store.Nodes.GetByNodeID(ctx, nodeID)
	if err != nil || node == nil {
		return false
	}

	return node.LongName != ""
}

// handleNode runs the welcome automation. MarkWelcomedIfNotAlready elects a
// single winner, so concurrent updates for the same node greet at most once.
func (e *Engine) handleNode(ctx context.Context, ev events.NodeUpdated) {
	if !e.cfg.Welcome.Enabled || ev.Node == nil {
		return
	}
	node := ev.Node
	if node.NodeNum == e.localNode() || node.IsIgnored {
		return
	}
	if e.cfg.Welcome.WaitForName && node.LongName == "" {
		return
	}
	if e.cfg.Welcome.MaxHops > 0 && node.HopsAway != nil && int(*node.HopsAway) > e.cfg.Welcome.MaxHops {
		return
	}

	won, err := e.store.Nodes.MarkWelcomedIfNotAlready(ctx, node.NodeNum)
	if err != nil {
		e.logger.Warn("welcome mark failed", "node", node.NodeID, "error", err)

		return
	}
	if !won {
		return
	}

	text := strings.ReplaceAll(e.cfg.Welcome.Message, "{name}", node.LongName)
	if text == "" {
		return
	}
	if _, err := e.sender.SendText(ctx, domain.DirectChannel, node.NodeNum, text); err != nil {
		e.logger.Warn("welcome message failed", "node", node.NodeID, "error", err)
	}
	e.logger.Info("welcomed node", "node", node.NodeID, "name", node.LongName)
}

func (e *Engine) runAnnounce(ctx context.Context) {
	interval := time.Duration(e.cfg.Announce.IntervalMinutes) * time.Minute
	if e.cfg.Announce.OnStartup {
		e.announce(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.announce(ctx)
		}
	}
}

func (e *Engine) announce(ctx context.Context) {
	if e.cfg.Announce.Message == "" {
		return
	}
	if _, err := e.sender.SendText(ctx, e.cfg.Announce.Channel, domain.BroadcastNodeNum, e.cfg.Announce.Message); err != nil {
		e.logger.Warn("announce failed", "error", err)
	}
}

func (e *Engine) runScheduledTraceroute(ctx context.Context) {
	interval := time.Duration(e.cfg.Traceroute.IntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.issueNextTraceroute(ctx)
		}
	}
}

// issueNextTraceroute walks the filtered candidate pool round-robin, keeping
// its cursor in the settings table so restarts continue the rotation.
func (e *Engine) issueNextTraceroute(ctx context.Context) {
	target, ok := e.nextTracerouteTarget(ctx)
	if !ok {
		e.logger.Debug("traceroute schedule found no candidates")

		return
	}

	if _, err := e.tracer.SendTraceroute(ctx, target, 0); err != nil {
		e.logger.Warn("scheduled traceroute failed", "node", domain.FormatNodeID(target), "error", err)

		return
	}
	e.logger.Info("scheduled traceroute issued", "node", domain.FormatNodeID(target))
	if err := e.store.Settings.Set(ctx, tracerouteCursorKey, domain.FormatNodeID(target)); err != nil {
		e.logger.Warn("traceroute cursor save failed", "error", err)
	}
}

func (e *Engine) nextTracerouteTarget(ctx context.Context) (domain.NodeNum, bool) {
	nodes, err := e.store.Nodes.ListActive(ctx, e.maxNodeAge)
	if err != nil {
		e.logger.Warn("traceroute candidate query failed", "error", err)

		return 0, false
	}

	local := e.localNode()
	var pool []domain.Node
	for _, n := range nodes {
		if n.NodeNum == local || n.IsIgnored {
			continue
		}
		if e.matchesTracerouteFilter(n) {
			pool = append(pool, n)
		}
	}
	if len(pool) == 0 {
		return 0, false
	}

	cursor, _, err := e.store.Settings.Get(ctx, tracerouteCursorKey)
	if err != nil {
		e.logger.Warn("traceroute cursor read failed", "error", err)
	}
	for i, n := range pool {
		if n.NodeID == cursor {
			return pool[(i+1)%len(pool)].NodeNum, true
		}
	}

	return pool[0].NodeNum, true
}

// matchesTracerouteFilter applies every enabled filter; a node must pass all
// of them.
func (e *Engine) matchesTracerouteFilter(n domain.Node) bool {
	f := e.cfg.Traceroute.Filter

	if f.ByChannel {
		if n.Channel == nil || !containsInt(f.Channels, int(*n.Channel)) {
			return false
		}
	}
	if f.ByRole && !containsString(roleStrings(f.Roles), n.Role) {
		return false
	}
	if f.ByHwModel && !containsString(hwStrings(f.HwModels), n.HwModel) {
		return false
	}
	if f.ByNameRegex && e.nameFilter != nil && !e.nameFilter.MatchString(n.LongName) {
		return false
	}
	if f.ByNodeSet && !containsString(f.NodeIDs, n.NodeID) {
		return false
	}

	return true
}

// Stored nodes carry role and hardware as enum names; the filter config
// carries wire numbers.
func roleStrings(nums []uint32) []string {
	out := make([]string, len(nums))
	for i, n := range nums {
		out[i] = meshproto.RoleName(n)
	}

	return out
}

func hwStrings(nums []uint32) []string {
	out := make([]string, len(nums))
	for i, n := range nums {
		out[i] = meshproto.HardwareModelName(n)
	}

	return out
}

func containsInt(vals []int, v int) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}

	return false
}

func containsString(vals []string, v string) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}

	return false
}
