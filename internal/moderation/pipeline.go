package moderation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/faceit-mod/chatfleet/internal/apitypes"
	"github.com/faceit-mod/chatfleet/internal/metrics"
)

// EntityCounter is the subset of worker.EntityStore the pipeline needs for
// stage C's per-entity message counter and timer cursor. Declared here
// (rather than importing the worker package) so moderation has no
// dependency on worker, even though worker.EntityStore satisfies it
// structurally.
type EntityCounter interface {
	IncrementMessageCount(entityID string) (count int, ok bool)
	ResetMessageCount(entityID string)
	AdvanceTimerCursor(entityID string, numTimers int) (cursor int, ok bool)
}

// OutboundQueue is the subset of worker.OutgoingQueue the pipeline needs to
// schedule a reply, timer, or command response.
type OutboundQueue interface {
	Enqueue(entityID, payload string)
}

// MessageInput is everything the pipeline needs about one inbound
// groupchat message to run stages A-D (spec §4.3).
type MessageInput struct {
	Entity           apitypes.EntityConfig
	MessageID        string
	RoomJID          string // MUC-Light JID the message arrived on
	AuthorJID        string // full from-JID, passed through to the delete call
	AuthorGUID       string // resource/local part identifying the sending account
	BotGUID          string // this worker's own account guid
	AccessCredential string // bearer token for the admin API
}

// Pipeline runs the ordered moderation stages of spec §4.3 against one
// inbound groupchat message, stopping at the first stage that takes an
// action.
type Pipeline struct {
	profanity *ProfanityState
	admin     *AdminClient
	webhook   *WebhookNotifier

	readOnlyMuteDuration time.Duration
	buildMessage         func(to, body, attachmentID string) string

	now func() time.Time
}

// NewPipeline wires a Pipeline. buildMessage constructs the wire payload
// for an outgoing groupchat message (the worker package's
// GroupchatMessageStanza), kept as an injected function so this package
// does not depend on worker's stanza encoding.
func NewPipeline(profanity *ProfanityState, admin *AdminClient, webhook *WebhookNotifier, readOnlyMuteDuration time.Duration, buildMessage func(to, body, attachmentID string) string) *Pipeline {
	return &Pipeline{
		profanity:            profanity,
		admin:                admin,
		webhook:              webhook,
		readOnlyMuteDuration: readOnlyMuteDuration,
		buildMessage:         buildMessage,
		now:                  time.Now,
	}
}

// HandleGroupchatMessage runs stages A-D against body for the message
// described by in, mutating counters and enqueueing outgoing stanzas onto
// queue as needed. It reports whether any stage took an action (P1: at
// most one action per violating message is a property of how each stage
// itself behaves, enforced by the early return here).
func (p *Pipeline) HandleGroupchatMessage(ctx context.Context, counters EntityCounter, queue OutboundQueue, in MessageInput, body string) bool {
	exempt := in.AuthorGUID == in.BotGUID || p.isManager(in)

	if acted := p.stageBannedWords(ctx, queue, in, body, exempt); acted {
		return true
	}
	if acted := p.stageReadOnly(ctx, in, exempt); acted {
		return true
	}
	if acted := p.stageTimerTick(counters, queue, in); acted {
		return true
	}
	return p.stageCommand(queue, in, body)
}

func (p *Pipeline) isManager(in MessageInput) bool {
	cfg, _, ok := p.profanity.Lookup(in.Entity.GUID)
	if !ok {
		return false
	}
	for _, guid := range cfg.ManagerGUIDs {
		if guid == in.AuthorGUID {
			return true
		}
	}
	return false
}

// stageBannedWords implements spec §4.3 Stage A.
func (p *Pipeline) stageBannedWords(ctx context.Context, queue OutboundQueue, in MessageInput, body string, exempt bool) bool {
	cfg, words, ok := p.profanity.Lookup(in.Entity.GUID)
	if !ok || exempt {
		return false
	}

	lowered := strings.ToLower(body)
	hit, matched := p.profanity.Match(in.Entity.GUID, lowered, words)
	if !matched {
		return false
	}

	slog.Info("moderation: banned word matched", "entity", in.Entity.GUID, "author", in.AuthorGUID, "word", hit,
		"delete", true, "mute", cfg.MuteDurationSeconds > 0, "webhook", cfg.WebhookURL != "", "reply", cfg.ReplyMessage != "")

	p.webhook.Notify(cfg.WebhookURL, cfg.WebhookMessage)
	if cfg.WebhookURL != "" {
		metrics.ModerationActionsTotal.WithLabelValues("bannedWords", "webhook").Inc()
	}
	if cfg.ReplyMessage != "" {
		queue.Enqueue(in.Entity.GUID, p.buildMessage(in.RoomJID, cfg.ReplyMessage, ""))
		metrics.ModerationActionsTotal.WithLabelValues("bannedWords", "reply").Inc()
	}

	if err := p.admin.DeleteMessage(ctx, in.AccessCredential, in.MessageID, in.AuthorJID, in.RoomJID); err != nil {
		slog.Warn("moderation: delete failed", "entity", in.Entity.GUID, "messageId", in.MessageID, "error", err)
	}
	metrics.ModerationActionsTotal.WithLabelValues("bannedWords", "delete").Inc()
	if cfg.MuteDurationSeconds > 0 {
		duration := time.Duration(cfg.MuteDurationSeconds) * time.Second
		if err := p.admin.MuteMember(ctx, in.AccessCredential, ClubID(in.Entity), in.AuthorGUID, duration, p.now()); err != nil {
			slog.Warn("moderation: mute failed", "entity", in.Entity.GUID, "author", in.AuthorGUID, "error", err)
		}
		metrics.ModerationActionsTotal.WithLabelValues("bannedWords", "mute").Inc()
	}
	return true
}

// stageReadOnly implements spec §4.3 Stage B.
func (p *Pipeline) stageReadOnly(ctx context.Context, in MessageInput, exempt bool) bool {
	if !in.Entity.ReadOnly || exempt {
		return false
	}

	slog.Info("moderation: read-only violation", "entity", in.Entity.GUID, "author", in.AuthorGUID, "delete", true, "mute", true)

	if err := p.admin.DeleteMessage(ctx, in.AccessCredential, in.MessageID, in.AuthorJID, in.RoomJID); err != nil {
		slog.Warn("moderation: read-only delete failed", "entity", in.Entity.GUID, "messageId", in.MessageID, "error", err)
	}
	metrics.ModerationActionsTotal.WithLabelValues("readOnly", "delete").Inc()
	if err := p.admin.MuteMember(ctx, in.AccessCredential, ClubID(in.Entity), in.AuthorGUID, p.readOnlyMuteDuration, p.now()); err != nil {
		slog.Warn("moderation: read-only mute failed", "entity", in.Entity.GUID, "author", in.AuthorGUID, "error", err)
	}
	metrics.ModerationActionsTotal.WithLabelValues("readOnly", "mute").Inc()
	return true
}

// stageTimerTick implements spec §4.3 Stage C.
func (p *Pipeline) stageTimerTick(counters EntityCounter, queue OutboundQueue, in MessageInput) bool {
	count, ok := counters.IncrementMessageCount(in.Entity.GUID)
	if !ok {
		return false
	}
	if count <= in.Entity.TimerCounterMax || len(in.Entity.Timers) == 0 {
		return false
	}

	cursor, ok := counters.AdvanceTimerCursor(in.Entity.GUID, len(in.Entity.Timers))
	if !ok {
		return false
	}
	timer := in.Entity.Timers[cursor]
	queue.Enqueue(in.Entity.GUID, p.buildMessage(in.RoomJID, timer.Message, timer.AttachmentID))
	counters.ResetMessageCount(in.Entity.GUID)
	return true
}

// stageCommand implements spec §4.3 Stage D.
func (p *Pipeline) stageCommand(queue OutboundQueue, in MessageInput, body string) bool {
	if !strings.HasPrefix(body, "!") {
		return false
	}
	trigger := strings.ToLower(strings.TrimPrefix(body, "!"))
	cmd, ok := in.Entity.Commands[trigger]
	if !ok {
		return false
	}
	queue.Enqueue(in.Entity.GUID, p.buildMessage(in.RoomJID, cmd.Response, cmd.AttachmentID))
	return true
}
