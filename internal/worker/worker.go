package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/faceit-mod/chatfleet/internal/apitypes"
	"github.com/faceit-mod/chatfleet/internal/backoff"
	"github.com/faceit-mod/chatfleet/internal/config"
	"github.com/faceit-mod/chatfleet/internal/dataplaneclient"
	"github.com/faceit-mod/chatfleet/internal/moderation"
)

// workerState names the nodes of the state machine in spec §4.1.
type workerState string

const (
	stateInit          workerState = "init"
	stateFetchingCreds workerState = "fetchingCreds"
	stateConnecting    workerState = "connecting"
	stateOnline        workerState = "online"
	stateDraining      workerState = "draining"
	stateOffline       workerState = "offline"
	stateBackoff       workerState = "backoff"
	stateTerminalExit  workerState = "terminalExit"
)

// Worker owns one bot identity's full session lifecycle (spec §4.1): the
// upstream WebSocket, the outgoing queue, the entity map, and the
// moderation pipeline run against inbound groupchat messages. This state is
// touched from several goroutines: Run, the session read loop, the queue and
// reconcile tickers, the watchdog callbacks and the HTTP control surface.
// EntityStore, OutgoingQueue and ProfanityState each guard themselves with
// their own lock; the remaining mutable fields are guarded by mu. No single
// lock covers the whole state.
type Worker struct {
	cfg       *config.WorkerConfig
	dataPlane *dataplaneclient.Client
	authHTTP  *http.Client

	entities  *EntityStore
	queue     *OutgoingQueue
	watchdog  *Watchdog
	reconnect *backoff.ReconnectPolicy

	profanity *moderation.ProfanityState
	pipeline  *moderation.Pipeline
	admin     *moderation.AdminClient
	webhook   *moderation.WebhookNotifier

	mu           sync.Mutex
	state        workerState
	session      *Session
	botConfig    apitypes.BotConfig
	forceRefresh bool
	shuttingDown bool

	exitOnce sync.Once
	exitNow  chan struct{}
	done     chan struct{}
}

// New wires a Worker for one bot identity.
func New(cfg *config.WorkerConfig, dataPlane *dataplaneclient.Client) *Worker {
	admin := moderation.NewAdminClient(cfg.ChatAdminURL, cfg.HTTPTimeout)
	admin.SetRaceDelay(cfg.DeleteRaceDelay)

	w := &Worker{
		cfg:          cfg,
		dataPlane:    dataPlane,
		authHTTP:     &http.Client{Timeout: cfg.HTTPTimeout},
		entities:     NewEntityStore(cfg.UnassignDebounce),
		queue:        NewOutgoingQueue(),
		reconnect:    backoff.NewReconnectPolicy(),
		profanity:    moderation.NewProfanityState(),
		admin:        admin,
		webhook:      moderation.NewWebhookNotifier(),
		state:   stateInit,
		exitNow: make(chan struct{}),
		done:    make(chan struct{}),
	}
	w.pipeline = moderation.NewPipeline(w.profanity, w.admin, w.webhook, cfg.ReadOnlyMuteDuration, GroupchatMessageStanza)
	w.watchdog = NewWatchdog(cfg, w.onStaleReception, w.onStaleProcess, w.onMemoryCleanup)
	return w
}

func (w *Worker) setState(s workerState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) currentState() workerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) isShuttingDown() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shuttingDown
}

// Run drives the worker's state machine until shutdown is requested, then
// drains and returns. The returned error is non-nil only for unrecoverable
// conditions the caller (cmd/worker) should translate into a non-zero exit
// status (spec §7 Fatal/Unrecoverable).
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.done)
	w.watchdog.Start()
	defer w.watchdog.Stop()

	go w.runQueueTicker(ctx)
	go w.runReconcileTicker(ctx)

	for {
		if w.isShuttingDown() {
			w.drain()
			return nil
		}

		select {
		case <-ctx.Done():
			w.drain()
			return nil
		default:
		}

		w.setState(stateFetchingCreds)
		if err := w.connectOnce(ctx); err != nil {
			slog.Warn("worker: connect attempt failed", "error", err)
			w.setState(stateOffline)

			delay, circuitOpen := w.reconnect.RecordFailure()
			if circuitOpen {
				slog.Error("worker: reconnection circuit open, exiting", "attempts", w.reconnect.Snapshot().Attempts)
				return fmt.Errorf("worker: reconnection circuit open after repeated failures")
			}

			w.setState(stateBackoff)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				w.drain()
				return nil
			case <-w.exitNow:
				w.drain()
				return nil
			}
			continue
		}

		w.reconnect.Reset()
		w.setState(stateOnline)

		// Block here until the session ends (remote close, transport error,
		// watchdog-triggered reconnect, or shutdown), then loop back to
		// FetchingCreds for the next attempt.
		w.waitForSessionEnd(ctx)
	}
}

// drain implements the Draining state: stop the session with a bounded
// wait, per spec §5's 5s WebSocket close bound.
func (w *Worker) drain() {
	w.setState(stateDraining)
	w.mu.Lock()
	session := w.session
	w.session = nil
	w.mu.Unlock()
	if session != nil {
		session.Close(w.cfg.ShutdownWSCloseWait)
	}
	w.setState(stateTerminalExit)
}

func (w *Worker) waitForSessionEnd(ctx context.Context) {
	w.mu.Lock()
	session := w.session
	w.mu.Unlock()
	if session == nil {
		return
	}
	select {
	case <-session.readDone:
	case <-ctx.Done():
	case <-w.exitNow:
	}
}

// connectOnce implements spec §4.1.1's session establishment contract.
func (w *Worker) connectOnce(ctx context.Context) error {
	w.mu.Lock()
	prior := w.session
	w.session = nil
	forceRefresh := w.forceRefresh
	w.mu.Unlock()
	if prior != nil {
		prior.Close(time.Second)
	}

	botConfig, err := w.dataPlane.BotConfig(ctx, w.cfg.BotID, forceRefresh)
	if err != nil {
		return fmt.Errorf("fetch bot config: %w", err)
	}
	w.mu.Lock()
	w.botConfig = botConfig
	w.forceRefresh = false
	w.mu.Unlock()

	chatToken, err := w.exchangeChatToken(ctx, botConfig)
	if err != nil {
		return fmt.Errorf("exchange chat session credential: %w", err)
	}

	w.setState(stateConnecting)
	session, err := Dial(ctx, w.cfg.WebSocketURL, botConfig.BotGUID, w.cfg.ChatDomain, chatToken, w.cfg.BotID, w.handleInbound, w.onSessionClosed)
	if err != nil {
		return fmt.Errorf("dial upstream: %w", err)
	}

	w.mu.Lock()
	w.session = session
	w.mu.Unlock()

	for _, id := range w.entities.idsSnapshot() {
		cfg, ok := w.entities.Get(id)
		if !ok {
			continue
		}
		w.queue.Enqueue(id, MUCLightConfigQueryStanza(MUCLightJID(cfg, w.cfg.MUCDomain)))
	}
	return nil
}

// idsSnapshot is a small convenience wrapper over EntityStore.IDs returning
// a slice instead of a set, used where iteration order doesn't matter.
func (s *EntityStore) idsSnapshot() []string {
	ids := s.IDs()
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out
}

type chatTokenResponse struct {
	ChatToken string `json:"chatToken"`
}

// exchangeChatToken implements spec §4.1.1 step 3: exchange the bot's
// access credential for a short-lived chat-session credential.
func (w *Worker) exchangeChatToken(ctx context.Context, botConfig apitypes.BotConfig) (string, error) {
	body, err := json.Marshal(map[string]string{
		"accountGuid": botConfig.BotGUID,
		"accessToken": botConfig.BotToken,
	})
	if err != nil {
		return "", fmt.Errorf("marshal token exchange body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.AuthURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build token exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.authHTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token exchange: status %d: %s", resp.StatusCode, string(respBody))
	}

	var out chatTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode token exchange response: %w", err)
	}
	if out.ChatToken == "" {
		return "", fmt.Errorf("token exchange: missing chatToken")
	}
	return out.ChatToken, nil
}

// onSessionClosed is Session's onClosed callback. An AuthExpired condition
// (not-authorized) forces the next attempt's bot-config fetch to bypass the
// data-plane's refresh rate limit (spec §7).
func (w *Worker) onSessionClosed(err error) {
	if err != nil && strings.Contains(err.Error(), "not-authorized") {
		w.mu.Lock()
		w.forceRefresh = true
		w.mu.Unlock()
	}
	slog.Warn("worker: session closed", "error", err)
}

func (w *Worker) onStaleReception() {
	w.mu.Lock()
	session := w.session
	w.mu.Unlock()
	if session != nil {
		session.Close(time.Second)
	}
}

func (w *Worker) onStaleProcess() {
	slog.Error("worker: process watchdog tripped, exiting")
	w.requestExit()
}

// requestExit closes exitNow exactly once, safe to call from the watchdog's
// goroutine and the HTTP control surface alike.
func (w *Worker) requestExit() {
	w.exitOnce.Do(func() { close(w.exitNow) })
}

func (w *Worker) onMemoryCleanup(now time.Time) {
	w.entities.PruneRecentlyUnassigned(now)
}

// runQueueTicker pops the outgoing queue at QueueTickInterval and sends
// while the session is online, dropping entries addressed to a suppressed
// entity (spec §4.1.2).
func (w *Worker) runQueueTicker(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.QueueTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.exitNow:
			return
		case now := <-ticker.C:
			item, ok := w.queue.Pop()
			if !ok {
				continue
			}
			if item.entityID != "" && w.entities.IsSuppressed(item.entityID, now) {
				continue
			}
			w.mu.Lock()
			session := w.session
			w.mu.Unlock()
			if session == nil {
				continue
			}
			if err := session.Send(item.payload); err != nil {
				slog.Warn("worker: send failed, dropping stanza", "error", err)
			}
		}
	}
}

// runReconcileTicker drives the periodic room-set reconciliation of spec
// §4.1.4.
func (w *Worker) runReconcileTicker(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.exitNow:
			return
		case <-ticker.C:
			w.reconcile(ctx)
		}
	}
}

func (w *Worker) reconcile(ctx context.Context) {
	authoritative, err := w.dataPlane.BotEntities(ctx, w.cfg.BotID)
	if err != nil {
		slog.Error("worker: reconcile fetch failed", "error", err)
		return
	}

	// Reconcile deletes unassigned entities from the store, so the
	// presence-group JID to unsubscribe from has to be captured first.
	presenceGroups := make(map[string]string)
	for id := range w.entities.IDs() {
		if pg, ok := w.entities.PresenceGroup(id); ok {
			presenceGroups[id] = pg
			continue
		}
		if cfg, ok := w.entities.Get(id); ok {
			presenceGroups[id] = fmt.Sprintf("%s/%s", SupergroupJID(cfg, w.cfg.SupergroupDomain), PresenceGroupPath(cfg))
		}
	}

	result := w.entities.Reconcile(authoritative, time.Now())
	for _, cfg := range result.Assigned {
		w.configureModeration(ctx, cfg)
		w.queue.Enqueue(cfg.GUID, MUCLightConfigQueryStanza(MUCLightJID(cfg, w.cfg.MUCDomain)))
	}
	for _, id := range result.Unassigned {
		w.profanity.Drop(id)
		if pg, ok := presenceGroups[id]; ok {
			w.queue.Enqueue(id, SupergroupSubscribeStanza(pg, false))
		}
	}
}

// configureModeration fetches this entity's profanity config and wires it
// into ProfanityState, filtering custom words to invariant M3's shape
// before they ever reach the matcher (spec §4.3 M3, §7 ConfigMalformed).
func (w *Worker) configureModeration(ctx context.Context, cfg apitypes.EntityConfig) {
	profCfg, err := w.dataPlane.ProfanityConfig(ctx, cfg.GUID)
	if err != nil {
		slog.Error("worker: fetch profanity config failed", "entity", cfg.GUID, "error", err)
		return
	}
	profCfg.CustomWords = filterValidWords(profCfg.CustomWords)

	fetchPreset := func() (apitypes.Preset, error) {
		preset, err := w.dataPlane.ProfanityPreset(ctx, profCfg.PresetID)
		if err != nil {
			return apitypes.Preset{}, err
		}
		preset.Words = filterValidWords(preset.Words)
		return preset, nil
	}
	if err := w.profanity.Configure(cfg.GUID, profCfg, fetchPreset); err != nil {
		slog.Error("worker: configure moderation failed", "entity", cfg.GUID, "error", err)
	}
}

func filterValidWords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, word := range words {
		if moderation.ValidateWord(word) {
			out = append(out, word)
		}
	}
	return out
}

// handleInbound implements spec §4.2's classification switch. It is
// invoked from Session's read loop goroutine, so it must not mutate Worker
// state without going through the store/queue's own locks.
func (w *Worker) handleInbound(s Stanza) {
	switch s.Kind {
	case KindIQGetPing:
		w.watchdog.RecordActivity(time.Now())
		w.queue.Enqueue("", PingResultStanza(s.From, s.ID))

	case KindIQResultMUCLightConfig:
		entityID := w.entityIDForRoomJID(s.From)
		if entityID == "" {
			return
		}
		cfg, ok := w.entities.Get(entityID)
		if !ok {
			return
		}
		presenceGroupJID := fmt.Sprintf("%s/%s", SupergroupJID(cfg, w.cfg.SupergroupDomain), PresenceGroupPath(cfg))
		w.entities.SetPresenceGroup(entityID, presenceGroupJID)
		w.queue.Enqueue(entityID, SupergroupSubscribeStanza(presenceGroupJID, true))

	case KindIQErrorEntityGone:
		w.handleEntityGone(s.From)

	case KindIQGetOther:
		w.queue.Enqueue("", FeatureNotImplementedStanza(s.From, s.ID))

	case KindGroupchatMessage:
		w.handleGroupchatMessage(s)

	case KindPresenceMemberAdded:
		w.handlePresenceMemberAdded(s)
	}
}

// entityIDForRoomJID reverse-looks-up which tracked entity a room JID
// belongs to. Stanzas only carry the JID, not the entity id, so this walks
// the (small, per-bot) entity set. roomJID may carry an occupant resource
// (room@domain/nickname, as MUC message/presence "from" addresses do); the
// resource is stripped before comparison.
func (w *Worker) entityIDForRoomJID(roomJID string) string {
	bare := bareJID(roomJID)
	for id := range w.entities.IDs() {
		cfg, ok := w.entities.Get(id)
		if !ok {
			continue
		}
		if MUCLightJID(cfg, w.cfg.MUCDomain) == bare {
			return id
		}
	}
	return ""
}

// bareJID strips the resource (the part after '/') from a full JID.
func bareJID(jid string) string {
	if slash := strings.IndexByte(jid, '/'); slash >= 0 {
		return jid[:slash]
	}
	return jid
}

// resourceOf returns the resource part of a full JID (the occupant
// nickname, for MUC "from" addresses), or "" if there is none.
func resourceOf(jid string) string {
	if slash := strings.IndexByte(jid, '/'); slash >= 0 {
		return jid[slash+1:]
	}
	return ""
}

func (w *Worker) handleEntityGone(roomJID string) {
	id := w.entityIDForRoomJID(roomJID)
	if id == "" {
		return
	}
	w.entities.MarkNonExistent(id)
	w.profanity.Drop(id)
	if err := w.dataPlane.MarkEntityStatus(context.Background(), id, "inactive"); err != nil {
		slog.Error("worker: mark entity inactive failed", "entity", id, "error", err)
	}
}

func (w *Worker) handleGroupchatMessage(s Stanza) {
	entityID := w.entityIDForRoomJID(s.From)
	if entityID == "" {
		return
	}
	cfg, ok := w.entities.Get(entityID)
	if !ok {
		return
	}

	authorGUID := resourceOf(s.From)
	if authorGUID == w.botGUID() {
		return
	}

	in := moderation.MessageInput{
		Entity:           cfg,
		MessageID:        s.ID,
		RoomJID:          bareJID(s.From),
		AuthorJID:        s.From,
		AuthorGUID:       authorGUID,
		BotGUID:          w.botGUID(),
		AccessCredential: w.accessCredential(),
	}
	w.pipeline.HandleGroupchatMessage(context.Background(), w.entities, w.queue, in, s.Body)
}

func (w *Worker) handlePresenceMemberAdded(s Stanza) {
	entityID := w.entityIDForRoomJID(s.From)
	if entityID == "" {
		return
	}
	cfg, ok := w.entities.Get(entityID)
	if !ok || cfg.WelcomeMessage == "" {
		return
	}
	w.queue.Enqueue(entityID, DirectMessageStanza(s.From, cfg.WelcomeMessage))
}

func (w *Worker) botGUID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.botConfig.BotGUID
}

func (w *Worker) accessCredential() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.botConfig.BotToken
}

// --- Control-surface operations (spec §6), called from httpserver.go ---

// AssignEntity implements POST /assign/:entityId.
func (w *Worker) AssignEntity(ctx context.Context, entityID string) error {
	cfg, err := w.dataPlane.EntityData(ctx, entityID)
	if err != nil {
		return fmt.Errorf("fetch entity data: %w", err)
	}
	w.entities.Assign(cfg)
	w.configureModeration(ctx, cfg)
	w.queue.Enqueue(cfg.GUID, MUCLightConfigQueryStanza(MUCLightJID(cfg, w.cfg.MUCDomain)))
	return nil
}

// UnassignEntity implements POST /unassign/:entityId. Mirrors reconcile's
// unassignment handling (spec §4.1.4, §6): the presence group has to be
// captured before Unassign removes the entity from the store, or there is
// nothing left to derive the unsubscribe stanza from.
func (w *Worker) UnassignEntity(entityID string) {
	pg, hasPG := w.entities.PresenceGroup(entityID)
	if !hasPG {
		if cfg, ok := w.entities.Get(entityID); ok {
			pg = fmt.Sprintf("%s/%s", SupergroupJID(cfg, w.cfg.SupergroupDomain), PresenceGroupPath(cfg))
			hasPG = true
		}
	}

	w.profanity.Drop(entityID)
	w.entities.Unassign(entityID, time.Now())

	if hasPG {
		w.queue.Enqueue(entityID, SupergroupSubscribeStanza(pg, false))
	}
}

// UpdateEntity implements POST /update/:entityId.
func (w *Worker) UpdateEntity(ctx context.Context, entityID string) error {
	cfg, err := w.dataPlane.EntityData(ctx, entityID)
	if err != nil {
		return fmt.Errorf("fetch entity data: %w", err)
	}
	if !w.entities.Update(cfg) {
		return fmt.Errorf("entity %s not tracked", entityID)
	}
	w.configureModeration(ctx, cfg)
	return nil
}

// RefreshPreset implements POST /refresh-preset/:presetId.
func (w *Worker) RefreshPreset(ctx context.Context, presetID string) error {
	return w.profanity.RefreshPreset(presetID, func() (apitypes.Preset, error) {
		preset, err := w.dataPlane.ProfanityPreset(ctx, presetID)
		if err != nil {
			return apitypes.Preset{}, err
		}
		preset.Words = filterValidWords(preset.Words)
		return preset, nil
	})
}

// ReconnectionState implements GET /reconnection-state.
func (w *Worker) ReconnectionState() map[string]any {
	snap := w.reconnect.Snapshot()
	return map[string]any{
		"state":       string(w.currentState()),
		"attempts":    snap.Attempts,
		"nextDelayMs": snap.NextDelay.Milliseconds(),
		"lastAttempt": snap.LastAttempt,
	}
}

// RequestExit implements POST /exit-process: set the shutdown flag so Run's
// loop drains and returns on its next check.
func (w *Worker) RequestExit() {
	w.mu.Lock()
	w.shuttingDown = true
	w.mu.Unlock()
	w.requestExit()
}

// Done is closed once Run has fully returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}
