// Package hub implements the gateway's duplex socket server: the single
// place every connected module (voice client, UI, automation script)
// attaches to. It authenticates peers, tracks which module announced at
// which index, and fans event-dispatcher output back out to the socket.
package hub

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/FutureUnreal/WhaleWhisper/internal/eventcodec"
	"github.com/FutureUnreal/WhaleWhisper/internal/observe"
)

// EventDispatcher is the subset of *dispatcher.Dispatcher the hub depends
// on — kept as an interface so the hub can be exercised without a real
// memory/LLM-backed dispatcher in tests.
type EventDispatcher interface {
	Dispatch(ctx context.Context, env eventcodec.Envelope) []eventcodec.Envelope
}

// Hub is the gateway's socket server. One Hub serves every peer for the
// process lifetime.
type Hub struct {
	dispatcher EventDispatcher
	authToken  string
	logger     *slog.Logger

	mu      sync.RWMutex
	peers   map[string]*Peer
	modules *moduleRegistry
}

// New wires a Hub. An empty authToken disables the auth gate entirely —
// every connecting peer starts authenticated, matching the behavior of the
// system this gateway replaces when WS_AUTH_TOKEN is unset.
func New(dispatcher EventDispatcher, authToken string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		dispatcher: dispatcher,
		authToken:  authToken,
		logger:     logger,
		peers:      make(map[string]*Peer),
		modules:    newModuleRegistry(),
	}
}

// ServeHTTP upgrades the request to a websocket and runs the peer's read
// loop until the connection closes. It never returns an error to the HTTP
// layer — failures are reported over the socket itself where possible.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Error("hub: accept failed", "error", err)
		return
	}

	ctx := r.Context()
	peer := newPeer(uuid.NewString(), conn, h.authToken == "")
	h.addPeer(peer)
	observe.DefaultMetrics().RecordHubConnect(ctx)
	defer func() {
		h.removePeer(peer)
		observe.DefaultMetrics().RecordHubDisconnect(ctx)
	}()

	if peer.Authenticated() {
		h.send(ctx, peer, eventcodec.Make("module.authenticated", map[string]any{"authenticated": true}))
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		switch typ {
		case websocket.MessageText:
			h.handleText(ctx, peer, data)
		case websocket.MessageBinary:
			h.handleBytes(ctx, peer, data)
		}
	}
}

func (h *Hub) addPeer(peer *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[peer.ID] = peer
}

func (h *Hub) removePeer(peer *Peer) {
	h.mu.Lock()
	_, existed := h.peers[peer.ID]
	delete(h.peers, peer.ID)
	h.mu.Unlock()
	if !existed {
		return
	}
	h.modules.unregister(peer.Name(), peer.Index())
	peer.conn.Close(websocket.StatusNormalClosure, "")
}

// handleText parses one inbound text frame and either services it as a
// control message (authenticate/announce/ui.configure) or, once the peer is
// authenticated, hands it to the dispatcher and fans the results back out.
func (h *Hub) handleText(ctx context.Context, peer *Peer, raw []byte) {
	env, err := eventcodec.Parse(raw)
	if err != nil {
		h.send(ctx, peer, eventcodec.Make("error", map[string]any{"message": err.Error()}))
		return
	}

	switch env.Type {
	case "module.authenticate":
		h.handleAuthenticate(ctx, peer, env)
		return
	case "module.announce":
		h.handleAnnounce(ctx, peer, env)
		return
	case "ui.configure":
		h.handleUIConfigure(ctx, peer, env)
		return
	}

	if !peer.Authenticated() {
		h.send(ctx, peer, eventcodec.Make("error", map[string]any{"message": "not authenticated"}))
		return
	}

	if env.Source == "" && peer.Name() != "" {
		env.Source = peer.Name()
	}

	switch env.Type {
	case "input.voice.start":
		peer.setActiveVoiceSession(env.SessionID)
	case "input.voice.end":
		peer.setActiveVoiceSession("")
	}

	responses := h.dispatcher.Dispatch(ctx, env)
	if len(responses) > 0 {
		h.broadcast(ctx, responses, "")
	}
	h.broadcast(ctx, []eventcodec.Envelope{normalizeOutgoing(env)}, peer.ID)
}

// handleBytes routes a binary frame as an input.voice.chunk event scoped to
// whichever session the peer opened with input.voice.start. A peer that
// never called input.voice.start cannot send audio.
func (h *Hub) handleBytes(ctx context.Context, peer *Peer, chunk []byte) {
	if !peer.Authenticated() {
		h.send(ctx, peer, eventcodec.Make("error", map[string]any{"message": "not authenticated"}))
		return
	}

	sessionID := peer.activeVoiceSession()
	if sessionID == "" {
		h.send(ctx, peer, eventcodec.Make("error", map[string]any{"message": "input.voice.start required before audio chunks"}))
		return
	}

	env := eventcodec.Make("input.voice.chunk", map[string]any{"audio": chunk}, eventcodec.WithSessionID(sessionID), eventcodec.WithSource(peer.Name()))
	responses := h.dispatcher.Dispatch(ctx, env)
	if len(responses) > 0 {
		h.broadcast(ctx, responses, "")
	}
}

func (h *Hub) handleAuthenticate(ctx context.Context, peer *Peer, env eventcodec.Envelope) {
	token, _ := env.Data["token"].(string)
	if h.authToken != "" && token != h.authToken {
		observe.DefaultMetrics().RecordHubAuthFailure(ctx)
		h.send(ctx, peer, eventcodec.Make("error", map[string]any{"message": "invalid token"}))
		return
	}
	peer.setAuthenticated(true)
	h.send(ctx, peer, eventcodec.Make("module.authenticated", map[string]any{"authenticated": true}))
}

func (h *Hub) handleAnnounce(ctx context.Context, peer *Peer, env eventcodec.Envelope) {
	if h.authToken != "" && !peer.Authenticated() {
		h.send(ctx, peer, eventcodec.Make("error", map[string]any{"message": "must authenticate before announcing"}))
		return
	}

	name, _ := env.Data["name"].(string)
	if name == "" {
		h.send(ctx, peer, eventcodec.Make("error", map[string]any{"message": "module.announce requires non-empty name"}))
		return
	}

	var index *int
	if raw, ok := env.Data["index"]; ok && raw != nil {
		f, ok := raw.(float64)
		if !ok || f != float64(int(f)) {
			h.send(ctx, peer, eventcodec.Make("error", map[string]any{"message": "module.announce index must be an integer"}))
			return
		}
		i := int(f)
		index = &i
	}

	h.modules.unregister(peer.Name(), peer.Index())
	peer.setIdentity(name, index)
	h.modules.register(name, index, peer)
}

func (h *Hub) handleUIConfigure(ctx context.Context, peer *Peer, env eventcodec.Envelope) {
	moduleName, _ := env.Data["moduleName"].(string)
	if moduleName == "" {
		h.send(ctx, peer, eventcodec.Make("error", map[string]any{"message": "ui.configure requires moduleName"}))
		return
	}

	var index *int
	if raw, ok := env.Data["moduleIndex"]; ok {
		if f, ok := raw.(float64); ok {
			i := int(f)
			index = &i
		}
	}

	target, ok := h.modules.lookup(moduleName, index)
	if !ok {
		h.send(ctx, peer, eventcodec.Make("error", map[string]any{"message": "module not found"}))
		return
	}

	h.send(ctx, target, eventcodec.Make("module.configure", map[string]any{"config": env.Data["config"]}, eventcodec.WithSource(env.Source)))
}

// send writes one event to a peer, disconnecting it on write failure — a
// dead socket write means the peer is already gone.
func (h *Hub) send(ctx context.Context, peer *Peer, env eventcodec.Envelope) {
	if err := peer.send(ctx, env); err != nil {
		h.removePeer(peer)
	}
}

// broadcast fans events out to every authenticated peer except excludePeerID.
// Peers are snapshotted before sending since a failed send may remove a peer
// from the registry, which would deadlock if done while holding the lock
// this snapshot is taken under. Each peer's sends run on their own goroutine
// via errgroup so one slow or stalled socket doesn't delay the rest of the
// fan-out.
func (h *Hub) broadcast(ctx context.Context, events []eventcodec.Envelope, excludePeerID string) {
	h.mu.RLock()
	recipients := make([]*Peer, 0, len(h.peers))
	for id, peer := range h.peers {
		if excludePeerID != "" && id == excludePeerID {
			continue
		}
		if peer.Authenticated() {
			recipients = append(recipients, peer)
		}
	}
	h.mu.RUnlock()

	var eg errgroup.Group
	for _, peer := range recipients {
		eg.Go(func() error {
			for _, env := range events {
				h.send(ctx, peer, env)
			}
			return nil
		})
	}
	eg.Wait()
}

// normalizeOutgoing rebuilds an inbound event for re-broadcast to other
// peers, stripping the original id/ts so every recipient sees a freshly
// stamped echo.
func normalizeOutgoing(env eventcodec.Envelope) eventcodec.Envelope {
	opts := []eventcodec.MakeOption{eventcodec.WithSessionID(env.SessionID)}
	if env.Source != "" {
		opts = append(opts, eventcodec.WithSource(env.Source))
	}
	return eventcodec.Make(env.Type, env.Data, opts...)
}
