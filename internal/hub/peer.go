package hub

import (
	"context"
	"sync"

	"github.com/coder/websocket"

	"github.com/FutureUnreal/WhaleWhisper/internal/eventcodec"
)

// Peer is one connected socket client: a browser tab, a voice module, or any
// other process speaking the gateway's event protocol. A peer starts
// anonymous, and unauthenticated unless the hub has no auth token
// configured; module.authenticate and module.announce promote it.
type Peer struct {
	ID            string
	conn          *websocket.Conn
	mu            sync.Mutex
	authenticated bool
	name          string
	index         *int
	activeVoiceID string
}

func newPeer(id string, conn *websocket.Conn, authenticated bool) *Peer {
	return &Peer{ID: id, conn: conn, authenticated: authenticated}
}

// Authenticated reports whether the peer has passed the auth gate.
func (p *Peer) Authenticated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authenticated
}

func (p *Peer) setAuthenticated(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authenticated = v
}

// Name is the module name this peer announced, or "" if it hasn't.
func (p *Peer) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// Index is the module index this peer announced, or nil if it announced
// none or hasn't announced at all.
func (p *Peer) Index() *int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

func (p *Peer) setIdentity(name string, index *int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.name = name
	p.index = index
}

func (p *Peer) activeVoiceSession() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeVoiceID
}

func (p *Peer) setActiveVoiceSession(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeVoiceID = id
}

// send writes one envelope to the peer as a text frame. Write errors are
// returned to the caller, who is responsible for disconnecting the peer —
// a write failure here means the socket is already dead.
func (p *Peer) send(ctx context.Context, env eventcodec.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return p.conn.Write(ctx, websocket.MessageText, data)
}
