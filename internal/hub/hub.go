// Package hub maintains the live admin/user connections and fans events out
// to rooms. All registry state is owned by a single goroutine; transports
// talk to it through commands, never by touching the maps.
package hub

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/sportmart/orders/internal/logger"
	"github.com/sportmart/orders/internal/orders"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Sender is the outbound side of one live connection. Send must never block;
// it reports false when the message was dropped. Close is invoked when the
// identity reconnects and the old binding is replaced.
type Sender interface {
	Send(msg []byte) bool
	Close()
}

type audience int

const (
	audAdmins audience = iota
	audUsers
	audOneUser
	audAll
)

type command struct {
	// exactly one of reg/unreg/msg is set
	reg   *registration
	unreg Sender
	msg   *broadcast
}

type registration struct {
	role Role
	id   string
	s    Sender
}

type broadcast struct {
	aud    audience
	userID string
	body   []byte
}

type Hub struct {
	cmds chan command
	done chan struct{}
	log  *logger.Logger

	admins map[string]Sender
	users  map[string]Sender
	bound  map[Sender]registration
}

func New(log *logger.Logger) *Hub {
	return &Hub{
		cmds:   make(chan command, 256),
		done:   make(chan struct{}),
		log:    log,
		admins: make(map[string]Sender),
		users:  make(map[string]Sender),
		bound:  make(map[Sender]registration),
	}
}

// Start launches the owning goroutine. It exits when ctx is cancelled.
func (h *Hub) Start(ctx context.Context) {
	go func() {
		defer close(h.done)
		for {
			select {
			case <-ctx.Done():
				for s := range h.bound {
					s.Close()
				}
				return
			case c := <-h.cmds:
				h.handle(c)
			}
		}
	}()
}

func (h *Hub) WaitStopped() { <-h.done }

func (h *Hub) handle(c command) {
	switch {
	case c.reg != nil:
		h.register(*c.reg)
	case c.unreg != nil:
		h.unregister(c.unreg)
	case c.msg != nil:
		h.deliver(c.msg)
	}
}

func (h *Hub) register(reg registration) {
	// A channel re-registering drops its previous binding first; otherwise
	// the stale identity would keep pointing at this sender.
	if _, ok := h.bound[reg.s]; ok {
		h.unregister(reg.s)
	}
	room := h.admins
	if reg.role == RoleUser {
		room = h.users
	}
	// Last connection wins: a fresh login from the same identity evicts
	// the previous socket.
	if old, ok := room[reg.id]; ok && old != reg.s {
		delete(h.bound, old)
		old.Close()
	}
	room[reg.id] = reg.s
	h.bound[reg.s] = reg
	h.log.Debug("hub_register", map[string]any{"role": reg.role, "id": reg.id})
}

func (h *Hub) unregister(s Sender) {
	reg, ok := h.bound[s]
	if !ok {
		return
	}
	delete(h.bound, s)
	if reg.role == RoleUser {
		if h.users[reg.id] == s {
			delete(h.users, reg.id)
		}
	} else {
		if h.admins[reg.id] == s {
			delete(h.admins, reg.id)
		}
	}
	h.log.Debug("hub_unregister", map[string]any{"role": reg.role, "id": reg.id})
}

func (h *Hub) deliver(b *broadcast) {
	switch b.aud {
	case audAdmins:
		for _, s := range h.admins {
			s.Send(b.body)
		}
	case audUsers:
		for _, s := range h.users {
			s.Send(b.body)
		}
	case audOneUser:
		// No live channel for the target means the event is dropped;
		// delivery is advisory.
		if s, ok := h.users[b.userID]; ok {
			s.Send(b.body)
		}
	case audAll:
		for s := range h.bound {
			s.Send(b.body)
		}
	}
}

// RegisterAdmin binds an admin identity to a live channel and joins it to
// the admins room.
func (h *Hub) RegisterAdmin(adminID string, s Sender) {
	h.send(command{reg: &registration{role: RoleAdmin, id: adminID, s: s}})
}

func (h *Hub) RegisterUser(userID string, s Sender) {
	h.send(command{reg: &registration{role: RoleUser, id: userID, s: s}})
}

// Unregister removes whatever identity is bound to the channel. Safe to call
// for channels that were never registered.
func (h *Hub) Unregister(s Sender) {
	h.send(command{unreg: s})
}

func (h *Hub) BroadcastToAdmins(ev orders.Event) { h.broadcast(audAdmins, "", ev) }
func (h *Hub) BroadcastToUsers(ev orders.Event)  { h.broadcast(audUsers, "", ev) }
func (h *Hub) BroadcastToAll(ev orders.Event)    { h.broadcast(audAll, "", ev) }

func (h *Hub) NotifyUser(userID string, ev orders.Event) {
	h.broadcast(audOneUser, userID, ev)
}

func (h *Hub) broadcast(aud audience, userID string, ev orders.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("hub_marshal", err, map[string]any{"type": ev.Type})
		return
	}
	// Non-blocking: a saturated hub drops dashboard events rather than
	// stalling the order path.
	select {
	case h.cmds <- command{msg: &broadcast{aud: aud, userID: userID, body: body}}:
	default:
		h.log.Error("hub_broadcast", nil, map[string]any{"type": ev.Type, "dropped": true})
	}
}

// send blocks; register/unregister come from connection goroutines where
// ordering matters more than latency.
func (h *Hub) send(c command) {
	select {
	case h.cmds <- c:
	case <-h.done:
	}
}
