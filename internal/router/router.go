// Package router maps inbound envelope addresses to the channels that
// registered them. It is owned by one connection and mutated only on
// that connection's loop.
package router

import (
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/castctl/internal/protocol"
	"github.com/danmuck/castctl/internal/protocol/envelope"
)

// Handler receives envelopes routed to a registered address. A non-nil
// error is fatal to the connection.
type Handler interface {
	HandleEnvelope(env envelope.Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(env envelope.Envelope) error

func (f HandlerFunc) HandleEnvelope(env envelope.Envelope) error { return f(env) }

// UnrecognizedFunc decides what happens to a non-broadcast envelope with
// no registrant.
type UnrecognizedFunc func(env envelope.Envelope) error

// Router is not safe for concurrent use.
type Router struct {
	routes         map[envelope.Address]Handler
	sealed         bool
	onUnrecognized UnrecognizedFunc
}

func New() *Router {
	return &Router{routes: make(map[envelope.Address]Handler)}
}

// SetUnrecognized replaces the unrecognized-address policy. nil restores
// the default.
func (r *Router) SetUnrecognized(f UnrecognizedFunc) {
	r.onUnrecognized = f
}

// Register binds h to the inbound form of addr, the channel's own
// outbound address.
func (r *Router) Register(addr envelope.Address, h Handler) error {
	if r.sealed {
		return fmt.Errorf("%w: register %s", protocol.ErrClosed, addr)
	}
	key := addr.Inbound()
	if _, exists := r.routes[key]; exists {
		return fmt.Errorf("%w: %s", protocol.ErrDuplicateAddress, key)
	}
	r.routes[key] = h
	log.Trace().Str("address", key.String()).Msg("router register")
	return nil
}

// Unregister removes the binding created by Register(addr, ...). It
// stays valid after Seal so channel teardown order does not matter.
func (r *Router) Unregister(addr envelope.Address) error {
	key := addr.Inbound()
	if _, exists := r.routes[key]; !exists {
		return fmt.Errorf("%w: %s", protocol.ErrNotRegistered, key)
	}
	delete(r.routes, key)
	log.Trace().Str("address", key.String()).Msg("router unregister")
	return nil
}

// Dispatch delivers env. Broadcast envelopes go to every registrant with
// a matching source and namespace, in address order.
func (r *Router) Dispatch(env envelope.Envelope) error {
	if r.sealed {
		return nil
	}
	if !env.Address.IsBroadcast() {
		h, ok := r.routes[env.Address]
		if !ok {
			return r.unrecognized(env)
		}
		return h.HandleEnvelope(env)
	}

	var keys []envelope.Address
	for key := range r.routes {
		if key.Source == env.Address.Source && key.Namespace == env.Address.Namespace {
			keys = append(keys, key)
		}
	}
	slices.SortFunc(keys, func(a, b envelope.Address) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		default:
			return 0
		}
	})
	for _, key := range keys {
		if r.sealed {
			return nil
		}
		// an earlier handler may have closed this channel
		h, ok := r.routes[key]
		if !ok {
			continue
		}
		if err := h.HandleEnvelope(env); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) unrecognized(env envelope.Envelope) error {
	if r.onUnrecognized != nil {
		return r.onUnrecognized(env)
	}
	return DefaultUnrecognized(env)
}

// DefaultUnrecognized fails on any non-broadcast envelope.
func DefaultUnrecognized(env envelope.Envelope) error {
	if env.Address.IsBroadcast() {
		return nil
	}
	return fmt.Errorf("%w: %s", protocol.ErrUnrecognizedAddress, env.Address)
}

// Seal turns Dispatch into a no-op and refuses new registrations.
func (r *Router) Seal() {
	r.sealed = true
}

func (r *Router) Sealed() bool { return r.sealed }

func (r *Router) Len() int { return len(r.routes) }
