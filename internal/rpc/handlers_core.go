package rpc

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/org/authbroker/internal/auth"
	"github.com/org/authbroker/pkg/models"
	"github.com/rs/zerolog/log"
)

func (s *Server) subscribe(_ context.Context, conn *Conn, params []json.RawMessage) (any, error) {
	var name string
	if err := requireParams(params, 1, &name); err != nil {
		return nil, err
	}
	cred := conn.Credentials()
	if cred == nil {
		return nil, auth.ErrNotAuthenticated
	}
	if !cred.Authorize(models.MethodSubscribe, name) {
		return nil, auth.ErrNotAuthorized
	}

	ch, cancel := s.bus.Subscribe(name, subscriptionBuffer)
	id := uuid.NewString()
	if !conn.addSubscription(id, cancel) {
		return nil, errorf(CodeFault, "connection closed")
	}

	go func() {
		for ev := range ch {
			msg := EventMessage{Msg: "event", Collection: ev.Collection, Kind: string(ev.Kind), Fields: ev.Fields}
			if err := conn.send(msg); err != nil {
				log.Debug().Err(err).Str("session", conn.SessionID()).Msg("dropping subscription")
				conn.removeSubscription(id)
				return
			}
		}
	}()
	return id, nil
}

func (s *Server) unsubscribe(_ context.Context, conn *Conn, params []json.RawMessage) (any, error) {
	var id string
	if err := requireParams(params, 1, &id); err != nil {
		return nil, err
	}
	return conn.removeSubscription(id), nil
}
