package rpc

import (
	"context"
	"encoding/json"

	"github.com/org/authbroker/internal/twofactor"
)

func (s *Server) twoFactorConfig(ctx context.Context, _ *Conn, _ []json.RawMessage) (any, error) {
	return s.twoFactor.Config(ctx)
}

func (s *Server) twoFactorUpdate(ctx context.Context, _ *Conn, params []json.RawMessage) (any, error) {
	var u twofactor.Update
	if err := requireParams(params, 1, &u); err != nil {
		return nil, err
	}
	return s.twoFactor.Update(ctx, u)
}

func (s *Server) twoFactorVerify(ctx context.Context, _ *Conn, params []json.RawMessage) (any, error) {
	var code *string
	if err := decodeParams(params, &code); err != nil {
		return nil, err
	}
	if code == nil {
		code = new(string)
	}
	return s.twoFactor.Verify(ctx, *code)
}

func (s *Server) twoFactorRenewSecret(ctx context.Context, _ *Conn, _ []json.RawMessage) (any, error) {
	return s.twoFactor.RenewSecret(ctx)
}

func (s *Server) twoFactorProvisioningURI(ctx context.Context, _ *Conn, _ []json.RawMessage) (any, error) {
	return s.twoFactor.ProvisioningURI(ctx)
}
