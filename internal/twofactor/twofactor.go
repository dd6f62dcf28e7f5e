// Package twofactor manages the system-wide TOTP configuration and
// verifies one-time passwords against it.
package twofactor

import (
	"context"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"

	"github.com/org/authbroker/internal/clock"
	"github.com/org/authbroker/pkg/models"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog/log"
)

var (
	// ErrDisabled is returned by operations that need 2FA switched on.
	ErrDisabled = errors.New("two-factor authentication is not enabled")
	// ErrInvalidConfig wraps every validation failure in Update.
	ErrInvalidConfig = errors.New("invalid two-factor configuration")
)

// ConfigStore persists the single two-factor configuration row.
type ConfigStore interface {
	GetTwoFactorConfig(ctx context.Context) (*models.TwoFactorConfig, error)
	UpdateTwoFactorConfig(ctx context.Context, cfg *models.TwoFactorConfig) error
}

// Update is a partial configuration change. Nil fields are left as is.
type Update struct {
	Enabled   *bool                     `json:"enabled,omitempty"`
	OTPDigits *int                      `json:"otp_digits,omitempty"`
	Window    *int                      `json:"window,omitempty"`
	Interval  *int                      `json:"interval,omitempty"`
	Services  *models.TwoFactorServices `json:"services,omitempty"`
}

// Service implements the two-factor configuration surface and doubles
// as the OTP gate consulted by password login.
type Service struct {
	store       ConfigStore
	clock       clock.Clock
	issuer      string
	accountName string
}

// NewService creates a Service. issuer and accountName label the
// provisioning URI shown to authenticator apps.
func NewService(store ConfigStore, c clock.Clock, issuer, accountName string) *Service {
	return &Service{store: store, clock: c, issuer: issuer, accountName: accountName}
}

// Config returns the current configuration.
func (s *Service) Config(ctx context.Context) (*models.TwoFactorConfig, error) {
	cfg, err := s.store.GetTwoFactorConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading two-factor config: %w", err)
	}
	return cfg, nil
}

// Enabled reports whether password logins require an OTP.
func (s *Service) Enabled(ctx context.Context) (bool, error) {
	cfg, err := s.Config(ctx)
	if err != nil {
		return false, err
	}
	return cfg.Enabled, nil
}

// Update applies u and returns the stored result. Enabling 2FA without
// an existing secret generates one; an existing secret is kept so
// already provisioned devices keep working.
func (s *Service) Update(ctx context.Context, u Update) (*models.TwoFactorConfig, error) {
	cfg, err := s.Config(ctx)
	if err != nil {
		return nil, err
	}
	if u.Enabled != nil {
		cfg.Enabled = *u.Enabled
	}
	if u.OTPDigits != nil {
		cfg.OTPDigits = *u.OTPDigits
	}
	if u.Window != nil {
		cfg.Window = *u.Window
	}
	if u.Interval != nil {
		cfg.Interval = *u.Interval
	}
	if u.Services != nil {
		cfg.Services = *u.Services
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	if cfg.Enabled && cfg.Secret == "" {
		secret, err := s.generateSecret(cfg)
		if err != nil {
			return nil, err
		}
		cfg.Secret = secret
	}
	if err := s.store.UpdateTwoFactorConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("storing two-factor config: %w", err)
	}
	log.Info().Bool("enabled", cfg.Enabled).Bool("ssh", cfg.Services.SSH).Msg("two-factor configuration updated")
	return s.Config(ctx)
}

func validate(cfg *models.TwoFactorConfig) error {
	switch {
	case cfg.OTPDigits < 6 || cfg.OTPDigits > 8:
		return fmt.Errorf("%w: otp_digits must be between 6 and 8", ErrInvalidConfig)
	case cfg.Window < 0:
		return fmt.Errorf("%w: window must not be negative", ErrInvalidConfig)
	case cfg.Interval < 5:
		return fmt.Errorf("%w: interval must be at least 5 seconds", ErrInvalidConfig)
	}
	return nil
}

// Verify checks code against the current secret, accepting Window
// intervals on either side of now.
func (s *Service) Verify(ctx context.Context, code string) (bool, error) {
	cfg, err := s.Config(ctx)
	if err != nil {
		return false, err
	}
	if !cfg.Enabled {
		return false, ErrDisabled
	}
	ok, err := totp.ValidateCustom(code, cfg.Secret, s.clock.Now(), validateOpts(cfg))
	if errors.Is(err, otp.ErrValidateInputInvalidLength) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("validating otp: %w", err)
	}
	return ok, nil
}

// RenewSecret replaces the secret. Devices must be provisioned again.
func (s *Service) RenewSecret(ctx context.Context) (bool, error) {
	cfg, err := s.Config(ctx)
	if err != nil {
		return false, err
	}
	if !cfg.Enabled {
		return false, ErrDisabled
	}
	secret, err := s.generateSecret(cfg)
	if err != nil {
		return false, err
	}
	cfg.Secret = secret
	if err := s.store.UpdateTwoFactorConfig(ctx, cfg); err != nil {
		return false, fmt.Errorf("storing two-factor secret: %w", err)
	}
	log.Info().Msg("two-factor secret renewed")
	return true, nil
}

// ProvisioningURI returns the otpauth:// URI for the current secret.
func (s *Service) ProvisioningURI(ctx context.Context) (string, error) {
	cfg, err := s.Config(ctx)
	if err != nil {
		return "", err
	}
	if cfg.Secret == "" {
		return "", ErrDisabled
	}
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("decoding two-factor secret: %w", err)
	}
	key, err := s.key(cfg, raw)
	if err != nil {
		return "", err
	}
	return key.URL(), nil
}

func (s *Service) generateSecret(cfg *models.TwoFactorConfig) (string, error) {
	key, err := s.key(cfg, nil)
	if err != nil {
		return "", err
	}
	return key.Secret(), nil
}

// key builds a TOTP key for cfg. A nil secret draws a fresh random one.
func (s *Service) key(cfg *models.TwoFactorConfig, secret []byte) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: s.accountName,
		Period:      uint(cfg.Interval),
		Digits:      otp.Digits(cfg.OTPDigits),
		Algorithm:   otp.AlgorithmSHA1,
		Secret:      secret,
	})
	if err != nil {
		return nil, fmt.Errorf("generating totp key: %w", err)
	}
	return key, nil
}

func validateOpts(cfg *models.TwoFactorConfig) totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    uint(cfg.Interval),
		Skew:      uint(cfg.Window),
		Digits:    otp.Digits(cfg.OTPDigits),
		Algorithm: otp.AlgorithmSHA1,
	}
}
