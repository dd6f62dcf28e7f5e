package twofactor

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/org/authbroker/internal/clock"
	"github.com/org/authbroker/internal/storage"
	"github.com/pquerna/otp/totp"
)

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func newTestService() (*Service, *clock.FakeClock) {
	c := clock.Fake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewService(storage.NewMemoryBackend(), c, "authbroker", "nas01"), c
}

func codeAt(t *testing.T, s *Service, at time.Time) string {
	t.Helper()
	cfg, err := s.Config(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	code, err := totp.GenerateCodeCustom(cfg.Secret, at, validateOpts(cfg))
	if err != nil {
		t.Fatal(err)
	}
	return code
}

func TestEnableGeneratesSecretOnce(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	cfg, err := s.Update(ctx, Update{Enabled: boolPtr(true)})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Secret == "" {
		t.Fatal("enabling should generate a secret")
	}
	first := cfg.Secret

	s.Update(ctx, Update{Enabled: boolPtr(false)}) //nolint:errcheck
	cfg, _ = s.Update(ctx, Update{Enabled: boolPtr(true)})
	if cfg.Secret != first {
		t.Error("re-enabling must keep the existing secret")
	}
}

func TestUpdateValidation(t *testing.T) {
	s, _ := newTestService()
	cases := []struct {
		name string
		u    Update
	}{
		{"too few digits", Update{OTPDigits: intPtr(5)}},
		{"too many digits", Update{OTPDigits: intPtr(9)}},
		{"negative window", Update{Window: intPtr(-1)}},
		{"short interval", Update{Interval: intPtr(4)}},
	}
	for _, tc := range cases {
		if _, err := s.Update(context.Background(), tc.u); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: expected ErrInvalidConfig, got %v", tc.name, err)
		}
	}
	cfg, _ := s.Config(context.Background())
	if cfg.OTPDigits != 6 || cfg.Interval != 30 {
		t.Error("rejected updates must not be stored")
	}
}

func TestVerify(t *testing.T) {
	s, c := newTestService()
	ctx := context.Background()
	if _, err := s.Verify(ctx, "123456"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}

	s.Update(ctx, Update{Enabled: boolPtr(true), OTPDigits: intPtr(8)}) //nolint:errcheck
	now := c.Now()

	ok, err := s.Verify(ctx, codeAt(t, s, now))
	if err != nil || !ok {
		t.Fatalf("current code: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.Verify(ctx, codeAt(t, s, now.Add(-30*time.Second))); ok {
		t.Error("previous interval must fail with window 0")
	}
	if ok, err := s.Verify(ctx, "123"); ok || err != nil {
		t.Errorf("short code: ok=%v err=%v", ok, err)
	}
}

func TestVerifyWindow(t *testing.T) {
	s, c := newTestService()
	ctx := context.Background()
	s.Update(ctx, Update{Enabled: boolPtr(true), Window: intPtr(1)}) //nolint:errcheck

	previous := codeAt(t, s, c.Now().Add(-30*time.Second))
	if ok, _ := s.Verify(ctx, previous); !ok {
		t.Error("window 1 should accept the previous interval")
	}
	early := codeAt(t, s, c.Now().Add(-90*time.Second))
	if ok, _ := s.Verify(ctx, early); ok {
		t.Error("window 1 should reject three intervals back")
	}
}

func TestRenewSecret(t *testing.T) {
	s, c := newTestService()
	ctx := context.Background()
	if _, err := s.RenewSecret(ctx); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}

	s.Update(ctx, Update{Enabled: boolPtr(true)}) //nolint:errcheck
	old := codeAt(t, s, c.Now())
	before, _ := s.Config(ctx)

	if ok, err := s.RenewSecret(ctx); !ok || err != nil {
		t.Fatalf("renew: ok=%v err=%v", ok, err)
	}
	after, _ := s.Config(ctx)
	if after.Secret == before.Secret {
		t.Fatal("secret should change")
	}
	if ok, _ := s.Verify(ctx, old); ok {
		t.Error("codes from the old secret must stop working")
	}
}

func TestProvisioningURI(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()
	if _, err := s.ProvisioningURI(ctx); err == nil {
		t.Error("expected error without a secret")
	}

	cfg, _ := s.Update(ctx, Update{Enabled: boolPtr(true), OTPDigits: intPtr(7), Interval: intPtr(60)})
	raw, err := s.ProvisioningURI(ctx)
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if u.Scheme != "otpauth" || u.Host != "totp" {
		t.Errorf("unexpected uri %s", raw)
	}
	q := u.Query()
	if !strings.EqualFold(q.Get("secret"), cfg.Secret) {
		t.Errorf("uri secret %q does not match stored %q", q.Get("secret"), cfg.Secret)
	}
	if q.Get("digits") != "7" || q.Get("period") != "60" || q.Get("issuer") != "authbroker" {
		t.Errorf("unexpected parameters: %v", q)
	}
}
