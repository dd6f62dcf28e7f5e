package models

import "time"

// User is an account record resolved by the account store.
type User struct {
	ID        int64
	UID       int
	Username  string
	FullName  string
	Locked    bool
	Privilege Privilege
	// PasswordHash is the bcrypt hash of the account password. Never serialized.
	PasswordHash string `json:"-"`
}

// Privilege describes what a user may do once authenticated.
type Privilege struct {
	Name      string           `json:"name"`
	Allowlist []AllowlistEntry `json:"allowlist"`
	WebShell  bool             `json:"web_shell"`
}

// APIKey is a stored API key. The secret itself is only kept as a hash.
type APIKey struct {
	ID        int64
	Name      string
	KeyHash   string `json:"-"`
	Allowlist []AllowlistEntry
	CreatedAt time.Time
}

// TwoFactorConfig is the system-wide one-time-password configuration.
type TwoFactorConfig struct {
	ID        int64             `json:"id"`
	Enabled   bool              `json:"enabled"`
	OTPDigits int               `json:"otp_digits"`
	Window    int               `json:"window"`
	Interval  int               `json:"interval"`
	Services  TwoFactorServices `json:"services"`
	Secret    string            `json:"secret,omitempty"`
}

// TwoFactorServices lists the non-RPC services that also enforce 2FA.
type TwoFactorServices struct {
	SSH bool `json:"ssh"`
}
