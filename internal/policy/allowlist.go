package policy

import (
	"path"
	"strings"

	"github.com/org/authbroker/pkg/models"
)

// Allowlist evaluates whether a (method, resource) pair may be invoked.
// It is immutable once built.
type Allowlist struct {
	entries []models.AllowlistEntry
}

// NewAllowlist builds an Allowlist from privilege entries. The entries
// are copied, so later changes to the slice do not affect the result.
func NewAllowlist(entries []models.AllowlistEntry) *Allowlist {
	cp := make([]models.AllowlistEntry, len(entries))
	copy(cp, entries)
	return &Allowlist{entries: cp}
}

// Authorize returns true if any entry grants method on resource.
func (a *Allowlist) Authorize(method, resource string) bool {
	if a == nil {
		return false
	}
	for _, e := range a.entries {
		if e.Method != models.MethodAny && e.Method != method {
			continue
		}
		if matchResource(e.Resource, resource) {
			return true
		}
	}
	return false
}

// matchResource matches resource against a glob pattern.
//   - "*"             matches every resource
//   - "pool.**"       matches everything under the "pool." prefix
//   - "auth.*", "a.b" path.Match semantics ('/' never appears in method names)
func matchResource(pattern, resource string) bool {
	if pattern == "*" {
		return true
	}

	if strings.Contains(pattern, "**") {
		parts := strings.SplitN(pattern, "**", 2)
		prefix, suffix := parts[0], parts[1]
		if !strings.HasPrefix(resource, prefix) {
			return false
		}
		if suffix == "" {
			return true
		}
		return strings.HasSuffix(resource[len(prefix):], suffix)
	}

	matched, err := path.Match(pattern, resource)
	if err != nil {
		return false
	}
	return matched
}
