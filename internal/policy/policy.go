// Package policy enforces the operator allowlists set with --enable-commands
// and --enable-protocols.
package policy

import (
	"fmt"
	"strings"

	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
)

func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if allowed(allowlist, commandPath) {
		return nil
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy")
}

// CheckProtocolAllowed gates which builders a build may reach. An empty
// allowlist allows every protocol.
func CheckProtocolAllowed(allowlist []string, protocol string) error {
	if allowed(allowlist, protocol) {
		return nil
	}
	return clierr.New(clierr.CodeBlocked, fmt.Sprintf("protocol %q blocked by --enable-protocols policy", normalize(protocol)))
}

func allowed(allowlist []string, value string) bool {
	if len(allowlist) == 0 {
		return true
	}
	norm := normalize(value)
	for _, item := range allowlist {
		if normalize(item) == norm {
			return true
		}
	}
	return false
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
