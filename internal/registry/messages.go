package registry

import (
	"fmt"
	"strings"
)

// ProtocolErrorMessage reports an action/token/pool/chain combination a protocol does not support.
func ProtocolErrorMessage(action, token, protocol, pool, chain string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Performing a %s on the token %s on protocol %s", action, token, protocol)
	if strings.TrimSpace(pool) != "" {
		fmt.Fprintf(&b, " on the pool %s", pool)
	}
	fmt.Fprintf(&b, " on chain %s is not supported. Please try again.", chain)
	return b.String()
}

// ABIErrorMessage reports a contract whose interface is missing from the registry.
func ABIErrorMessage(address string, chainID int64) string {
	return fmt.Sprintf("ABI for contract %s on chain %d is not supported. Please ask administrator.", address, chainID)
}

// AddressErrorMessage reports a protocol contract role with no address on a chain.
func AddressErrorMessage(protocol, purpose string, chainID int64) string {
	return fmt.Sprintf("Address for %s contract %s on chain %d is not configured. Please ask administrator.", protocol, purpose, chainID)
}

// InsufficientBalanceMessage reports a wallet short of the amount an action spends.
// have, need and missing are already formatted in display units.
func InsufficientBalanceMessage(chain, symbol, have, need, missing string) string {
	return fmt.Sprintf("Insufficient balance on %s. You have %s %s and need %s %s. Please onboard %s more %s and try again.",
		chain, have, symbol, need, symbol, missing, symbol)
}

// UnsupportedActionMessage lists the actions a protocol does support.
func UnsupportedActionMessage(action, protocol string, supported []string) string {
	return fmt.Sprintf("Action %s is not supported for %s. Supported actions are %s", action, DisplayName(protocol), strings.Join(supported, ", "))
}

// DisplayName capitalizes a protocol tag for user-facing messages.
func DisplayName(protocol string) string {
	protocol = strings.TrimSpace(protocol)
	if protocol == "" {
		return protocol
	}
	return strings.ToUpper(protocol[:1]) + protocol[1:]
}
