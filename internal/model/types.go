package model

import (
	"time"

	"github.com/ggonzalez94/defi-actions/internal/execution"
	"github.com/ggonzalez94/defi-actions/internal/execution/simulate"
	"github.com/ggonzalez94/defi-actions/internal/id"
)

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int               `json:"code"`
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type EnvelopeMeta struct {
	RequestID string           `json:"request_id"`
	Timestamp time.Time        `json:"timestamp"`
	Command   string           `json:"command"`
	Providers []ProviderStatus `json:"providers,omitempty"`
	Partial   bool             `json:"partial"`
}

type ProviderStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

// ChainInfo is the output form of id.Chain.
type ChainInfo struct {
	Name         string   `json:"name"`
	Slug         string   `json:"slug"`
	CAIP2        string   `json:"caip2"`
	ChainID      int64    `json:"chain_id,omitempty"`
	NativeSymbol string   `json:"native_symbol,omitempty"`
	Protocols    []string `json:"protocols,omitempty"`
}

func NewChainInfo(chain id.Chain) ChainInfo {
	return ChainInfo{
		Name:         chain.Name,
		Slug:         chain.Slug,
		CAIP2:        chain.CAIP2,
		ChainID:      chain.EVMChainID,
		NativeSymbol: chain.NativeSymbol,
	}
}

// BuildReport is the outcome of building (and optionally simulating) one intent.
type BuildReport struct {
	Index        int                     `json:"index"`
	Protocol     string                  `json:"protocol"`
	Action       string                  `json:"action"`
	ChainID      string                  `json:"chain_id"`
	Account      string                  `json:"account"`
	Transactions []execution.Transaction `json:"transactions"`
	Labels       []string                `json:"labels"`
	SignPayload  *execution.SignPayload  `json:"sign_payload,omitempty"`
	GasEstimate  *execution.GasEstimate  `json:"gas_estimate,omitempty"`
	Simulation   *simulate.Result        `json:"simulation,omitempty"`
	Error        *ErrorBody              `json:"error,omitempty"`
}

// ChainResolution is the output form of positions.Resolution.
type ChainResolution struct {
	Protocol   string      `json:"protocol"`
	Action     string      `json:"action"`
	Chain      *ChainInfo  `json:"chain,omitempty"`
	Candidates []ChainInfo `json:"candidates"`
}

// ProtocolSupport lists a registered protocol, its actions and the chains it is deployed on.
type ProtocolSupport struct {
	Protocol string   `json:"protocol"`
	Actions  []string `json:"actions"`
	Chains   []string `json:"chains"`
}
