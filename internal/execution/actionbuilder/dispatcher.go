package actionbuilder

import (
	"context"
	"fmt"
	"sort"
	"strings"

	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/execution"
)

// ProtocolBuilder turns one validated action context into an ordered batch.
type ProtocolBuilder interface {
	Name() string
	Actions() []string
	Build(ctx context.Context, actx execution.ActionContext) (execution.BuilderResult, error)
}

// ProtocolInfo describes one registered builder.
type ProtocolInfo struct {
	Protocol string   `json:"protocol"`
	Actions  []string `json:"actions"`
}

// Dispatcher routes an action to the builder registered for its protocol.
// The builder set is fixed at construction, so a Dispatcher is safe for
// concurrent use.
type Dispatcher struct {
	builders map[string]ProtocolBuilder
}

func New(builders ...ProtocolBuilder) (*Dispatcher, error) {
	out := make(map[string]ProtocolBuilder, len(builders))
	for _, b := range builders {
		name := normalizeProtocol(b.Name())
		if name == "" {
			return nil, clierr.New(clierr.CodeInternal, "protocol builder has an empty name")
		}
		if _, dup := out[name]; dup {
			return nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("protocol builder %q registered twice", name))
		}
		out[name] = b
	}
	return &Dispatcher{builders: out}, nil
}

// Dispatch builds the batch for actx with the builder named by protocol.
func (d *Dispatcher) Dispatch(ctx context.Context, protocol, action string, actx execution.ActionContext) (execution.BuilderResult, error) {
	name := normalizeProtocol(protocol)
	builder, ok := d.builders[name]
	if !ok {
		return execution.BuilderResult{}, clierr.New(clierr.CodeUnsupported,
			fmt.Sprintf("unsupported protocol %q for action %q", name, strings.ToLower(strings.TrimSpace(action))))
	}
	if actx == nil {
		return execution.BuilderResult{}, clierr.New(clierr.CodeUsage, "action context is required")
	}
	base := actx.Common()
	result, err := builder.Build(ctx, actx)
	if err != nil {
		return execution.BuilderResult{}, clierr.WithDetails(err,
			"protocol", name,
			"chain", base.Chain.CAIP2,
			"account", base.Account,
		)
	}
	if err := result.Validate(); err != nil {
		return execution.BuilderResult{}, clierr.WithDetails(err, "protocol", name, "chain", base.Chain.CAIP2)
	}
	return result, nil
}

// Supports reports whether protocol has a builder that lists action.
func (d *Dispatcher) Supports(protocol, action string) bool {
	builder, ok := d.builders[normalizeProtocol(protocol)]
	if !ok {
		return false
	}
	action = strings.ToLower(strings.TrimSpace(action))
	for _, a := range builder.Actions() {
		if a == action {
			return true
		}
	}
	return false
}

func (d *Dispatcher) Protocols() []ProtocolInfo {
	out := make([]ProtocolInfo, 0, len(d.builders))
	for name, b := range d.builders {
		out = append(out, ProtocolInfo{Protocol: name, Actions: b.Actions()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Protocol < out[j].Protocol })
	return out
}

func normalizeProtocol(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
