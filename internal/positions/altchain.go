package positions

import (
	"context"
	"strings"

	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/id"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Resolution is the outcome of probing a protocol's chains. Chain is set
// when exactly one chain qualifies; otherwise Candidates lists every chain
// that does, which may be none.
type Resolution struct {
	Chain      *id.Chain  `json:"chain,omitempty"`
	Candidates []id.Chain `json:"candidates"`
}

// ResolveChain probes every chain the protocol is deployed on, except
// excludeChainID, for tokens the action can act upon. Probes run
// concurrently and a failed probe only disqualifies its own chain.
func (r *Resolver) ResolveChain(ctx context.Context, account string, action RawAction, excludeChainID int64) (Resolution, error) {
	protocol := strings.ToLower(strings.TrimSpace(action.Protocol))
	if protocol == "" {
		return Resolution{}, clierr.New(clierr.CodeUsage, "protocol is required")
	}
	var chains []id.Chain
	for _, chainID := range r.book.Chains(protocol) {
		if chainID == 0 || chainID == excludeChainID {
			continue
		}
		chain, ok := id.ChainByID(chainID)
		if !ok {
			r.log.Debug("skipping unknown chain", zap.Int64("chain_id", chainID))
			continue
		}
		chains = append(chains, chain)
	}

	token := strings.ToLower(strings.TrimSpace(action.Token))
	if action.Name == "close" && protocol == "gmx" && strings.HasPrefix(token, "w") {
		token = token[1:]
	}

	qualified := make([]bool, len(chains))
	var group errgroup.Group
	for i, chain := range chains {
		group.Go(func() error {
			tokens, err := r.ListActionableTokens(ctx, account, action.Name, ActionArgs{
				Protocol: protocol,
				Pool:     action.Pool,
				ChainID:  chain.EVMChainID,
			})
			if err != nil {
				r.log.Warn("chain probe failed", zap.String("chain", chain.Slug), zap.String("protocol", protocol), zap.Error(err))
				return nil
			}
			qualified[i] = qualifies(chain, protocol, token, tokens)
			return nil
		})
	}
	_ = group.Wait()

	out := Resolution{Candidates: []id.Chain{}}
	for i, ok := range qualified {
		if ok {
			out.Candidates = append(out.Candidates, chains[i])
		}
	}
	if len(out.Candidates) == 1 {
		chain := out.Candidates[0]
		out.Chain = &chain
	}
	return out, nil
}

func qualifies(chain id.Chain, protocol, token string, tokens []Token) bool {
	if len(tokens) == 0 {
		return false
	}
	if token == "" || token == "all" || token == "liquidity" || protocol == "pendle" {
		return true
	}
	native := strings.ToLower(chain.NativeSymbol)
	for _, t := range tokens {
		symbol := strings.ToLower(t.Symbol)
		if symbol == token {
			return true
		}
		if token == native && symbol == "w"+native {
			return true
		}
		if token == "w"+native && symbol == native {
			return true
		}
	}
	return false
}
