package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/id"
	"github.com/ggonzalez94/defi-actions/internal/model"
	"github.com/ggonzalez94/defi-actions/internal/positions"
	"github.com/spf13/cobra"
)

func (s *runtimeState) newPositionsCommand() *cobra.Command {
	root := &cobra.Command{Use: "positions", Short: "Account position lookups"}

	var account, chainArg, protocol string
	list := &cobra.Command{
		Use:   "list",
		Short: "List an account's positions on a chain, per protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, err := optionalChainID(chainArg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()

			start := time.Now()
			data, err := s.svc.resolver.ListPositions(ctx, chainID, account, protocol)
			status := []model.ProviderStatus{providerStatus(positionsSource(protocol), start, err)}
			if err != nil {
				s.lastProviders = status
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, status, false)
		},
	}
	list.Flags().StringVar(&account, "account", "", "Account address")
	list.Flags().StringVar(&chainArg, "chain", "", "Chain identifier; defaults to the protocol's first deployment")
	list.Flags().StringVar(&protocol, "protocol", "all", "Protocol tag, or all")
	_ = list.MarkFlagRequired("account")
	root.AddCommand(list)

	var tAccount, tChain, tProtocol, tAction, tPool string
	tokens := &cobra.Command{
		Use:   "tokens",
		Short: "List the position tokens an action could act upon",
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, err := optionalChainID(tChain)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()

			start := time.Now()
			data, err := s.svc.resolver.ListActionableTokens(ctx, tAccount, tAction, positions.ActionArgs{
				Protocol: tProtocol,
				Pool:     tPool,
				ChainID:  chainID,
			})
			status := []model.ProviderStatus{providerStatus(positionsSource(tProtocol), start, err)}
			if err != nil {
				s.lastProviders = status
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, status, false)
		},
	}
	tokens.Flags().StringVar(&tAccount, "account", "", "Account address")
	tokens.Flags().StringVar(&tChain, "chain", "", "Chain identifier")
	tokens.Flags().StringVar(&tProtocol, "protocol", "", "Protocol tag")
	tokens.Flags().StringVar(&tAction, "action", "", "Reversing action (withdraw, repay, unstake, claim, close, ...)")
	tokens.Flags().StringVar(&tPool, "pool", "", "Pool filter")
	_ = tokens.MarkFlagRequired("account")
	_ = tokens.MarkFlagRequired("protocol")
	_ = tokens.MarkFlagRequired("action")
	root.AddCommand(tokens)

	return root
}

func (s *runtimeState) newResolveChainCommand() *cobra.Command {
	var account, protocol, action, token, pool, exclude string
	cmd := &cobra.Command{
		Use:   "resolve-chain",
		Short: "Find the chains where an account holds tokens the action can act upon",
		RunE: func(cmd *cobra.Command, args []string) error {
			excludeID, err := optionalChainID(exclude)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()

			start := time.Now()
			res, err := s.svc.resolver.ResolveChain(ctx, account, positions.RawAction{
				Name:     action,
				Protocol: protocol,
				Token:    token,
				Pool:     pool,
			}, excludeID)
			status := []model.ProviderStatus{providerStatus(positionsSource(protocol), start, err)}
			if err != nil {
				s.lastProviders = status
				return err
			}

			data := model.ChainResolution{
				Protocol:   strings.ToLower(strings.TrimSpace(protocol)),
				Action:     strings.ToLower(strings.TrimSpace(action)),
				Candidates: make([]model.ChainInfo, 0, len(res.Candidates)),
			}
			for _, c := range res.Candidates {
				data.Candidates = append(data.Candidates, model.NewChainInfo(c))
			}
			var warnings []string
			if res.Chain != nil {
				info := model.NewChainInfo(*res.Chain)
				data.Chain = &info
			} else if len(res.Candidates) > 1 {
				warnings = append(warnings, "several chains qualify; pass --chain to the action explicitly")
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, warnings, status, false)
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "Account address")
	cmd.Flags().StringVar(&protocol, "protocol", "", "Protocol tag")
	cmd.Flags().StringVar(&action, "action", "", "Action verb")
	cmd.Flags().StringVar(&token, "token", "", "Token symbol the action targets")
	cmd.Flags().StringVar(&pool, "pool", "", "Pool filter")
	cmd.Flags().StringVar(&exclude, "exclude-chain", "", "Chain to skip, typically the one that already failed")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("protocol")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func (s *runtimeState) newProtocolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "protocols",
		Short: "List registered protocol builders with their actions and chains",
		RunE: func(cmd *cobra.Command, args []string) error {
			infos := s.svc.dispatcher.Protocols()
			data := make([]model.ProtocolSupport, 0, len(infos))
			for _, info := range infos {
				item := model.ProtocolSupport{Protocol: info.Protocol, Actions: info.Actions, Chains: []string{}}
				for _, chainID := range s.svc.book.Chains(info.Protocol) {
					item.Chains = append(item.Chains, chainSlug(chainID))
				}
				data = append(data, item)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, nil, false)
		},
	}
}

func (s *runtimeState) newChainsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "List known chains and the protocols deployed on each",
		RunE: func(cmd *cobra.Command, args []string) error {
			infos := s.svc.dispatcher.Protocols()
			chains := id.KnownChains()
			data := make([]model.ChainInfo, 0, len(chains))
			for _, chain := range chains {
				item := model.NewChainInfo(chain)
				for _, info := range infos {
					if s.svc.book.Deployed(info.Protocol, chain.EVMChainID) {
						item.Protocols = append(item.Protocols, info.Protocol)
					}
				}
				data = append(data, item)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, nil, false)
		},
	}
}

// optionalChainID parses a chain flag into its numeric id; empty means 0.
func optionalChainID(raw string) (int64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	chain, err := id.ParseChain(raw)
	if err != nil {
		return 0, err
	}
	if !chain.IsEVM() {
		return 0, clierr.New(clierr.CodeUnsupported, "positions are only indexed on EVM chains")
	}
	return chain.EVMChainID, nil
}

// chainSlug names a deployment table key; 0 is the Solana entry.
func chainSlug(chainID int64) string {
	if chainID == 0 {
		return "solana"
	}
	if chain, ok := id.ChainByID(chainID); ok {
		return chain.Slug
	}
	return fmt.Sprintf("evm-%d", chainID)
}

func positionsSource(protocol string) string {
	if strings.EqualFold(strings.TrimSpace(protocol), "hyperliquid") {
		return "hyperliquid"
	}
	return "debank"
}
