package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/execution"
	"github.com/ggonzalez94/defi-actions/internal/execution/simulate"
	"github.com/ggonzalez94/defi-actions/internal/id"
	"github.com/ggonzalez94/defi-actions/internal/model"
	"github.com/ggonzalez94/defi-actions/internal/policy"
	"github.com/ggonzalez94/defi-actions/internal/registry"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// simGasMultiplier pads measured simulation gas into a transaction hint.
const simGasMultiplier = 1.2

type intentFlags struct {
	intent    execution.Intent
	lowerTick int64
	upperTick int64
	rpcURL    string
	file      string
}

func (f *intentFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.intent.Account, "account", "", "Sender account (EVM address or Solana public key)")
	fs.StringVar(&f.intent.Protocol, "protocol", "", "Protocol tag (e.g. aave, ambient, jupiter)")
	fs.StringVar(&f.intent.Action, "action", "", "Action verb (e.g. lend, swap, deposit, long)")
	fs.StringVar(&f.intent.Chain, "chain", "", "Chain identifier (CAIP-2, chain ID, or slug)")
	fs.StringVar(&f.intent.Token, "token", "", "Primary token symbol or address")
	fs.StringVar(&f.intent.Amount, "amount", "", "Primary amount in decimal units; omit for all")
	fs.StringVar(&f.intent.Token2, "token2", "", "Secondary token (pair side, collateral)")
	fs.StringVar(&f.intent.Amount2, "amount2", "", "Secondary amount in decimal units")
	fs.StringVar(&f.intent.OutputToken, "output-token", "", "Swap output token")
	fs.StringVar(&f.intent.Pool, "pool", "", "Pool name or address")
	fs.Int64Var(&f.intent.RangePct, "range-pct", 0, "Concentrated liquidity band around the current price, in percent")
	fs.Int64Var(&f.lowerTick, "lower-tick", 0, "Explicit lower tick")
	fs.Int64Var(&f.upperTick, "upper-tick", 0, "Explicit upper tick")
	fs.Int64Var(&f.intent.Leverage, "leverage", 0, "Perpetuals leverage")
	fs.StringVar(&f.intent.LimitPrice, "limit-price", "", "Perpetuals limit price")
	fs.Int64Var(&f.intent.Percent, "percent", 0, "Share of the position to close, in percent")
	fs.Int64Var(&f.intent.SlippageBps, "slippage-bps", 0, "Swap slippage in basis points")
	fs.StringVar(&f.intent.Destination, "destination", "", "Bridge destination chain or withdrawal address")
	fs.StringVar(&f.rpcURL, "rpc-url", "", "EVM RPC endpoint override")
	fs.StringVar(&f.file, "file", "", "YAML file with a list of intents; flags fill fields the entries omit")
}

// intents returns the flag intent, or every entry of --file in order.
func (f *intentFlags) intents(cmd *cobra.Command) ([]execution.Intent, error) {
	flagIntent := f.intent
	if cmd.Flags().Changed("lower-tick") {
		v := f.lowerTick
		flagIntent.LowerTick = &v
	}
	if cmd.Flags().Changed("upper-tick") {
		v := f.upperTick
		flagIntent.UpperTick = &v
	}
	if strings.TrimSpace(f.file) == "" {
		return []execution.Intent{flagIntent}, nil
	}

	buf, err := os.ReadFile(f.file)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "read intents file", err)
	}
	var entries []execution.Intent
	if err := yaml.Unmarshal(buf, &entries); err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "parse intents file", err)
	}
	if len(entries) == 0 {
		return nil, clierr.New(clierr.CodeUsage, "intents file is empty")
	}
	for i := range entries {
		if entries[i].Account == "" {
			entries[i].Account = flagIntent.Account
		}
		if entries[i].Chain == "" {
			entries[i].Chain = flagIntent.Chain
		}
	}
	return entries, nil
}

type buildOptions struct {
	simulate      bool
	estimateGas   bool
	gasMultiplier float64
	forkRPC       string
}

func (s *runtimeState) newBuildCommand() *cobra.Command {
	var flags intentFlags
	var opts buildOptions
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the ordered transaction batch for one intent or an intents file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runBuild(cmd, &flags, opts)
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().BoolVar(&opts.estimateGas, "estimate-gas", false, "Estimate gas hints against live EVM state")
	cmd.Flags().Float64Var(&opts.gasMultiplier, "gas-multiplier", 1.2, "Multiplier applied to estimated gas")
	return cmd
}

func (s *runtimeState) newSimulateCommand() *cobra.Command {
	var flags intentFlags
	opts := buildOptions{simulate: true}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Build an intent and validate the batch against sandboxed chain state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runBuild(cmd, &flags, opts)
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().StringVar(&opts.forkRPC, "fork-rpc", "", "Anvil-compatible fork endpoint for EVM simulation")
	return cmd
}

func (s *runtimeState) runBuild(cmd *cobra.Command, flags *intentFlags, opts buildOptions) error {
	commandPath := trimRootPath(cmd.CommandPath())
	intents, err := flags.intents(cmd)
	if err != nil {
		return err
	}
	timeout := s.settings.Timeout
	if opts.simulate {
		timeout = max(timeout, 2*time.Minute)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	validators := map[string]simulate.Validator{}
	defer func() {
		for _, v := range validators {
			if c, ok := v.(interface{ Close() }); ok {
				c.Close()
			}
		}
	}()

	reports := make([]model.BuildReport, 0, len(intents))
	var warnings []string
	var firstErr, simErr error
	for i, intent := range intents {
		report, err := s.buildIntent(ctx, i, intent, flags.rpcURL, opts, validators)
		if err != nil {
			if len(intents) == 1 {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
			report.Error = errorBody(err)
			warnings = append(warnings, fmt.Sprintf("intent %d: %v", i, err))
		}
		if report.Simulation != nil && !report.Simulation.Success && simErr == nil {
			simErr = clierr.WithDetails(
				clierr.New(clierr.CodeSimulation, fmt.Sprintf("simulation failed: %s", report.Simulation.Error)),
				"protocol", report.Protocol, "chain", report.ChainID, "account", report.Account,
			)
		}
		reports = append(reports, report)
	}
	if firstErr != nil && len(warnings) == len(intents) {
		return firstErr
	}

	var data any = reports
	if len(reports) == 1 {
		data = reports[0]
	}
	if err := s.emitSuccess(commandPath, data, warnings, nil, firstErr != nil); err != nil {
		return err
	}
	return simErr
}

func (s *runtimeState) buildIntent(ctx context.Context, index int, intent execution.Intent, rpcOverride string, opts buildOptions, validators map[string]simulate.Validator) (model.BuildReport, error) {
	report := model.BuildReport{
		Index:    index,
		Protocol: strings.ToLower(strings.TrimSpace(intent.Protocol)),
		Action:   strings.ToLower(strings.TrimSpace(intent.Action)),
		Account:  intent.Account,
	}
	if err := policy.CheckProtocolAllowed(s.settings.EnableProtocols, report.Protocol); err != nil {
		return report, err
	}
	chain, err := id.ParseChain(intent.Chain)
	if err != nil {
		return report, err
	}
	report.ChainID = chain.CAIP2

	rpcURL := strings.TrimSpace(rpcOverride)
	if rpcURL == "" && chain.IsEVM() {
		rpcURL = s.settings.RPCURL(chain.EVMChainID)
	}
	actx, err := execution.NewContext(intent, execution.ContextOptions{RPCURL: rpcURL})
	if err != nil {
		return report, err
	}
	report.Account = actx.Common().Account

	log := s.log.With(zap.Int("intent", index), zap.String("protocol", report.Protocol), zap.String("action", report.Action), zap.String("chain", chain.Slug))
	log.Debug("building intent")
	result, err := s.svc.dispatcher.Dispatch(ctx, report.Protocol, report.Action, actx)
	if err != nil {
		return report, err
	}

	if opts.estimateGas && chain.IsEVM() && len(result.Transactions) > 0 {
		hinted, estimate, err := s.estimateGas(ctx, chain, rpcURL, report.Account, result, opts.gasMultiplier)
		if err != nil {
			return report, err
		}
		result = hinted
		report.GasEstimate = &estimate
	}

	if opts.simulate {
		if len(result.Transactions) == 0 {
			log.Info("nothing to simulate; batch is an off-chain payload")
		} else {
			validator, err := s.validatorFor(ctx, chain, opts.forkRPC, validators)
			if err != nil {
				return report, err
			}
			sim, err := validator.Simulate(ctx, report.Account, result.Transactions, simulationTokens(actx))
			if err != nil {
				return report, err
			}
			if sim.Success && chain.IsEVM() {
				result = execution.WithGasHints(result, sim.PerTxGas, simGasMultiplier)
			}
			if !sim.Success {
				// the error envelope carries the failure; this is for log files
				log.Debug("simulation failed", zap.String("error", sim.Error))
			}
			report.Simulation = &sim
		}
	}

	report.Transactions = result.Transactions
	report.Labels = result.Labels
	report.SignPayload = result.SignPayload
	return report, nil
}

func (s *runtimeState) estimateGas(ctx context.Context, chain id.Chain, rpcURL, from string, result execution.BuilderResult, multiplier float64) (execution.BuilderResult, execution.GasEstimate, error) {
	url, err := registry.ResolveRPCURL(rpcURL, chain.EVMChainID)
	if err != nil {
		return result, execution.GasEstimate{}, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return result, execution.GasEstimate{}, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	defer client.Close()
	opts := execution.DefaultEstimateOptions()
	opts.GasMultiplier = multiplier
	return execution.EstimateResultGas(ctx, client, from, result, opts)
}

// validatorFor dials one validator per chain family and reuses it across intents.
func (s *runtimeState) validatorFor(ctx context.Context, chain id.Chain, forkRPC string, dialed map[string]simulate.Validator) (simulate.Validator, error) {
	key := chain.Namespace()
	if v, ok := dialed[key]; ok {
		return v, nil
	}
	v, err := s.runner.newValidator(ctx, chain, s.validatorEndpoint(chain, forkRPC), s.log.Named("simulate"))
	if err != nil {
		return nil, err
	}
	dialed[key] = v
	return v, nil
}

func (s *runtimeState) validatorEndpoint(chain id.Chain, forkRPC string) string {
	if chain.IsSolana() {
		return registry.ResolveSolanaRPCURL(s.settings.SolanaRPC)
	}
	if strings.TrimSpace(forkRPC) != "" {
		return strings.TrimSpace(forkRPC)
	}
	return s.settings.ForkRPC
}

// closingValidator releases the dialed RPC connection with the validator.
type closingValidator struct {
	simulate.Validator
	release func()
}

func (c closingValidator) Close() { c.release() }

func newValidator(ctx context.Context, chain id.Chain, endpoint string, log *zap.Logger) (simulate.Validator, error) {
	switch {
	case chain.IsSolana():
		v, release, err := simulate.DialSolana(ctx, endpoint, log)
		if err != nil {
			return nil, err
		}
		return closingValidator{Validator: v, release: release}, nil
	case chain.IsEVM():
		if endpoint == "" {
			return nil, clierr.New(clierr.CodeConfig, "EVM simulation needs a fork node; set fork_rpc or pass --fork-rpc")
		}
		v, release, err := simulate.DialEVM(ctx, endpoint, log)
		if err != nil {
			return nil, err
		}
		return closingValidator{Validator: v, release: release}, nil
	default:
		return nil, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("simulation is not supported on %s", chain.CAIP2))
	}
}

// simulationTokens lists the token addresses whose balances the batch is
// expected to move.
func simulationTokens(actx execution.ActionContext) []string {
	var tokens []id.Token
	switch c := actx.(type) {
	case execution.SwapContext:
		tokens = append(tokens, c.In.Token, c.Out)
	case execution.BridgeContext:
		tokens = append(tokens, c.In.Token)
	case execution.LendContext:
		tokens = append(tokens, c.Asset.Token)
		if c.Collateral != nil {
			tokens = append(tokens, c.Collateral.Token)
		}
	case execution.StakeContext:
		tokens = append(tokens, c.Primary.Token)
		if c.Secondary != nil {
			tokens = append(tokens, c.Secondary.Token)
		}
	case execution.PerpContext:
		tokens = append(tokens, c.Collateral.Token)
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t.Address == "" {
			continue
		}
		key := strings.ToLower(t.Address)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, simulationAddress(t))
	}
	return out
}

// simulationAddress checksums EVM addresses so validators can compare them
// against node output directly.
func simulationAddress(t id.Token) string {
	if common.IsHexAddress(t.Address) {
		return common.HexToAddress(t.Address).Hex()
	}
	return t.Address
}
