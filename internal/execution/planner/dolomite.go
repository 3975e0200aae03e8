package planner

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/execution"
	"github.com/ggonzalez94/defi-actions/internal/id"
	"github.com/ggonzalez94/defi-actions/internal/registry"
)

const (
	dolomiteDefaultAccount = 0
	dolomiteBorrowAccount  = 101

	// balance check flags: 0 none, 1 from, 2 to, 3 both.
	dolomiteCheckFrom = 1
	dolomiteCheckTo   = 2
)

var dolomiteActions = []string{"deposit", "withdraw", "lend", "borrow", "repay", "stake", "unstake", "claim"}

// dolomiteFactories maps a vault token to the factory that owns its per-user vaults.
var dolomiteFactories = map[string]registry.Purpose{
	"GLP": registry.PurposeFactoryGLP,
	"GMX": registry.PurposeFactoryGMX,
}

type dolomiteAccount struct {
	Owner  common.Address
	Number *big.Int
}

// Dolomite builds margin deposits, isolated borrow positions and per-user
// vault staking on Dolomite.
type Dolomite struct {
	book *registry.AddressBook
}

func NewDolomite(book *registry.AddressBook) *Dolomite {
	return &Dolomite{book: book}
}

func (d *Dolomite) Name() string { return "dolomite" }

func (d *Dolomite) Actions() []string { return append([]string(nil), dolomiteActions...) }

func (d *Dolomite) Build(ctx context.Context, actx execution.ActionContext) (execution.BuilderResult, error) {
	base := actx.Common()
	if !containsAction(dolomiteActions, base.Action) {
		return execution.BuilderResult{}, unsupportedAction(d.Name(), base.Action, dolomiteActions)
	}
	if !d.book.Deployed(d.Name(), base.Chain.EVMChainID) {
		return execution.BuilderResult{}, unsupportedCombination(base, contextToken(actx), "")
	}
	reader, release, err := openReader(ctx, base)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	defer release()

	switch typed := actx.(type) {
	case execution.LendContext:
		switch base.Action {
		case "deposit":
			return d.deposit(ctx, reader, typed)
		case "lend":
			return d.lend(ctx, reader, typed)
		case "withdraw":
			return d.withdraw(ctx, reader, typed)
		case "borrow":
			return d.borrow(ctx, reader, typed)
		case "repay":
			return d.repay(ctx, reader, typed)
		}
	case execution.StakeContext:
		switch base.Action {
		case "stake":
			return d.stake(ctx, reader, typed)
		case "unstake":
			return d.unstake(ctx, reader, typed)
		case "claim":
			return d.claim(ctx, reader, typed)
		}
	}
	return execution.BuilderResult{}, unsupportedAction(d.Name(), base.Action, dolomiteActions)
}

// deposit credits the default account. GLP and GMX live in isolation vaults
// and are deposited through the caller's vault instead.
func (d *Dolomite) deposit(ctx context.Context, reader execution.ChainReader, lend execution.LendContext) (execution.BuilderResult, error) {
	if err := requireAmount(lend.Asset); err != nil {
		return execution.BuilderResult{}, err
	}
	if purpose, ok := dolomiteFactories[strings.ToUpper(lend.Asset.Token.Symbol)]; ok {
		return d.vaultDeposit(ctx, reader, lend.Base, purpose, lend.Asset, lend.Action)
	}
	result := execution.BuilderResult{}
	if _, err := d.appendDefaultDeposit(ctx, reader, &result, lend.Base, lend.Asset, lend.Action); err != nil {
		return result, err
	}
	return result, nil
}

// appendDefaultDeposit moves asset from the wallet into the default account
// and returns the amount deposited.
func (d *Dolomite) appendDefaultDeposit(ctx context.Context, reader execution.ChainReader, result *execution.BuilderResult, base execution.Base, asset execution.TokenAmount, label string) (*big.Int, error) {
	router, err := d.book.Contract(d.Name(), base.Chain.EVMChainID, registry.PurposeDepositRouter)
	if err != nil {
		return nil, err
	}
	owner := accountAddress(base)
	if asset.Token.IsNative() {
		amount, err := requireBalance(ctx, reader, base.Chain, asset.Token, owner, asset.Amount)
		if err != nil {
			return nil, err
		}
		data, err := packCall(dolomiteDepositABI, "depositETHIntoDefaultAccount")
		if err != nil {
			return nil, err
		}
		result.Append(evmTx(base.Chain, router.Address, amount, data), label)
		return amount, nil
	}
	margin, err := d.book.Contract(d.Name(), base.Chain.EVMChainID, registry.PurposeMargin)
	if err != nil {
		return nil, err
	}
	marketID, err := d.marketID(ctx, reader, margin.Address, asset.Token, base.Chain)
	if err != nil {
		return nil, err
	}
	amount, err := ensureSpendable(ctx, reader, result, base.Chain, asset.Token, owner, asset.Amount)
	if err != nil {
		return nil, err
	}
	if err := appendApprovalIfNeeded(ctx, reader, result, base.Chain, tokenAddress(asset.Token), owner, margin.Address, amount); err != nil {
		return nil, err
	}
	data, err := packCall(dolomiteDepositABI, "depositWeiIntoDefaultAccount", marketID, amount)
	if err != nil {
		return nil, err
	}
	result.Append(evmTx(base.Chain, router.Address, nil, data), label)
	return amount, nil
}

// lend supplies collateral to the isolated borrow account. Funds not already
// in the default account are deposited there first, then moved over with
// openBorrowPosition, or transferBetweenAccounts once the position exists.
func (d *Dolomite) lend(ctx context.Context, reader execution.ChainReader, lend execution.LendContext) (execution.BuilderResult, error) {
	if err := requireAmount(lend.Asset); err != nil {
		return execution.BuilderResult{}, err
	}
	margin, err := d.book.Contract(d.Name(), lend.Chain.EVMChainID, registry.PurposeMargin)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	router, err := d.book.Contract(d.Name(), lend.Chain.EVMChainID, registry.PurposeBorrowRouter)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	marketID, err := d.marketID(ctx, reader, margin.Address, lend.Asset.Token, lend.Chain)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	owner := accountAddress(lend.Base)

	result := execution.BuilderResult{}
	amount := lend.Asset.Amount
	held, err := d.accountWei(ctx, reader, margin.Address, owner, dolomiteDefaultAccount, marketID)
	if err != nil {
		return result, err
	}
	if held.Cmp(amount) < 0 {
		deposited, err := d.appendDefaultDeposit(ctx, reader, &result, lend.Base, lend.Asset, "deposit")
		if err != nil {
			return result, err
		}
		amount = deposited
	}

	markets, err := viewUint(ctx, reader, margin.Address, dolomiteMarginABI, "getAccountNumberOfMarketsWithBalances",
		dolomiteAccount{Owner: owner, Number: big.NewInt(dolomiteBorrowAccount)})
	if err != nil {
		return result, err
	}
	method := "transferBetweenAccounts"
	if markets.Sign() == 0 {
		method = "openBorrowPosition"
	}
	data, err := packCall(dolomiteBorrowABI, method,
		big.NewInt(dolomiteDefaultAccount), big.NewInt(dolomiteBorrowAccount), marketID, amount, uint8(dolomiteCheckFrom))
	if err != nil {
		return result, err
	}
	result.Append(evmTx(lend.Chain, router.Address, nil, data), lend.Action)
	return result, nil
}

func (d *Dolomite) withdraw(ctx context.Context, reader execution.ChainReader, lend execution.LendContext) (execution.BuilderResult, error) {
	if purpose, ok := dolomiteFactories[strings.ToUpper(lend.Asset.Token.Symbol)]; ok {
		return d.vaultWithdraw(ctx, reader, lend.Base, purpose, lend.Asset, lend.Action)
	}
	router, err := d.book.Contract(d.Name(), lend.Chain.EVMChainID, registry.PurposeDepositRouter)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	amount := lend.Asset.Amount
	if amount == nil {
		amount = new(big.Int).Set(maxUint256)
	}
	result := execution.BuilderResult{}
	if lend.Asset.Token.IsNative() {
		data, err := packCall(dolomiteDepositABI, "withdrawETHFromDefaultAccount", amount, uint8(dolomiteCheckFrom))
		if err != nil {
			return result, err
		}
		result.Append(evmTx(lend.Chain, router.Address, nil, data), lend.Action)
		return result, nil
	}
	margin, err := d.book.Contract(d.Name(), lend.Chain.EVMChainID, registry.PurposeMargin)
	if err != nil {
		return result, err
	}
	marketID, err := d.marketID(ctx, reader, margin.Address, lend.Asset.Token, lend.Chain)
	if err != nil {
		return result, err
	}
	data, err := packCall(dolomiteDepositABI, "withdrawWeiFromDefaultAccount", marketID, amount, uint8(dolomiteCheckFrom))
	if err != nil {
		return result, err
	}
	result.Append(evmTx(lend.Chain, router.Address, nil, data), lend.Action)
	return result, nil
}

// borrow moves the borrowed asset from the isolated borrow account into the
// default account. With collateral and no open position, the position is
// opened in the same batch. Without collateral the borrow account is expected
// to be funded by an earlier lend.
func (d *Dolomite) borrow(ctx context.Context, reader execution.ChainReader, lend execution.LendContext) (execution.BuilderResult, error) {
	if err := requireAmount(lend.Asset); err != nil {
		return execution.BuilderResult{}, err
	}
	margin, err := d.book.Contract(d.Name(), lend.Chain.EVMChainID, registry.PurposeMargin)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	router, err := d.book.Contract(d.Name(), lend.Chain.EVMChainID, registry.PurposeBorrowRouter)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	owner := accountAddress(lend.Base)
	borrowAccount := dolomiteAccount{Owner: owner, Number: big.NewInt(dolomiteBorrowAccount)}
	markets, err := viewUint(ctx, reader, margin.Address, dolomiteMarginABI, "getAccountNumberOfMarketsWithBalances", borrowAccount)
	if err != nil {
		return execution.BuilderResult{}, err
	}

	result := execution.BuilderResult{}
	if markets.Sign() == 0 && lend.Collateral != nil && lend.Collateral.Amount != nil {
		collateralMarket, err := d.marketID(ctx, reader, margin.Address, lend.Collateral.Token, lend.Chain)
		if err != nil {
			return result, err
		}
		data, err := packCall(dolomiteBorrowABI, "openBorrowPosition",
			big.NewInt(dolomiteDefaultAccount), big.NewInt(dolomiteBorrowAccount), collateralMarket, lend.Collateral.Amount, uint8(dolomiteCheckFrom))
		if err != nil {
			return result, err
		}
		result.Append(evmTx(lend.Chain, router.Address, nil, data), execution.LabelCreateAndDeposit)
	}

	borrowMarket, err := d.marketID(ctx, reader, margin.Address, lend.Asset.Token, lend.Chain)
	if err != nil {
		return result, err
	}
	data, err := packCall(dolomiteBorrowABI, "transferBetweenAccounts",
		big.NewInt(dolomiteBorrowAccount), big.NewInt(dolomiteDefaultAccount), borrowMarket, lend.Asset.Amount, uint8(dolomiteCheckTo))
	if err != nil {
		return result, err
	}
	result.Append(evmTx(lend.Chain, router.Address, nil, data), lend.Action)
	return result, nil
}

func (d *Dolomite) repay(ctx context.Context, reader execution.ChainReader, lend execution.LendContext) (execution.BuilderResult, error) {
	margin, err := d.book.Contract(d.Name(), lend.Chain.EVMChainID, registry.PurposeMargin)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	router, err := d.book.Contract(d.Name(), lend.Chain.EVMChainID, registry.PurposeBorrowRouter)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	marketID, err := d.marketID(ctx, reader, margin.Address, lend.Asset.Token, lend.Chain)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	borrowAccount := dolomiteAccount{Owner: accountAddress(lend.Base), Number: big.NewInt(dolomiteBorrowAccount)}
	out, err := callView(ctx, reader, margin.Address, dolomiteMarginABI, "getAccountWei", borrowAccount, marketID)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	positive, _ := out[0].(bool)
	var debt *big.Int
	if len(out) > 1 {
		debt, _ = out[1].(*big.Int)
	}
	if positive || debt == nil || debt.Sign() == 0 {
		return execution.BuilderResult{}, clierr.New(clierr.CodeInsufficient, "You don't have any debt to repay right now.")
	}
	amount := lend.Asset.Amount
	if amount == nil || amount.Cmp(debt) > 0 {
		amount = new(big.Int).Set(debt)
	}
	data, err := packCall(dolomiteBorrowABI, "transferBetweenAccounts",
		big.NewInt(dolomiteDefaultAccount), big.NewInt(dolomiteBorrowAccount), marketID, amount, uint8(dolomiteCheckFrom))
	if err != nil {
		return execution.BuilderResult{}, err
	}
	result := execution.BuilderResult{}
	result.Append(evmTx(lend.Chain, router.Address, nil, data), lend.Action)
	return result, nil
}

func (d *Dolomite) stake(ctx context.Context, reader execution.ChainReader, stake execution.StakeContext) (execution.BuilderResult, error) {
	if err := requireAmount(stake.Primary); err != nil {
		return execution.BuilderResult{}, err
	}
	purpose, ok := dolomiteFactories[strings.ToUpper(stake.Primary.Token.Symbol)]
	if !ok {
		return execution.BuilderResult{}, unsupportedCombination(stake.Base, stake.Primary.Token.Symbol, "")
	}
	return d.vaultDeposit(ctx, reader, stake.Base, purpose, stake.Primary, stake.Action)
}

// vaultDeposit deposits into the caller's isolation vault, creating it in the
// same call when it does not exist yet. The approval spender is always the
// vault itself.
func (d *Dolomite) vaultDeposit(ctx context.Context, reader execution.ChainReader, base execution.Base, purpose registry.Purpose, asset execution.TokenAmount, label string) (execution.BuilderResult, error) {
	factory, err := d.book.Contract(d.Name(), base.Chain.EVMChainID, purpose)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	owner := accountAddress(base)
	amount, err := requireBalance(ctx, reader, base.Chain, asset.Token, owner, asset.Amount)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	vault, err := viewAddress(ctx, reader, factory.Address, dolomiteFactoryABI, "getVaultByAccount", owner)
	if err != nil {
		return execution.BuilderResult{}, err
	}

	result := execution.BuilderResult{}
	token := tokenAddress(asset.Token)
	if vault == (common.Address{}) {
		predicted, err := viewAddress(ctx, reader, factory.Address, dolomiteFactoryABI, "calculateVaultByAccount", owner)
		if err != nil {
			return result, err
		}
		if err := appendApprovalIfNeeded(ctx, reader, &result, base.Chain, token, owner, predicted, amount); err != nil {
			return result, err
		}
		data, err := packCall(dolomiteFactoryABI, "createVaultAndDepositIntoDolomiteMargin", big.NewInt(dolomiteDefaultAccount), amount)
		if err != nil {
			return result, err
		}
		result.Append(evmTx(base.Chain, factory.Address, nil, data), execution.LabelCreateAndDeposit)
		return result, nil
	}

	if err := appendApprovalIfNeeded(ctx, reader, &result, base.Chain, token, owner, vault, amount); err != nil {
		return result, err
	}
	data, err := packCall(dolomiteVaultABI, "depositIntoVaultForDolomiteMargin", big.NewInt(dolomiteDefaultAccount), amount)
	if err != nil {
		return result, err
	}
	result.Append(evmTx(base.Chain, vault, nil, data), label)
	return result, nil
}

// vaultWithdraw returns isolation-vault tokens to the wallet. An omitted
// amount withdraws the vault's whole underlying balance.
func (d *Dolomite) vaultWithdraw(ctx context.Context, reader execution.ChainReader, base execution.Base, purpose registry.Purpose, asset execution.TokenAmount, label string) (execution.BuilderResult, error) {
	vault, err := d.existingVault(ctx, reader, base, purpose)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	if vault == (common.Address{}) {
		return execution.BuilderResult{}, clierr.New(clierr.CodeInsufficient, "There is no position to withdraw.")
	}
	amount, err := d.vaultAmount(ctx, reader, vault, asset, "There is no position to withdraw.")
	if err != nil {
		return execution.BuilderResult{}, err
	}
	data, err := packCall(dolomiteVaultABI, "withdrawFromVaultForDolomiteMargin", big.NewInt(dolomiteDefaultAccount), amount)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	result := execution.BuilderResult{}
	result.Append(evmTx(base.Chain, vault, nil, data), label)
	return result, nil
}

func (d *Dolomite) unstake(ctx context.Context, reader execution.ChainReader, stake execution.StakeContext) (execution.BuilderResult, error) {
	symbol := strings.ToUpper(stake.Primary.Token.Symbol)
	purpose, ok := dolomiteFactories[symbol]
	if !ok {
		return execution.BuilderResult{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf(
			"Unstaking from protocol dolomite is not supported with token %s. Available tokens to unstake are GLP and GMX.", stake.Primary.Token.Symbol))
	}
	vault, err := d.existingVault(ctx, reader, stake.Base, purpose)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	if vault == (common.Address{}) {
		return execution.BuilderResult{}, clierr.New(clierr.CodeInsufficient, "There is no position to unstake.")
	}
	amount, err := d.vaultAmount(ctx, reader, vault, stake.Primary, "There is no position to unstake.")
	if err != nil {
		return execution.BuilderResult{}, err
	}
	var data []byte
	if symbol == "GMX" {
		data, err = packCall(dolomiteVaultABI, "unstakeGmx", amount)
	} else {
		data, err = packCall(dolomiteVaultABI, "withdrawFromVaultForDolomiteMargin", big.NewInt(dolomiteDefaultAccount), amount)
	}
	if err != nil {
		return execution.BuilderResult{}, err
	}
	result := execution.BuilderResult{}
	result.Append(evmTx(stake.Chain, vault, nil, data), stake.Action)
	return result, nil
}

// vaultAmount resolves an omitted amount to the vault's underlying balance.
func (d *Dolomite) vaultAmount(ctx context.Context, reader execution.ChainReader, vault common.Address, asset execution.TokenAmount, empty string) (*big.Int, error) {
	if !asset.IsAll() {
		return asset.Amount, nil
	}
	held, err := viewUint(ctx, reader, vault, dolomiteVaultABI, "underlyingBalanceOf")
	if err != nil {
		return nil, err
	}
	if held.Sign() == 0 {
		return nil, clierr.New(clierr.CodeInsufficient, empty)
	}
	return held, nil
}

// accountWei returns the positive balance of a margin account in one market.
// Debt reads as zero.
func (d *Dolomite) accountWei(ctx context.Context, reader execution.ChainReader, margin, owner common.Address, number int64, marketID *big.Int) (*big.Int, error) {
	out, err := callView(ctx, reader, margin, dolomiteMarginABI, "getAccountWei", dolomiteAccount{Owner: owner, Number: big.NewInt(number)}, marketID)
	if err != nil {
		return nil, err
	}
	positive, _ := out[0].(bool)
	var value *big.Int
	if len(out) > 1 {
		value, _ = out[1].(*big.Int)
	}
	if !positive || value == nil {
		return new(big.Int), nil
	}
	return value, nil
}

// claim harvests GMX-vault rewards: claim GMX and esGMX, stake multiplier
// points, and claim WETH without redepositing.
func (d *Dolomite) claim(ctx context.Context, reader execution.ChainReader, stake execution.StakeContext) (execution.BuilderResult, error) {
	purpose := registry.PurposeFactoryGMX
	if symbol := strings.ToUpper(stake.Primary.Token.Symbol); symbol != "" {
		if p, ok := dolomiteFactories[symbol]; ok {
			purpose = p
		}
	}
	vault, err := d.existingVault(ctx, reader, stake.Base, purpose)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	if vault == (common.Address{}) {
		return execution.BuilderResult{}, clierr.New(clierr.CodeInsufficient, "There is no position to claim rewards from.")
	}
	data, err := packCall(dolomiteVaultABI, "handleRewards", true, false, true, false, true, true, false)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	result := execution.BuilderResult{}
	result.Append(evmTx(stake.Chain, vault, nil, data), stake.Action)
	return result, nil
}

func (d *Dolomite) existingVault(ctx context.Context, reader execution.ChainReader, base execution.Base, purpose registry.Purpose) (common.Address, error) {
	factory, err := d.book.Contract(d.Name(), base.Chain.EVMChainID, purpose)
	if err != nil {
		return common.Address{}, err
	}
	return viewAddress(ctx, reader, factory.Address, dolomiteFactoryABI, "getVaultByAccount", accountAddress(base))
}

// marketID resolves a token's margin market. Native ETH trades as its wrapped form.
func (d *Dolomite) marketID(ctx context.Context, reader execution.ChainReader, margin common.Address, token id.Token, chain id.Chain) (*big.Int, error) {
	if token.IsNative() {
		wrapped, ok := id.WrappedNative(chain)
		if !ok {
			return nil, clierr.New(clierr.CodeUnsupported, "wrapped native token is not registered for "+chain.Name)
		}
		token = wrapped
	}
	return viewUint(ctx, reader, margin, dolomiteMarginABI, "getMarketIdByTokenAddress", tokenAddress(token))
}

func contextToken(actx execution.ActionContext) string {
	switch typed := actx.(type) {
	case execution.LendContext:
		return typed.Asset.Token.Symbol
	case execution.StakeContext:
		return typed.Primary.Token.Symbol
	case execution.SwapContext:
		return typed.In.Token.Symbol
	case execution.BridgeContext:
		return typed.In.Token.Symbol
	case execution.PerpContext:
		if typed.Market != "" {
			return typed.Market
		}
		return typed.Collateral.Token.Symbol
	}
	return ""
}
