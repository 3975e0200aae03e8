package registry

// ABI fragments used by builders, resolvers and the simulator.
const (
	ERC20MinimalABI = `[
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`

	WrappedNativeABI = `[
		{"name":"deposit","type":"function","stateMutability":"payable","inputs":[],"outputs":[]},
		{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"wad","type":"uint256"}],"outputs":[]}
	]`

	AavePoolAddressProviderABI = `[
		{"name":"getPool","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"name":"getPoolDataProvider","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
	]`

	AavePoolABI = `[
		{"name":"supply","type":"function","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],"outputs":[]},
		{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"borrow","type":"function","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"interestRateMode","type":"uint256"},{"name":"referralCode","type":"uint16"},{"name":"onBehalfOf","type":"address"}],"outputs":[]},
		{"name":"repay","type":"function","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"interestRateMode","type":"uint256"},{"name":"onBehalfOf","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`

	AaveDataProviderABI = `[
		{"name":"getReserveTokensAddresses","type":"function","stateMutability":"view","inputs":[{"name":"asset","type":"address"}],"outputs":[{"name":"aTokenAddress","type":"address"},{"name":"stableDebtTokenAddress","type":"address"},{"name":"variableDebtTokenAddress","type":"address"}]}
	]`

	AaveWETHGatewayABI = `[
		{"name":"depositETH","type":"function","stateMutability":"payable","inputs":[{"name":"pool","type":"address"},{"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],"outputs":[]},
		{"name":"withdrawETH","type":"function","stateMutability":"nonpayable","inputs":[{"name":"pool","type":"address"},{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],"outputs":[]},
		{"name":"borrowETH","type":"function","stateMutability":"nonpayable","inputs":[{"name":"pool","type":"address"},{"name":"amount","type":"uint256"},{"name":"interestRateMode","type":"uint256"},{"name":"referralCode","type":"uint16"}],"outputs":[]},
		{"name":"repayETH","type":"function","stateMutability":"payable","inputs":[{"name":"pool","type":"address"},{"name":"amount","type":"uint256"},{"name":"rateMode","type":"uint256"},{"name":"onBehalfOf","type":"address"}],"outputs":[]}
	]`

	AaveDebtTokenABI = `[
		{"name":"borrowAllowance","type":"function","stateMutability":"view","inputs":[{"name":"fromUser","type":"address"},{"name":"toUser","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approveDelegation","type":"function","stateMutability":"nonpayable","inputs":[{"name":"delegatee","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
	]`

	DolomiteMarginABI = `[
		{"name":"getMarketIdByTokenAddress","type":"function","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"getAccountNumberOfMarketsWithBalances","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"tuple","components":[{"name":"owner","type":"address"},{"name":"number","type":"uint256"}]}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"getAccountWei","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"tuple","components":[{"name":"owner","type":"address"},{"name":"number","type":"uint256"}]},{"name":"marketId","type":"uint256"}],"outputs":[{"name":"sign","type":"bool"},{"name":"value","type":"uint256"}]}
	]`

	DolomiteDepositProxyABI = `[
		{"name":"depositETHIntoDefaultAccount","type":"function","stateMutability":"payable","inputs":[],"outputs":[]},
		{"name":"depositWeiIntoDefaultAccount","type":"function","stateMutability":"nonpayable","inputs":[{"name":"marketId","type":"uint256"},{"name":"amountWei","type":"uint256"}],"outputs":[]},
		{"name":"withdrawETHFromDefaultAccount","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amountWei","type":"uint256"},{"name":"balanceCheckFlag","type":"uint8"}],"outputs":[]},
		{"name":"withdrawWeiFromDefaultAccount","type":"function","stateMutability":"nonpayable","inputs":[{"name":"marketId","type":"uint256"},{"name":"amountWei","type":"uint256"},{"name":"balanceCheckFlag","type":"uint8"}],"outputs":[]}
	]`

	DolomiteBorrowProxyABI = `[
		{"name":"openBorrowPosition","type":"function","stateMutability":"nonpayable","inputs":[{"name":"fromAccountNumber","type":"uint256"},{"name":"toAccountNumber","type":"uint256"},{"name":"marketId","type":"uint256"},{"name":"amountWei","type":"uint256"},{"name":"balanceCheckFlag","type":"uint8"}],"outputs":[]},
		{"name":"transferBetweenAccounts","type":"function","stateMutability":"nonpayable","inputs":[{"name":"fromAccountNumber","type":"uint256"},{"name":"toAccountNumber","type":"uint256"},{"name":"marketId","type":"uint256"},{"name":"amountWei","type":"uint256"},{"name":"balanceCheckFlag","type":"uint8"}],"outputs":[]}
	]`

	DolomiteVaultFactoryABI = `[
		{"name":"getVaultByAccount","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"address"}]},
		{"name":"calculateVaultByAccount","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"address"}]},
		{"name":"createVaultAndDepositIntoDolomiteMargin","type":"function","stateMutability":"nonpayable","inputs":[{"name":"toAccountNumber","type":"uint256"},{"name":"amountWei","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}
	]`

	DolomiteVaultABI = `[
		{"name":"depositIntoVaultForDolomiteMargin","type":"function","stateMutability":"nonpayable","inputs":[{"name":"toAccountNumber","type":"uint256"},{"name":"amountWei","type":"uint256"}],"outputs":[]},
		{"name":"withdrawFromVaultForDolomiteMargin","type":"function","stateMutability":"nonpayable","inputs":[{"name":"fromAccountNumber","type":"uint256"},{"name":"amountWei","type":"uint256"}],"outputs":[]},
		{"name":"unstakeGmx","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
		{"name":"underlyingBalanceOf","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"handleRewards","type":"function","stateMutability":"nonpayable","inputs":[{"name":"shouldClaimGmx","type":"bool"},{"name":"shouldStakeGmx","type":"bool"},{"name":"shouldClaimEsGmx","type":"bool"},{"name":"shouldStakeEsGmx","type":"bool"},{"name":"shouldStakeMultiplierPoints","type":"bool"},{"name":"shouldClaimWeth","type":"bool"},{"name":"shouldDepositWethIntoDolomite","type":"bool"}],"outputs":[]}
	]`

	AmbientDexABI = `[
		{"name":"userCmd","type":"function","stateMutability":"payable","inputs":[{"name":"callpath","type":"uint16"},{"name":"cmd","type":"bytes"}],"outputs":[{"name":"","type":"bytes"}]}
	]`

	AmbientQueryABI = `[
		{"name":"queryPrice","type":"function","stateMutability":"view","inputs":[{"name":"base","type":"address"},{"name":"quote","type":"address"},{"name":"poolIdx","type":"uint256"}],"outputs":[{"name":"","type":"uint128"}]},
		{"name":"queryAmbientTokens","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"base","type":"address"},{"name":"quote","type":"address"},{"name":"poolIdx","type":"uint256"}],"outputs":[{"name":"liq","type":"uint128"},{"name":"baseQty","type":"uint128"},{"name":"quoteQty","type":"uint128"}]},
		{"name":"queryRangeTokens","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"base","type":"address"},{"name":"quote","type":"address"},{"name":"poolIdx","type":"uint256"},{"name":"lowerTick","type":"int24"},{"name":"upperTick","type":"int24"}],"outputs":[{"name":"liq","type":"uint128"},{"name":"baseQty","type":"uint128"},{"name":"quoteQty","type":"uint128"}]}
	]`

	BatchVaultABI = `[
		{"name":"execute","type":"function","stateMutability":"payable","inputs":[{"name":"tokenRef","type":"bytes32[]"},{"name":"deposit","type":"int128[]"},{"name":"ops","type":"tuple[]","components":[{"name":"poolId","type":"bytes32"},{"name":"tokenInformations","type":"bytes32[]"},{"name":"data","type":"bytes"}]}],"outputs":[{"name":"","type":"int128[]"}]}
	]`
)
