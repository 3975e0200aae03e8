package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
)

// Purpose names the role a contract plays for a protocol on one chain.
type Purpose string

const (
	PurposePoolProvider  Purpose = "pool_provider"
	PurposeGateway       Purpose = "gateway"
	PurposeMargin        Purpose = "margin"
	PurposeDepositRouter Purpose = "deposit_router"
	PurposeBorrowRouter  Purpose = "borrow_router"
	PurposeFactoryGLP    Purpose = "factory_glp"
	PurposeFactoryGMX    Purpose = "factory_gmx"
	PurposeDex           Purpose = "dex"
	PurposeQuery         Purpose = "query"
	PurposeVault         Purpose = "vault"
	PurposeBridge        Purpose = "bridge"
	PurposeRouter        Purpose = "router"
)

var abiByPurpose = map[string]map[Purpose]string{
	"aave": {
		PurposePoolProvider: AavePoolAddressProviderABI,
		PurposeGateway:      AaveWETHGatewayABI,
	},
	"dolomite": {
		PurposeMargin:        DolomiteMarginABI,
		PurposeDepositRouter: DolomiteDepositProxyABI,
		PurposeBorrowRouter:  DolomiteBorrowProxyABI,
		PurposeFactoryGLP:    DolomiteVaultFactoryABI,
		PurposeFactoryGMX:    DolomiteVaultFactoryABI,
	},
	"ambient": {
		PurposeDex:   AmbientDexABI,
		PurposeQuery: AmbientQueryABI,
	},
	"bladeswap": {
		PurposeVault: BatchVaultABI,
	},
	"hyperliquid": {
		PurposeBridge: ERC20MinimalABI,
	},
}

// Default deployment table. Every entry can be replaced through config
// (addresses.<protocol>.<chain_id>.<purpose>).
var defaultAddresses = map[string]map[int64]map[Purpose]string{
	"aave": {
		1: {
			PurposePoolProvider: "0x2f39d218133AFaB8F2B819B1066c7E434Ad94E9e",
			PurposeGateway:      "0xD322A49006FC828F9B5B37Ab215F99B4E5caB19C",
		},
		10: {
			PurposePoolProvider: "0xa97684ead0e402dC232d5A977953DF7ECBaB3CDb",
			PurposeGateway:      "0xe9E52021f4e11DEAD8661812A0A6c8627abA2a54",
		},
		137: {
			PurposePoolProvider: "0xa97684ead0e402dC232d5A977953DF7ECBaB3CDb",
			PurposeGateway:      "0xC1E320966c485ebF2A0A2A6d3c0Dc860A156eB1B",
		},
		8453: {
			PurposePoolProvider: "0xe20fCBdBfFC4Dd138cE8b2E6FBb6CB49777ad64D",
			PurposeGateway:      "0x8be473dCfA93132658821E67CbEB684ec8Ea2E74",
		},
		42161: {
			PurposePoolProvider: "0xa97684ead0e402dC232d5A977953DF7ECBaB3CDb",
			PurposeGateway:      "0x5283BEcEd7ADF6D003225C13896E536f2D4264FF",
		},
		43114: {
			PurposePoolProvider: "0xa97684ead0e402dC232d5A977953DF7ECBaB3CDb",
			PurposeGateway:      "0x2825cE5921538d17cc15Ae00a8B24fF759C6CDaE",
		},
	},
	"dolomite": {
		42161: {
			PurposeMargin:        "0x6Bd780E7fDf01D77e4d475c821f1e7AE05409072",
			PurposeDepositRouter: "0xAdB9D68c613df4AA363B42161E1282117C7B9594",
			PurposeBorrowRouter:  "0x38E49A617305101216eC6306e3a18065D14Bf3a7",
			PurposeFactoryGLP:    "0x34DF4E8062A8C8Ae97E3382B452bd7BF60542698",
			PurposeFactoryGMX:    "0x790FE7d6a2A0F5E4E0d8bbA7C2F2C8F1d0a4B1c3",
		},
	},
	"ambient": {
		1: {
			PurposeDex:   "0xAaAaAAAaA24eEeb8d57D431224f73832bC34f688",
			PurposeQuery: "0xc2e1f740E11294C64adE66f69a1271C5B32004c8",
		},
		81457: {
			PurposeDex:   "0xaAaaaAAAFfe404EE9433EEf0094b6382D81fb958",
			PurposeQuery: "0xA3BD3bE19012De2e0b8BAD9c6A2a2eF9bD32a0C4",
		},
	},
	"bladeswap": {
		81457: {
			PurposeVault: "0x10F6b147D51f7578F760065DF7f174c3bc95382c",
		},
	},
	"hyperliquid": {
		42161: {
			PurposeBridge: "0x2Df1c51E09aECF9cacB7bc98cB1742757f163dF7",
		},
	},
	"jupiter": {
		// Solana has no EVM chain id; zero keys the single non-EVM deployment.
		0: {
			PurposeRouter: "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4",
		},
	},
}

// Contract is one resolved address together with the interface used to call it.
type Contract struct {
	Protocol string
	Purpose  Purpose
	ChainID  int64
	Address  common.Address
	ABI      abi.ABI
}

// AddressBook is the per-protocol, per-chain, per-purpose address table.
// It is read-only after construction and safe for concurrent use.
type AddressBook struct {
	entries map[string]map[int64]map[Purpose]string
	pools   map[string]map[int64]map[string]Pool
}

// DefaultAddressBook returns the built-in deployment table.
func DefaultAddressBook() *AddressBook {
	return &AddressBook{entries: cloneEntries(defaultAddresses), pools: clonePools(defaultPools)}
}

// WithOverrides returns a copy of the book where every override replaces the
// built-in address for the same protocol, chain and purpose.
func (b *AddressBook) WithOverrides(overrides map[string]map[int64]map[string]string) *AddressBook {
	out := &AddressBook{entries: cloneEntries(b.entries), pools: b.pools}
	for protocol, chains := range overrides {
		protocol = normalizeProtocol(protocol)
		if out.entries[protocol] == nil {
			out.entries[protocol] = map[int64]map[Purpose]string{}
		}
		for chainID, purposes := range chains {
			if out.entries[protocol][chainID] == nil {
				out.entries[protocol][chainID] = map[Purpose]string{}
			}
			for purpose, addr := range purposes {
				out.entries[protocol][chainID][Purpose(strings.ToLower(strings.TrimSpace(purpose)))] = strings.TrimSpace(addr)
			}
		}
	}
	return out
}

// Deployed reports whether the protocol has any contract on the chain.
func (b *AddressBook) Deployed(protocol string, chainID int64) bool {
	_, ok := b.entries[normalizeProtocol(protocol)][chainID]
	return ok
}

// Chains lists the chains a protocol has contracts or pools on, in ascending
// chain id order.
func (b *AddressBook) Chains(protocol string) []int64 {
	protocol = normalizeProtocol(protocol)
	seen := map[int64]struct{}{}
	for chainID := range b.entries[protocol] {
		seen[chainID] = struct{}{}
	}
	for chainID := range b.pools[protocol] {
		seen[chainID] = struct{}{}
	}
	out := make([]int64, 0, len(seen))
	for chainID := range seen {
		out = append(out, chainID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Address returns the raw address string for a purpose. A missing entry is a
// configuration gap, reported with CodeConfig.
func (b *AddressBook) Address(protocol string, chainID int64, purpose Purpose) (string, error) {
	protocol = normalizeProtocol(protocol)
	addr := strings.TrimSpace(b.entries[protocol][chainID][purpose])
	if addr == "" {
		return "", clierr.New(clierr.CodeConfig, AddressErrorMessage(protocol, string(purpose), chainID))
	}
	return addr, nil
}

// Contract resolves an EVM contract and its ABI.
func (b *AddressBook) Contract(protocol string, chainID int64, purpose Purpose) (Contract, error) {
	raw, err := b.Address(protocol, chainID, purpose)
	if err != nil {
		return Contract{}, err
	}
	if !common.IsHexAddress(raw) || common.HexToAddress(raw) == (common.Address{}) {
		return Contract{}, clierr.New(clierr.CodeConfig, AddressErrorMessage(protocol, string(purpose), chainID))
	}
	parsed, err := contractABI(normalizeProtocol(protocol), purpose)
	if err != nil {
		return Contract{}, clierr.Wrap(clierr.CodeConfig, ABIErrorMessage(raw, chainID), err)
	}
	return Contract{
		Protocol: normalizeProtocol(protocol),
		Purpose:  purpose,
		ChainID:  chainID,
		Address:  common.HexToAddress(raw),
		ABI:      parsed,
	}, nil
}

func contractABI(protocol string, purpose Purpose) (abi.ABI, error) {
	raw := strings.TrimSpace(abiByPurpose[protocol][purpose])
	if raw == "" {
		return abi.ABI{}, fmt.Errorf("no abi registered for %s/%s", protocol, purpose)
	}
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return abi.ABI{}, err
	}
	if len(parsed.Methods) == 0 {
		return abi.ABI{}, fmt.Errorf("empty abi for %s/%s", protocol, purpose)
	}
	return parsed, nil
}

func normalizeProtocol(protocol string) string {
	return strings.ToLower(strings.TrimSpace(protocol))
}

func cloneEntries(in map[string]map[int64]map[Purpose]string) map[string]map[int64]map[Purpose]string {
	out := make(map[string]map[int64]map[Purpose]string, len(in))
	for protocol, chains := range in {
		out[protocol] = make(map[int64]map[Purpose]string, len(chains))
		for chainID, purposes := range chains {
			out[protocol][chainID] = make(map[Purpose]string, len(purposes))
			for purpose, addr := range purposes {
				out[protocol][chainID][purpose] = addr
			}
		}
	}
	return out
}
