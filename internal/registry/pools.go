package registry

import (
	"sort"
	"strings"
)

// Pool is a named pool or market a protocol exposes on one chain.
type Pool struct {
	Name    string
	Address string
	// Gauge is the staking contract paired with the pool, when there is one.
	Gauge  string
	Tokens []string
}

var defaultPools = map[string]map[int64]map[string]Pool{
	"ambient": {
		1: {
			"eth-usdc": {Name: "eth-usdc", Tokens: []string{"eth", "usdc"}},
			"eth-usdt": {Name: "eth-usdt", Tokens: []string{"eth", "usdt"}},
			"eth-wbtc": {Name: "eth-wbtc", Tokens: []string{"eth", "wbtc"}},
		},
		81457: {
			"eth-usdb": {Name: "eth-usdb", Tokens: []string{"eth", "usdb"}},
		},
	},
	"bladeswap": {
		81457: {
			"eth-usdb": {
				Name:    "eth-usdb",
				Address: "0x70b3E2E2Ef2D3c6f3F5a6F1A29Eb0D6B4B35C1dE",
				Gauge:   "0x70b3E2E2Ef2D3c6f3F5a6F1A29Eb0D6B4B35C1dE",
				Tokens:  []string{"eth", "usdb"},
			},
			"blade-eth": {
				Name:    "blade-eth",
				Address: "0x2F8bBd3E1E0C3C9D2B5f0E3C5F19D9D8D7E8F0a1",
				Gauge:   "0x2F8bBd3E1E0C3C9D2B5f0E3C5F19D9D8D7E8F0a1",
				Tokens:  []string{"blade", "eth"},
			},
			"veblade": {
				Name:    "veblade",
				Address: "0xF8f2ab7C84CDB6CCaF1F699eB54Ba30C36B95d85",
				Tokens:  []string{"blade"},
			},
		},
	},
	"gmx": {
		42161: {
			"glp": {Name: "glp", Address: "0x1aDDD80E6039594eE970E5872D247bf0414C8903", Tokens: []string{"glp"}},
			"gmx": {Name: "gmx", Address: "0x908C4D94D34924765f1eDc22A1DD098397c59dD4", Tokens: []string{"gmx"}},
		},
	},
	"pendle": {
		1: {
			"pt-steth": {Name: "pt-steth", Address: "0x34280882267ffa6383b363e278b027be083bbe3b", Tokens: []string{"steth"}},
		},
		42161: {
			"pt-weeth": {Name: "pt-weeth", Address: "0x952083cde7aaa11ab8449057f7de23a970aa8472", Tokens: []string{"weeth"}},
			"pt-gdai":  {Name: "pt-gdai", Address: "0xa0192f6567f8f5dc38c53323235fd08b318d2dca", Tokens: []string{"gdai"}},
		},
	},
}

// Pools lists a protocol's pools on a chain, sorted by name.
func (b *AddressBook) Pools(protocol string, chainID int64) []Pool {
	pools := b.pools[normalizeProtocol(protocol)][chainID]
	out := make([]Pool, 0, len(pools))
	for _, pool := range pools {
		out = append(out, pool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Pool finds a pool by name. "a-b" also matches a pool registered as "b-a".
func (b *AddressBook) Pool(protocol string, chainID int64, name string) (Pool, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	pools := b.pools[normalizeProtocol(protocol)][chainID]
	if pool, ok := pools[name]; ok {
		return pool, true
	}
	parts := strings.Split(name, "-")
	if len(parts) == 2 {
		if pool, ok := pools[parts[1]+"-"+parts[0]]; ok {
			return pool, true
		}
	}
	return Pool{}, false
}

// PoolByAddress matches a pool or gauge address against the table.
func (b *AddressBook) PoolByAddress(protocol string, chainID int64, address string) (Pool, bool) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return Pool{}, false
	}
	for _, pool := range b.Pools(protocol, chainID) {
		if strings.ToLower(pool.Address) == address || (pool.Gauge != "" && strings.ToLower(pool.Gauge) == address) {
			return pool, true
		}
	}
	return Pool{}, false
}

func clonePools(in map[string]map[int64]map[string]Pool) map[string]map[int64]map[string]Pool {
	out := make(map[string]map[int64]map[string]Pool, len(in))
	for protocol, chains := range in {
		out[protocol] = make(map[int64]map[string]Pool, len(chains))
		for chainID, pools := range chains {
			out[protocol][chainID] = make(map[string]Pool, len(pools))
			for name, pool := range pools {
				pool.Tokens = append([]string(nil), pool.Tokens...)
				out[protocol][chainID][name] = pool
			}
		}
	}
	return out
}
