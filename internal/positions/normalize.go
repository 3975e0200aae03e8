package positions

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ggonzalez94/defi-actions/internal/id"
	"github.com/ggonzalez94/defi-actions/internal/providers/debank"
	"github.com/shopspring/decimal"
)

// indexer protocol ids that differ from ours.
var protocolAliases = map[string]string{
	"aave3":      "aave",
	"uniswap3":   "uniswap",
	"camelot3":   "camelot",
	"velodrome2": "velodrome",
	"aerodrome2": "aerodrome",
	"pendle2":    "pendle",
	"compound3":  "compound",
	"blade":      "bladeswap",
	"thruster3":  "thruster",
}

var indexerProtocolIDs = map[string]string{
	"aave":      "aave3",
	"uniswap":   "uniswap3",
	"camelot":   "camelot3",
	"velodrome": "velodrome2",
	"aerodrome": "aerodrome2",
	"pendle":    "pendle2",
	"compound":  "compound3",
	"bladeswap": "blade",
	"thruster":  "thruster3",
}

var uniswapLike = map[string]bool{
	"uniswap": true, "velodrome": true, "aerodrome": true, "camelot": true, "thruster": true,
}

// protocols whose positions are meaningless without a pool identity.
var poolRequired = map[string]bool{
	"curve": true, "gmx": true, "pendle": true, "uniswap": true,
	"camelot": true, "velodrome": true, "aerodrome": true, "thruster": true,
}

// protocolName strips the chain prefix and maps the indexer id to ours.
// Ids that still carry a digit are versions we do not model and yield "".
func protocolName(p debank.Protocol) string {
	name := strings.TrimPrefix(strings.ToLower(p.ID), strings.ToLower(p.Chain)+"_")
	if alias, ok := protocolAliases[name]; ok {
		name = alias
	}
	if strings.ContainsAny(name, "0123456789") {
		return ""
	}
	return name
}

func indexerProtocolID(protocol, chain string) string {
	pid := protocol
	if mapped, ok := indexerProtocolIDs[protocol]; ok {
		pid = mapped
	}
	if chain != "eth" {
		pid = chain + "_" + pid
	}
	return pid
}

func (r *Resolver) normalizeProtocol(p debank.Protocol) (Portfolio, bool) {
	name := protocolName(p)
	if name == "" {
		return Portfolio{}, false
	}
	chainID, _ := debank.EVMChainID(p.Chain)
	out := Portfolio{Name: name, Positions: []Position{}}
	for _, item := range p.PortfolioItemList {
		pos := Position{
			Name:       item.Name,
			HealthRate: item.Detail.HealthRate,
			Supply:     convertTokens(item.Detail.SupplyTokenList),
			Borrow:     convertTokens(item.Detail.BorrowTokenList),
			Reward:     convertTokens(item.Detail.RewardTokenList),
		}
		r.assignPool(name, chainID, item, &pos)
		if poolRequired[name] && pos.PoolName == "" {
			continue
		}
		out.Positions = append(out.Positions, pos)
	}
	return out, true
}

func (r *Resolver) assignPool(name string, chainID int64, item debank.PortfolioItem, pos *Position) {
	switch {
	case name == "curve":
		pos.PoolName = strings.ToLower(strings.TrimSpace(item.Detail.Description))
	case name == "gmx" || name == "pendle":
		parts := strings.Split(strings.ToLower(item.PositionIndex), "_")
		for _, pool := range r.book.Pools(name, chainID) {
			addr := strings.ToLower(pool.Address)
			if addr == "" {
				continue
			}
			if addr == strings.ToLower(item.Pool.ID) || contains(parts, addr) {
				pos.PoolName = pool.Name
				break
			}
		}
	case name == "ambient":
		parts := strings.Split(item.PositionIndex, "_")
		if len(parts) > 4 {
			pos.LowerTick = parseTick(parts[3])
			pos.UpperTick = parseTick(parts[4])
		}
		pos.PoolName = pairName(pos.Supply)
	case uniswapLike[name]:
		idx := item.PositionIndex
		if strings.HasPrefix(idx, "0x") && strings.Contains(idx, ":") {
			idx = idx[strings.Index(idx, ":")+1:]
		}
		pos.PositionIndex = idx
		pos.PoolName = pairName(pos.Supply)
	case name == "compound":
		if pool, ok := r.book.PoolByAddress(name, chainID, item.Pool.Controller); ok {
			pos.PoolName = pool.Name
		} else if len(pos.Supply) > 0 {
			pos.PoolName = strings.ToLower(pos.Supply[0].Symbol)
		}
	}
}

func pairName(tokens []Token) string {
	if len(tokens) < 2 {
		return ""
	}
	return strings.ToLower(tokens[0].Symbol + "-" + tokens[1].Symbol)
}

func parseTick(raw string) *int64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil
	}
	tick := int64(v)
	return &tick
}

func convertTokens(in []debank.Token) []Token {
	if len(in) == 0 {
		return nil
	}
	out := make([]Token, 0, len(in))
	for _, t := range in {
		out = append(out, convertToken(t))
	}
	return out
}

// convertToken turns an indexer decimal amount into base units. Native
// balances are reported with the chain name as id.
func convertToken(t debank.Token) Token {
	decimals := t.Decimals
	if decimals <= 0 {
		decimals = 18
	}
	address := t.ID
	if strings.EqualFold(t.ID, t.Chain) {
		address = id.NativeAddress
	}
	symbol := t.Symbol
	if evmID, ok := debank.EVMChainID(t.Chain); ok {
		if chain, ok := id.ChainByID(evmID); ok {
			if known, ok := id.LookupByAddress(chain.CAIP2, address); ok {
				symbol = known.Symbol
			}
		}
	}
	return Token{
		Symbol:   symbol,
		Address:  address,
		Amount:   baseUnits(t.Amount, decimals),
		Decimals: decimals,
	}
}

func baseUnits(amount decimal.Decimal, decimals int) *big.Int {
	return amount.Shift(int32(decimals)).Truncate(0).BigInt()
}

// samePool compares "a-b" pool labels regardless of order, treating weth as eth.
func samePool(a, b string) bool {
	pa, pb := poolParts(a), poolParts(b)
	if len(pa) != len(pb) {
		return false
	}
	if strings.Join(pa, "-") == strings.Join(pb, "-") {
		return true
	}
	if len(pa) != 2 {
		return false
	}
	return pa[0] == pb[1] && pa[1] == pb[0]
}

func poolParts(pool string) []string {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(pool)), "-")
	for i, p := range parts {
		if p == "weth" {
			parts[i] = "eth"
		}
	}
	return parts
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
