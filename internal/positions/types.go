package positions

import "math/big"

// Portfolio is one protocol's positions for an account.
type Portfolio struct {
	Name      string     `json:"name"`
	Positions []Position `json:"positions"`
}

// Position is one entry of a portfolio. Name is the indexer category, for
// example "Lending", "Staked" or "Perpetuals".
type Position struct {
	Name          string   `json:"name"`
	PoolName      string   `json:"pool_name,omitempty"`
	PositionIndex string   `json:"position_index,omitempty"`
	LowerTick     *int64   `json:"lower_tick,omitempty"`
	UpperTick     *int64   `json:"upper_tick,omitempty"`
	HealthRate    *float64 `json:"health_rate,omitempty"`
	Supply        []Token  `json:"supply,omitempty"`
	Borrow        []Token  `json:"borrow,omitempty"`
	Reward        []Token  `json:"reward,omitempty"`
}

// Token is an amount held in a position, in base units. The pool fields are
// filled when the token is returned as an actionable entry.
type Token struct {
	Symbol        string   `json:"symbol"`
	Address       string   `json:"address,omitempty"`
	Amount        *big.Int `json:"amount"`
	Decimals      int      `json:"decimals"`
	PoolName      string   `json:"pool_name,omitempty"`
	PositionIndex string   `json:"position_index,omitempty"`
	LowerTick     *int64   `json:"lower_tick,omitempty"`
	UpperTick     *int64   `json:"upper_tick,omitempty"`
}

// ActionArgs narrows an actionable-token lookup.
type ActionArgs struct {
	Protocol string
	Pool     string
	ChainID  int64
}

// RawAction is an action whose chain has not been chosen yet.
type RawAction struct {
	Name     string
	Protocol string
	Token    string
	Pool     string
}
