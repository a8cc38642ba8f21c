// Package game implements the authoritative Stock Ticker rules: the market,
// player portfolios, order validation, and the periodic die roll that moves
// prices. All mutation funnels through one lock per game.
package game

// Stock identifies one of the six tradable stocks. Wire payloads address
// stocks by this index.
type Stock int

const (
	Gold Stock = iota
	Silver
	Oil
	Bonds
	Industrial
	Grain
)

// NumStocks is the size of every per-stock array in the game.
const NumStocks = 6

var stockNames = [NumStocks]string{"GOLD", "SILVER", "OIL", "BONDS", "INDUSTRIAL", "GRAIN"}

func (s Stock) String() string {
	if s < 0 || int(s) >= NumStocks {
		return "UNKNOWN"
	}
	return stockNames[s]
}

// Valid reports whether s addresses a real stock.
func (s Stock) Valid() bool {
	return s >= 0 && int(s) < NumStocks
}
