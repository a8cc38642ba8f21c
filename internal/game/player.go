package game

import "github.com/google/uuid"

// Player is one participant's economic state: cash, per-stock holdings and
// the ready-to-start flag. A Player is owned by its Game once added; every
// read or write of its fields happens under the game lock.
type Player struct {
	Name  string
	ID    string
	cash  int
	ready bool

	portfolio [NumStocks]int
}

func newPlayer(name string, cash int) *Player {
	return &Player{
		Name: name,
		ID:   uuid.NewString(),
		cash: cash,
	}
}

// portfolioSlice copies the holdings into a fresh slice for wire payloads.
func (p *Player) portfolioSlice() []int {
	out := make([]int, NumStocks)
	copy(out, p.portfolio[:])
	return out
}

// netWorthLocked is cash plus the liquidation value of the portfolio at the
// given prices, in whole dollars.
func (p *Player) netWorthLocked(market [NumStocks]int) int {
	cents := 0
	for i, shares := range p.portfolio {
		cents += shares * market[i]
	}
	return p.cash + cents/100
}
