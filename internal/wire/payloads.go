package wire

import (
	"encoding/json"
	"fmt"
)

// OrderLine is one stock's entry in a buy/sell order: positive shares buy,
// negative sell. On the wire it is the pair [shares, price]; inbound the
// price is the one the client saw when composing the order, outbound it is
// the price the trade actually executed at.
type OrderLine struct {
	Shares int
	Price  int
}

func (l OrderLine) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{l.Shares, l.Price})
}

func (l *OrderLine) UnmarshalJSON(b []byte) error {
	var pair [2]int
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("order line must be a [shares, price] pair: %w", err)
	}
	l.Shares, l.Price = pair[0], pair[1]
	return nil
}

// BuySellRequest is the DATA of a buysell message: one line per stock.
type BuySellRequest struct {
	ReqID string      `json:"reqid"`
	Lines []OrderLine `json:"data"`
}

// Approval is the DATA of an approve message answering a buysell request.
// Order carries the executed per-stock (shares, price) pairs.
type Approval struct {
	ReqID        string      `json:"reqid"`
	Order        []OrderLine `json:"order"`
	Cost         int         `json:"cost"`
	Approved     bool        `json:"approved"`
	RejectReason string      `json:"reject-reason,omitempty"`
	Cash         int         `json:"cash"`
	Portfolio    []int       `json:"portfolio"`
}

// Quote is one stock's market summary entry: the pair [price, pays-dividend].
type Quote struct {
	Price        int
	PaysDividend bool
}

func (q Quote) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{q.Price, q.PaysDividend})
}

func (q *Quote) UnmarshalJSON(b []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("quote must be a [price, dividend] pair: %w", err)
	}
	if err := json.Unmarshal(pair[0], &q.Price); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &q.PaysDividend)
}

// GameRef names a joinable game, the pair [name, id].
type GameRef struct {
	Name string
	ID   string
}

func (g GameRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{g.Name, g.ID})
}

func (g *GameRef) UnmarshalJSON(b []byte) error {
	var pair [2]string
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("game ref must be a [name, id] pair: %w", err)
	}
	g.Name, g.ID = pair[0], pair[1]
	return nil
}

// JoinRequest is the DATA of a join-game message, the pair [name, id].
type JoinRequest GameRef

func (j JoinRequest) MarshalJSON() ([]byte, error)  { return GameRef(j).MarshalJSON() }
func (j *JoinRequest) UnmarshalJSON(b []byte) error { return (*GameRef)(j).UnmarshalJSON(b) }

// JoinFail is the DATA of a joinfail message.
type JoinFail struct {
	Reason string `json:"reason"`
}

// GameInfo is the DATA of an initgame message: the joining player's opening
// position plus the current market.
type GameInfo struct {
	Cash      int     `json:"cash"`
	Portfolio []int   `json:"portfolio"`
	Market    []Quote `json:"market"`
}

// Joined announces a new player to everyone in the game.
type Joined struct {
	NewPlayer string   `json:"newplayer"`
	All       []string `json:"all"`
}

// GameStart is broadcast when all players are ready and play begins.
type GameStart struct {
	GameLen  float64 `json:"gamelen"`
	StopTime string  `json:"stoptime"`
}

// ChatMsg relays one player's chat line to everyone.
type ChatMsg struct {
	Time       string `json:"time"`
	PlayerName string `json:"playername"`
	Message    string `json:"message"`
}

// Roll is the raw die result announced before its effects are applied.
type Roll struct {
	Stock  int    `json:"stock"`
	Action string `json:"action"`
	Amount int    `json:"amount"`
}

// MarketTick reports a price movement.
type MarketTick struct {
	Stock    int  `json:"stock"`
	Amount   int  `json:"amount"`
	NewPrice int  `json:"newprice"`
	Div      bool `json:"div"`
}

// Split reports a stock split to one holder: shares doubled plus a cash
// dividend on the pre-split holding.
type Split struct {
	Stock      int  `json:"stock"`
	NewPrice   int  `json:"newprice"`
	Div        bool `json:"div"`
	Shares     int  `json:"shares"`
	Gained     int  `json:"gained"`
	DivPaid    int  `json:"divpaid"`
	PlayerCash int  `json:"playercash"`
}

// OffMarket reports a bust to one holder: shares zeroed, no compensation.
type OffMarket struct {
	Stock    int  `json:"stock"`
	NewPrice int  `json:"newprice"`
	Div      bool `json:"div"`
	Shares   int  `json:"shares"`
	Lost     int  `json:"lost"`
}

// Div reports a dividend payout to one holder.
type Div struct {
	Stock      int `json:"stock"`
	Amount     int `json:"amount"`
	DivPaid    int `json:"divpaid"`
	PlayerCash int `json:"playercash"`
}

// PlayerSummary is one player's final standing.
type PlayerSummary struct {
	Name      string `json:"name"`
	Cash      int    `json:"cash"`
	NetWorth  int    `json:"networth"`
	Portfolio []int  `json:"portfolio"`
}

// GameOver is broadcast after the final roll. Winners lists every player
// tied at the highest net worth.
type GameOver struct {
	Winners        []string        `json:"winner"`
	WinnerNetWorth int             `json:"winner-networth"`
	Players        []PlayerSummary `json:"player-info"`
}
