package game

import (
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jweaver-ca/stock-ticker/internal/wire"
)

// Game rule constants. A price that reaches SplitVal or OffMarketVal is
// resolved in the same locked step that produced it, so after every market
// action all prices sit strictly inside the open interval.
const (
	InitVal      = 100 // price of every stock at game start and after split/bust
	OffMarketVal = 0   // at or below: bust
	SplitVal     = 200 // at or above: split
	DivVal       = 105 // minimum price for a stock to pay dividends
	InitCash     = 5000
)

// Die faces for the market action.
const (
	ActionUp   = "UP"
	ActionDown = "DOWN"
	ActionDiv  = "DIV"
)

var amountDie = [...]int{5, 10, 20}
var actionDie = [...]string{ActionUp, ActionDown, ActionDiv}

// maxDivRerolls bounds the re-roll loop for dividends on non-paying stocks.
// Exceeding it means the dice are broken, not a runtime condition.
const maxDivRerolls = 100

var (
	ErrDuplicatePlayer = errors.New("game: player name already registered")
	ErrUnknownPlayer   = errors.New("game: no such player")
	ErrInvalidState    = errors.New("game: operation not valid in current state")
	ErrPlayersNotReady = errors.New("game: not all players are ready")
)

// Status is the one-way game lifecycle: waiting, running, ended.
type Status int

const (
	StatusWaitingStart Status = iota
	StatusRunning
	StatusEnded
)

func (s Status) String() string {
	switch s {
	case StatusWaitingStart:
		return "WAITING-START"
	case StatusRunning:
		return "RUNNING"
	case StatusEnded:
		return "ENDED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Notice is an outbound message produced by the engine. An empty To means
// every player in the game; otherwise it is directed at one player by name.
type Notice struct {
	To   string
	Type string
	Data any
}

// Options configure a game at creation; there is no runtime reconfiguration.
type Options struct {
	TickEvery time.Duration // market action interval
	GameLen   time.Duration // total play time from StartGame
}

// Game owns the market and the players and enforces the trading rules.
// Every public operation serializes through the game's single mutex; the
// roll timer and the connection handlers are the only callers.
type Game struct {
	Name string
	ID   string

	log  *slog.Logger
	opts Options
	sink func(Notice)

	mu        sync.Mutex
	rand      *mathrand.Rand
	market    [NumStocks]int
	players   map[string]*Player
	order     []string // player names in join order
	status    Status
	startTime time.Time
	endTime   time.Time
	timer     *RollTimer
}

// New creates a game in the waiting state. The sink receives every notice
// the engine emits; it is called outside the game lock and must not call
// back into the engine.
func New(name string, opts Options, logger *slog.Logger, sink func(Notice)) *Game {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = func(Notice) {}
	}
	g := &Game{
		Name:    name,
		ID:      uuid.NewString(),
		log:     logger,
		opts:    opts,
		sink:    sink,
		rand:    mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
		players: make(map[string]*Player),
		status:  StatusWaitingStart,
	}
	for i := range g.market {
		g.market[i] = InitVal
	}
	g.timer = NewRollTimer(opts.TickEvery, g.MarketAction, func(d time.Duration) {
		g.sink(Notice{Type: wire.TypeActionTime, Data: int(d / time.Second)})
	})
	return g
}

// AddPlayer registers a new player with starting cash and an empty
// portfolio.
func (g *Game) AddPlayer(name string) (*Player, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.players[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePlayer, name)
	}
	p := newPlayer(name, InitCash)
	g.players[name] = p
	g.order = append(g.order, name)
	g.log.Info("player joined game", "game", g.Name, "player", name)
	return p, nil
}

// RemovePlayer drops the player from the game. Unknown names are ignored.
func (g *Game) RemovePlayer(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.players[name]; !ok {
		return
	}
	delete(g.players, name)
	for i, n := range g.order {
		if n == name {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	g.log.Info("player left game", "game", g.Name, "player", name)
}

// HasPlayer reports whether name is registered.
func (g *Game) HasPlayer(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.players[name]
	return ok
}

// PlayerNames returns the registered names in join order.
func (g *Game) PlayerNames() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// MarketSummary returns each stock's price and whether it pays dividends.
func (g *Game) MarketSummary() []wire.Quote {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.marketSummaryLocked()
}

func (g *Game) marketSummaryLocked() []wire.Quote {
	out := make([]wire.Quote, NumStocks)
	for i, price := range g.market {
		out[i] = wire.Quote{Price: price, PaysDividend: price >= DivVal}
	}
	return out
}

// InitGameInfo is the opening position sent to a player on join.
func (g *Game) InitGameInfo(name string) (wire.GameInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.players[name]
	if !ok {
		return wire.GameInfo{}, fmt.Errorf("%w: %s", ErrUnknownPlayer, name)
	}
	return wire.GameInfo{
		Cash:      p.cash,
		Portfolio: p.portfolioSlice(),
		Market:    g.marketSummaryLocked(),
	}, nil
}

// Ready marks the player ready to start. The second return reports whether
// every registered player is now ready. The first firing per player is
// distinguished so the caller can announce it exactly once.
func (g *Game) Ready(name string) (first, allReady bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.players[name]
	if !ok {
		return false, false, fmt.Errorf("%w: %s", ErrUnknownPlayer, name)
	}
	first = !p.ready
	p.ready = true
	return first, g.allReadyLocked(), nil
}

func (g *Game) allReadyLocked() bool {
	for _, p := range g.players {
		if !p.ready {
			return false
		}
	}
	return len(g.players) > 0
}

// StartGame moves the game from waiting to running, records the end time
// and starts the roll timer. It requires every registered player to be
// ready.
func (g *Game) StartGame() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != StatusWaitingStart {
		return fmt.Errorf("%w: %s", ErrInvalidState, g.status)
	}
	if !g.allReadyLocked() {
		return ErrPlayersNotReady
	}
	g.status = StatusRunning
	g.startTime = time.Now().UTC()
	g.endTime = g.startTime.Add(g.opts.GameLen)
	g.timer.Start()
	g.log.Info("game started", "game", g.Name, "ends", g.endTime)
	return nil
}

// Status returns the current lifecycle state.
func (g *Game) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// EndTime is the wall-clock moment play stops; zero before StartGame.
func (g *Game) EndTime() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.endTime
}

// GameLen is the configured play time in minutes, as announced at start.
func (g *Game) GameLen() float64 {
	return g.opts.GameLen.Minutes()
}

// PauseTicking defers the next market action until ResumeTicking.
func (g *Game) PauseTicking() { g.timer.Pause() }

// ResumeTicking releases a paused timer, rolling immediately.
func (g *Game) ResumeTicking() { g.timer.Restart() }

// Stop halts the roll timer; used on server shutdown.
func (g *Game) Stop() { g.timer.Stop() }

// ProcessOrder validates and applies a buy/sell order atomically. Trades
// execute at the current market price, not the price the client observed;
// the total is settled in whole dollars, truncated once on the summed
// amount. On rejection nothing changes and the approval carries the reason.
func (g *Game) ProcessOrder(name string, req wire.BuySellRequest) (wire.Approval, error) {
	if len(req.Lines) != NumStocks {
		return wire.Approval{}, fmt.Errorf("game: order must have %d lines, got %d", NumStocks, len(req.Lines))
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.players[name]
	if !ok {
		return wire.Approval{}, fmt.Errorf("%w: %s", ErrUnknownPlayer, name)
	}

	approval := wire.Approval{ReqID: req.ReqID, Order: make([]wire.OrderLine, 0, NumStocks)}
	totalCents := 0
	newTotals := p.portfolio
	for i, line := range req.Lines {
		approval.Order = append(approval.Order, wire.OrderLine{Shares: line.Shares, Price: g.market[i]})
		totalCents += line.Shares * g.market[i]
		newTotals[i] += line.Shares
	}
	totalDollars := totalCents / 100

	enoughCash := totalDollars <= p.cash
	enoughShares := true
	for _, s := range newTotals {
		if s < 0 {
			enoughShares = false
			break
		}
	}

	if enoughCash && enoughShares {
		p.cash -= totalDollars
		p.portfolio = newTotals
		approval.Approved = true
		approval.Cost = totalDollars
	} else {
		var reasons []string
		if !enoughCash {
			reasons = append(reasons, "not enough cash")
		}
		if !enoughShares {
			reasons = append(reasons, "not enough shares")
		}
		approval.RejectReason = strings.Join(reasons, "/")
	}
	approval.Cash = p.cash
	approval.Portfolio = p.portfolioSlice()
	g.log.Info("order processed", "game", g.Name, "player", name,
		"approved", approval.Approved, "cost", approval.Cost, "reason", approval.RejectReason)
	return approval, nil
}

type roll struct {
	stock  Stock
	action string
	amount int
}

func (g *Game) rollDice() roll {
	return roll{
		stock:  Stock(g.rand.Intn(NumStocks)),
		action: actionDie[g.rand.Intn(len(actionDie))],
		amount: amountDie[g.rand.Intn(len(amountDie))],
	}
}

func (g *Game) paysDividendLocked(s Stock) bool {
	return g.market[s] >= DivVal
}

// MarketAction rolls the dice and applies the result: price movement with
// split and bust resolution, or a dividend payout. It is the roll timer's
// action. The end-of-game check runs inside the same locked step.
func (g *Game) MarketAction() {
	var notices []Notice
	g.mu.Lock()
	if g.status != StatusRunning {
		g.mu.Unlock()
		return
	}

	r := g.rollDice()
	// A dividend rolled on a non-paying stock is discarded unseen.
	attempts := 1
	for r.action == ActionDiv && !g.paysDividendLocked(r.stock) {
		if attempts >= maxDivRerolls {
			g.mu.Unlock()
			panic(fmt.Sprintf("game: %d consecutive no-pay dividend rolls", attempts))
		}
		attempts++
		r = g.rollDice()
	}

	notices = append(notices, g.applyRollLocked(r)...)

	if time.Now().UTC().After(g.endTime) {
		g.status = StatusEnded
		g.timer.Stop()
		notices = append(notices, Notice{Type: wire.TypeGameOver, Data: g.gameOverLocked()})
		g.log.Info("game ended", "game", g.Name)
	}
	g.mu.Unlock()

	for _, n := range notices {
		g.sink(n)
	}
}

// applyRollLocked applies one die result to the market and the portfolios
// and returns the notices describing it, in delivery order.
func (g *Game) applyRollLocked(r roll) []Notice {
	notices := []Notice{{Type: wire.TypeRoll, Data: wire.Roll{
		Stock: int(r.stock), Action: r.action, Amount: r.amount,
	}}}

	switch r.action {
	case ActionUp, ActionDown:
		delta := r.amount
		if r.action == ActionDown {
			delta = -delta
		}
		g.market[r.stock] += delta

		var resolution []Notice
		if g.market[r.stock] >= SplitVal {
			resolution = g.processSplitLocked(r.stock)
		} else if g.market[r.stock] <= OffMarketVal {
			resolution = g.processBustLocked(r.stock)
		}
		// The plain tick goes out before any split/bust notices.
		notices = append(notices, Notice{Type: wire.TypeMarketTick, Data: wire.MarketTick{
			Stock:    int(r.stock),
			Amount:   r.amount,
			NewPrice: g.market[r.stock],
			Div:      g.paysDividendLocked(r.stock),
		}})
		notices = append(notices, resolution...)

	case ActionDiv:
		for _, name := range g.order {
			p := g.players[name]
			paid := p.portfolio[r.stock] * r.amount / 100
			if paid == 0 {
				continue
			}
			p.cash += paid
			notices = append(notices, Notice{To: name, Type: wire.TypeDiv, Data: wire.Div{
				Stock: int(r.stock), Amount: r.amount, DivPaid: paid, PlayerCash: p.cash,
			}})
		}
	}

	g.log.Info("market action", "game", g.Name,
		"stock", r.stock.String(), "action", r.action, "amount", r.amount,
		"price", g.market[r.stock])
	return notices
}

// processSplitLocked doubles every holding in the stock, pays a dividend of
// 20% of the pre-split holding in whole dollars, and resets the price.
func (g *Game) processSplitLocked(s Stock) []Notice {
	var notices []Notice
	for _, name := range g.order {
		p := g.players[name]
		held := p.portfolio[s]
		paid := held / 5
		p.cash += paid
		p.portfolio[s] = held * 2
		notices = append(notices, Notice{To: name, Type: wire.TypeSplit, Data: wire.Split{
			Stock:      int(s),
			NewPrice:   InitVal,
			Div:        InitVal >= DivVal,
			Shares:     p.portfolio[s],
			Gained:     held,
			DivPaid:    paid,
			PlayerCash: p.cash,
		}})
	}
	g.market[s] = InitVal
	return notices
}

// processBustLocked zeroes every holding in the stock with no compensation
// and resets the price.
func (g *Game) processBustLocked(s Stock) []Notice {
	var notices []Notice
	for _, name := range g.order {
		p := g.players[name]
		lost := p.portfolio[s]
		p.portfolio[s] = 0
		notices = append(notices, Notice{To: name, Type: wire.TypeOffMarket, Data: wire.OffMarket{
			Stock:    int(s),
			NewPrice: InitVal,
			Div:      InitVal >= DivVal,
			Shares:   0,
			Lost:     lost,
		}})
	}
	g.market[s] = InitVal
	return notices
}

// gameOverLocked computes the final standings. Winners are every player
// tied at the highest net worth.
func (g *Game) gameOverLocked() wire.GameOver {
	out := wire.GameOver{WinnerNetWorth: -1}
	for _, name := range g.order {
		p := g.players[name]
		worth := p.netWorthLocked(g.market)
		out.Players = append(out.Players, wire.PlayerSummary{
			Name:      name,
			Cash:      p.cash,
			NetWorth:  worth,
			Portfolio: p.portfolioSlice(),
		})
		switch {
		case worth > out.WinnerNetWorth:
			out.WinnerNetWorth = worth
			out.Winners = []string{name}
		case worth == out.WinnerNetWorth:
			out.Winners = append(out.Winners, name)
		}
	}
	sort.Strings(out.Winners)
	return out
}
