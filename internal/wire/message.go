// Package wire defines the message envelope exchanged between the stock
// ticker server and its clients, and the length-prefixed codec that carries
// envelopes over a TCP stream.
package wire

import (
	"encoding/json"
	"fmt"
)

// Message TYPE values. The catalog is extensible: new values can be added
// without changing the framing.
const (
	TypeInitConn   = "initconn"
	TypeConnAccept = "conn-accept"
	TypeJoinGame   = "join-game"
	TypeJoinFail   = "joinfail"
	TypeInitGame   = "initgame"
	TypeJoined     = "joined"
	TypePlayerList = "playerlist"
	TypeReadyStart = "readystart"
	TypeGameStart  = "gamestart"
	TypeGameStat   = "gamestat"
	TypeMsg        = "msg"
	TypeChatMsg    = "chatmsg"
	TypeServerMsg  = "servermsg"
	TypeBuySell    = "buysell"
	TypeApprove    = "approve"
	TypeActionTime = "actiontime"
	TypeRoll       = "roll"
	TypeMarketTick = "markettick"
	TypeSplit      = "split"
	TypeOffMarket  = "offmarket"
	TypeDiv        = "div"
	TypeGameOver   = "gameover"
	TypeExit       = "exit"
	TypeDisconnect = "disconnect"
	TypeError      = "error"
	TypeServerExit = "server-exit"
)

// Envelope is one complete message. DATA is kept raw so the payload can be
// decoded once the TYPE is known.
type Envelope struct {
	Type string          `json:"TYPE"`
	Data json.RawMessage `json:"DATA"`
}

// New builds an envelope with the given payload marshaled into DATA.
func New(msgType string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("wire: marshal %s payload: %w", msgType, err)
	}
	return Envelope{Type: msgType, Data: raw}, nil
}

// DecodeData unmarshals the envelope payload into v.
func (e Envelope) DecodeData(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("wire: decode %s payload: %w", e.Type, err)
	}
	return nil
}
