package admin

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jweaver-ca/stock-ticker/internal/game"
)

type fixedCount int

func (c fixedCount) SessionCount() int { return int(c) }

func newTestServer(t *testing.T) (*Server, *game.Game) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := game.New("default-game", game.Options{TickEvery: time.Hour, GameLen: time.Hour}, logger, nil)
	t.Cleanup(g.Stop)
	return New(logger, g, fixedCount(2)), g
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	s, g := newTestServer(t)
	if _, err := g.AddPlayer("A"); err != nil {
		t.Fatalf("add player: %v", err)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Game != "default-game" || resp.Status != "WAITING-START" {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.Players) != 1 || resp.Players[0] != "A" {
		t.Fatalf("players = %v", resp.Players)
	}
	if len(resp.Market) != game.NumStocks || resp.Market[0].Price != game.InitVal {
		t.Fatalf("market = %v", resp.Market)
	}
	if resp.Clients != 2 {
		t.Fatalf("clients = %d", resp.Clients)
	}
}

func TestPauseResume(t *testing.T) {
	s, _ := newTestServer(t)
	for _, path := range []string{"/v1/pause", "/v1/resume"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
	}
}
