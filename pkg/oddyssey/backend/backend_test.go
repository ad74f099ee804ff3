package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
)

func serve(t *testing.T, path string, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			t.Errorf("Expected path %s, got %s", path, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSlipEvaluations(t *testing.T) {
	server := serve(t, "/api/oddyssey/evaluations/7/0xabc", `{
		"success": true,
		"data": [{
			"cycle": 7,
			"slip_id": 3,
			"player": "0xabc",
			"final_score": "12.5",
			"correct_count": 6,
			"leaderboard_rank": 2,
			"prize_claimed": false,
			"picks": [{"match_id": 11, "correct": true, "result": "1"}]
		}]
	}`)

	client := NewClient(server.URL)
	evals, err := client.SlipEvaluations(context.Background(), 7, "0xabc")
	if err != nil {
		t.Fatalf("SlipEvaluations failed: %v", err)
	}
	if len(evals) != 1 {
		t.Fatalf("Expected 1 evaluation, got %d", len(evals))
	}
	e := evals[0]
	if e.SlipID == nil || *e.SlipID != 3 {
		t.Errorf("SlipID = %v", e.SlipID)
	}
	if e.LeaderboardRank == nil || *e.LeaderboardRank != 2 {
		t.Errorf("LeaderboardRank = %v", e.LeaderboardRank)
	}
	if e.FinalScore.String() != "12.5" {
		t.Errorf("FinalScore = %s", e.FinalScore)
	}
	if len(e.Picks) != 1 || !e.Picks[0].Correct {
		t.Errorf("Picks = %+v", e.Picks)
	}
}

func TestCycleMatchesKeepsAbsentOdds(t *testing.T) {
	server := serve(t, "/api/oddyssey/cycles/4/matches", `{
		"success": true,
		"data": [{
			"id": 1001,
			"start_time": "2025-03-14T19:00:00Z",
			"home_team": "Arsenal",
			"away_team": "Chelsea",
			"league_name": "Premier League",
			"odds": {"home": "2.10", "draw": "3.40", "away": null, "over": 1.85}
		}]
	}`)

	client := NewClient(server.URL)
	matches, err := client.CycleMatches(context.Background(), 4)
	if err != nil {
		t.Fatalf("CycleMatches failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(matches))
	}
	m := matches[0]
	if _, ok := m.OddsFor(odds.OutcomeAway); ok {
		t.Error("null odds should stay absent")
	}
	if _, ok := m.OddsFor(odds.OutcomeUnder); ok {
		t.Error("missing odds should stay absent")
	}
	if d, ok := m.OddsFor(odds.OutcomeOver); !ok || d.String() != "1.85" {
		t.Errorf("over odds = %v, %v", d, ok)
	}
}

func TestCycleMatchesEmpty(t *testing.T) {
	server := serve(t, "/api/oddyssey/cycles/9/matches", `{"success": true, "data": []}`)

	matches, err := NewClient(server.URL).CycleMatches(context.Background(), 9)
	if err != nil {
		t.Fatalf("empty list should not be an error: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("Expected no matches, got %d", len(matches))
	}
}

func TestCurrentCycleID(t *testing.T) {
	server := serve(t, "/api/oddyssey/current-cycle", `{"success": true, "data": {"cycle_id": 42}}`)

	id, err := NewClient(server.URL).CurrentCycleID(context.Background())
	if err != nil {
		t.Fatalf("CurrentCycleID failed: %v", err)
	}
	if id != 42 {
		t.Errorf("Expected 42, got %d", id)
	}
}

func TestLeaderboard(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cycle") != "5" {
			t.Errorf("Expected cycle=5, got %s", r.URL.Query().Get("cycle"))
		}
		json.NewEncoder(w).Encode(envelope[[]LeaderboardEntry]{
			Success: true,
			Data:    []LeaderboardEntry{{Rank: 1, Player: "0x1", SlipID: 8}},
		})
	}))
	defer server.Close()

	entries, err := NewClient(server.URL).Leaderboard(context.Background(), 5)
	if err != nil {
		t.Fatalf("Leaderboard failed: %v", err)
	}
	if len(entries) != 1 || entries[0].SlipID != 8 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such cycle", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewClient(server.URL).Stats(context.Background())
	if err == nil {
		t.Fatal("Expected error for 404")
	}
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false", err)
	}
}

func TestUnsuccessfulEnvelope(t *testing.T) {
	server := serve(t, "/api/oddyssey/stats", `{"success": false, "error": "indexer behind"}`)

	_, err := NewClient(server.URL).Stats(context.Background())
	var apiErr *APIError
	if err == nil {
		t.Fatal("Expected error")
	}
	if !errors.As(err, &apiErr) || apiErr.Message != "indexer behind" {
		t.Errorf("err = %v", err)
	}
}

func TestActiveMatchesThroughClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/oddyssey/current-cycle":
			w.Write([]byte(`{"success": true, "data": {"cycle_id": 3}}`))
		case "/api/oddyssey/cycles/3/matches":
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer server.Close()

	_, err := odds.ActiveMatches(context.Background(), NewClient(server.URL))
	if err == nil {
		t.Fatal("Expected fetch failure")
	}
	if !errors.Is(err, odds.ErrFetch) {
		t.Errorf("err = %v, want ErrFetch", err)
	}
}
