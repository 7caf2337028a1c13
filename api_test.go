package main

import (
	"net/http"
	"testing"
)

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// createAPIGame creates a game over HTTP and seats the default table.
func (ctx *TestContext) createAPIGame() (id, code string) {
	ctx.t.Helper()
	var created struct {
		ID       string `json:"id"`
		JoinCode string `json:"join_code"`
	}
	if status := ctx.do(http.MethodPost, "/api/games", nil, &created); status != http.StatusCreated {
		ctx.t.Fatalf("create game: status %d", status)
	}
	for _, s := range defaultTable {
		if status := ctx.do(http.MethodPost, "/api/games/"+created.ID+"/players",
			map[string]string{"name": s.name, "code": created.JoinCode}, nil); status != http.StatusCreated {
			ctx.t.Fatalf("join %s: status %d", s.name, status)
		}
		if status := ctx.do(http.MethodPost, "/api/games/"+created.ID+"/players/"+s.name+"/role",
			map[string]string{"role": string(s.role)}, nil); status != http.StatusOK {
			ctx.t.Fatalf("role %s: status %d", s.name, status)
		}
	}
	return created.ID, created.JoinCode
}

func TestAPIRoles(t *testing.T) {
	ctx := newTestContext(t)
	defer ctx.cleanup()

	var roles []roleView
	if status := ctx.do(http.MethodGet, "/api/roles", nil, &roles); status != http.StatusOK {
		t.Fatalf("status %d", status)
	}
	if len(roles) != len(allRoleKinds) || roles[0].Name != "Simple Villageois" {
		t.Errorf("unexpected roles %+v", roles)
	}
}

func TestAPIGameFlow(t *testing.T) {
	ctx := newTestContext(t)
	defer ctx.cleanup()
	id, _ := ctx.createAPIGame()
	base := "/api/games/" + id

	var view GameView
	if status := ctx.do(http.MethodPost, base+"/phase", map[string]string{"phase": "night"}, &view); status != http.StatusOK {
		t.Fatalf("start: status %d", status)
	}
	if view.Phase != PhaseNight || view.Turn != RoleSeer {
		t.Errorf("expected the Seer's turn at night, got %s %q", view.Phase, view.Turn)
	}

	var apiErr apiError
	if status := ctx.do(http.MethodPost, base+"/players/Wolf/action", nil, &apiErr); status != http.StatusConflict || apiErr.Error != "out_of_turn" {
		t.Errorf("expected 409 out_of_turn, got %d %q", status, apiErr.Error)
	}

	var res NightResult
	if status := ctx.do(http.MethodPost, base+"/players/Alice/action", nil, &res); status != http.StatusOK || res.Summary.Outcome != OutcomeRevealed {
		t.Fatalf("seer: status %d outcome %s", status, res.Summary.Outcome)
	}
	if status := ctx.do(http.MethodPost, base+"/players/Bob/target", map[string]string{"target": "Alice"}, nil); status != http.StatusNoContent {
		t.Fatalf("guardian target: status %d", status)
	}
	ctx.do(http.MethodPost, base+"/players/Bob/action", nil, &res)
	ctx.do(http.MethodPost, base+"/players/Wolf/target", map[string]string{"target": "Vera"}, nil)
	res = NightResult{}
	ctx.do(http.MethodPost, base+"/players/Wolf/action", nil, &res)
	if len(res.CascadeDeaths) != 1 || res.CascadeDeaths[0] != "Vera" {
		t.Errorf("expected Vera killed, got %v", res.CascadeDeaths)
	}
	ctx.do(http.MethodPost, base+"/players/Wanda/action", nil, &res)
	if res.Phase != PhaseDiscussion {
		t.Fatalf("expected discussion, got %s", res.Phase)
	}

	var cards []DeadCard
	ctx.do(http.MethodGet, base+"/graveyard", nil, &cards)
	if len(cards) != 1 || cards[0].Player != "Vera" || cards[0].Role != "Simple Villageois" {
		t.Errorf("unexpected graveyard %+v", cards)
	}

	ctx.do(http.MethodPost, base+"/phase", map[string]string{"phase": "voting"}, nil)
	for _, voter := range []string{"Alice", "Bob", "Hank", "Wanda"} {
		if status := ctx.do(http.MethodPost, base+"/votes", map[string]string{"voter": voter, "target": "Wolf"}, nil); status != http.StatusNoContent {
			t.Fatalf("vote %s: status %d", voter, status)
		}
	}
	if status := ctx.do(http.MethodPost, base+"/votes", map[string]string{"voter": "Vera", "target": "Wolf"}, &apiErr); status != http.StatusBadRequest || apiErr.Error != "voter_dead" {
		t.Errorf("expected 400 voter_dead, got %d %q", status, apiErr.Error)
	}

	var listing struct {
		Round int       `json:"round"`
		Votes []DayVote `json:"votes"`
	}
	ctx.do(http.MethodGet, base+"/votes", nil, &listing)
	if listing.Round != 1 || len(listing.Votes) != 4 {
		t.Errorf("unexpected ballots %+v", listing)
	}

	var out VoteOutcome
	if status := ctx.do(http.MethodPost, base+"/resolve-vote", nil, &out); status != http.StatusOK {
		t.Fatalf("resolve: status %d", status)
	}
	if out.Eliminated != "Wolf" || out.Winner != FactionVillagers || out.AlreadyResolved {
		t.Errorf("unexpected outcome %+v", out)
	}
	out = VoteOutcome{}
	ctx.do(http.MethodPost, base+"/resolve-vote", nil, &out)
	if !out.AlreadyResolved {
		t.Errorf("expected the second resolution to be a replay")
	}

	var win struct {
		Winner *Faction `json:"winner"`
	}
	ctx.do(http.MethodGet, base+"/win", nil, &win)
	if win.Winner == nil || *win.Winner != FactionVillagers {
		t.Errorf("expected villagers to win, got %v", win.Winner)
	}

	ctx.do(http.MethodGet, base, nil, &view)
	for _, p := range view.Players {
		if p.Role == "" {
			t.Errorf("roles are public once the game is over, %s has none", p.Name)
		}
	}
}

func TestAPIHidesRoles(t *testing.T) {
	ctx := newTestContext(t)
	defer ctx.cleanup()
	id, _ := ctx.createAPIGame()

	var view GameView
	ctx.do(http.MethodGet, "/api/games/"+id+"?player=Alice", nil, &view)
	for _, p := range view.Players {
		if p.Name == "Alice" && p.Role != "Voyante" {
			t.Errorf("a player sees their own role, got %q", p.Role)
		}
		if p.Name != "Alice" && p.Role != "" {
			t.Errorf("%s's role must stay hidden, got %q", p.Name, p.Role)
		}
	}

	var win struct {
		Winner *Faction `json:"winner"`
	}
	ctx.do(http.MethodGet, "/api/games/"+id+"/win", nil, &win)
	if win.Winner != nil {
		t.Errorf("expected a null winner, got %v", *win.Winner)
	}
}

func TestAPIErrors(t *testing.T) {
	ctx := newTestContext(t)
	defer ctx.cleanup()
	id, code := ctx.createAPIGame()
	base := "/api/games/" + id

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown game", http.MethodGet, "/api/games/nope", nil, http.StatusNotFound, "game_not_found"},
		{"duplicate name", http.MethodPost, base + "/players", map[string]string{"name": "Alice", "code": code}, http.StatusBadRequest, "duplicate"},
		{"bad join code", http.MethodPost, base + "/players", map[string]string{"name": "Zed", "code": "WRONG1"}, http.StatusBadRequest, "bad_code"},
		{"unknown role", http.MethodPost, base + "/players/Alice/role", map[string]string{"role": "mayor"}, http.StatusBadRequest, "unknown_role"},
		{"unknown target", http.MethodPost, base + "/players/Alice/target", map[string]string{"target": "Ghost"}, http.StatusNotFound, "not_found"},
		{"unknown phase", http.MethodPost, base + "/phase", map[string]string{"phase": "dusk"}, http.StatusBadRequest, "unknown_phase"},
		{"malformed body", http.MethodPost, base + "/phase", "not an object", http.StatusBadRequest, "bad_request"},
		{"bad round", http.MethodGet, base + "/votes?round=zero", nil, http.StatusBadRequest, "bad_request"},
		{"vote while asleep", http.MethodPost, base + "/votes", map[string]string{"voter": "Alice", "target": "Wolf"}, http.StatusConflict, "wrong_phase"},
		{"undo", http.MethodPost, base + "/undo", nil, http.StatusConflict, "nothing_to_undo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var apiErr apiError
			status := ctx.do(tt.method, tt.path, tt.body, &apiErr)
			if status != tt.status || apiErr.Error != tt.code {
				t.Errorf("expected %d %q, got %d %q (%s)", tt.status, tt.code, status, apiErr.Error, apiErr.Message)
			}
		})
	}
}

func TestAPIEndGame(t *testing.T) {
	ctx := newTestContext(t)
	defer ctx.cleanup()
	id, _ := ctx.createAPIGame()

	if status := ctx.do(http.MethodDelete, "/api/games/"+id, nil, nil); status != http.StatusNoContent {
		t.Fatalf("end game: status %d", status)
	}
	var apiErr apiError
	if status := ctx.do(http.MethodGet, "/api/games/"+id, nil, &apiErr); status != http.StatusNotFound {
		t.Errorf("expected 404 after the game ended, got %d", status)
	}
}

func TestAPIMetrics(t *testing.T) {
	ctx := newTestContext(t)
	defer ctx.cleanup()
	ctx.createAPIGame()

	resp, err := ctx.client.Get(ctx.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAPIJoinQR(t *testing.T) {
	ctx := newTestContext(t)
	defer ctx.cleanup()
	id, _ := ctx.createAPIGame()

	resp, err := ctx.client.Get(ctx.ts.URL + "/api/games/" + id + "/join-qr")
	if err != nil {
		t.Fatalf("GET join-qr: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Errorf("expected a PNG, got %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}
