package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skip2/go-qrcode"
)

// Server exposes the game manager over HTTP and websocket.
type Server struct {
	config      AppConfig
	manager     *Manager
	hub         *Hub
	storyteller Storyteller
	stories     sync.WaitGroup
}

func newServer(cfg AppConfig, manager *Manager, hub *Hub, storyteller Storyteller) *Server {
	return &Server{config: cfg, manager: manager, hub: hub, storyteller: storyteller}
}

// PlayerView is a player as seen by one viewer. Roles of living players are
// only shown to themselves, or to everyone once the game is over. The dead
// show the role they died with.
type PlayerView struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Role   string `json:"role,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Team   string `json:"team,omitempty"`
}

// GameView is the state of a game as seen by one viewer.
type GameView struct {
	ID        string       `json:"id"`
	JoinCode  string       `json:"join_code"`
	Round     int          `json:"round"`
	Phase     Phase        `json:"phase"`
	Turn      RoleKind     `json:"turn,omitempty"`
	Winner    Faction      `json:"winner,omitempty"`
	Players   []PlayerView `json:"players"`
	Graveyard []DeadCard   `json:"graveyard"`
	Voted     []string     `json:"voted,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func newGameView(g *Game, viewer string) GameView {
	v := GameView{
		ID:        g.ID,
		JoinCode:  g.JoinCode,
		Round:     g.Round,
		Phase:     g.Phase,
		Turn:      g.CurrentTurn(),
		Winner:    g.Winner,
		Graveyard: g.Graveyard.All(),
		CreatedAt: g.CreatedAt,
		UpdatedAt: g.UpdatedAt,
	}
	for _, p := range g.Players {
		pv := PlayerView{Name: p.Name, Status: p.Status}
		if p.Role != nil && (p.Name == viewer || g.Winner != FactionNone) {
			pv.Role = p.RoleName()
			pv.Kind = string(p.Role.Kind)
			pv.Team = p.Role.Team()
		} else if !p.IsAlive() {
			pv.Role = g.Graveyard.RoleOf(p.Name)
		}
		v.Players = append(v.Players, pv)
		if _, ok := g.Ballots[p.Name]; ok {
			v.Voted = append(v.Voted, p.Name)
		}
	}
	return v
}

// routes builds the HTTP handler tree.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Wrap handlers with compression, caching control, and optional logging
	handle := func(pattern string, handler http.HandlerFunc) {
		var h http.Handler = handler
		h = compress(h)
		h = disableCaching(h)
		mux.Handle(pattern, h)
	}

	handle("GET /api/roles", s.handleRoles)
	handle("POST /api/games", s.handleCreateGame)
	handle("GET /api/games/{id}", s.handleGetGame)
	handle("DELETE /api/games/{id}", s.handleEndGame)
	handle("GET /api/games/{id}/players", s.handlePlayers)
	handle("POST /api/games/{id}/players", s.handleJoin)
	handle("POST /api/games/{id}/players/{name}/role", s.handleAssignRole)
	handle("POST /api/games/{id}/players/{name}/target", s.handleSetTarget)
	handle("POST /api/games/{id}/players/{name}/action", s.handleNightAction)
	handle("GET /api/games/{id}/votes", s.handleDayVotes)
	handle("POST /api/games/{id}/votes", s.handleDayVote)
	handle("POST /api/games/{id}/resolve-vote", s.handleResolveVote)
	handle("POST /api/games/{id}/phase", s.handleAdvancePhase)
	handle("GET /api/games/{id}/graveyard", s.handleGraveyard)
	handle("GET /api/games/{id}/win", s.handleWin)
	handle("GET /api/games/{id}/history", s.handleHistory)
	handle("GET /api/games/{id}/journal", s.handleJournal)
	handle("POST /api/games/{id}/undo", s.handleUndo)
	handle("GET /api/games/{id}/join-qr", s.handleJoinQR)

	// WebSocket upgrades need http.Hijacker, so they skip the response wrappers
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.Handle("GET /metrics", promhttp.Handler())

	var root http.Handler = mux
	if appLogger != nil && appLogger.requests != nil {
		root = &LoggingHandler{Handler: root, Logger: appLogger}
	}
	return root
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		logError("api", err)
	}
	writeJSON(w, status, map[string]string{
		"error":   errorCode(err),
		"message": err.Error(),
	})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

// notify pushes the spectator view of a game to its websocket clients.
func (s *Server) notify(r *http.Request, id string) {
	g, err := s.manager.Game(r.Context(), id)
	if err != nil {
		logError("notify: load game", err)
		return
	}
	s.hub.publish(GameEvent{
		Type:   EventGameUpdate,
		GameID: g.ID,
		Round:  g.Round,
		Phase:  g.Phase,
		Turn:   string(g.CurrentTurn()),
		Winner: g.Winner,
		Data:   newGameView(g, ""),
	})
}

type roleView struct {
	Kind    RoleKind `json:"kind"`
	Name    string   `json:"name"`
	Ability string   `json:"ability"`
	Team    string   `json:"team"`
}

func (s *Server) handleRoles(w http.ResponseWriter, r *http.Request) {
	roles := make([]roleView, 0, len(allRoleKinds))
	for _, kind := range allRoleKinds {
		info := roleCatalog[kind]
		roles = append(roles, roleView{Kind: kind, Name: info.DisplayName, Ability: info.Ability, Team: info.Team})
	}
	writeJSON(w, http.StatusOK, roles)
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.manager.CreateGame(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": g.ID, "join_code": g.JoinCode})
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.manager.Game(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newGameView(g, r.URL.Query().Get("player")))
}

func (s *Server) handleEndGame(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.EndGame(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.hub.publish(GameEvent{Type: EventGameClosed, GameID: id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request) {
	g, err := s.manager.Game(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newGameView(g, r.URL.Query().Get("player")).Players)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")
	p, err := s.manager.AddPlayer(r.Context(), id, req.Name, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	s.notify(r, id)
	writeJSON(w, http.StatusCreated, PlayerView{Name: p.Name, Status: p.Status})
}

func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role string `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, name := r.PathValue("id"), r.PathValue("name")
	role, err := s.manager.AssignRole(r.Context(), id, name, req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	s.notify(r, id)
	writeJSON(w, http.StatusOK, roleView{Kind: role.Kind, Name: role.Name(), Ability: role.Describe(), Team: role.Team()})
}

func (s *Server) handleSetTarget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.manager.SetNightTarget(r.Context(), r.PathValue("id"), r.PathValue("name"), req.Target); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNightAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := s.manager.SubmitNightAction(r.Context(), id, r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	s.notify(r, id)
	s.maybeTellStory(id, res.CascadeDeaths)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDayVotes(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	round := 0
	if v := r.URL.Query().Get("round"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, fmt.Errorf("%w: round %q", ErrBadRequest, v))
			return
		}
		round = n
	}
	if round == 0 {
		g, err := s.manager.Game(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		round = g.Round
	}
	votes, err := s.manager.DayVotes(r.Context(), id, round)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"round": round, "votes": votes})
}

func (s *Server) handleDayVote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Voter  string `json:"voter"`
		Target string `json:"target"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")
	if err := s.manager.SubmitDayVote(r.Context(), id, req.Voter, req.Target); err != nil {
		writeError(w, err)
		return
	}
	s.notify(r, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResolveVote(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	out, err := s.manager.ResolveVote(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !out.AlreadyResolved {
		s.notify(r, id)
		s.maybeTellStory(id, out.CascadeDeaths)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdvancePhase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phase string `json:"phase"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")
	g, err := s.manager.AdvancePhase(r.Context(), id, req.Phase)
	if err != nil {
		writeError(w, err)
		return
	}
	s.notify(r, id)
	writeJSON(w, http.StatusOK, newGameView(g, ""))
}

func (s *Server) handleGraveyard(w http.ResponseWriter, r *http.Request) {
	cards, err := s.manager.Graveyard(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

func (s *Server) handleWin(w http.ResponseWriter, r *http.Request) {
	winner, err := s.manager.EvaluateWin(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Winner *Faction `json:"winner"`
	}
	if winner != FactionNone {
		body.Winner = &winner
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.manager.History(r.Context(), r.PathValue("id"), r.URL.Query().Get("player"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	entries, err := s.manager.Journal(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	writeError(w, s.manager.Undo(r.Context(), r.PathValue("id")))
}

// handleJoinQR renders the join code as a QR code for players at the table.
func (s *Server) handleJoinQR(w http.ResponseWriter, r *http.Request) {
	g, err := s.manager.Game(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	png, err := qrcode.Encode(g.JoinCode, qrcode.Medium, 256)
	if err != nil {
		writeError(w, fmt.Errorf("encode join code: %w", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}
