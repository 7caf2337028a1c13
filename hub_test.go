package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialGame opens a websocket on the test server and waits for the hub to
// register it.
func (ctx *TestContext) dialGame(gameID, player string) *websocket.Conn {
	ctx.t.Helper()
	url := "ws" + strings.TrimPrefix(ctx.ts.URL, "http") + "/ws?game=" + gameID + "&player=" + player
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		ctx.t.Fatalf("dial: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for ctx.hub.watchers(gameID) == 0 {
		if time.Now().After(deadline) {
			ctx.t.Fatalf("websocket client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) GameEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev GameEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return ev
}

func TestWebSocketReceivesGameUpdates(t *testing.T) {
	ctx := newTestContext(t)
	defer ctx.cleanup()
	id, _ := ctx.createAPIGame()

	conn := ctx.dialGame(id, "Alice")
	defer conn.Close()

	if status := ctx.do(http.MethodPost, "/api/games/"+id+"/phase", map[string]string{"phase": "night"}, nil); status != http.StatusOK {
		t.Fatalf("start: status %d", status)
	}

	// Lobby updates queued before the client registered may arrive first.
	ev := readEvent(t, conn)
	for ev.Phase == PhaseSleep {
		ev = readEvent(t, conn)
	}
	if ev.Type != EventGameUpdate || ev.GameID != id || ev.Phase != PhaseNight || ev.Turn != string(RoleSeer) {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestWebSocketOnlyForKnownGames(t *testing.T) {
	ctx := newTestContext(t)
	defer ctx.cleanup()

	url := "ws" + strings.TrimPrefix(ctx.ts.URL, "http") + "/ws?game=nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected the dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown game, got %v", resp)
	}
}

func TestHubPublishDoesNotBlock(t *testing.T) {
	h := newHub()
	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(h.broadcast)+10; i++ {
			h.publish(GameEvent{Type: EventGameUpdate, GameID: "g"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked without a running hub")
	}
}

func TestStorytellerNarratesDeaths(t *testing.T) {
	ctx := newTestContext(t)
	defer ctx.cleanup()
	ctx.server.storyteller = &mockStoryteller{text: "The wolf howled over Vera's grave."}
	id, _ := ctx.createAPIGame()

	conn := ctx.dialGame(id, "")
	defer conn.Close()

	ctx.server.maybeTellStory(id, []string{"Vera"})
	ctx.server.stories.Wait()

	var sawStory bool
	for !sawStory {
		ev := readEvent(t, conn)
		sawStory = ev.Type == EventStory
		if sawStory && ev.Data != "The wolf howled over Vera's grave." {
			t.Errorf("unexpected story %v", ev.Data)
		}
	}

	history, err := ctx.manager.History(t.Context(), id, "")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if !hasAction(history, ActionStory) {
		t.Errorf("the story must be appended to the history")
	}
}

func TestStorytellerSkippedWithoutDeaths(t *testing.T) {
	ctx := newTestContext(t)
	defer ctx.cleanup()
	ctx.server.storyteller = &mockStoryteller{text: "unused"}
	id, _ := ctx.createAPIGame()

	ctx.server.maybeTellStory(id, nil)
	ctx.server.stories.Wait()

	history, _ := ctx.manager.History(t.Context(), id, "")
	if hasAction(history, ActionStory) {
		t.Errorf("no story without deaths")
	}
}

func TestNewStorytellerDisabledByDefault(t *testing.T) {
	if st := newStoryteller(defaultConfig()); st != nil {
		t.Errorf("expected no storyteller without a provider")
	}
}
