package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"mathquest-live-service/internal/app"
	"mathquest-live-service/internal/domain"
	"mathquest-live-service/internal/infra/memory"
	redisstore "mathquest-live-service/internal/infra/redis"
)

func newTestServer(t *testing.T, games map[string]domain.GameInstance) *httptest.Server {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	clock := clockwork.NewRealClock()

	repo := redisstore.NewGameRepository(client, memory.NewStaticGameLoader(games), time.Minute)
	states := redisstore.NewGameStateStore(client)
	timers := redisstore.NewTimerService(client, clock)
	leaderboard := redisstore.NewLeaderboardService(client)
	answers := redisstore.NewAnswerStore(client, clock)
	markers := redisstore.NewDeferredMarkerStore(client)
	rooms := redisstore.NewRoomRegistry(client, clock)
	cleaner := redisstore.NewCleanupService(client)

	hub := NewHub()
	controller := app.NewController(repo, states, timers, leaderboard, answers, markers, rooms, cleaner, hub, clock, app.Config{})
	handler := NewWSHandler(controller, hub, rooms)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?userId=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"event": event, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn, expect string) map[string]any {
	t.Helper()
	var msg struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Event != expect {
			continue
		}
		var payload map[string]any
		if len(msg.Payload) > 0 {
			_ = json.Unmarshal(msg.Payload, &payload)
		}
		return payload
	}
	t.Fatalf("never saw event %s", expect)
	return nil
}

func wsGames() map[string]domain.GameInstance {
	quiz := domain.GameInstance{
		ID:              "game-1",
		AccessCode:      "7912",
		PlayMode:        domain.PlayModeQuiz,
		Status:          domain.GameStatusActive,
		InitiatorUserID: "host-1",
		Questions: []domain.Question{
			{
				UID:            "q1",
				Text:           "What is 7 + 5?",
				Answers:        []string{"10", "12"},
				CorrectAnswers: []bool{false, true},
				TimeLimitSec:   30,
			},
		},
	}
	practice := quiz
	practice.ID = "game-2"
	practice.AccessCode = "5000"
	practice.PlayMode = domain.PlayModePractice
	return map[string]domain.GameInstance{"7912": quiz, "5000": practice}
}

func TestWebSocketJoinAndAnswer(t *testing.T) {
	server := newTestServer(t, wsGames())
	conn := dial(t, server, "alice")

	send(t, conn, "join_game", map[string]any{"accessCode": "7912", "username": "Alice"})
	payload := readEvent(t, conn, "game_joined")
	if payload["userId"] != "alice" {
		t.Fatalf("joined payload = %+v", payload)
	}

	send(t, conn, "game_answer", map[string]any{"accessCode": "7912", "questionUid": "q1", "answer": 1})
	readEvent(t, conn, "answer_received")

	// A later arrival is announced to the players already in the room and
	// separately acknowledged on its own connection.
	conn2 := dial(t, server, "bob")
	send(t, conn2, "join_game", map[string]any{"accessCode": "7912", "username": "Bob"})
	ack := readEvent(t, conn2, "game_joined")
	if ack["userId"] != "bob" {
		t.Fatalf("bob's ack = %+v", ack)
	}
	announced := readEvent(t, conn, "game_joined")
	if announced["userId"] != "bob" {
		t.Fatalf("alice saw join payload %+v", announced)
	}
}

func TestWebSocketPracticeSession(t *testing.T) {
	server := newTestServer(t, wsGames())
	conn := dial(t, server, "alice")

	send(t, conn, "request_next_question", map[string]any{"accessCode": "5000", "questionIndex": 0})
	payload := readEvent(t, conn, "game_question")
	if payload["done"] == true {
		t.Fatalf("first question reported done: %+v", payload)
	}

	send(t, conn, "practice_answer", map[string]any{"accessCode": "5000", "questionUid": "q1", "answer": 1})
	feedback := readEvent(t, conn, "correct_answers")
	if feedback["correct"] != true {
		t.Fatalf("feedback = %+v", feedback)
	}

	send(t, conn, "request_next_question", map[string]any{"accessCode": "5000", "questionIndex": 1})
	done := readEvent(t, conn, "game_ended")
	if done["done"] != true {
		t.Fatalf("expected done marker, got %+v", done)
	}
}

func TestWebSocketTimerActionAuthorization(t *testing.T) {
	server := newTestServer(t, wsGames())

	// A non-host caller is rejected with a distinct code.
	player := dial(t, server, "mallory")
	send(t, player, "timer_action", map[string]any{"action": "start", "accessCode": "7912", "questionUid": "q1"})
	errPayload := readEvent(t, player, "game_error")
	if errPayload["code"] != "NOT_AUTHORIZED" {
		t.Fatalf("error payload = %+v", errPayload)
	}

	// The host drives the timer and sees it on the dashboard.
	host := dial(t, server, "host-1")
	send(t, host, "join_dashboard", map[string]any{"accessCode": "7912"})
	send(t, host, "timer_action", map[string]any{"action": "start", "accessCode": "7912", "questionUid": "q1"})
	snap := readEvent(t, host, "dashboard_timer_updated")
	if snap["status"] != "run" {
		t.Fatalf("timer snapshot = %+v", snap)
	}
}
