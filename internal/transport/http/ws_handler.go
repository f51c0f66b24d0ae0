package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"mathquest-live-service/internal/app"
	"mathquest-live-service/internal/domain"
)

// WSHandler upgrades connections and routes their messages into the
// controller. One goroutine reads, one writes; all emissions reach the
// socket through the hub so concurrent writes can never interleave.
type WSHandler struct {
	controller *app.Controller
	hub        *Hub
	rooms      app.Rooms
	upgrader   websocket.Upgrader
}

func NewWSHandler(controller *app.Controller, hub *Hub, rooms app.Rooms) *WSHandler {
	return &WSHandler{
		controller: controller,
		hub:        hub,
		rooms:      rooms,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	AccessCode  string `json:"accessCode"`
	Username    string `json:"username"`
	AvatarEmoji string `json:"avatarEmoji"`
}

type answerPayload struct {
	AccessCode  string `json:"accessCode"`
	QuestionUID string `json:"questionUid"`
	Answer      int    `json:"answer"`
}

type practiceNextPayload struct {
	AccessCode    string `json:"accessCode"`
	QuestionIndex int    `json:"questionIndex"`
}

type startGamePayload struct {
	AccessCode string `json:"accessCode"`
}

// ServeWS is the single websocket endpoint. Identity arrives as query
// parameters; everything else happens over messages.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	c := &client{id: connID, send: make(chan outboundMessage, 32)}
	h.hub.register(c)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range c.send {
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}()

	session := &wsSession{
		handler: h,
		connID:  connID,
		userID:  userID,
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		session.dispatch(r.Context(), inbound)
	}

	// Shared-store membership must go before the hub forgets which rooms
	// this connection was in.
	session.teardown(r.Context())
	h.hub.unregister(connID)
	<-writerDone
}

// wsSession tracks one connection's routing state between messages.
type wsSession struct {
	handler *WSHandler
	connID  string
	userID  string

	accessCode string
	deferred   bool
}

func (s *wsSession) dispatch(ctx context.Context, msg inboundMessage) {
	switch msg.Event {
	case "join_game":
		s.handleJoin(ctx, msg.Payload)
	case "join_dashboard":
		s.handleJoinDashboard(ctx, msg.Payload)
	case "join_projection":
		s.handleJoinProjection(ctx, msg.Payload)
	case "start_game":
		s.handleStartGame(ctx, msg.Payload)
	case "game_answer":
		s.handleAnswer(ctx, msg.Payload)
	case "practice_answer":
		s.handlePracticeAnswer(ctx, msg.Payload)
	case "request_next_question":
		s.handlePracticeNext(ctx, msg.Payload)
	case "timer_action":
		s.handleTimerAction(ctx, msg.Payload)
	default:
		s.sendError(domain.ErrInvalidAction, "unsupported event "+msg.Event)
	}
}

func (s *wsSession) handleJoin(ctx context.Context, raw json.RawMessage) {
	var payload joinPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.sendError(domain.ErrInvalidAction, "invalid join payload")
		return
	}

	result, err := s.handler.controller.JoinGame(ctx, app.JoinRequest{
		AccessCode:  payload.AccessCode,
		UserID:      s.userID,
		Username:    payload.Username,
		AvatarEmoji: payload.AvatarEmoji,
		ConnID:      s.connID,
	})
	if err != nil {
		s.sendError(err, err.Error())
		return
	}

	s.accessCode = payload.AccessCode
	s.deferred = result.Deferred
	s.handler.hub.joinRoom(result.Room, s.connID)
	if result.Lobby != "" {
		s.handler.hub.joinRoom(result.Lobby, s.connID)
	}

	// The room broadcast went to the players already present; the joiner
	// gets its own acknowledgement here.
	s.handler.hub.sendTo(s.connID, app.EventGameJoined, map[string]any{
		"accessCode": payload.AccessCode,
		"userId":     s.userID,
		"username":   payload.Username,
	})

	if result.Deferred {
		// The replay runs for as long as the player keeps the session going,
		// detached from this read loop.
		go func() {
			if err := s.handler.controller.RunDeferredFlow(context.Background(), payload.AccessCode, s.userID); err != nil {
				log.Warn().Err(err).Str("accessCode", payload.AccessCode).
					Str("userId", s.userID).Msg("deferred flow ended with error")
			}
		}()
	}
}

func (s *wsSession) handleJoinDashboard(ctx context.Context, raw json.RawMessage) {
	var payload startGamePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.sendError(domain.ErrInvalidAction, "invalid payload")
		return
	}
	game, err := s.handler.controller.Game(ctx, payload.AccessCode)
	if err != nil {
		s.sendError(err, err.Error())
		return
	}
	if game.InitiatorUserID != s.userID {
		s.sendError(domain.ErrNotAuthorized, "only the host may join the dashboard")
		return
	}
	room := app.DashboardRoom(game.ID)
	s.accessCode = payload.AccessCode
	s.handler.hub.joinRoom(room, s.connID)
	_ = s.handler.rooms.Join(ctx, room, domain.RoomMember{ConnID: s.connID, UserID: s.userID, Role: "host"})
}

func (s *wsSession) handleJoinProjection(ctx context.Context, raw json.RawMessage) {
	var payload startGamePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.sendError(domain.ErrInvalidAction, "invalid payload")
		return
	}
	game, err := s.handler.controller.Game(ctx, payload.AccessCode)
	if err != nil {
		s.sendError(err, err.Error())
		return
	}
	// A display client wants both feeds: questions and timers arrive in the
	// projector room, standings in the projection room.
	s.accessCode = payload.AccessCode
	for _, room := range []string{app.ProjectorRoom(game.ID), app.ProjectionRoom(game.ID)} {
		s.handler.hub.joinRoom(room, s.connID)
		_ = s.handler.rooms.Join(ctx, room, domain.RoomMember{ConnID: s.connID, UserID: s.userID, Role: "projection"})
	}
}

func (s *wsSession) handleStartGame(ctx context.Context, raw json.RawMessage) {
	var payload startGamePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.sendError(domain.ErrInvalidAction, "invalid payload")
		return
	}
	game, err := s.handler.controller.Game(ctx, payload.AccessCode)
	if err != nil {
		s.sendError(err, err.Error())
		return
	}
	if game.InitiatorUserID != s.userID {
		s.sendError(domain.ErrNotAuthorized, "only the host may start the game")
		return
	}
	go func() {
		if err := s.handler.controller.RunLiveFlow(context.Background(), payload.AccessCode); err != nil {
			log.Error().Err(err).Str("accessCode", payload.AccessCode).Msg("live flow ended with error")
		}
	}()
}

func (s *wsSession) handleAnswer(ctx context.Context, raw json.RawMessage) {
	var payload answerPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.sendError(domain.ErrInvalidAction, "invalid answer payload")
		return
	}
	req := app.AnswerRequest{
		AccessCode:  payload.AccessCode,
		UserID:      s.userID,
		QuestionUID: payload.QuestionUID,
		Answer:      payload.Answer,
	}
	var err error
	if s.deferred {
		err = s.handler.controller.SubmitDeferredAnswer(ctx, req)
	} else {
		err = s.handler.controller.SubmitAnswer(ctx, req)
	}
	if err != nil {
		s.sendError(err, err.Error())
		return
	}
	s.handler.hub.sendTo(s.connID, app.EventAnswerReceived, map[string]any{
		"questionUid": payload.QuestionUID,
	})
}

func (s *wsSession) handlePracticeAnswer(ctx context.Context, raw json.RawMessage) {
	var payload answerPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.sendError(domain.ErrInvalidAction, "invalid answer payload")
		return
	}
	feedback, err := s.handler.controller.SubmitPracticeAnswer(ctx, app.AnswerRequest{
		AccessCode:  payload.AccessCode,
		UserID:      s.userID,
		QuestionUID: payload.QuestionUID,
		Answer:      payload.Answer,
	})
	if err != nil {
		s.sendError(err, err.Error())
		return
	}
	s.handler.hub.sendTo(s.connID, app.EventCorrectAnswers, feedback)
}

func (s *wsSession) handlePracticeNext(ctx context.Context, raw json.RawMessage) {
	var payload practiceNextPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.sendError(domain.ErrInvalidAction, "invalid payload")
		return
	}
	question, err := s.handler.controller.NextPracticeQuestion(ctx, payload.AccessCode, payload.QuestionIndex)
	if err != nil {
		s.sendError(err, err.Error())
		return
	}
	event := app.EventGameQuestion
	if question.Done {
		event = app.EventGameEnded
	}
	s.handler.hub.sendTo(s.connID, event, question)
}

func (s *wsSession) handleTimerAction(ctx context.Context, raw json.RawMessage) {
	var action domain.TimerAction
	if err := json.Unmarshal(raw, &action); err != nil {
		s.sendError(domain.ErrInvalidAction, "invalid timer action")
		return
	}
	if _, err := s.handler.controller.HandleTimerAction(ctx, s.userID, action); err != nil {
		s.sendError(err, err.Error())
	}
}

// teardown drops the connection from every durable room it joined and from
// the session's identity maps.
func (s *wsSession) teardown(ctx context.Context) {
	rooms := s.handler.hub.memberRooms(s.connID)
	if len(rooms) > 0 {
		if err := s.handler.rooms.LeaveAll(ctx, s.connID, rooms); err != nil {
			log.Warn().Err(err).Str("connId", s.connID).Msg("room cleanup on disconnect failed")
		}
	}
	if s.accessCode != "" {
		if err := s.handler.rooms.UnbindIdentity(ctx, s.accessCode, s.connID); err != nil {
			log.Warn().Err(err).Str("connId", s.connID).Msg("identity cleanup on disconnect failed")
		}
	}
}

func (s *wsSession) sendError(err error, message string) {
	s.handler.hub.sendTo(s.connID, app.EventGameError, app.ErrorPayload{
		Code:    domain.ErrorCode(err),
		Message: message,
	})
}
