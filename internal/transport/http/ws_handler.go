package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quizmaster-service/internal/app"
	"quizmaster-service/internal/domain"
)

const (
	defaultTickInterval = time.Second
	defaultExpiryGrace  = 500 * time.Millisecond
)

// WSHandler runs the interactive attempt channel and the leaderboard feed.
type WSHandler struct {
	attempts     *app.AttemptService
	reports      *app.ReportService
	logger       *zap.Logger
	upgrader     websocket.Upgrader
	tickInterval time.Duration
	expiryGrace  time.Duration
}

// WSOption customizes a WSHandler.
type WSOption func(*WSHandler)

// WithTickInterval sets how often the attempt timer advances. One tick is one
// second of quiz time regardless of the interval.
func WithTickInterval(d time.Duration) WSOption {
	return func(h *WSHandler) {
		if d > 0 {
			h.tickInterval = d
		}
	}
}

// WithExpiryGrace sets the pause between the timer running out and the automatic submit.
func WithExpiryGrace(d time.Duration) WSOption {
	return func(h *WSHandler) {
		if d >= 0 {
			h.expiryGrace = d
		}
	}
}

func NewWSHandler(attempts *app.AttemptService, reports *app.ReportService, logger *zap.Logger, opts ...WSOption) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &WSHandler{
		attempts: attempts,
		reports:  reports,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		tickInterval: defaultTickInterval,
		expiryGrace:  defaultExpiryGrace,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type passwordPayload struct {
	Password string `json:"password"`
}

type resumePayload struct {
	Accept bool `json:"accept"`
}

type answerPayload struct {
	Answer domain.Answer `json:"answer"`
}

type tabSwitchResult struct {
	Count int `json:"count"`
}

// connWriter serializes writes to a connection. After a failed write the
// connection is closed and further messages are dropped, which also unblocks
// the read loop.
func connWriter(conn *websocket.Conn, send <-chan outboundMessage, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		failed := false
		for msg := range send {
			if failed {
				continue
			}
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("ws write error", zap.Error(err))
				failed = true
				_ = conn.Close()
			}
		}
	}()
	return done
}

// ServeAttempt upgrades to a WebSocket that drives one quiz attempt. The
// attempt starts (or is picked back up) on connect; the server pushes timer
// ticks while it is in progress and submits it once time runs out. Closing
// the socket abandons the live attempt but keeps its checkpoint.
func (h *WSHandler) ServeAttempt(w http.ResponseWriter, r *http.Request) {
	user, ok := userFrom(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	quizID := r.URL.Query().Get("quizId")
	if quizID == "" {
		http.Error(w, "missing quizId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	ctx := r.Context()

	view, err := h.attempts.Start(ctx, user, quizID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	send := make(chan outboundMessage, 16)
	writerDone := connWriter(conn, send, h.logger)
	closeSignals := make(chan struct{})
	tickerDone := make(chan struct{})

	send <- viewMessage(view)
	go func() {
		defer close(tickerDone)
		h.runTimer(ctx, user.ID, quizID, send, closeSignals)
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		msg, err := h.dispatch(ctx, user, quizID, inbound)
		if err != nil {
			msg = outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}}
		}
		send <- msg
	}

	close(closeSignals)
	<-tickerDone
	h.attempts.Abandon(context.WithoutCancel(ctx), user.ID, quizID)
	close(send)
	<-writerDone
}

func (h *WSHandler) dispatch(ctx context.Context, user domain.User, quizID string, in inboundMessage) (outboundMessage, error) {
	var (
		view app.AttemptView
		err  error
	)
	switch in.Type {
	case "begin", "state":
		view, err = h.attempts.Start(ctx, user, quizID)
	case "password":
		var p passwordPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return outboundMessage{}, errors.New("invalid password payload")
		}
		view, err = h.attempts.VerifyPassword(ctx, user.ID, quizID, p.Password)
	case "acknowledge":
		view, err = h.attempts.Acknowledge(ctx, user.ID, quizID)
	case "resume":
		var p resumePayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return outboundMessage{}, errors.New("invalid resume payload")
		}
		view, err = h.attempts.Resume(ctx, user.ID, quizID, p.Accept)
	case "answer":
		var p answerPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return outboundMessage{}, errors.New("invalid answer payload")
		}
		view, err = h.attempts.Answer(ctx, user.ID, quizID, p.Answer)
	case "flag":
		view, err = h.attempts.ToggleFlag(ctx, user.ID, quizID)
	case "next":
		view, err = h.attempts.Next(ctx, user.ID, quizID)
	case "prev":
		view, err = h.attempts.Prev(ctx, user.ID, quizID)
	case "nextSection":
		view, err = h.attempts.NextSection(ctx, user.ID, quizID)
	case "tabSwitch":
		count, err := h.attempts.TabSwitch(ctx, user.ID, quizID)
		if err != nil {
			return outboundMessage{}, err
		}
		return outboundMessage{Type: "tabSwitch", Payload: tabSwitchResult{Count: count}}, nil
	case "submit":
		view, err = h.attempts.Submit(ctx, user.ID, quizID, app.SubmitManual)
	default:
		return outboundMessage{}, errors.New("unsupported message type")
	}
	if err != nil {
		return outboundMessage{}, err
	}
	return viewMessage(view), nil
}

func viewMessage(view app.AttemptView) outboundMessage {
	if view.State == app.StateSubmitted {
		return outboundMessage{Type: "submitted", Payload: view}
	}
	return outboundMessage{Type: "state", Payload: view}
}

// runTimer ticks the attempt until it ends or the connection closes. Ticks
// before the attempt is in progress are ignored. Only the connection holding
// the attempt's timer claim ticks; others keep retrying the claim.
func (h *WSHandler) runTimer(ctx context.Context, userID, quizID string, send chan<- outboundMessage, closeSignals <-chan struct{}) {
	ticker := time.NewTicker(h.tickInterval)
	defer ticker.Stop()

	var release func()
	defer func() {
		if release != nil {
			release()
		}
	}()

	emit := func(msg outboundMessage) bool {
		select {
		case send <- msg:
			return true
		case <-closeSignals:
			return false
		}
	}

	for {
		select {
		case <-closeSignals:
			return
		case <-ticker.C:
		}
		if release == nil {
			r, err := h.attempts.ClaimTimer(userID, quizID)
			switch {
			case errors.Is(err, domain.ErrTimerClaimed):
				continue
			case err != nil:
				return
			}
			release = r
		}
		status, err := h.attempts.Tick(ctx, userID, quizID)
		switch {
		case errors.Is(err, domain.ErrInvalidState):
			continue
		case err != nil:
			// The attempt is gone, most likely submitted by the student.
			return
		}
		if !emit(outboundMessage{Type: "tick", Payload: status}) {
			return
		}
		if status.Warning && !emit(outboundMessage{Type: "warning", Payload: status}) {
			return
		}
		if !status.Expired {
			continue
		}

		select {
		case <-closeSignals:
			return
		case <-time.After(h.expiryGrace):
		}
		view, err := h.attempts.Submit(ctx, userID, quizID, app.SubmitTimeout)
		if errors.Is(err, domain.ErrAttemptNotFound) {
			return
		}
		if err != nil {
			h.logger.Error("auto submit", zap.String("user", userID), zap.String("quiz", quizID), zap.Error(err))
			emit(outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}})
			return
		}
		emit(viewMessage(view))
		return
	}
}

// ServeLeaderboard streams leaderboard updates for a quiz until the client disconnects.
func (h *WSHandler) ServeLeaderboard(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	if quizID == "" {
		http.Error(w, "missing quizId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, cancel, err := h.reports.Subscribe(r.Context(), quizID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	send := make(chan outboundMessage, 16)
	writerDone := connWriter(conn, send, h.logger)
	closeSignals := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage{Type: "leaderboard", Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	// Inbound messages are ignored; reading only detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}
