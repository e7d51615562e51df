package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/examdesk/examdesk-backend/internal/engine"
	"github.com/examdesk/examdesk-backend/internal/middleware"
	"github.com/examdesk/examdesk-backend/internal/model"
	ws "github.com/examdesk/examdesk-backend/internal/websocket"
)

// snapshotInterval is how often the server pushes its authoritative clock and
// state to the client while the session is live.
const snapshotInterval = 5 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler drives exam sessions over WebSocket. The connection is the
// session's event source: every client action funnels through the engine, and
// every engine notice flows back as a server event.
type WSHandler struct {
	manager  *engine.Manager
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(manager *engine.Manager, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		manager:  manager,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// ExamSessionStream godoc
// WS /ws/v1/student/exams/:exam_id/stream
// Upgrades to WebSocket and attaches the student to their session engine.
func (h *WSHandler) ExamSessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exam ID"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	studentID := claims.UserID
	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("exam_id", examID.String()).
		Logger()

	// The writer goroutine is the connection's single writer; engine notices
	// and handler replies both go through this channel. A slow client drops
	// events rather than blocking the engine.
	out := make(chan interface{}, 32)
	send := func(v interface{}) {
		select {
		case out <- v:
		default:
			wsLog.Warn().Msg("Client event buffer full, dropping event")
		}
	}

	eng, err := h.manager.Acquire(c.Request.Context(), examID, studentID, func(n engine.Notice) {
		send(ws.FromNotice(n))
	})
	if err != nil {
		ws.WriteError(conn, loadErrorMessage(err))
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(snapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case v, ok := <-out:
				if !ok {
					return
				}
				if err := ws.WriteTyped(conn, v); err != nil {
					return
				}
			case <-ticker.C:
				if snap := eng.Snapshot(); snap != nil {
					if err := ws.WriteTyped(conn, ws.EventEnvelope{Event: ws.EventSnapshot, Snapshot: snap}); err != nil {
						return
					}
				}
			}
		}
	}()

	wsLog.Info().Msg("Student connected")
	if snap := eng.Snapshot(); snap != nil {
		send(ws.EventEnvelope{Event: ws.EventSnapshot, Snapshot: snap})
	}

	h.readLoop(c.Request.Context(), conn, eng, send, wsLog)

	// Release before closing the writer channel. The ticker goroutine can
	// still emit into send until Teardown clears the notify sink; closing
	// out first would panic that emit.
	h.manager.Release(context.Background(), examID, studentID, eng)
	close(out)
	<-writerDone
	wsLog.Info().Msg("Student disconnected")
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, eng *engine.Engine, send func(interface{}), wsLog zerolog.Logger) {
	for {
		data, err := ws.ReadRaw(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var envelope ws.RequestEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			send(ws.EventEnvelope{Event: ws.EventError, Message: "malformed message"})
			continue
		}

		if err := h.dispatch(ctx, data, envelope.Action, eng, send); err != nil {
			send(ws.EventEnvelope{Event: ws.EventError, Message: err.Error()})
		}
	}
}

func (h *WSHandler) dispatch(ctx context.Context, data []byte, action ws.Action, eng *engine.Engine, send func(interface{})) error {
	switch action {
	case ws.ActionStart:
		var req ws.StartRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return errors.New("malformed start request")
		}
		return eng.Start(ctx, req.Acknowledged)

	case ws.ActionAnswer:
		var req ws.AnswerRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return errors.New("malformed answer request")
		}
		if err := eng.SelectAnswer(ctx, req.QuestionID, req.OptionKey); err != nil {
			return err
		}
		h.pushSnapshot(eng, send)
		return nil

	case ws.ActionGoto:
		var req ws.GotoRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return errors.New("malformed goto request")
		}
		if err := eng.GoTo(ctx, req.Index); err != nil {
			return err
		}
		h.pushSnapshot(eng, send)
		return nil

	case ws.ActionNext:
		if err := eng.GoNext(ctx); err != nil {
			return err
		}
		h.pushSnapshot(eng, send)
		return nil

	case ws.ActionPrev:
		if err := eng.GoPrev(ctx); err != nil {
			return err
		}
		h.pushSnapshot(eng, send)
		return nil

	case ws.ActionVisibility:
		var req ws.VisibilityRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return errors.New("malformed visibility request")
		}
		eng.ReportHidden(ctx, visibilityKind(req.Kind))
		return nil

	case ws.ActionNavAttempt:
		eng.ReportNavAttempt(ctx)
		return nil

	case ws.ActionSubmit:
		var req ws.SubmitRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return errors.New("malformed submit request")
		}
		// The terminal event arrives through the engine's notify path.
		return eng.RequestSubmit(ctx, req.Confirmed)

	case ws.ActionPing:
		send(ws.PongResponse{Event: ws.EventPong})
		return nil

	default:
		return errors.New("unknown action: " + string(action))
	}
}

func (h *WSHandler) pushSnapshot(eng *engine.Engine, send func(interface{})) {
	if snap := eng.Snapshot(); snap != nil {
		send(ws.EventEnvelope{Event: ws.EventSnapshot, Snapshot: snap})
	}
}

func visibilityKind(kind string) model.ViolationKind {
	switch kind {
	case "blur":
		return model.ViolationWindowBlur
	default:
		return model.ViolationTabHidden
	}
}

func loadErrorMessage(err error) string {
	switch {
	case errors.Is(err, engine.ErrAlreadyCompleted):
		return "you have already completed this exam"
	case errors.Is(err, engine.ErrSessionActive):
		return "this exam is already open in another window"
	default:
		return "failed to load exam session"
	}
}
