package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/haloedu/ujianku-backend/internal/exam"
	"github.com/haloedu/ujianku-backend/internal/middleware"
	"github.com/haloedu/ujianku-backend/internal/model"
	"github.com/haloedu/ujianku-backend/internal/service"
	ws "github.com/haloedu/ujianku-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
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

// WSHandler streams one exam session over a WebSocket: answer capture,
// submission, backgrounding reports, and timer pings.
type WSHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// ExamStream godoc
// WS /ws/v1/student/exams/:exam_id/stream
// Upgrades to WebSocket for real-time answer capture and submission.
func (h *WSHandler) ExamStream(c *gin.Context) {
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

	studentID := claims.UserID

	// A live session must exist before streaming starts.
	if _, err := h.sessionService.Session(examID, studentID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no active session for this exam"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("exam_id", examID.String()).
		Logger()

	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.RequestPayload
		err := ws.ReadJSON(conn, &msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch msg.Action {
		case ws.ActionAnswer:
			h.handleAnswer(conn, examID, studentID, &msg)
		case ws.ActionSubmit:
			if h.handleSubmit(conn, wsLog, examID, studentID, model.SubmitCauseManual) {
				return
			}
		case ws.ActionBackground:
			// The app left the foreground mid-exam. Record the event and
			// force submission through the same latch as every other cause.
			h.sessionService.RecordBackgrounded(context.Background(), examID, studentID, claims.Name)
			if h.handleSubmit(conn, wsLog, examID, studentID, model.SubmitCauseBackgrounded) {
				return
			}
		case ws.ActionPing:
			h.handlePing(conn, examID, studentID)
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, "unknown action: "+string(msg.Action))
		}
	}
}

// handleAnswer stores a single answer in the live session.
func (h *WSHandler) handleAnswer(conn *websocket.Conn, examID uuid.UUID, studentID int, msg *ws.RequestPayload) {
	ctx := context.Background()

	if msg.QID == "" || msg.Answer == "" {
		ws.WriteError(conn, "q_id and ans are required")
		return
	}

	// QID must be a well-formed UUID to keep junk out of the Redis keys.
	if _, err := uuid.Parse(msg.QID); err != nil {
		ws.WriteError(conn, "invalid q_id format")
		return
	}

	if err := h.sessionService.SetAnswer(ctx, examID, studentID, msg.QID, msg.Answer); err != nil {
		ws.WriteError(conn, "save failed")
		return
	}

	remaining := 0
	if sess, err := h.sessionService.Session(examID, studentID); err == nil {
		remaining = sess.Remaining()
	}

	ws.WriteTyped(conn, ws.SavedResponse{
		Event:            ws.EventSaved,
		RemainingSeconds: remaining,
	})
}

// handleSubmit finalizes the attempt. Returns true when the session is
// finished and the stream should close.
func (h *WSHandler) handleSubmit(conn *websocket.Conn, wsLog zerolog.Logger, examID uuid.UUID, studentID int, cause model.SubmitCause) bool {
	attempt, err := h.sessionService.Submit(context.Background(), examID, studentID, cause)
	if err != nil {
		if err == exam.ErrAlreadySubmitted || err == service.ErrNoActiveSession {
			ws.WriteError(conn, "already submitted")
			return true
		}
		wsLog.Error().Err(err).Msg("Submit error")
		ws.WriteError(conn, "submit failed")
		return false
	}

	wsLog.Info().
		Int("score", attempt.Score).
		Float64("percentage", attempt.Percentage).
		Bool("passed", attempt.Passed).
		Str("cause", string(cause)).
		Msg("Attempt finalized")

	ws.WriteTyped(conn, ws.FinalizedResponse{
		Event:      ws.EventFinalized,
		Cause:      string(attempt.Cause),
		Score:      attempt.Score,
		Percentage: attempt.Percentage,
		Passed:     attempt.Passed,
	})
	return true
}

// handlePing answers with the authoritative remaining time so clients can
// correct timer drift.
func (h *WSHandler) handlePing(conn *websocket.Conn, examID uuid.UUID, studentID int) {
	remaining := 0
	if sess, err := h.sessionService.Session(examID, studentID); err == nil {
		remaining = sess.Remaining()
	}

	ws.WriteTyped(conn, ws.PongResponse{
		Event:            ws.EventPong,
		RemainingSeconds: remaining,
	})
}
