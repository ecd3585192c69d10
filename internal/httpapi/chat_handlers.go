package httpapi

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"knowledge-hub/internal/apperr"
	"knowledge-hub/internal/chat"
)

// upgrader mirrors go-chat-service's ChatService.upgrader: origin
// checking is left to reverse-proxy/deployment config, matching the
// teacher's "allow all origins for development" stance.
var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

type chatInbound struct {
	Message          string `json:"message"`
	Type             string `json:"type"`
	InternalCmdToken string `json:"_internal_cmd_token"`
}

// handleChatStream implements the bidirectional chat stream of spec §6
// (/ws/chat/<sessionHandle>), which "carries the handle in the final path
// segment" instead of an Authorization header. It validates the handle,
// then bridges chat.Orchestrator.HandleMessage's emit callback onto
// websocket writes, serializing writes with a mutex since gorilla's Conn
// is not safe for concurrent writers (HandleMessage's emit closure runs
// on its own goroutine while the read loop runs on this one). Turns run
// one at a time off the read loop, so a stop frame is read while a
// response is still streaming.
func (s *Server) handleChatStream(c *gin.Context) {
	sessionHandle := c.Param("sessionHandle")

	userID, err := s.sessions.Validate(c.Request.Context(), sessionHandle)
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"code": apperr.HTTPStatus(err), "message": apperr.Message(err), "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("chat websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	emit := func(frame chat.Frame) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(frame); err != nil {
			s.logger.Warn("chat websocket write failed", zap.Error(err))
		}
	}

	ctx := c.Request.Context()
	var turnMu sync.Mutex
	for {
		var in chatInbound
		if err := conn.ReadJSON(&in); err != nil {
			s.logger.Info("chat websocket closed", zap.String("sessionHandle", sessionHandle), zap.Error(err))
			return
		}

		if in.Type == "stop" {
			s.chat.Cancel(sessionHandle, in.InternalCmdToken, emit)
			continue
		}
		if in.Message == "" {
			continue
		}

		go func(message string) {
			turnMu.Lock()
			defer turnMu.Unlock()
			s.chat.HandleMessage(ctx, sessionHandle, userID, message, emit)
		}(in.Message)
	}
}
