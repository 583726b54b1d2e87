package chat

import (
	"net/http"

	"PPRoom/logger"
	"PPRoom/middleware"
	midsec "PPRoom/middleware/security"
	"PPRoom/module/chat/model"
	"PPRoom/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     middleware.OriginChecker(allowedOrigins),
	}
}

// Routes mounts the chat endpoint and the health probe.
func (s *Server) Routes(r gin.IRouter, up *websocket.Upgrader) {
	middleware.GET(r, "/ws/chat/:room_id", s.HandleWS(up), middleware.RouteOpt{IsAuth: true})
	r.GET("/healthz", s.HandleHealth)
}

// HandleWS authorizes before upgrading, so a refused client gets a plain HTTP
// status instead of a socket that closes straight away.
func (s *Server) HandleWS(up *websocket.Upgrader) gin.HandlerFunc {
	return func(c *gin.Context) {
		room, err := model.ParseRoomID(c.Param("room_id"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown room"})
			return
		}
		ctx := c.Request.Context()

		who, err := s.Authorize(ctx, room, midsec.Credential(c))
		if err != nil {
			logger.Log.Info("[WS] handshake refused", zap.Int64("room", int64(room)), zap.Error(err))
			c.AbortWithStatusJSON(httpStatus(err), gin.H{"error": errs.PublicMessage(err)})
			return
		}

		ws, err := up.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// the upgrader already answered the request
			logger.Log.Info("[WS] upgrade failed", zap.Error(err))
			return
		}

		sess, err := s.Admit(ctx, ws, who, room)
		if err != nil {
			logger.Log.Warn("[WS] admit failed", zap.Int64("user", int64(who.ID)), zap.Error(err))
			rejectConn(ws, err, s.opts.Clock().Add(s.opts.Session.WriteWait))
			return
		}
		s.Run(ctx, sess)
	}
}

func (s *Server) HandleHealth(c *gin.Context) {
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()

	status, code := "ok", http.StatusOK
	if closing {
		status, code = "shutting_down", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":   status,
		"node":     s.connMgr.GwId(),
		"sessions": s.connMgr.Len(),
		"rooms":    s.rooms.Rooms(),
		"sinks":    s.sinks.Len(),
	})
}

func httpStatus(err error) int {
	switch {
	case errs.ErrAuth.Is(err):
		return http.StatusUnauthorized
	case errs.ErrAccess.Is(err):
		return http.StatusForbidden
	case errs.ErrStorage.Is(err), errs.ErrSessionClosed.Is(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
