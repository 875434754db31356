package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabrelay/internal/protocol"
	"collabrelay/internal/signaling"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // TLS and origin policy terminate upstream
}

// WsServer accepts websocket connections, resolves their room and
// identity from the handshake query, and routes every inbound frame to
// the signaling relay or the room.
type WsServer struct {
	registry       *RoomManager
	limiter        *ipLimiter
	maxMessageSize int64
}

func NewWsServer(ctx context.Context, registry *RoomManager, maxMessageSize int64, rateLimitPerIP float64) *WsServer {
	return &WsServer{
		registry:       registry,
		limiter:        newIPLimiter(ctx, rateLimitPerIP),
		maxMessageSize: maxMessageSize,
	}
}

// Handle is the Gin entry point for GET /ws.
func (s *WsServer) Handle(ginCtx *gin.Context) {
	roomID := ginCtx.Query("room")
	userID := ginCtx.Query("user")
	if roomID == "" || userID == "" {
		ginCtx.JSON(http.StatusBadRequest, gin.H{"error": "room and user are required"})
		return
	}

	if !s.limiter.Allow(ginCtx.ClientIP()) {
		ginCtx.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}

	rawConn, err := upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.upgrade", zap.Error(err))
		return
	}
	rawConn.SetReadLimit(s.maxMessageSize)

	conn := newClientConn(rawConn)
	room := s.registry.Join(roomID, userID, conn, ginCtx.Query("name"), ginCtx.Query("mode") == "rtc")

	zap.L().Info("ws.client_joined",
		zap.String("room", roomID),
		zap.String("user", userID),
		zap.String("conn", conn.connID),
		zap.Bool("signaling_only", ginCtx.Query("mode") == "rtc"))

	go s.reader(room, userID, conn)
	go s.pinger(conn)
}

// reader processes the client's inbound stream in arrival order. Any
// read error, including a plain close, counts as a disconnect: the
// member is removed and an emptied room destroyed before the handler
// returns.
func (s *WsServer) reader(room *Room, userID string, conn *clientConn) {
	defer func() {
		// Only the connection that still owns the member record may
		// remove it; a reader unwinding after a same-id reconnect must
		// not tear down its successor's session or room.
		if room.RemoveClientIf(userID, conn) {
			s.registry.DestroyIfEmpty(room.ID())
		}
		_ = conn.Close()
		zap.L().Info("ws.client_left", zap.String("room", room.ID()), zap.String("user", userID))
	}()

	_ = conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	conn.rawConn.SetPongHandler(func(string) error {
		return conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := conn.rawConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.L().Warn("ws.read", zap.String("user", userID), zap.Error(err))
			}
			return
		}
		s.dispatch(room, userID, messageType, data)
	}
}

// dispatch classifies one inbound frame. Malformed JSON, a missing type
// and unknown types are all dropped without touching the connection.
func (s *WsServer) dispatch(room *Room, userID string, messageType int, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		zap.L().Debug("ws.malformed_frame", zap.String("user", userID), zap.Error(err))
		return
	}
	if env.Type == "" {
		return
	}

	switch {
	case signaling.IsSignalingMessage(env.Type):
		signaling.Relay(room, userID, env.TargetID, messageType, data)

	case env.Type == protocol.TypeAwarenessUpdate:
		room.HandleAwarenessMessage(userID, messageType, data)

	case protocol.BinaryPayload(env.Type):
		// With awareness handled above, the binary class is exactly the
		// three document-sync types.
		payload, ok := decodeBinaryPayload(env.Payload)
		if !ok {
			zap.L().Debug("ws.bad_payload", zap.String("user", userID), zap.String("type", env.Type))
			return
		}
		room.HandleDocumentMessage(userID, env.Type, payload)

	default:
		// Server-emitted types arriving inbound and unrecognized future
		// types are both dropped for forward compatibility.
		if !protocol.KnownType(env.Type) {
			zap.L().Debug("ws.unknown_type", zap.String("user", userID), zap.String("type", env.Type))
		}
	}
}

func (s *WsServer) pinger(conn *clientConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.Ping(); err != nil {
			_ = conn.Close()
			return
		}
	}
}

// decodeBinaryPayload unwraps the base64 string carried in a JSON
// envelope's payload field. An absent payload decodes to empty bytes,
// which is a valid zero-length update or state vector.
func decodeBinaryPayload(raw json.RawMessage) ([]byte, bool) {
	if len(raw) == 0 {
		return []byte{}, true
	}
	var b64 string
	if err := json.Unmarshal(raw, &b64); err != nil {
		return nil, false
	}
	payload, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, false
	}
	return payload, true
}
