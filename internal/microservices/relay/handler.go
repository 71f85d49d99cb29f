package relay

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"panelbridge/internal/protocol"
)

// PanelAuthenticator checks a panel token and returns the panel name
type PanelAuthenticator interface {
	AuthenticatePanel(token string) (string, error)
}

type WSHandlerOptions struct {
	// Auth is nil when panel tokens are not required
	Auth         PanelAuthenticator
	DefaultCodec protocol.Codec
}

func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    protocol.Subprotocols(),
		// panels are served from their own origin
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// WSHandler upgrades the request, picks the codec from the negotiated
// subprotocol and hands the session to the hub.
func WSHandler(hub *Hub, opts WSHandlerOptions) gin.HandlerFunc {
	upgrader := newUpgrader()
	if opts.DefaultCodec == nil {
		opts.DefaultCodec = protocol.PipeCodec{}
	}

	return func(c *gin.Context) {
		panel := ""
		if opts.Auth != nil {
			token := panelToken(c.Request)
			if token == "" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "panel token required"})
				return
			}
			name, err := opts.Auth.AuthenticatePanel(token)
			if err != nil {
				hub.logger.Warn("panel_auth_failed", "remote_addr", c.ClientIP(), "error", err)
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid panel token"})
				return
			}
			panel = name
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error
			hub.logger.Warn("websocket_upgrade_failed", "remote_addr", c.ClientIP(), "error", err)
			return
		}

		codec, ok := protocol.Lookup(conn.Subprotocol())
		if !ok {
			codec = opts.DefaultCodec
		}

		session := hub.NewSession(conn, codec, panel)
		if !hub.Register(session) {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"))
			conn.Close()
			return
		}

		go session.WritePump()
		go session.ReadPump()
	}
}

// panelToken reads a bearer token, falling back to the query string for
// browsers that cannot set headers on a WebSocket request
func panelToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
