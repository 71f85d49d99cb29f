package tcp

import (
	"errors"
	"fmt"
	"time"

	"panelbridge/internal/microservices/relay"
	"panelbridge/internal/protocol"
)

const (
	authTopic   = "auth"
	AuthTimeout = 10 * time.Second
)

var (
	ErrAuthRequired = errors.New("first line must be auth|<token>")

	unauthorizedFrame = []byte(protocol.TopicError + protocol.Delimiter + "unauthorized" + protocol.Delimiter)
)

// authenticate reads the auth|<token> line a client must send first
func (c *ClientConnection) authenticate(auth relay.PanelAuthenticator) error {
	c.conn.SetReadDeadline(time.Now().Add(AuthTimeout))
	line, err := c.readLine()
	if err != nil {
		return fmt.Errorf("read auth line: %w", err)
	}

	msg := protocol.ParseMessage(line)
	if msg.Topic != authTopic || len(msg.Args) != 1 || msg.Args[0] == "" {
		return ErrAuthRequired
	}

	panel, err := auth.AuthenticatePanel(msg.Args[0])
	if err != nil {
		return err
	}
	c.Panel = panel
	return nil
}
