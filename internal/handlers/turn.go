package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// GetTURNConfig returns the ICE server list clients feed into their peer
// connections. The relay is UDP-only, so the URL scheme is "turn:" rather
// than "turns:"; media stays encrypted via DTLS-SRTP regardless.
func (h *Handlers) GetTURNConfig(c *gin.Context) {
	host := c.Request.Host
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}

	creds := h.turnServer.Credentials()

	// The relay answers STUN on the same port, no separate STUN host needed.
	stunURL := fmt.Sprintf("stun:%s:%d", host, h.config.TURNPort)
	turnURL := fmt.Sprintf("turn:%s:%d", host, h.config.TURNPort)

	iceServers := []map[string]any{
		{"urls": stunURL},
		{
			"urls":       turnURL,
			"username":   creds.Username,
			"credential": creds.Password,
		},
	}

	slog.Default().Debug("TURN config served", "host", host, "ice_servers", len(iceServers))

	c.JSON(http.StatusOK, gin.H{"iceServers": iceServers})
}
