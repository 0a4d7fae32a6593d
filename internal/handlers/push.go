package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetVAPIDPublicKey hands out the key browsers need to create a push
// subscription. 404 when push is disabled so clients skip the subscribe flow.
func (h *Handlers) GetVAPIDPublicKey(c *gin.Context) {
	if !h.notifier.Enabled() {
		c.JSON(http.StatusNotFound, gin.H{"error": "push disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"publicKey": h.notifier.PublicKey()})
}
