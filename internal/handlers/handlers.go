// Package handlers is the small REST surface next to the websocket:
// ICE server discovery, client bootstrap config, and the push public key.
package handlers

import (
	"github.com/meshmeet/meshmeet/internal/config"
	"github.com/meshmeet/meshmeet/internal/push"
	"github.com/meshmeet/meshmeet/internal/turn"
)

type Handlers struct {
	config     *config.Config
	turnServer *turn.Server
	notifier   *push.Notifier
}

func New(cfg *config.Config, turnServer *turn.Server, notifier *push.Notifier) *Handlers {
	return &Handlers{
		config:     cfg,
		turnServer: turnServer,
		notifier:   notifier,
	}
}
