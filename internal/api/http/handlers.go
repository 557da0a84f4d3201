package http

import (
	"github.com/gin-gonic/gin"

	"github.com/arclight-os/core/internal/core"
	"github.com/arclight-os/core/internal/infrastructure/logging"
	"github.com/arclight-os/core/internal/shared/id"
)

// Handlers serves the control-plane REST surface over the core facade.
type Handlers struct {
	core   *core.Core
	logger *logging.Logger
}

func NewHandlers(c *core.Core, logger *logging.Logger) *Handlers {
	return &Handlers{core: c, logger: logger}
}

// actorFrom resolves the acting identity for audit records. Callers pass
// X-Actor; requests without one act under a fresh anonymous identity so
// the trail never has empty actors.
func actorFrom(c *gin.Context) id.ActorID {
	if actor := id.ActorID(c.GetHeader("X-Actor")); actor != "" && actor.IsValid() {
		return actor
	}
	return id.NewActorID()
}

// Health reports liveness and basic inventory.
func (h *Handlers) Health(c *gin.Context) {
	ok(c, gin.H{
		"status":     "healthy",
		"namespaces": h.core.Namespaces().Count(),
		"regions":    h.core.Memory().Stats().Regions,
		"classes":    h.core.ResourceClasses(),
	})
}
