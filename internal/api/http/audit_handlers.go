package http

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arclight-os/core/internal/capability"
	"github.com/arclight-os/core/internal/shared/id"
	"github.com/arclight-os/core/internal/shared/types"
)

// QueryAudit filters the recent audit trail. Sealed segments are for
// offline review; this serves the in-memory tail.
func (h *Handlers) QueryAudit(c *gin.Context) {
	var f capability.Filter
	if actor := c.Query("actor"); actor != "" {
		f.Actor = id.ActorID(actor)
	}
	if action := c.Query("action"); action != "" {
		switch capability.Action(action) {
		case capability.ActionIssue, capability.ActionDelegate, capability.ActionRevoke:
			f.Action = capability.Action(action)
		default:
			badRequest(c, "unknown action: "+action)
			return
		}
	}
	if raw := c.Query("namespace"); raw != "" {
		ns, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			badRequest(c, "invalid namespace id")
			return
		}
		f.Namespace = types.NamespaceID(ns)
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			badRequest(c, "invalid limit")
			return
		}
		f.Limit = limit
	}

	records := h.core.Audit().Query(f)
	ok(c, gin.H{"records": records, "count": len(records)})
}
