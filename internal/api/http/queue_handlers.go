package http

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arclight-os/core/internal/sched"
	"github.com/arclight-os/core/internal/shared/rights"
	"github.com/arclight-os/core/internal/shared/types"
)

func nsQueueParam(c *gin.Context) (types.NamespaceID, bool) {
	raw, err := strconv.ParseUint(c.Param("ns"), 10, 32)
	if err != nil {
		badRequest(c, "invalid namespace id")
		return 0, false
	}
	return types.NamespaceID(raw), true
}

type submitRequest struct {
	Kind      string          `json:"kind" binding:"required"`
	Class     string          `json:"resource_class" binding:"required"`
	Handle    uint64          `json:"resource_handle"`
	Token     string          `json:"token" binding:"required"`
	Required  []string        `json:"required"`
	Priority  string          `json:"priority"`
	Payload   json.RawMessage `json:"payload"`
	TimeoutMS int64           `json:"timeout_ms"`
}

// SubmitTask admits one operation descriptor onto the namespace queue.
func (h *Handlers) SubmitTask(c *gin.Context) {
	ns, valid := nsQueueParam(c)
	if !valid {
		return
	}
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	tok, err := h.core.Capabilities().ParseToken(req.Token)
	if err != nil {
		fail(c, err)
		return
	}
	required, err := rights.Parse(req.Required)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	tid, err := h.core.Submit(ns, sched.Operation{
		Kind:     req.Kind,
		Resource: types.ResourceRef{Class: req.Class, Handle: req.Handle},
		Token:    tok,
		Required: required,
		Class:    sched.ParseClass(req.Priority),
		Payload:  req.Payload,
		Timeout:  time.Duration(req.TimeoutMS) * time.Millisecond,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"task": uint64(tid)})
}

// PollCompletion drains one completion event, or reports none.
func (h *Handlers) PollCompletion(c *gin.Context) {
	ns, valid := nsQueueParam(c)
	if !valid {
		return
	}
	ev, found := h.core.Scheduler().PollCompletion(ns)
	if !found {
		ok(c, gin.H{"event": nil})
		return
	}
	ok(c, gin.H{"event": ev})
}

// CancelTask cancels a task; cancelling a finished task reports the
// no-op rather than failing the request.
func (h *Handlers) CancelTask(c *gin.Context) {
	raw, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid task id")
		return
	}
	switch err := h.core.Scheduler().Cancel(types.TaskID(raw)); err {
	case nil:
		ok(c, gin.H{"cancelled": true})
	case sched.ErrTaskNotFound:
		ok(c, gin.H{"cancelled": false, "reason": "task already retired"})
	default:
		fail(c, err)
	}
}

// SchedulerStats reports tasks by state, class counts, and latency
// quantiles.
func (h *Handlers) SchedulerStats(c *gin.Context) {
	ok(c, gin.H{"stats": h.core.Scheduler().Stats()})
}
