// Package http exposes the resource-control plane as a REST surface.
// Every mutating endpoint maps one-to-one onto a manager operation; the
// handlers translate wire forms and never add semantics of their own.
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arclight-os/core/internal/capability"
	"github.com/arclight-os/core/internal/memory"
	"github.com/arclight-os/core/internal/namespace"
	"github.com/arclight-os/core/internal/sched"
)

// statusFor maps core error kinds onto HTTP status codes. Unrecognized
// errors are internal: the taxonomy is closed, so anything outside it
// indicates a bug.
func statusFor(err error) int {
	switch {
	case errors.Is(err, capability.ErrInvalid),
		errors.Is(err, capability.ErrRevoked),
		errors.Is(err, capability.ErrInsufficientRights),
		errors.Is(err, capability.ErrNamespaceMismatch),
		errors.Is(err, memory.ErrProtectionViolation):
		return http.StatusForbidden
	case errors.Is(err, capability.ErrInvalidNamespace):
		return http.StatusBadRequest
	case errors.Is(err, namespace.ErrNotFound),
		errors.Is(err, memory.ErrRegionNotFound),
		errors.Is(err, sched.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, namespace.ErrActiveChildren),
		errors.Is(err, memory.ErrOverlap):
		return http.StatusConflict
	case errors.Is(err, memory.ErrOutOfMemory):
		return http.StatusInsufficientStorage
	case errors.Is(err, sched.ErrQueueFull):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"success": false,
		"error":   err.Error(),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   msg,
	})
}

func ok(c *gin.Context, payload gin.H) {
	if payload == nil {
		payload = gin.H{}
	}
	payload["success"] = true
	c.JSON(http.StatusOK, payload)
}
