package http

import (
	"github.com/gin-gonic/gin"

	"github.com/arclight-os/core/internal/shared/rights"
	"github.com/arclight-os/core/internal/shared/types"
)

type issueRequest struct {
	Class     string   `json:"class" binding:"required"`
	Handle    uint64   `json:"handle"`
	Rights    []string `json:"rights" binding:"required"`
	Namespace uint32   `json:"namespace" binding:"required"`
}

// IssueCapability mints a token from the class boot capability.
func (h *Handlers) IssueCapability(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	mask, err := rights.Parse(req.Rights)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	tok, err := h.core.Issue(actorFrom(c), req.Class, req.Handle, mask, types.NamespaceID(req.Namespace))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"token": tok.String()})
}

type delegateRequest struct {
	Token     string   `json:"token" binding:"required"`
	Rights    []string `json:"rights" binding:"required"`
	Namespace uint32   `json:"namespace" binding:"required"`
}

// DelegateCapability derives a rights-restricted child token.
func (h *Handlers) DelegateCapability(c *gin.Context) {
	var req delegateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	tok, err := h.core.Capabilities().ParseToken(req.Token)
	if err != nil {
		fail(c, err)
		return
	}
	mask, err := rights.Parse(req.Rights)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	child, err := h.core.Capabilities().Delegate(actorFrom(c), tok, mask, types.NamespaceID(req.Namespace))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"token": child.String()})
}

type tokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// RevokeCapability invalidates a token and its delegation subtree.
func (h *Handlers) RevokeCapability(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	tok, err := h.core.Capabilities().ParseToken(req.Token)
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.core.Capabilities().Revoke(actorFrom(c), tok); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type validateRequest struct {
	Token  string   `json:"token" binding:"required"`
	Rights []string `json:"rights"`
}

// ValidateCapability checks a token against a required rights set. The
// outcome is in the body, not the status code: an invalid token is a
// successful validation request with a negative answer.
func (h *Handlers) ValidateCapability(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	mask, err := rights.Parse(req.Rights)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	tok, err := h.core.Capabilities().ParseToken(req.Token)
	if err == nil {
		err = h.core.Capabilities().Check(tok, mask)
	}
	if err != nil {
		ok(c, gin.H{"valid": false, "reason": err.Error()})
		return
	}
	ok(c, gin.H{"valid": true})
}

// CapabilityInfo returns the inspectable view of a token.
func (h *Handlers) CapabilityInfo(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	tok, err := h.core.Capabilities().ParseToken(req.Token)
	if err != nil {
		fail(c, err)
		return
	}
	info, err := h.core.Capabilities().Info(tok)
	if err != nil {
		fail(c, err)
		return
	}

	resp := gin.H{
		"token":     info.Token.String(),
		"resource":  info.Resource.String(),
		"rights":    info.Rights.Names(),
		"namespace": uint32(info.Namespace),
		"revoked":   info.Revoked,
	}
	if !info.Parent.IsZero() {
		resp["parent"] = info.Parent.String()
	}
	ok(c, resp)
}
