package http

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arclight-os/core/internal/shared/types"
)

func nsParam(c *gin.Context) (types.NamespaceID, bool) {
	raw, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		badRequest(c, "invalid namespace id")
		return 0, false
	}
	return types.NamespaceID(raw), true
}

type createNamespaceRequest struct {
	Parent uint32 `json:"parent" binding:"required"`
}

// CreateNamespace attaches a fresh child namespace.
func (h *Handlers) CreateNamespace(c *gin.Context) {
	var req createNamespaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	ns, err := h.core.Namespaces().Create(types.NamespaceID(req.Parent))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"namespace": uint32(ns)})
}

// DeleteNamespace removes a namespace; ?force=true cascades.
func (h *Handlers) DeleteNamespace(c *gin.Context) {
	ns, valid := nsParam(c)
	if !valid {
		return
	}
	force := c.Query("force") == "true"
	if err := h.core.Namespaces().Delete(actorFrom(c), ns, force); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// NamespaceCapabilities lists the tokens visible inside the namespace.
func (h *Handlers) NamespaceCapabilities(c *gin.Context) {
	ns, valid := nsParam(c)
	if !valid {
		return
	}
	tokens, err := h.core.Namespaces().VisibleCapabilities(ns)
	if err != nil {
		fail(c, err)
		return
	}
	handles := make([]string, len(tokens))
	for i, tok := range tokens {
		handles[i] = tok.String()
	}
	ok(c, gin.H{"capabilities": handles})
}

// ImportCapability delegates a token into the namespace at full rights.
func (h *Handlers) ImportCapability(c *gin.Context) {
	ns, valid := nsParam(c)
	if !valid {
		return
	}
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
	imported, err := h.core.Namespaces().Import(actorFrom(c), tok, ns)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"token": imported.String()})
}

type peerShareRequest struct {
	Shared *bool `json:"shared" binding:"required"`
}

// SetPeerShared marks the namespace reachable from its siblings.
func (h *Handlers) SetPeerShared(c *gin.Context) {
	ns, valid := nsParam(c)
	if !valid {
		return
	}
	var req peerShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.core.Namespaces().SetPeerShared(ns, *req.Shared); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type filterRequest struct {
	Class   string `json:"class" binding:"required"`
	Visible *bool  `json:"visible" binding:"required"`
}

// SetFilter restricts which resource classes the namespace exposes.
func (h *Handlers) SetFilter(c *gin.Context) {
	ns, valid := nsParam(c)
	if !valid {
		return
	}
	var req filterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.core.Namespaces().SetFilter(ns, req.Class, *req.Visible); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}
