package http

import (
	"github.com/gin-gonic/gin"

	"github.com/arclight-os/core/internal/backend"
	"github.com/arclight-os/core/internal/memory"
)

type allocateRequest struct {
	Token string `json:"token" binding:"required"`
	Size  uint64 `json:"size" binding:"required"`
	Flags string `json:"flags"`
	Hint  uint64 `json:"hint"`
}

// AllocateMemory carves a region, gated by the presented capability.
func (h *Handlers) AllocateMemory(c *gin.Context) {
	var req allocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	tok, err := h.core.Capabilities().ParseToken(req.Token)
	if err != nil {
		fail(c, err)
		return
	}
	flags, err := backend.ParseProtection(req.Flags)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	region, err := h.core.Memory().Allocate(actorFrom(c), tok, req.Size, flags, req.Hint)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{
		"region": uint64(region.ID),
		"base":   region.Base,
		"length": region.Length,
		"flags":  region.Flags.String(),
		"owner":  region.Owner.String(),
	})
}

type protectMemoryRequest struct {
	Token  string `json:"token" binding:"required"`
	Region uint64 `json:"region" binding:"required"`
	Flags  string `json:"flags"`
}

// ProtectMemory changes a region's protection flags.
func (h *Handlers) ProtectMemory(c *gin.Context) {
	var req protectMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	tok, err := h.core.Capabilities().ParseToken(req.Token)
	if err != nil {
		fail(c, err)
		return
	}
	flags, err := backend.ParseProtection(req.Flags)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.core.Memory().Protect(actorFrom(c), memory.RegionID(req.Region), flags, tok); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type freeMemoryRequest struct {
	Token  string `json:"token" binding:"required"`
	Region uint64 `json:"region" binding:"required"`
}

// FreeMemory removes a region and revokes its owning capability.
func (h *Handlers) FreeMemory(c *gin.Context) {
	var req freeMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	tok, err := h.core.Capabilities().ParseToken(req.Token)
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.core.Memory().Free(actorFrom(c), memory.RegionID(req.Region), tok); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// MemoryStats reports pool accounting.
func (h *Handlers) MemoryStats(c *gin.Context) {
	ok(c, gin.H{"stats": h.core.Memory().Stats()})
}
