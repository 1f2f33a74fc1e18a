package http

import (
	"net/http"

	"jamlink/internal/core/domain"
	"jamlink/internal/core/ports"

	"github.com/gin-gonic/gin"
)

// RoomHandler exposes the administrative room API. Service errors are pushed
// onto the gin context; the error middleware maps them to HTTP statuses.
type RoomHandler struct {
	roomService ports.RoomService
}

func NewRoomHandler(roomService ports.RoomService) *RoomHandler {
	return &RoomHandler{
		roomService: roomService,
	}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine) {
	router.POST("/rooms", h.CreateRoom)
	router.GET("/rooms/:id", h.GetRoom)
	router.PATCH("/rooms/:id/rules", h.UpdateRules)
	router.DELETE("/rooms/:id", h.DeleteRoom)
}

type rulesRequest struct {
	OwnerID         domain.PeerID `json:"ownerId" binding:"required"`
	MaxPlayers      int           `json:"maxPlayers"`
	AllowRelay      bool          `json:"allowRelay"`
	LatencyTargetMs int           `json:"latencyTargetMs"`
	OpusBitrate     int           `json:"opusBitrate"`
}

func (r rulesRequest) rules() domain.RoomRules {
	return domain.RoomRules{
		MaxPlayers:      r.MaxPlayers,
		AllowRelay:      r.AllowRelay,
		LatencyTargetMs: r.LatencyTargetMs,
		OpusBitrate:     r.OpusBitrate,
	}
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req rulesRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), req.OwnerID, req.rules())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"roomId": room.ID,
	})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	room, err := h.roomService.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room": room,
	})
}

func (h *RoomHandler) UpdateRules(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	var req rulesRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.roomService.UpdateRules(c.Request.Context(), roomID, req.OwnerID, req.rules())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room": room,
	})
}

func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	var req struct {
		OwnerID domain.PeerID `json:"ownerId" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.roomService.CloseRoom(c.Request.Context(), roomID, req.OwnerID); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"roomId": roomID,
	})
}
