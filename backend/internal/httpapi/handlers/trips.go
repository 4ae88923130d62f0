package handlers

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"planoraCollab/backend/internal/store"
)

// TripHandler 行程元数据的 REST 面。编辑走 ws，这里只有建/查。
type TripHandler struct {
	trips *store.TripStore
}

func NewTripHandler(trips *store.TripStore) *TripHandler {
	return &TripHandler{trips: trips}
}

func (h *TripHandler) CreateTrip(c *gin.Context) {
	// 从 gin.Context 获取用户信息；auth 中间件已写入
	userId, exists := c.Get("userId")
	if !exists {
		c.JSON(500, gin.H{"error": "User context missing"})
		return
	}
	ownerID, ok := userId.(uint64)
	if !ok {
		c.JSON(500, gin.H{"error": "Invalid user ID format"})
		return
	}

	var req struct {
		Title string `json:"title" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "title is required"})
		return
	}

	tripID, err := h.trips.CreateTrip(c.Request.Context(), ownerID, req.Title)
	if err != nil {
		c.JSON(500, gin.H{"error": "create trip failed"})
		return
	}
	c.JSON(200, gin.H{"tripId": tripID, "ownerId": ownerID, "title": req.Title, "createdAt": time.Now().Format(time.RFC3339)})
}

func (h *TripHandler) GetTrip(c *gin.Context) {
	tripIDStr := c.Param("tripID")
	tripID, err := strconv.ParseUint(tripIDStr, 10, 64)
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid trip ID"})
		return
	}

	trip, err := h.trips.GetTrip(c.Request.Context(), tripID)
	if err != nil {
		c.JSON(500, gin.H{"error": "get trip failed"})
		return
	}
	if trip == nil {
		c.JSON(404, gin.H{"error": "trip not found"})
		return
	}
	c.JSON(200, gin.H{
		"tripId":      tripIDStr,
		"title":       trip.Title,
		"destination": trip.Destination,
		"startDate":   trip.StartDate,
		"endDate":     trip.EndDate,
		"status":      trip.Status,
		"ownerId":     trip.OwnerID,
	})
}
