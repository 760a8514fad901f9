package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/enrollment-billing-api/internal/dto"
	"github.com/noah-isme/enrollment-billing-api/internal/models"
	"github.com/noah-isme/enrollment-billing-api/pkg/response"
)

type seatReader interface {
	Availability(ctx context.Context, offeringID string) (*models.SeatAvailability, error)
}

// OfferingHandler exposes live seat counts.
type OfferingHandler struct {
	seats seatReader
}

// NewOfferingHandler constructs OfferingHandler.
func NewOfferingHandler(seats seatReader) *OfferingHandler {
	return &OfferingHandler{seats: seats}
}

// Seats godoc
// @Summary Seat availability of an offering
// @Tags Offerings
// @Produce json
// @Param id path string true "Offering ID"
// @Success 200 {object} response.Envelope
// @Router /offerings/{id}/seats [get]
func (h *OfferingHandler) Seats(c *gin.Context) {
	seats, err := h.seats.Availability(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.SeatAvailabilityResponse{
		OfferingID: seats.OfferingID,
		Capacity:   seats.Capacity,
		Occupied:   seats.Occupied,
		Remaining:  seats.Remaining(),
		IsOpen:     seats.IsOpen,
	}, nil)
}
