package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/enrollment-billing-api/internal/middleware"
	"github.com/noah-isme/enrollment-billing-api/internal/models"
)

func actorFromContext(c *gin.Context) models.Actor {
	claims, ok := middleware.Claims(c)
	if !ok {
		return models.Actor{}
	}
	return claims.Actor()
}
