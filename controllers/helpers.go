package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	apperrors "github.com/yashrajoria/payment-engine/common/errors"
	"github.com/yashrajoria/payment-engine/services"
)

// uuidParam parses a path parameter, pushing a validation error on failure.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.Error(apperrors.Validation(services.ReasonInvalidRequest, "invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

// bindJSON binds the request body into dst. An empty body is accepted when
// optional is set.
func bindJSON(c *gin.Context, dst any, optional bool) bool {
	if optional && c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		c.Error(apperrors.New(http.StatusBadRequest, services.ReasonInvalidRequest, "invalid request body: "+err.Error(), err))
		return false
	}
	return true
}
