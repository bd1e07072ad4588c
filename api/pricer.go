package api

import (
	"errors"
	"net/http"

	"github.com/banachtech/basket-credit/config"
	"github.com/banachtech/basket-credit/mainfuncs"
	"github.com/banachtech/basket-credit/utils"
	"github.com/gin-gonic/gin"
)

// tranche prices a scenario. Fields left out of the body keep their defaults.
func (server *Server) tranche(c *gin.Context) {
	req := config.Default().Scenario
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(err))
		return
	}

	report, err := mainfuncs.Pricer(req, nil)
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), errorResponse(err))
		return
	}
	c.JSON(http.StatusOK, report)
}

type ladderRequest struct {
	Scenario config.Scenario `json:"scenario"`
	Step     string          `json:"step" binding:"required"`
}

func (server *Server) ladder(c *gin.Context) {
	req := ladderRequest{Scenario: config.Default().Scenario}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(err))
		return
	}
	step, err := utils.ParsePeriod(req.Step)
	if err != nil || step.Length <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "step must be a positive period such as 3M"})
		return
	}

	report, err := mainfuncs.Ladder(req.Scenario, step, nil)
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), errorResponse(err))
		return
	}
	c.JSON(http.StatusOK, report)
}

func statusFor(err error) int {
	if errors.Is(err, config.ErrInvalid) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
