package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	appdomain "github.com/tukilabs/benefit/internal/application/domain"
	batchdomain "github.com/tukilabs/benefit/internal/batch/domain"
)

type talpaWebhookRequest struct {
	DeliveryID    string `json:"delivery_id"`
	ApplicationID string `json:"application_id"`
	Status        string `json:"status"`
}

// @Summary      Talpa Payment Callback
// @Description  Payment outcome notification. Redeliveries are deduplicated by delivery id.
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Param        request body talpaWebhookRequest true "Talpa Callback"
// @Success      200  {object}  DataResponse
// @Router       /webhooks/talpa [post]
func (s *Server) TalpaWebhook(c *gin.Context) {
	var req talpaWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	deliveryID, err := uuid.Parse(strings.TrimSpace(req.DeliveryID))
	if err != nil {
		AbortWithError(c, invalidIDError("delivery_id"))
		return
	}
	applicationID, err := snowflake.ParseString(strings.TrimSpace(req.ApplicationID))
	if err != nil {
		AbortWithError(c, invalidIDError("application_id"))
		return
	}

	callback := batchdomain.TalpaCallback{
		DeliveryID:    deliveryID,
		ApplicationID: applicationID,
		Status:        appdomain.TalpaStatus(req.Status),
	}
	if err := s.batchSvc.ApplyTalpaCallback(c.Request.Context(), callback); err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("talpa callback applied",
		zap.String("delivery_id", deliveryID.String()),
		zap.String("application_id", applicationID.String()),
		zap.String("status", req.Status))

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"received": true}})
}

// Healthz reports process liveness and database reachability.
func (s *Server) Healthz(c *gin.Context) {
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
