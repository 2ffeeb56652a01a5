package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	alterationdomain "github.com/tukilabs/benefit/internal/alteration/domain"
	auditdomain "github.com/tukilabs/benefit/internal/audit/domain"
)

type createAlterationRequest struct {
	Type                       string  `json:"alteration_type"`
	LastDayOfWork              string  `json:"last_day_of_work"`
	ResumeDate                 *string `json:"resume_date,omitempty"`
	ContactPersonName          string  `json:"contact_person_name"`
	UseEInvoice                bool    `json:"use_einvoice"`
	EInvoiceAddress            string  `json:"einvoice_address,omitempty"`
	EInvoiceProviderName       string  `json:"einvoice_provider_name,omitempty"`
	EInvoiceProviderIdentifier string  `json:"einvoice_provider_identifier,omitempty"`
}

type updateAlterationRequest struct {
	RecoveryStartDate *string          `json:"recovery_start_date,omitempty"`
	RecoveryEndDate   *string          `json:"recovery_end_date,omitempty"`
	CalculationMode   *string          `json:"calculation_mode,omitempty"`
	ManualAmount      *decimal.Decimal `json:"manual_amount,omitempty"`
	Justification     *string          `json:"justification,omitempty"`
	Version           int64            `json:"version"`
}

type handleAlterationRequest struct {
	Justification string `json:"justification"`
	Version       int64  `json:"version"`
}

type versionedRequest struct {
	Version int64 `json:"version"`
}

// @Summary      Report Alteration
// @Description  Report a termination or suspension on an accepted application
// @Tags         alterations
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Application ID"
// @Param        request body createAlterationRequest true "Create Alteration Request"
// @Success      200  {object}  DataResponse
// @Router       /applications/{id}/alterations [post]
func (s *Server) CreateAlteration(c *gin.Context) {
	applicationID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req createAlterationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	lastDay, ok := parseDate(req.LastDayOfWork)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	resume, ok := parseDatePtr(req.ResumeDate)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	alteration, err := s.alterationSvc.Create(c.Request.Context(), alterationdomain.CreateRequest{
		ApplicationID:              applicationID,
		Type:                       alterationdomain.Type(req.Type),
		LastDayOfWork:              lastDay,
		ResumeDate:                 resume,
		ContactPersonName:          strings.TrimSpace(req.ContactPersonName),
		UseEInvoice:                req.UseEInvoice,
		EInvoiceAddress:            strings.TrimSpace(req.EInvoiceAddress),
		EInvoiceProviderName:       strings.TrimSpace(req.EInvoiceProviderName),
		EInvoiceProviderIdentifier: strings.TrimSpace(req.EInvoiceProviderIdentifier),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, alteration)
}

// @Summary      List Alterations
// @Tags         alterations
// @Produce      json
// @Param        id  path  string  true  "Application ID"
// @Success      200  {object}  ListResponse
// @Router       /applications/{id}/alterations [get]
func (s *Server) ListAlterations(c *gin.Context) {
	applicationID, ok := idParam(c, "id")
	if !ok {
		return
	}

	alterations, err := s.alterationSvc.ListByApplication(c.Request.Context(), applicationID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondList(c, alterations)
}

// @Summary      Get Alteration
// @Tags         alterations
// @Produce      json
// @Param        id  path  string  true  "Alteration ID"
// @Success      200  {object}  DataResponse
// @Router       /application-alterations/{id} [get]
func (s *Server) GetAlteration(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	alteration, err := s.alterationSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, alteration)
}

// @Summary      Begin Alteration Handling
// @Description  Move a received alteration to handling and prefill the recovery range
// @Tags         alterations
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Alteration ID"
// @Success      200  {object}  DataResponse
// @Router       /application-alterations/{id}/begin-handling [patch]
func (s *Server) BeginAlterationHandling(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req versionedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	alteration, err := s.alterationSvc.BeginHandling(c.Request.Context(), id, req.Version)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, alteration)
}

// @Summary      Update Alteration
// @Description  Edit recovery range, calculation mode, manual amount or justification
// @Tags         alterations
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Alteration ID"
// @Param        request body updateAlterationRequest true "Update Alteration Request"
// @Success      200  {object}  DataResponse
// @Router       /application-alterations/{id} [patch]
func (s *Server) UpdateAlteration(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req updateAlterationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	start, ok := parseDatePtr(req.RecoveryStartDate)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	end, ok := parseDatePtr(req.RecoveryEndDate)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	var mode *alterationdomain.CalculationMode
	if req.CalculationMode != nil {
		parsed := alterationdomain.CalculationMode(*req.CalculationMode)
		mode = &parsed
	}

	result, err := s.alterationSvc.Update(c.Request.Context(), id, alterationdomain.UpdateRequest{
		RecoveryStartDate: start,
		RecoveryEndDate:   end,
		CalculationMode:   mode,
		ManualAmount:      req.ManualAmount,
		Justification:     req.Justification,
		Version:           req.Version,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondDataWithWarnings(c, result.Alteration, result.Warnings)
}

// @Summary      Recalculate Recovery Amount
// @Tags         alterations
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Alteration ID"
// @Success      200  {object}  DataResponse
// @Router       /application-alterations/{id}/recalculate [patch]
func (s *Server) RecalculateAlteration(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req versionedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	alteration, err := s.alterationSvc.Recalculate(c.Request.Context(), id, req.Version)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, alteration)
}

// @Summary      Set Recoverable
// @Tags         alterations
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Alteration ID"
// @Success      200  {object}  DataResponse
// @Router       /application-alterations/{id}/recoverable [patch]
func (s *Server) SetAlterationRecoverable(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		IsRecoverable *bool `json:"is_recoverable"`
		Version       int64 `json:"version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.IsRecoverable == nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.alterationSvc.SetRecoverable(c.Request.Context(), id, *req.IsRecoverable, req.Version)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondDataWithWarnings(c, result.Alteration, result.Warnings)
}

// @Summary      Handle Alteration
// @Description  Finalize the alteration and download the records-system CSV
// @Tags         alterations
// @Accept       json
// @Produce      text/csv
// @Param        id  path  string  true  "Alteration ID"
// @Param        request body handleAlterationRequest true "Handle Request"
// @Success      200  {string}  string  "CSV artifact"
// @Router       /application-alterations/{id}/handle-with-csv [patch]
func (s *Server) HandleAlterationWithCSV(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req handleAlterationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	alteration, artifact, err := s.alterationSvc.Handle(c.Request.Context(), id, alterationdomain.HandleRequest{
		Justification: strings.TrimSpace(req.Justification),
		Version:       req.Version,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSvc.Record(c.Request.Context(), auditdomain.Entry{
		ActorName:  actorName(c),
		Action:     "alteration.handle",
		TargetType: "alteration",
		TargetID:   alteration.ID,
		Metadata: map[string]any{
			"application_id":  alteration.ApplicationID.String(),
			"recovery_amount": alteration.RecoveryAmount,
		},
	})

	c.Header("Content-Disposition", `attachment; filename="alteration_`+alteration.ID.String()+`.csv"`)
	c.Data(http.StatusOK, "text/csv", artifact)
}

// @Summary      Cancel Alteration
// @Tags         alterations
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Alteration ID"
// @Success      200  {object}  DataResponse
// @Router       /application-alterations/{id}/cancel [patch]
func (s *Server) CancelAlteration(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req versionedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	alteration, err := s.alterationSvc.Cancel(c.Request.Context(), id, req.Version)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSvc.Record(c.Request.Context(), auditdomain.Entry{
		ActorName:  actorName(c),
		Action:     "alteration.cancel",
		TargetType: "alteration",
		TargetID:   alteration.ID,
	})

	respondData(c, alteration)
}

// @Summary      Delete Alteration
// @Tags         alterations
// @Param        id  path  string  true  "Alteration ID"
// @Success      204
// @Router       /application-alterations/{id} [delete]
func (s *Server) DeleteAlteration(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	if err := s.alterationSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
