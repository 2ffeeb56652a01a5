package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	"github.com/tukilabs/benefit/internal/apperror"
	auditdomain "github.com/tukilabs/benefit/internal/audit/domain"
	batchdomain "github.com/tukilabs/benefit/internal/batch/domain"
)

type addBatchApplicationsRequest struct {
	ApplicationIDs []string `json:"application_ids"`
	Version        int64    `json:"version"`
}

type registerBatchRequest struct {
	DecisionMakerName    string `json:"decision_maker_name"`
	DecisionMakerTitle   string `json:"decision_maker_title"`
	SectionOfLaw         string `json:"section_of_law"`
	ExpertInspectorName  string `json:"expert_inspector_name"`
	ExpertInspectorTitle string `json:"expert_inspector_title"`
	P2PCheckerName       string `json:"p2p_checker_name"`
	Version              int64  `json:"version"`
}

func versionQuery(c *gin.Context) (int64, error) {
	raw := strings.TrimSpace(c.Query("version"))
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperror.Validation("version", "invalid_version", "version query parameter is required")
	}
	return version, nil
}

// @Summary      Create Batch
// @Tags         batches
// @Produce      json
// @Success      200  {object}  DataResponse
// @Router       /batches [post]
func (s *Server) CreateBatch(c *gin.Context) {
	batch, err := s.batchSvc.Create(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, batch)
}

// @Summary      List Batches
// @Tags         batches
// @Produce      json
// @Success      200  {object}  ListResponse
// @Router       /batches [get]
func (s *Server) ListBatches(c *gin.Context) {
	batches, err := s.batchSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondList(c, batches)
}

// @Summary      Get Batch
// @Description  Batch with member applications and derived payment state
// @Tags         batches
// @Produce      json
// @Param        id  path  string  true  "Batch ID"
// @Success      200  {object}  DataResponse
// @Router       /batches/{id} [get]
func (s *Server) GetBatch(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	view, err := s.batchSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, view)
}

// @Summary      Add Applications to Batch
// @Tags         batches
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Batch ID"
// @Param        request body addBatchApplicationsRequest true "Add Applications Request"
// @Success      200  {object}  DataResponse
// @Router       /batches/{id}/applications [post]
func (s *Server) AddBatchApplications(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req addBatchApplicationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ids := make([]snowflake.ID, 0, len(req.ApplicationIDs))
	for _, raw := range req.ApplicationIDs {
		appID, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err != nil {
			AbortWithError(c, invalidIDError("application_ids"))
			return
		}
		ids = append(ids, appID)
	}

	view, err := s.batchSvc.AddApplications(c.Request.Context(), id, ids, req.Version)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, view)
}

// @Summary      Remove Application from Batch
// @Tags         batches
// @Produce      json
// @Param        id             path  string  true  "Batch ID"
// @Param        applicationId  path  string  true  "Application ID"
// @Success      200  {object}  DataResponse
// @Router       /batches/{id}/applications/{applicationId} [delete]
func (s *Server) RemoveBatchApplication(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	applicationID, ok := idParam(c, "applicationId")
	if !ok {
		return
	}

	var req versionedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	view, err := s.batchSvc.RemoveApplication(c.Request.Context(), id, applicationID, req.Version)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, view)
}

// @Summary      Mark Batch Ready for Ahjo
// @Tags         batches
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Batch ID"
// @Success      200  {object}  DataResponse
// @Router       /batches/{id}/ready [patch]
func (s *Server) MarkBatchReadyForAhjo(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req versionedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	batch, err := s.batchSvc.MarkReadyForAhjo(c.Request.Context(), id, req.Version)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, batch)
}

// @Summary      Export Batch Decision Report
// @Description  Advances the batch and downloads the decision-report PDF
// @Tags         batches
// @Produce      application/pdf
// @Param        id       path   string  true  "Batch ID"
// @Param        version  query  int     true  "Batch version"
// @Success      200  {string}  string  "PDF artifact"
// @Router       /batches/{id}/report [get]
func (s *Server) ExportBatchReport(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	version, err := versionQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	batch, report, err := s.batchSvc.ExportAhjoReport(c.Request.Context(), id, version)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="batch_`+batch.ID.String()+`_decision_report.pdf"`)
	c.Data(http.StatusOK, "application/pdf", report)
}

// @Summary      Register Batch to Ahjo
// @Tags         batches
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Batch ID"
// @Param        request body registerBatchRequest true "Register Request"
// @Success      200  {object}  DataResponse
// @Router       /batches/{id}/register [patch]
func (s *Server) RegisterBatchToAhjo(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req registerBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	batch, err := s.batchSvc.RegisterToAhjo(c.Request.Context(), id, batchdomain.DecisionMetadata{
		DecisionMakerName:    strings.TrimSpace(req.DecisionMakerName),
		DecisionMakerTitle:   strings.TrimSpace(req.DecisionMakerTitle),
		SectionOfLaw:         strings.TrimSpace(req.SectionOfLaw),
		ExpertInspectorName:  strings.TrimSpace(req.ExpertInspectorName),
		ExpertInspectorTitle: strings.TrimSpace(req.ExpertInspectorTitle),
		P2PCheckerName:       strings.TrimSpace(req.P2PCheckerName),
	}, req.Version)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSvc.Record(c.Request.Context(), auditdomain.Entry{
		ActorName:  actorName(c),
		Action:     "batch.register_to_ahjo",
		TargetType: "batch",
		TargetID:   batch.ID,
		Metadata:   map[string]any{"decision_maker_name": batch.DecisionMakerName},
	})

	respondData(c, batch)
}

// @Summary      Submit Batch to Talpa
// @Tags         batches
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Batch ID"
// @Success      200  {object}  DataResponse
// @Router       /batches/{id}/to-talpa [patch]
func (s *Server) MarkBatchToTalpa(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req versionedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	view, err := s.batchSvc.MarkToTalpa(c.Request.Context(), id, req.Version)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, view)
}
