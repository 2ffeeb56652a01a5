package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	appdomain "github.com/tukilabs/benefit/internal/application/domain"
	auditdomain "github.com/tukilabs/benefit/internal/audit/domain"
)

const dateLayout = "2006-01-02"

type createApplicationRequest struct {
	ApplicationNumber string `json:"application_number"`
	CompanyName       string `json:"company_name"`
	EmployeeFirstName string `json:"employee_first_name"`
	EmployeeLastName  string `json:"employee_last_name"`
	SubsidyStartDate  string `json:"subsidy_start_date"`
	SubsidyEndDate    string `json:"subsidy_end_date"`
}

type updateApplicationRequest struct {
	CompanyName       *string `json:"company_name,omitempty"`
	EmployeeFirstName *string `json:"employee_first_name,omitempty"`
	EmployeeLastName  *string `json:"employee_last_name,omitempty"`
	SubsidyStartDate  *string `json:"subsidy_start_date,omitempty"`
	SubsidyEndDate    *string `json:"subsidy_end_date,omitempty"`
	Status            *string `json:"status,omitempty"`
	Version           int64   `json:"version"`
}

func (r updateApplicationRequest) hasFieldUpdates() bool {
	return r.CompanyName != nil || r.EmployeeFirstName != nil || r.EmployeeLastName != nil ||
		r.SubsidyStartDate != nil || r.SubsidyEndDate != nil
}

type transitionApplicationRequest struct {
	Status  string `json:"status"`
	Version int64  `json:"version"`
}

type decideApplicationRequest struct {
	Outcome         string            `json:"outcome"`
	LogEntryComment string            `json:"log_entry_comment"`
	Rows            []rowInputPayload `json:"rows,omitempty"`
	Version         int64             `json:"version"`
}

type rowInputPayload struct {
	StartDate   string          `json:"start_date"`
	EndDate     string          `json:"end_date"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

func parseDate(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func parseDatePtr(value *string) (*time.Time, bool) {
	if value == nil {
		return nil, true
	}
	t, err := time.Parse(dateLayout, *value)
	if err != nil {
		return nil, false
	}
	return &t, true
}

func idParam(c *gin.Context, param string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param(param))
	if err != nil {
		AbortWithError(c, invalidIDError(param))
		return 0, false
	}
	return id, true
}

// @Summary      Create Application
// @Description  Create a new benefit application in draft status
// @Tags         applications
// @Accept       json
// @Produce      json
// @Param        request body createApplicationRequest true "Create Application Request"
// @Success      200  {object}  DataResponse
// @Router       /applications [post]
func (s *Server) CreateApplication(c *gin.Context) {
	var req createApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	start, ok := parseDate(req.SubsidyStartDate)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	end, ok := parseDate(req.SubsidyEndDate)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	app, err := s.appSvc.Create(c.Request.Context(), appdomain.CreateRequest{
		ApplicationNumber: strings.TrimSpace(req.ApplicationNumber),
		CompanyName:       strings.TrimSpace(req.CompanyName),
		EmployeeFirstName: strings.TrimSpace(req.EmployeeFirstName),
		EmployeeLastName:  strings.TrimSpace(req.EmployeeLastName),
		SubsidyStartDate:  start,
		SubsidyEndDate:    end,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, app)
}

// @Summary      List Applications
// @Tags         applications
// @Produce      json
// @Param        status    query  string  false  "Status"
// @Param        batch_id  query  string  false  "Batch ID"
// @Success      200  {object}  ListResponse
// @Router       /applications [get]
func (s *Server) ListApplications(c *gin.Context) {
	var filter appdomain.ListFilter
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		parsed := appdomain.Status(status)
		filter.Status = &parsed
	}
	if batchID := strings.TrimSpace(c.Query("batch_id")); batchID != "" {
		id, err := snowflake.ParseString(batchID)
		if err != nil {
			AbortWithError(c, invalidIDError("batch_id"))
			return
		}
		filter.BatchID = &id
	}

	apps, err := s.appSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondList(c, apps)
}

// @Summary      Get Application
// @Tags         applications
// @Produce      json
// @Param        id  path  string  true  "Application ID"
// @Success      200  {object}  DataResponse
// @Router       /applications/{id} [get]
func (s *Server) GetApplication(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	app, err := s.appSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	rows, err := s.appSvc.Rows(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, gin.H{"application": app, "calculation_rows": rows})
}

// @Summary      Update Application
// @Description  Patch application fields, optionally with a status transition
// @Tags         applications
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Application ID"
// @Param        request body updateApplicationRequest true "Update Application Request"
// @Success      200  {object}  DataResponse
// @Router       /applications/{id} [patch]
func (s *Server) UpdateApplication(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req updateApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	start, ok := parseDatePtr(req.SubsidyStartDate)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	end, ok := parseDatePtr(req.SubsidyEndDate)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	version := req.Version
	var app *appdomain.Application
	if req.hasFieldUpdates() || req.Status == nil {
		var err error
		app, err = s.appSvc.Update(c.Request.Context(), id, appdomain.UpdateRequest{
			CompanyName:       req.CompanyName,
			EmployeeFirstName: req.EmployeeFirstName,
			EmployeeLastName:  req.EmployeeLastName,
			SubsidyStartDate:  start,
			SubsidyEndDate:    end,
			Version:           version,
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}
		version = app.Version
	}

	if req.Status != nil {
		var err error
		app, err = s.appSvc.Transition(c.Request.Context(), id, appdomain.Status(*req.Status), version)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		s.auditSvc.Record(c.Request.Context(), auditdomain.Entry{
			ActorName:  actorName(c),
			Action:     "application.transition",
			TargetType: "application",
			TargetID:   app.ID,
			Metadata:   map[string]any{"status": string(app.Status)},
		})
	}

	respondData(c, app)
}

// @Summary      Transition Application Status
// @Description  Submit, begin handling, request information, cancel or archive
// @Tags         applications
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Application ID"
// @Param        request body transitionApplicationRequest true "Transition Request"
// @Success      200  {object}  DataResponse
// @Router       /applications/{id}/status [patch]
func (s *Server) TransitionApplication(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req transitionApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	app, err := s.appSvc.Transition(c.Request.Context(), id, appdomain.Status(req.Status), req.Version)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSvc.Record(c.Request.Context(), auditdomain.Entry{
		ActorName:  actorName(c),
		Action:     "application.transition",
		TargetType: "application",
		TargetID:   app.ID,
		Metadata:   map[string]any{"status": string(app.Status)},
	})

	respondData(c, app)
}

// @Summary      Decide Application
// @Description  Accept or reject a handled application with calculation rows
// @Tags         applications
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Application ID"
// @Param        request body decideApplicationRequest true "Decide Request"
// @Success      200  {object}  DataResponse
// @Router       /applications/{id}/decide [patch]
func (s *Server) DecideApplication(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req decideApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	rows := make([]appdomain.RowInput, 0, len(req.Rows))
	for _, row := range req.Rows {
		start, ok := parseDate(row.StartDate)
		if !ok {
			AbortWithError(c, invalidRequestError())
			return
		}
		end, ok := parseDate(row.EndDate)
		if !ok {
			AbortWithError(c, invalidRequestError())
			return
		}
		rows = append(rows, appdomain.RowInput{
			StartDate:   start,
			EndDate:     end,
			TotalAmount: row.TotalAmount,
		})
	}

	app, err := s.appSvc.Decide(c.Request.Context(), id, appdomain.DecideRequest{
		Outcome:         appdomain.Status(req.Outcome),
		LogEntryComment: strings.TrimSpace(req.LogEntryComment),
		Rows:            rows,
		Version:         req.Version,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSvc.Record(c.Request.Context(), auditdomain.Entry{
		ActorName:  actorName(c),
		Action:     "application.decide",
		TargetType: "application",
		TargetID:   app.ID,
		Metadata: map[string]any{
			"outcome":           string(app.Status),
			"log_entry_comment": strings.TrimSpace(req.LogEntryComment),
		},
	})

	respondData(c, app)
}

// @Summary      Correct Talpa Status
// @Description  Handler correction of a rejected payment line
// @Tags         applications
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Application ID"
// @Success      200  {object}  DataResponse
// @Router       /applications/{id}/talpa-status [patch]
func (s *Server) CorrectTalpaStatus(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		TalpaStatus string `json:"talpa_status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	app, err := s.batchSvc.CorrectTalpaStatus(c.Request.Context(), id, appdomain.TalpaStatus(req.TalpaStatus))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSvc.Record(c.Request.Context(), auditdomain.Entry{
		ActorName:  actorName(c),
		Action:     "application.talpa_status_correction",
		TargetType: "application",
		TargetID:   app.ID,
		Metadata:   map[string]any{"talpa_status": string(app.TalpaStatus)},
	})

	respondData(c, app)
}

// @Summary      List Application Audit Trail
// @Tags         applications
// @Produce      json
// @Param        id  path  string  true  "Application ID"
// @Success      200  {object}  ListResponse
// @Router       /applications/{id}/audit [get]
func (s *Server) ListApplicationAudit(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	logs, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListFilter{
		TargetType: "application",
		TargetID:   id,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondList(c, logs)
}

// @Summary      Export Application Audit Trail
// @Description  Download the audit trail as a CSV artifact
// @Tags         applications
// @Produce      text/csv
// @Param        id  path  string  true  "Application ID"
// @Success      200  {string}  string  "CSV artifact"
// @Router       /applications/{id}/audit/export [get]
func (s *Server) ExportApplicationAudit(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	artifact, err := s.auditSvc.ExportCSV(c.Request.Context(), auditdomain.ListFilter{
		TargetType: "application",
		TargetID:   id,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="application_`+id.String()+`_audit.csv"`)
	c.Data(http.StatusOK, "text/csv", artifact)
}

// actorName identifies the acting handler for the audit trail. The caller
// supplies it in a header until an identity layer exists.
func actorName(c *gin.Context) string {
	if name := strings.TrimSpace(c.GetHeader("X-Handler-Name")); name != "" {
		return name
	}
	return "unknown"
}
