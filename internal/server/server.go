package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	alterationdomain "github.com/tukilabs/benefit/internal/alteration/domain"
	appdomain "github.com/tukilabs/benefit/internal/application/domain"
	auditdomain "github.com/tukilabs/benefit/internal/audit/domain"
	batchdomain "github.com/tukilabs/benefit/internal/batch/domain"
	"github.com/tukilabs/benefit/internal/config"
)

var Module = fx.Module("server",
	fx.Provide(NewServer),
)

type Params struct {
	fx.In

	Cfg           config.Config
	Log           *zap.Logger
	DB            *gorm.DB
	AppSvc        appdomain.Service
	AlterationSvc alterationdomain.Service
	BatchSvc      batchdomain.Service
	AuditSvc      auditdomain.Service
}

type Server struct {
	cfg           config.Config
	log           *zap.Logger
	db            *gorm.DB
	appSvc        appdomain.Service
	alterationSvc alterationdomain.Service
	batchSvc      batchdomain.Service
	auditSvc      auditdomain.Service
}

func NewServer(p Params) *Server {
	return &Server{
		cfg:           p.Cfg,
		log:           p.Log.Named("server"),
		db:            p.DB,
		appSvc:        p.AppSvc,
		alterationSvc: p.AlterationSvc,
		batchSvc:      p.BatchSvc,
		auditSvc:      p.AuditSvc,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.Healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/applications", s.CreateApplication)
		v1.GET("/applications", s.ListApplications)
		v1.GET("/applications/:id", s.GetApplication)
		v1.PATCH("/applications/:id", s.UpdateApplication)
		v1.PATCH("/applications/:id/status", s.TransitionApplication)
		v1.PATCH("/applications/:id/decide", s.DecideApplication)
		v1.PATCH("/applications/:id/talpa-status", s.CorrectTalpaStatus)
		v1.GET("/applications/:id/alterations", s.ListAlterations)
		v1.POST("/applications/:id/alterations", s.CreateAlteration)
		v1.GET("/applications/:id/audit", s.ListApplicationAudit)
		v1.GET("/applications/:id/audit/export", s.ExportApplicationAudit)

		v1.GET("/application-alterations/:id", s.GetAlteration)
		v1.PATCH("/application-alterations/:id", s.UpdateAlteration)
		v1.PATCH("/application-alterations/:id/begin-handling", s.BeginAlterationHandling)
		v1.PATCH("/application-alterations/:id/recalculate", s.RecalculateAlteration)
		v1.PATCH("/application-alterations/:id/recoverable", s.SetAlterationRecoverable)
		v1.PATCH("/application-alterations/:id/handle-with-csv", s.HandleAlterationWithCSV)
		v1.PATCH("/application-alterations/:id/cancel", s.CancelAlteration)
		v1.DELETE("/application-alterations/:id", s.DeleteAlteration)

		v1.POST("/batches", s.CreateBatch)
		v1.GET("/batches", s.ListBatches)
		v1.GET("/batches/:id", s.GetBatch)
		v1.POST("/batches/:id/applications", s.AddBatchApplications)
		v1.DELETE("/batches/:id/applications/:applicationId", s.RemoveBatchApplication)
		v1.PATCH("/batches/:id/ready", s.MarkBatchReadyForAhjo)
		v1.GET("/batches/:id/report", s.ExportBatchReport)
		v1.PATCH("/batches/:id/register", s.RegisterBatchToAhjo)
		v1.PATCH("/batches/:id/to-talpa", s.MarkBatchToTalpa)

		v1.POST("/webhooks/talpa", s.TalpaWebhook)
	}

	return router
}
