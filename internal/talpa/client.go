// Package talpa talks to the municipal payment system that disburses the
// benefit per application. Outcomes come back asynchronously through the
// Talpa webhook handled by the batch service.
package talpa

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/tukilabs/benefit/internal/apperror"
	appdomain "github.com/tukilabs/benefit/internal/application/domain"
	batchdomain "github.com/tukilabs/benefit/internal/batch/domain"
	"github.com/tukilabs/benefit/internal/config"
)

type Client struct {
	http *resty.Client
	log  *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) batchdomain.TalpaClient {
	timeout := cfg.Talpa.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	http := resty.New().
		SetBaseURL(cfg.Talpa.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.Talpa.APIKey != "" {
		http.SetHeader("Authorization", "Token "+cfg.Talpa.APIKey)
	}
	return &Client{http: http, log: log.Named("talpa.client")}
}

type submitRequest struct {
	BatchID string       `json:"batch_id"`
	Lines   []submitLine `json:"lines"`
}

type submitLine struct {
	ApplicationID     string `json:"application_id"`
	ApplicationNumber string `json:"application_number"`
	CompanyName       string `json:"company_name"`
}

func (c *Client) SubmitPayments(ctx context.Context, batch *batchdomain.Batch, members []appdomain.Application) error {
	if c.http.BaseURL == "" {
		c.log.Warn("talpa base url missing, skipping remote submission",
			zap.String("batch_id", batch.ID.String()))
		return nil
	}

	payload := submitRequest{BatchID: batch.ID.String()}
	for _, member := range members {
		payload.Lines = append(payload.Lines, submitLine{
			ApplicationID:     member.ID.String(),
			ApplicationNumber: member.ApplicationNumber,
			CompanyName:       member.CompanyName,
		})
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		Post("/payments")
	if err != nil {
		return apperror.External("talpa", err)
	}
	if resp.IsError() {
		return apperror.External("talpa", fmt.Errorf("status %d", resp.StatusCode()))
	}
	c.log.Info("payments submitted to talpa",
		zap.String("batch_id", batch.ID.String()),
		zap.Int("lines", len(payload.Lines)))
	return nil
}
