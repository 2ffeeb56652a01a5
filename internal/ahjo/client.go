// Package ahjo talks to the municipal case-management system a decided batch
// is registered into, and renders the decision report exported ahead of
// registration.
package ahjo

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

func NewClient(cfg config.Config, log *zap.Logger) batchdomain.AhjoClient {
	timeout := cfg.Ahjo.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	http := resty.New().
		SetBaseURL(cfg.Ahjo.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.Ahjo.APIKey != "" {
		http.SetHeader("Authorization", "Token "+cfg.Ahjo.APIKey)
	}
	return &Client{http: http, log: log.Named("ahjo.client")}
}

type registerRequest struct {
	BatchID            string         `json:"batch_id"`
	DecisionMakerName  string         `json:"decision_maker_name"`
	DecisionMakerTitle string         `json:"decision_maker_title"`
	SectionOfLaw       string         `json:"section_of_law"`
	Applications       []registerLine `json:"applications"`
}

type registerLine struct {
	ApplicationNumber string `json:"application_number"`
	CompanyName       string `json:"company_name"`
}

func (c *Client) RegisterBatch(ctx context.Context, batch *batchdomain.Batch, members []appdomain.Application) error {
	if c.http.BaseURL == "" {
		// No Ahjo endpoint configured; registration is recorded locally only.
		c.log.Warn("ahjo base url missing, skipping remote registration",
			zap.String("batch_id", batch.ID.String()))
		return nil
	}

	payload := registerRequest{
		BatchID:            batch.ID.String(),
		DecisionMakerName:  batch.DecisionMakerName,
		DecisionMakerTitle: batch.DecisionMakerTitle,
		SectionOfLaw:       batch.SectionOfLaw,
	}
	for _, member := range members {
		payload.Applications = append(payload.Applications, registerLine{
			ApplicationNumber: member.ApplicationNumber,
			CompanyName:       member.CompanyName,
		})
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		Post("/decisions/register")
	if err != nil {
		return apperror.External("ahjo", err)
	}
	if resp.IsError() {
		return apperror.External("ahjo", fmt.Errorf("status %d", resp.StatusCode()))
	}
	c.log.Info("batch registered to ahjo",
		zap.String("batch_id", batch.ID.String()),
		zap.Int("applications", len(members)))
	return nil
}
