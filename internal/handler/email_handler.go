package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/florana/mailroom/internal/domain"
	"github.com/florana/mailroom/internal/repository"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type EmailService interface {
	Send(ctx context.Context, email domain.Email) (string, error)
}

type DeliveryQuery interface {
	List(ctx context.Context, params repository.ListParams) ([]domain.DeliveryLog, int64, error)
}

type EmailHandler struct {
	enqueue    EmailService
	deliveries DeliveryQuery
}

func NewEmailHandler(enqueue EmailService, deliveries DeliveryQuery) (*EmailHandler, error) {
	if enqueue == nil {
		return nil, fmt.Errorf("email service is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery query is required")
	}
	return &EmailHandler{enqueue: enqueue, deliveries: deliveries}, nil
}

func RegisterEmailRoutes(router fiber.Router, enqueue EmailService, deliveries DeliveryQuery) error {
	h, err := NewEmailHandler(enqueue, deliveries)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/emails", h.EnqueueEmail)
	v1.Get("/deliveries", h.ListDeliveries)

	return nil
}

// recipientList accepts either a single address string or an array of
// addresses in the request body.
type recipientList []string

func (r *recipientList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*r = recipientList{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("to must be a string or an array of strings")
	}
	*r = recipientList(many)
	return nil
}

type enqueueEmailRequest struct {
	TenantID     string            `json:"tenantId"`
	To           recipientList     `json:"to"`
	Subject      string            `json:"subject"`
	HTML         string            `json:"html"`
	TemplateName string            `json:"templateName"`
	Metadata     map[string]string `json:"metadata"`
	From         string            `json:"from"`
}

type enqueueEmailResponse struct {
	JobID    string `json:"jobId"`
	TenantID string `json:"tenantId"`
	Status   string `json:"status"`
}

type deliveryResponse struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenantId"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject"`
	TemplateName string            `json:"templateName"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Error        *string           `json:"error,omitempty"`
	SentAt       *time.Time        `json:"sentAt,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

type listDeliveriesResponse struct {
	Data []deliveryResponse `json:"data"`
	Meta listMeta           `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *EmailHandler) EnqueueEmail(c *fiber.Ctx) error {
	var req enqueueEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	email := domain.Email{
		TenantID:     strings.TrimSpace(req.TenantID),
		To:           trimRecipients(req.To),
		Subject:      strings.TrimSpace(req.Subject),
		HTMLBody:     req.HTML,
		TemplateName: strings.TrimSpace(req.TemplateName),
		Metadata:     req.Metadata,
		From:         strings.TrimSpace(req.From),
	}

	jobID, err := h.enqueue.Send(c.Context(), email)
	if err != nil {
		return toHTTPError(err)
	}

	tenantID := email.TenantID
	if tenantID == "" {
		tenantID = domain.SystemTenantID
	}

	return c.Status(fiber.StatusAccepted).JSON(enqueueEmailResponse{
		JobID:    jobID,
		TenantID: tenantID,
		Status:   domain.StatusQueued.String(),
	})
}

func (h *EmailHandler) ListDeliveries(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	logs, total, err := h.deliveries.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]deliveryResponse, 0, len(logs))
	for _, l := range logs {
		data = append(data, toDeliveryResponse(l))
	}

	return c.Status(fiber.StatusOK).JSON(listDeliveriesResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawTenant := strings.TrimSpace(c.Query("tenantId")); rawTenant != "" {
		params.TenantID = &rawTenant
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if rawTemplate := strings.TrimSpace(c.Query("template")); rawTemplate != "" {
		params.TemplateName = &rawTemplate
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func trimRecipients(recipients recipientList) []string {
	out := make([]string, 0, len(recipients))
	for _, addr := range recipients {
		out = append(out, strings.TrimSpace(addr))
	}
	return out
}

func toDeliveryResponse(l domain.DeliveryLog) deliveryResponse {
	return deliveryResponse{
		ID:           l.ID,
		TenantID:     l.TenantID,
		Recipient:    l.Recipient,
		Subject:      l.Subject,
		TemplateName: l.TemplateName,
		Status:       l.Status.String(),
		Metadata:     l.Metadata,
		Error:        l.Error,
		SentAt:       l.SentAt,
		CreatedAt:    l.CreatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	default:
		return err
	}
}
