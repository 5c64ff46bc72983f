// internal/workers/billing/check-entitlement/handler.go
package checkentitlement

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"time"

	"play-entitlements/internal/common/errors"
	"play-entitlements/internal/common/logger"
	"play-entitlements/internal/common/metrics"
	"play-entitlements/internal/models"
	"play-entitlements/internal/store"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "check-entitlement"
)

type Handler struct {
	config       *Config
	store        store.EntitlementStore
	cache        *Cache
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
	now          func() time.Time
}

func NewHandler(config *Config, st store.EntitlementStore, cache *Cache, log logger.Logger) *Handler {
	return &Handler{
		config:       config,
		store:        st,
		cache:        cache,
		errorHandler: errors.NewErrorHandler(log),
		logger:       log.WithFields(map[string]interface{}{"taskType": TaskType}),
		now:          time.Now,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	started := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.fail(client, job, started, errors.NewValidationError("parse input: "+err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.fail(client, job, started, err)
		return
	}

	h.completeJob(client, job, output)
	metrics.ObserveJob(TaskType, started, "")
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, errors.NewValidationError("userId is required")
	}

	rec, hit, err := h.cache.Get(ctx, userID)
	if err != nil {
		h.logger.Debug("Entitlement cache read failed, falling back to store", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}

	if !hit {
		rec, err = h.store.GetEntitlement(ctx, userID)
		if stderrors.Is(err, store.ErrNotFound) {
			return &Output{UserID: userID}, nil
		}
		if err != nil {
			return nil, errors.NewStoreReadError("users", err)
		}
		if err := h.cache.Set(ctx, rec); err != nil {
			h.logger.Debug("Failed to cache entitlement", map[string]interface{}{
				"userId": userID,
				"error":  err.Error(),
			})
		}
	}

	return h.view(userID, rec), nil
}

// view applies the expiry guard: a stored grant whose expiry already passed
// reads as expired until the next reconciliation rewrites it.
func (h *Handler) view(userID string, rec *models.EntitlementRecord) *Output {
	out := &Output{
		UserID:     userID,
		IsPro:      rec.IsPro,
		ExpiresAt:  rec.ExpiresAt,
		ProductID:  rec.ProductID,
		LastSource: string(rec.LastSource),
	}
	if !rec.LastVerifiedAt.IsZero() {
		verified := rec.LastVerifiedAt
		out.LastVerifiedAt = &verified
	}
	if rec.IsPro && rec.ExpiresAt != nil && !rec.ExpiresAt.After(h.now()) {
		out.IsPro = false
		out.Expired = true
	}
	return out
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if _, err = cmd.Send(context.Background()); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (h *Handler) fail(client worker.JobClient, job entities.Job, started time.Time, err error) {
	metrics.ObserveJob(TaskType, started, string(errors.CodeOf(err)))
	h.errorHandler.HandleJobError(context.Background(), client, job, err)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
