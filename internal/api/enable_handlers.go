package api

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

// EnableRequest carries the answers to the questions an enable may raise.
// A question without an answer ends the request with 409 and the report,
// so the client can ask the user and retry.
// @Description Decisions for the enable flow
type EnableRequest struct {
	OnIntegrity string   `json:"on_integrity,omitempty" validate:"omitempty,oneof=cancel save-and-enable uninstall" example:"save-and-enable"`
	OnConflict  string   `json:"on_conflict,omitempty" validate:"omitempty,oneof=cancel override manual" example:"manual"`
	Priority    []string `json:"priority,omitempty" validate:"omitempty,min=2,dive,required" example:"HD Textures,Better Lighting"`
}

// requestDecider answers decisions from an EnableRequest
type requestDecider struct {
	req EnableRequest
}

func (d requestDecider) ResolveIntegrity(ctx context.Context, report domain.IntegrityReport) (domain.IntegrityDecision, error) {
	if d.req.OnIntegrity == "" {
		return domain.IntegrityCancel, domain.NewAppError(domain.ErrIntegrityMismatch,
			"package files differ from its manifest; retry with on_integrity", 409,
			map[string]any{
				"integrity": report,
				"choices":   []domain.IntegrityDecision{domain.IntegrityCancel, domain.IntegritySaveAndEnable, domain.IntegrityUninstall},
			})
	}
	return domain.IntegrityDecision(d.req.OnIntegrity), nil
}

func (d requestDecider) ResolveConflict(ctx context.Context, report domain.ConflictReport, strategy domain.Strategy) (domain.ConflictDecision, error) {
	if d.req.OnConflict == "" {
		choices := []domain.ConflictDecision{domain.ConflictCancel, domain.ConflictOverride}
		if strategy == domain.StrategyLink {
			choices = append(choices, domain.ConflictManual)
		}
		return domain.ConflictCancel, domain.NewAppError(domain.ErrConflictDetected,
			"package shares paths with enabled packages; retry with on_conflict", 409,
			map[string]any{
				"conflicts": report,
				"strategy":  strategy,
				"choices":   choices,
			})
	}
	return domain.ConflictDecision(d.req.OnConflict), nil
}

func (d requestDecider) ArrangePriority(ctx context.Context, candidate string, conflicting []string, suggested domain.PriorityOrder, fromHistory bool) (domain.PriorityOrder, error) {
	if len(d.req.Priority) == 0 {
		return nil, domain.NewAppError(domain.ErrConflictDetected,
			"manual resolution needs a priority order; retry with priority", 409,
			map[string]any{
				"candidate":    candidate,
				"conflicting":  conflicting,
				"suggested":    suggested,
				"from_history": fromHistory,
			})
	}
	return domain.PriorityOrder(d.req.Priority), nil
}

// parseEnableRequest reads an optional body; an empty body answers nothing in advance
func (h *Handlers) parseEnableRequest(c *fiber.Ctx) (EnableRequest, *domain.AppError) {
	var req EnableRequest
	if len(c.Body()) == 0 {
		return req, nil
	}
	if err := c.BodyParser(&req); err != nil {
		return req, domain.NewAppError(domain.ErrInvalidInput, "Invalid JSON payload", 400,
			map[string]string{"error": err.Error()}).WithContext(requestContext(c), "enable_request_parsing")
	}
	if err := h.validate.Struct(req); err != nil {
		return req, validationError(err)
	}
	return req, nil
}

// EnableHandler handles POST /v1/packages/:name/enable requests
// @Summary      Enable package
// @Description  Runs integrity and conflict checks and deploys the package. Unanswered questions return 409 with the report.
// @Tags         Deployment
// @Accept       json
// @Produce      json
// @Param        name path string true "Package name"
// @Param        request body EnableRequest false "Decisions"
// @Success      200 {object} SuccessResponse{data=domain.EnableOutcome}
// @Failure      403 {object} ErrorResponse "Link creation needs elevation"
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse "Integrity mismatch or conflict needs a decision"
// @Failure      412 {object} ErrorResponse "Target directory unavailable"
// @Failure      422 {object} ErrorResponse
// @Router       /v1/packages/{name}/enable [post]
func (h *Handlers) EnableHandler(c *fiber.Ctx) error {
	name, appErr := packageName(c)
	if appErr != nil {
		return h.sendError(c, appErr)
	}

	req, appErr := h.parseEnableRequest(c)
	if appErr != nil {
		return h.sendError(c, appErr)
	}

	outcome, err := h.manager.Enable(requestContext(c), name, requestDecider{req: req})
	if err != nil {
		return h.fail(c, err, "enable_package")
	}
	if outcome.Result != nil && outcome.Result.ElevationRequired {
		return h.sendError(c, domain.NewAppError(domain.ErrPrivilegeDenied,
			"creating links needs elevated rights", 403,
			map[string]any{"outcome": outcome}))
	}

	return c.Status(200).JSON(SuccessResponse{Status: "success", Data: outcome})
}

// EnableAllHandler handles POST /v1/packages/enable-all requests
// @Summary      Enable all packages
// @Description  Enables every disabled, non-ignored package; the same decisions answer every package
// @Tags         Deployment
// @Accept       json
// @Produce      json
// @Param        request body EnableRequest false "Decisions"
// @Success      200 {object} SuccessResponse{data=object{outcomes=[]domain.EnableOutcome}}
// @Failure      412 {object} ErrorResponse
// @Router       /v1/packages/enable-all [post]
func (h *Handlers) EnableAllHandler(c *fiber.Ctx) error {
	req, appErr := h.parseEnableRequest(c)
	if appErr != nil {
		return h.sendError(c, appErr)
	}

	outcomes, err := h.manager.EnableAll(requestContext(c), requestDecider{req: req})
	if err != nil {
		return h.fail(c, err, "enable_all")
	}

	enabled := 0
	for _, o := range outcomes {
		if o.Enabled() {
			enabled++
		}
	}
	return c.Status(200).JSON(SuccessResponse{
		Status: "success",
		Data: map[string]any{
			"outcomes": outcomes,
			"enabled":  enabled,
			"count":    len(outcomes),
		},
	})
}
