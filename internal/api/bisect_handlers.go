package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/bisect"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

// BisectHandlers drive bisection sessions one decision per request
type BisectHandlers struct {
	isolator *bisect.Isolator
	base     *Handlers
}

// NewBisectHandlers creates bisection handlers sharing the error mapping of base
func NewBisectHandlers(isolator *bisect.Isolator, base *Handlers) *BisectHandlers {
	return &BisectHandlers{isolator: isolator, base: base}
}

// StepRequest selects the half a bisection round disables
// @Description Bisection round
type StepRequest struct {
	Half string `json:"half" validate:"required,oneof=front back" example:"front"`
}

func (h *BisectHandlers) session(c *fiber.Ctx) (*bisect.Session, error) {
	return h.isolator.Get(c.Params("id"))
}

// StartHandler handles POST /v1/bisect requests
// @Summary      Start bisection
// @Description  Snapshots the enabled set and opens a session over it
// @Tags         Bisection
// @Produce      json
// @Success      201 {object} SuccessResponse{data=bisect.Snapshot}
// @Failure      409 {object} ErrorResponse "A session is running or nothing is enabled"
// @Router       /v1/bisect [post]
func (h *BisectHandlers) StartHandler(c *fiber.Ctx) error {
	s, err := h.isolator.Start(requestContext(c))
	if err != nil {
		return h.base.fail(c, err, "bisect_start")
	}
	return c.Status(201).JSON(SuccessResponse{Status: "success", Data: s.Snapshot()})
}

// GetHandler handles GET /v1/bisect/:id requests
// @Summary      Bisection session
// @Tags         Bisection
// @Produce      json
// @Param        id path string true "Session id"
// @Success      200 {object} SuccessResponse{data=bisect.Snapshot}
// @Failure      404 {object} ErrorResponse
// @Router       /v1/bisect/{id} [get]
func (h *BisectHandlers) GetHandler(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return h.base.fail(c, err, "bisect_get")
	}
	return c.Status(200).JSON(SuccessResponse{Status: "success", Data: s.Snapshot()})
}

// StepHandler handles POST /v1/bisect/:id/step requests
// @Summary      Bisection round
// @Description  Disables the front or back half of the remaining candidates
// @Tags         Bisection
// @Accept       json
// @Produce      json
// @Param        id path string true "Session id"
// @Param        request body StepRequest true "Half to disable"
// @Success      200 {object} SuccessResponse{data=bisect.Snapshot}
// @Failure      409 {object} ErrorResponse "Session finished"
// @Failure      422 {object} ErrorResponse
// @Router       /v1/bisect/{id}/step [post]
func (h *BisectHandlers) StepHandler(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return h.base.fail(c, err, "bisect_step")
	}

	var req StepRequest
	if err := c.BodyParser(&req); err != nil {
		return h.base.invalidBody(c, err, "bisect_step_parsing")
	}
	if err := h.base.validate.Struct(req); err != nil {
		return h.base.invalid(c, err)
	}

	snap, err := s.Bisect(requestContext(c), bisect.Half(req.Half))
	if err != nil {
		return h.base.fail(c, err, "bisect_step")
	}
	return c.Status(200).JSON(SuccessResponse{Status: "success", Data: snap})
}

// DisableAllHandler handles POST /v1/bisect/:id/disable-all requests
// @Summary      End bisection by disabling everything
// @Tags         Bisection
// @Produce      json
// @Param        id path string true "Session id"
// @Success      200 {object} SuccessResponse{data=bisect.Snapshot}
// @Failure      409 {object} ErrorResponse "Session finished"
// @Router       /v1/bisect/{id}/disable-all [post]
func (h *BisectHandlers) DisableAllHandler(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return h.base.fail(c, err, "bisect_disable_all")
	}

	snap, err := s.DisableAll(requestContext(c))
	if err != nil {
		return h.base.fail(c, err, "bisect_disable_all")
	}
	return c.Status(200).JSON(SuccessResponse{Status: "success", Data: snap})
}

// CancelHandler handles POST /v1/bisect/:id/cancel requests
// @Summary      Cancel bisection
// @Description  Restores the enabled set captured when the session started
// @Tags         Bisection
// @Produce      json
// @Param        id path string true "Session id"
// @Success      200 {object} SuccessResponse{data=bisect.Snapshot}
// @Failure      409 {object} ErrorResponse "Session already cancelled"
// @Router       /v1/bisect/{id}/cancel [post]
func (h *BisectHandlers) CancelHandler(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return h.base.fail(c, err, "bisect_cancel")
	}

	snap, err := s.Cancel(requestContext(c))
	if err != nil {
		return h.base.fail(c, err, "bisect_cancel")
	}
	return c.Status(200).JSON(SuccessResponse{Status: "success", Data: snap})
}

// ActiveHandler handles GET /v1/bisect requests
// @Summary      Running bisection
// @Tags         Bisection
// @Produce      json
// @Success      200 {object} SuccessResponse{data=bisect.Snapshot}
// @Failure      404 {object} ErrorResponse "No session running"
// @Router       /v1/bisect [get]
func (h *BisectHandlers) ActiveHandler(c *fiber.Ctx) error {
	s, ok := h.isolator.Active()
	if !ok {
		return h.base.sendError(c, domain.NewAppError(domain.ErrNotFound, "no bisection session is running", 404, nil))
	}
	return c.Status(200).JSON(SuccessResponse{Status: "success", Data: s.Snapshot()})
}
