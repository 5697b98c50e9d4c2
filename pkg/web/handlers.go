package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/Jcateye/omini-channel/pkg/eventbus"
	"github.com/Jcateye/omini-channel/pkg/events"
	"github.com/Jcateye/omini-channel/pkg/models"
	"github.com/Jcateye/omini-channel/pkg/persistence"
	"github.com/Jcateye/omini-channel/pkg/schemas"
	"github.com/Jcateye/omini-channel/pkg/services"
)

type APIHandlers struct {
	journeyService *services.JourneyService
	runService     *services.RunService
	publisher      eventbus.EventPublisher
	validator      *validator.Validate
}

func NewAPIHandlers(
	journeyService *services.JourneyService,
	runService *services.RunService,
	publisher eventbus.EventPublisher,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		journeyService: journeyService,
		runService:     runService,
		publisher:      publisher,
		validator:      validator,
	}
}

// RegisterRoutes mounts all API routes on the app.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.HealthCheck)
	app.Get("/node-types", h.GetNodeTypes)

	app.Get("/journeys", h.GetJourneys)
	app.Post("/journeys", h.CreateJourney)
	app.Get("/journeys/:id", h.GetJourney)
	app.Put("/journeys/:id", h.UpdateJourney)
	app.Delete("/journeys/:id", h.DeleteJourney)

	app.Post("/journeys/:id/activate", h.statusHandler(models.JourneyStatusActive))
	app.Post("/journeys/:id/pause", h.statusHandler(models.JourneyStatusPaused))
	app.Post("/journeys/:id/archive", h.statusHandler(models.JourneyStatusArchived))

	app.Get("/journeys/:id/runs", h.GetJourneyRuns)
	app.Get("/runs/:id", h.GetRun)
	app.Get("/runs/:id/messages", h.GetRunMessages)

	app.Post("/events", h.IngestEvent)
}

// IngestEvent publishes a platform event onto the bus, where the activator
// matches it against journey triggers. Delivery to runs is asynchronous, so
// the endpoint answers 202 with the event id.
func (h *APIHandlers) IngestEvent(c fiber.Ctx) error {
	if h.publisher == nil {
		problem := problems.NewStatusProblem(503).
			WithInstance(c.Path()).
			WithType("not_configured").
			WithDetail("event ingestion is not configured")

		return c.Status(fiber.StatusServiceUnavailable).JSON(problem)
	}

	var req IngestEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if req.Context.TenantID == "" {
		return badRequest(c, "context.tenant_id is required")
	}

	var event eventbus.Event

	switch models.TriggerType(req.Type) {
	case models.TriggerTypeInboundMessage:
		event = &events.InboundMessageReceived{
			BaseEvent: events.NewBaseEvent(events.InboundMessageReceivedEvent, req.Context.TenantID),
			Context:   req.Context,
		}
	case models.TriggerTypeTagChange:
		event = &events.LeadTagsChanged{
			BaseEvent: events.NewBaseEvent(events.LeadTagsChangedEvent, req.Context.TenantID),
			Context:   req.Context,
		}
	case models.TriggerTypeStageChange:
		event = &events.LeadStageChanged{
			BaseEvent: events.NewBaseEvent(events.LeadStageChangedEvent, req.Context.TenantID),
			Context:   req.Context,
		}
	default:
		return badRequest(c, "Unsupported event type")
	}

	if err := h.publisher.Publish(c.Context(), req.Context.TenantID, event); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"accepted": true, "type": req.Type})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.journeyService.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// GetNodeTypes lists the supported node types with their config schemas, for
// editor tooling.
func (h *APIHandlers) GetNodeTypes(c fiber.Ctx) error {
	types := models.NodeTypes()
	out := make([]NodeTypeResponse, 0, len(types))

	for _, nodeType := range types {
		out = append(out, NodeTypeResponse{
			Type:   nodeType,
			Schema: schemas.NodeConfigSchema(nodeType),
		})
	}

	return c.JSON(fiber.Map{"node_types": out})
}

func (h *APIHandlers) GetJourneys(c fiber.Ctx) error {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		return badRequest(c, "tenant_id query parameter is required")
	}

	journeys, err := h.journeyService.ListJourneys(c.Context(), tenantID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"journeys": journeys})
}

func (h *APIHandlers) GetJourney(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Journey ID is required")
	}

	journey, err := h.journeyService.GetJourney(c.Context(), id)
	if err != nil {
		if persistence.IsJourneyNotFound(err) {
			return notFound(c, "Journey not found")
		}

		return internalError(c, err)
	}

	return c.JSON(journey)
}

func (h *APIHandlers) CreateJourney(c fiber.Ctx) error {
	var req CreateJourneyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.journeyService.CreateJourney(c.Context(), req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateJourney(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Journey ID is required")
	}

	var req UpdateJourneyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.journeyService.UpdateJourney(c.Context(), id, req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteJourney(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Journey ID is required")
	}

	err := h.journeyService.DeleteJourney(c.Context(), id)
	if err != nil {
		if persistence.IsJourneyNotFound(err) {
			return notFound(c, "Journey not found")
		}

		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) statusHandler(status models.JourneyStatus) fiber.Handler {
	return func(c fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return badRequest(c, "Journey ID is required")
		}

		journey, err := h.journeyService.SetStatus(c.Context(), id, status)
		if err != nil {
			return handleServiceError(c, err)
		}

		return c.JSON(journey)
	}
}

func (h *APIHandlers) GetJourneyRuns(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Journey ID is required")
	}

	req := services.ListRunsRequest{JourneyID: id}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit parameter")
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return badRequest(c, "Invalid offset parameter")
		}

		req.Offset = offset
	}

	result, err := h.runService.ListRuns(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"runs":          result.Runs,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
	})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.runService.GetRun(c.Context(), id)
	if err != nil {
		if persistence.IsRunNotFound(err) {
			return notFound(c, "Run not found")
		}

		return internalError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) GetRunMessages(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	messages, err := h.runService.ListRunMessages(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"messages": messages})
}
