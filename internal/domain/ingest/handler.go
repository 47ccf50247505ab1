package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/intake/internal/platform/auth"
	"github.com/ehr/intake/internal/platform/faults"
	"github.com/ehr/intake/internal/platform/fhir"
	"github.com/ehr/intake/internal/platform/healthstore"
	"github.com/ehr/intake/pkg/pagination"
)

const mimeFHIRJSON = "application/fhir+json"

// PatientStore reads Patient resources back from the clinical store.
type PatientStore interface {
	Search(ctx context.Context, resourceType string, params url.Values) (json.RawMessage, error)
	Read(ctx context.Context, resourceType, id string) (json.RawMessage, error)
}

type Handler struct {
	svc   *Service
	store PatientStore
}

func NewHandler(svc *Service, store PatientStore) *Handler {
	return &Handler{svc: svc, store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group, fhirGroup *echo.Group) {
	// Document intake – intake agents
	writeGroup := api.Group("", auth.RequireRole(auth.RoleIntake))
	writeGroup.POST("/documents/process", h.ProcessDocument)

	// Outcome history – intake agents and clinicians
	readGroup := api.Group("", auth.RequireRole(auth.RoleIntake, auth.RoleClinician))
	readGroup.GET("/outcomes", h.ListOutcomes)
	readGroup.GET("/outcomes/:id", h.GetOutcome)

	// FHIR read-through to the clinical store
	fhirRead := fhirGroup.Group("", auth.RequireRole(auth.RoleClinician), auth.RequireScope("Patient", "read"))
	fhirRead.GET("/Patient", h.SearchPatientsFHIR)
	fhirRead.GET("/Patient/:id", h.GetPatientFHIR)
}

// -- Operational Handlers --

func (h *Handler) ProcessDocument(c echo.Context) error {
	var doc Document
	if err := c.Bind(&doc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := h.svc.Process(c.Request().Context(), doc)
	if err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ListOutcomes(c echo.Context) error {
	pg := pagination.FromContext(c)

	filter := OutcomeFilter{
		Status:     Status(c.QueryParam("status")),
		DocumentID: c.QueryParam("document_id"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}

	items, total, err := h.svc.ListOutcomes(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetOutcome(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	out, err := h.svc.GetOutcome(c.Request().Context(), id)
	if errors.Is(err, ErrOutcomeNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "outcome not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, out)
}

// -- FHIR Handlers --

func (h *Handler) SearchPatientsFHIR(c echo.Context) error {
	if h.store == nil {
		return c.JSON(http.StatusServiceUnavailable, fhir.ErrorOutcome("clinical store not configured"))
	}
	raw, err := h.store.Search(c.Request().Context(), "Patient", c.QueryParams())
	if err != nil {
		return fhirError(c, err)
	}
	return c.Blob(http.StatusOK, mimeFHIRJSON, raw)
}

func (h *Handler) GetPatientFHIR(c echo.Context) error {
	if h.store == nil {
		return c.JSON(http.StatusServiceUnavailable, fhir.ErrorOutcome("clinical store not configured"))
	}
	raw, err := h.store.Read(c.Request().Context(), "Patient", c.Param("id"))
	if err != nil {
		return fhirError(c, err)
	}
	return c.Blob(http.StatusOK, mimeFHIRJSON, raw)
}

// statusFor maps a pipeline error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, faults.ErrRemoteService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func fhirError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, healthstore.ErrUnsupportedSearch):
		return c.JSON(http.StatusBadRequest, fhir.InvalidOutcome(err.Error()))
	case errors.Is(err, healthstore.ErrNotFound):
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome(err.Error()))
	case errors.Is(err, faults.ErrRemoteService):
		return c.JSON(http.StatusBadGateway, fhir.TransientOutcome(err.Error()))
	default:
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
}
