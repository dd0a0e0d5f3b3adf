// Package measures implements the HTTP endpoints for live measures: reading every
// measure of a component and upserting one measure. Payloads are exposed as text
// whichever column they are stored in.
package measures

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/orgdirectory/orgdirectory/internal/db/models"
	"github.com/orgdirectory/orgdirectory/internal/db/repositories"
	"github.com/orgdirectory/orgdirectory/internal/middleware"
	"github.com/orgdirectory/orgdirectory/internal/telemetry"
)

// Payload storage label values for telemetry.LiveMeasureWritesTotal
const (
	storageText = "text"
	storageBlob = "blob"
	storageNone = "none"
)

// LiveMeasureStore is the persistence the handlers need
type LiveMeasureStore interface {
	Upsert(ctx context.Context, m models.LiveMeasure) error
	ListByComponent(ctx context.Context, componentUUID string) ([]models.LiveMeasure, error)
}

// Handlers serves the /api/measures endpoints
type Handlers struct {
	store LiveMeasureStore
}

// NewHandlers creates handlers backed by the live_measures table in db
func NewHandlers(db *sqlx.DB) *Handlers {
	return &Handlers{store: repositories.NewLiveMeasureRepository(db)}
}

// measureView is the JSON shape of one live measure
type measureView struct {
	MetricID   int      `json:"metricId"`
	Value      *float64 `json:"value,omitempty"`
	Variation  *float64 `json:"variation,omitempty"`
	Data       *string  `json:"data,omitempty"`
	GateStatus *string  `json:"gateStatus,omitempty"`
	GateText   *string  `json:"gateText,omitempty"`
}

func toView(m models.LiveMeasure) measureView {
	v := measureView{
		MetricID:   m.MetricID(),
		Value:      m.Value(),
		Variation:  m.Variation(),
		GateStatus: m.GateStatus(),
		GateText:   m.GateText(),
	}
	if data, ok := m.DataAsString(); ok {
		v.Data = &data
	}
	return v
}

// payloadStorage reports which column the payload of m is written to
func payloadStorage(m models.LiveMeasure) string {
	switch m.Data().(type) {
	case models.TextData:
		return storageText
	case models.BlobData:
		return storageBlob
	default:
		return storageNone
	}
}

// @Summary      List component measures
// @Description  Return every live measure of a component, ordered by metric id.
// @Tags         Measures
// @Security     Bearer
// @Produce      json
// @Param        component  query  string  true  "Component uuid"
// @Success      200  {object}  map[string]interface{}  "component, measures"
// @Failure      400  {object}  map[string]interface{}  "Missing component"
// @Failure      503  {object}  map[string]interface{}  "Storage unavailable"
// @Router       /api/measures/component [get]
// ComponentHandler lists the live measures of one component
// GET /api/measures/component?component=<uuid>
func (h *Handlers) ComponentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		component := c.Query("component")
		if component == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "component is required",
			})
			return
		}

		measures, err := h.store.ListByComponent(c.Request.Context(), component)
		if err != nil {
			slog.Error("list live measures failed", "component", component, "error", err,
				"request_id", middleware.RequestID(c))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Failed to retrieve measures",
			})
			return
		}

		views := make([]measureView, 0, len(measures))
		for _, m := range measures {
			views = append(views, toView(m))
		}

		c.JSON(http.StatusOK, gin.H{
			"component": component,
			"measures":  views,
		})
	}
}

// UpsertMeasureRequest is the body of POST /api/measures/upsert. Length
// bounds follow the live_measures columns.
type UpsertMeasureRequest struct {
	Component  string   `json:"component" binding:"required,max=50"`
	Project    string   `json:"project" binding:"required,max=50"`
	MetricID   int      `json:"metricId" binding:"required,min=1"`
	Value      *float64 `json:"value"`
	Variation  *float64 `json:"variation"`
	Data       *string  `json:"data"`
	GateStatus *string  `json:"gateStatus" binding:"omitempty,max=40"`
	GateText   *string  `json:"gateText" binding:"omitempty,max=1000"`
}

// @Summary      Upsert live measure
// @Description  Write the latest value of a metric on a component, replacing any previous one. Long payloads are stored as blobs.
// @Tags         Measures
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  UpsertMeasureRequest  true  "Measure"
// @Success      200  {object}  map[string]interface{}  "measure, storage"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      503  {object}  map[string]interface{}  "Storage unavailable"
// @Router       /api/measures/upsert [post]
// UpsertHandler writes one live measure
// POST /api/measures/upsert
func (h *Handlers) UpsertHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpsertMeasureRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}

		m := models.NewLiveMeasure(req.Component, req.Project, req.MetricID).
			WithValue(req.Value).
			WithVariation(req.Variation).
			WithText(req.Data).
			WithGate(req.GateStatus, req.GateText)

		if err := h.store.Upsert(c.Request.Context(), m); err != nil {
			slog.Error("upsert live measure failed", "component", req.Component, "metric_id", req.MetricID,
				"error", err, "request_id", middleware.RequestID(c))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Failed to store measure",
			})
			return
		}

		storage := payloadStorage(m)
		telemetry.LiveMeasureWritesTotal.WithLabelValues(storage).Inc()

		c.JSON(http.StatusOK, gin.H{
			"component": req.Component,
			"measure":   toView(m),
			"storage":   storage,
		})
	}
}
