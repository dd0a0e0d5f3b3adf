// live_measure_repository.go implements LiveMeasureRepository, persisting the latest value
// of each metric on a component. A measure row is always overwritten as a whole.
package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/orgdirectory/orgdirectory/internal/db/models"
)

// liveMeasureRow mirrors the live_measures table. At most one of TextValue and
// MeasureData is non-nil.
type liveMeasureRow struct {
	UUID          string   `db:"uuid"`
	ComponentUUID string   `db:"component_uuid"`
	ProjectUUID   string   `db:"project_uuid"`
	MetricID      int      `db:"metric_id"`
	Value         *float64 `db:"value"`
	TextValue     *string  `db:"text_value"`
	MeasureData   []byte   `db:"measure_data"`
	Variation     *float64 `db:"variation"`
	GateStatus    *string  `db:"gate_status"`
	GateText      *string  `db:"gate_text"`
}

func (row liveMeasureRow) toModel() models.LiveMeasure {
	m := models.RestoreLiveMeasure(row.UUID, row.ComponentUUID, row.ProjectUUID, row.MetricID).
		WithValue(row.Value).
		WithVariation(row.Variation).
		WithGate(row.GateStatus, row.GateText)

	switch {
	case row.MeasureData != nil:
		return m.WithBlob(row.MeasureData)
	case row.TextValue != nil:
		return m.WithText(row.TextValue)
	default:
		return m
	}
}

func liveMeasureRowFrom(m models.LiveMeasure) liveMeasureRow {
	row := liveMeasureRow{
		UUID:          m.UUID(),
		ComponentUUID: m.ComponentUUID(),
		ProjectUUID:   m.ProjectUUID(),
		MetricID:      m.MetricID(),
		Value:         m.Value(),
		Variation:     m.Variation(),
		GateStatus:    m.GateStatus(),
		GateText:      m.GateText(),
		MeasureData:   m.Blob(),
	}
	if text, ok := m.TextValue(); ok {
		row.TextValue = &text
	}
	return row
}

// LiveMeasureRepository handles database operations for live measures
type LiveMeasureRepository struct {
	db *sqlx.DB
}

// NewLiveMeasureRepository creates a new live measure repository
func NewLiveMeasureRepository(db *sqlx.DB) *LiveMeasureRepository {
	return &LiveMeasureRepository{db: db}
}

// Upsert inserts the measure or fully replaces the existing one for the same
// component and metric. The uuid of an existing row is kept.
func (r *LiveMeasureRepository) Upsert(ctx context.Context, m models.LiveMeasure) error {
	query := `
		INSERT INTO live_measures (
			uuid, component_uuid, project_uuid, metric_id, value, text_value,
			measure_data, variation, gate_status, gate_text, created_at, updated_at
		) VALUES (
			:uuid, :component_uuid, :project_uuid, :metric_id, :value, :text_value,
			:measure_data, :variation, :gate_status, :gate_text, NOW(), NOW()
		)
		ON CONFLICT (component_uuid, metric_id) DO UPDATE SET
			project_uuid = EXCLUDED.project_uuid,
			value = EXCLUDED.value,
			text_value = EXCLUDED.text_value,
			measure_data = EXCLUDED.measure_data,
			variation = EXCLUDED.variation,
			gate_status = EXCLUDED.gate_status,
			gate_text = EXCLUDED.gate_text,
			updated_at = NOW()
	`

	if _, err := r.db.NamedExecContext(ctx, query, liveMeasureRowFrom(m)); err != nil {
		return fmt.Errorf("failed to upsert live measure: %w", err)
	}
	return nil
}

// ListByComponent returns every live measure of a component ordered by metric id
func (r *LiveMeasureRepository) ListByComponent(ctx context.Context, componentUUID string) ([]models.LiveMeasure, error) {
	query := `
		SELECT uuid, component_uuid, project_uuid, metric_id, value, text_value,
		       measure_data, variation, gate_status, gate_text
		FROM live_measures
		WHERE component_uuid = $1
		ORDER BY metric_id
	`

	var rows []liveMeasureRow
	if err := r.db.SelectContext(ctx, &rows, query, componentUUID); err != nil {
		return nil, fmt.Errorf("failed to list live measures: %w", err)
	}

	measures := make([]models.LiveMeasure, 0, len(rows))
	for _, row := range rows {
		measures = append(measures, row.toModel())
	}
	return measures, nil
}
