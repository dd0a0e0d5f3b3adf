// Package models - live_measure.go defines LiveMeasure, the latest computed value of a
// metric on a component. Its payload is either short text or an opaque blob, never both.
package models

import (
	"bytes"

	"github.com/google/uuid"
)

// MaxTextValueLength is the largest payload, in UTF-8 bytes, kept as text.
// Anything longer is stored as a blob.
const MaxTextValueLength = 4000

// MeasureData is the payload of a live measure. The only implementations are
// TextData and BlobData; a nil MeasureData means no payload.
type MeasureData interface {
	isMeasureData()
}

// TextData is a payload short enough to be stored as text
type TextData string

// BlobData is a payload stored as opaque bytes
type BlobData []byte

func (TextData) isMeasureData() {}
func (BlobData) isMeasureData() {}

// LiveMeasure is an immutable value. The With* methods return modified copies.
type LiveMeasure struct {
	uuid          string
	componentUUID string
	projectUUID   string
	metricID      int
	value         *float64
	data          MeasureData
	variation     *float64
	gateStatus    *string
	gateText      *string
}

// NewLiveMeasure creates an empty measure of metricID on a component with a fresh uuid
func NewLiveMeasure(componentUUID, projectUUID string, metricID int) LiveMeasure {
	return RestoreLiveMeasure(uuid.NewString(), componentUUID, projectUUID, metricID)
}

// RestoreLiveMeasure rebuilds a measure whose uuid is already known, e.g. when
// reading it back from the database.
func RestoreLiveMeasure(id, componentUUID, projectUUID string, metricID int) LiveMeasure {
	return LiveMeasure{
		uuid:          id,
		componentUUID: componentUUID,
		projectUUID:   projectUUID,
		metricID:      metricID,
	}
}

func (m LiveMeasure) UUID() string          { return m.uuid }
func (m LiveMeasure) ComponentUUID() string { return m.componentUUID }
func (m LiveMeasure) ProjectUUID() string   { return m.projectUUID }
func (m LiveMeasure) MetricID() int         { return m.metricID }
func (m LiveMeasure) Value() *float64       { return copyPtr(m.value) }
func (m LiveMeasure) Variation() *float64   { return copyPtr(m.variation) }
func (m LiveMeasure) GateStatus() *string   { return copyPtr(m.gateStatus) }
func (m LiveMeasure) GateText() *string     { return copyPtr(m.gateText) }

// Data returns the payload: TextData, BlobData or nil.
func (m LiveMeasure) Data() MeasureData {
	if b, ok := m.data.(BlobData); ok {
		return BlobData(bytes.Clone(b))
	}
	return m.data
}

// TextValue returns the payload when it is stored as text.
func (m LiveMeasure) TextValue() (string, bool) {
	t, ok := m.data.(TextData)
	return string(t), ok
}

// Blob returns a copy of the payload when it is stored as a blob, nil otherwise.
func (m LiveMeasure) Blob() []byte {
	if b, ok := m.data.(BlobData); ok {
		return bytes.Clone(b)
	}
	return nil
}

// DataAsString returns the payload as text whichever way it is stored.
// A blob is decoded as UTF-8. ok is false when there is no payload.
func (m LiveMeasure) DataAsString() (s string, ok bool) {
	switch d := m.data.(type) {
	case BlobData:
		return string(d), true
	case TextData:
		return string(d), true
	default:
		return "", false
	}
}

// WithData replaces the payload. Text longer than MaxTextValueLength bytes is
// promoted to a blob; blobs are kept verbatim whatever their size; nil clears
// the payload.
func (m LiveMeasure) WithData(d MeasureData) LiveMeasure {
	switch v := d.(type) {
	case TextData:
		if len(v) > MaxTextValueLength {
			m.data = BlobData(v)
		} else {
			m.data = v
		}
	case BlobData:
		if v == nil {
			m.data = nil
		} else {
			m.data = BlobData(bytes.Clone(v))
		}
	default:
		m.data = nil
	}
	return m
}

// WithText sets a textual payload; nil clears it.
func (m LiveMeasure) WithText(s *string) LiveMeasure {
	if s == nil {
		return m.WithData(nil)
	}
	return m.WithData(TextData(*s))
}

// WithBlob sets a binary payload; nil clears it.
func (m LiveMeasure) WithBlob(b []byte) LiveMeasure {
	if b == nil {
		return m.WithData(nil)
	}
	return m.WithData(BlobData(b))
}

func (m LiveMeasure) WithValue(v *float64) LiveMeasure {
	m.value = copyPtr(v)
	return m
}

func (m LiveMeasure) WithVariation(v *float64) LiveMeasure {
	m.variation = copyPtr(v)
	return m
}

// WithGate sets the quality gate status and text shown alongside the value.
func (m LiveMeasure) WithGate(status, text *string) LiveMeasure {
	m.gateStatus = copyPtr(status)
	m.gateText = copyPtr(text)
	return m
}

// Equal compares measures by uuid only.
func (m LiveMeasure) Equal(other LiveMeasure) bool {
	return m.uuid == other.uuid
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
