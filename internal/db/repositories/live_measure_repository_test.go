package repositories

import (
	"context"
	"errors"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgdirectory/orgdirectory/internal/db/models"
)

var liveMeasureCols = []string{
	"uuid", "component_uuid", "project_uuid", "metric_id", "value", "text_value",
	"measure_data", "variation", "gate_status", "gate_text",
}

func newLiveMeasureRepo(t *testing.T) (*LiveMeasureRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewLiveMeasureRepository(sqlx.NewDb(db, "postgres")), mock
}

func TestLiveMeasureUpsert_TextPayload(t *testing.T) {
	repo, mock := newLiveMeasureRepo(t)
	value := 12.5
	text := "OK"
	m := models.RestoreLiveMeasure("m-1", "comp-1", "proj-1", 3).WithValue(&value).WithText(&text)

	mock.ExpectExec(`INSERT INTO live_measures .* ON CONFLICT \(component_uuid, metric_id\) DO UPDATE`).
		WithArgs("m-1", "comp-1", "proj-1", 3, value, "OK", []byte(nil), nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(context.Background(), m))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLiveMeasureUpsert_LongTextGoesToBlobColumn(t *testing.T) {
	repo, mock := newLiveMeasureRepo(t)
	text := strings.Repeat("y", models.MaxTextValueLength+1)
	m := models.RestoreLiveMeasure("m-1", "comp-1", "proj-1", 3).WithText(&text)

	mock.ExpectExec("INSERT INTO live_measures").
		WithArgs("m-1", "comp-1", "proj-1", 3, nil, nil, []byte(text), nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(context.Background(), m))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLiveMeasureUpsert_DBError(t *testing.T) {
	repo, mock := newLiveMeasureRepo(t)
	mock.ExpectExec("INSERT INTO live_measures").WillReturnError(errors.New("deadlock"))

	err := repo.Upsert(context.Background(), models.NewLiveMeasure("comp-1", "proj-1", 3))
	assert.Error(t, err)
}

func TestLiveMeasureListByComponent_RebuildsPayload(t *testing.T) {
	repo, mock := newLiveMeasureRepo(t)
	mock.ExpectQuery("SELECT .* FROM live_measures\\s+WHERE component_uuid = \\$1\\s+ORDER BY metric_id").
		WithArgs("comp-1").
		WillReturnRows(sqlmock.NewRows(liveMeasureCols).
			AddRow("m-1", "comp-1", "proj-1", 1, 3.0, nil, nil, nil, nil, nil).
			AddRow("m-2", "comp-1", "proj-1", 2, nil, "short", nil, 1.5, "ERROR", "coverage < 80").
			AddRow("m-3", "comp-1", "proj-1", 3, nil, nil, []byte("blob payload"), nil, nil, nil))

	measures, err := repo.ListByComponent(context.Background(), "comp-1")
	require.NoError(t, err)
	require.Len(t, measures, 3)

	_, ok := measures[0].DataAsString()
	assert.False(t, ok)
	require.NotNil(t, measures[0].Value())
	assert.Equal(t, 3.0, *measures[0].Value())

	text, ok := measures[1].TextValue()
	assert.True(t, ok)
	assert.Equal(t, "short", text)
	require.NotNil(t, measures[1].GateStatus())
	assert.Equal(t, "ERROR", *measures[1].GateStatus())

	assert.Equal(t, []byte("blob payload"), measures[2].Blob())
	s, _ := measures[2].DataAsString()
	assert.Equal(t, "blob payload", s)
}

func TestLiveMeasureListByComponent_DBError(t *testing.T) {
	repo, mock := newLiveMeasureRepo(t)
	mock.ExpectQuery("SELECT .* FROM live_measures").WillReturnError(errors.New("gone"))

	_, err := repo.ListByComponent(context.Background(), "comp-1")
	assert.Error(t, err)
}
