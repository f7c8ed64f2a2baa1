package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/physics-telemetry/config"
	"github.com/alem-hub/physics-telemetry/internal/domain/diagnostic"
	"github.com/alem-hub/physics-telemetry/internal/domain/pattern"
	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
)

type execCall struct {
	sql  string
	args []interface{}
}

type fakeRow struct {
	values []interface{}
	err    error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *[]byte:
			*p = r.values[i].([]byte)
		}
	}
	return nil
}

type fakeQuerier struct {
	execs   []execCall
	execErr error
	row     fakeRow
}

func (q *fakeQuerier) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	q.execs = append(q.execs, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("DELETE 2"), q.execErr
}

func (q *fakeQuerier) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func (q *fakeQuerier) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	return q.row
}

func TestPayloadRepository_SavePayload(t *testing.T) {
	db := &fakeQuerier{}
	repo := NewPayloadRepository(db)
	id := uuid.NewString()
	generated := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	p := pattern.Payload{Summary: pattern.Summary{TotalPatterns: 5, QualifiedPatterns: 4, GeneratedAt: generated}}
	require.NoError(t, repo.SavePayload(context.Background(), id, p))

	require.Len(t, db.execs, 1)
	call := db.execs[0]
	assert.Contains(t, call.sql, "ON CONFLICT (id) DO NOTHING")
	assert.Equal(t, id, call.args[0])
	assert.Equal(t, "postgres", call.args[1])
	assert.Equal(t, 4, call.args[3])
	assert.Nil(t, call.args[5], "zero window start stored as NULL")

	var stored pattern.Payload
	require.NoError(t, json.Unmarshal(call.args[8].([]byte), &stored))
	assert.Equal(t, 5, stored.Summary.TotalPatterns)
}

func TestPayloadRepository_Errors(t *testing.T) {
	db := &fakeQuerier{execErr: errors.New("connection reset")}
	repo := NewPayloadRepository(db)

	err := repo.SavePayload(context.Background(), "not-a-uuid", pattern.Payload{})
	assert.True(t, shared.IsValidation(err))
	assert.Empty(t, db.execs)

	err = repo.SavePayload(context.Background(), uuid.NewString(), pattern.Payload{})
	assert.ErrorContains(t, err, "connection reset")
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"network", errors.New("dial tcp: connection refused"), true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"too many connections", &pgconn.PgError{Code: "53300"}, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"syntax", &pgconn.PgError{Code: "42601"}, false},
		{"cancelled", context.Canceled, false},
		{"pool closed", ErrConnectionClosed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.transient, shared.IsRetryable(err))
		})
	}
	assert.NoError(t, classify(nil))
}

func TestPayloadRepository_LatestPayload(t *testing.T) {
	body, err := json.Marshal(pattern.Payload{Summary: pattern.Summary{QualifiedPatterns: 7}})
	require.NoError(t, err)

	repo := NewPayloadRepository(&fakeQuerier{row: fakeRow{values: []interface{}{"abc", body}}})
	id, p, err := repo.LatestPayload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
	assert.Equal(t, 7, p.Summary.QualifiedPatterns)

	repo = NewPayloadRepository(&fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}})
	_, _, err = repo.LatestPayload(context.Background())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPayloadRepository_DeleteOlderThan(t *testing.T) {
	db := &fakeQuerier{}
	n, err := NewPayloadRepository(db).DeleteOlderThan(context.Background(), time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestAnomalyRepository_SaveAnomaly(t *testing.T) {
	db := &fakeQuerier{}
	repo := NewAnomalyRepository(db)

	a := &diagnostic.Anomaly{
		ID:         "anom-1",
		SensorType: diagnostic.SensorEnergy,
		Severity:   diagnostic.SeverityCritical,
		Value:      0.18,
		Threshold:  0.2,
		Message:    "energy collapse",
	}
	require.NoError(t, repo.SaveAnomaly(context.Background(), a, nil))
	require.NoError(t, repo.SaveAnomaly(context.Background(), a, &diagnostic.Prescription{AnomalyID: "anom-1", Urgency: "immediate"}))

	require.Len(t, db.execs, 2)
	assert.Equal(t, "ENERGY", db.execs[0].args[1])
	assert.Equal(t, "CRITICAL", db.execs[0].args[2])
	assert.Nil(t, db.execs[0].args[7])
	assert.True(t, strings.Contains(string(db.execs[1].args[7].([]byte)), `"urgency":"immediate"`))

	assert.Error(t, repo.SaveAnomaly(context.Background(), nil, nil))
}

func TestPoolConfig(t *testing.T) {
	_, err := PoolConfig(config.DatabaseConfig{})
	assert.Error(t, err)

	pc, err := PoolConfig(config.DatabaseConfig{
		URL:             "postgres://u:p@localhost:5432/telemetry",
		MaxOpenConns:    8,
		MaxIdleConns:    20,
		ConnMaxLifetime: time.Hour,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 8, pc.MaxConns)
	assert.EqualValues(t, 8, pc.MinConns, "min is capped at max")
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)
}

func TestGetMigrations_Ordered(t *testing.T) {
	migs := GetMigrations()
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL)
		assert.NotEmpty(t, m.DownSQL)
	}
}
