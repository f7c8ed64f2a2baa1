package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alem-hub/physics-telemetry/internal/application"
	"github.com/alem-hub/physics-telemetry/internal/domain/diagnostic"
)

// AnomalyRepository keeps the anomaly log. Prescriptions are stored next to
// the anomaly they answer.
type AnomalyRepository struct {
	db Querier
}

// NewAnomalyRepository creates a new AnomalyRepository.
func NewAnomalyRepository(db Querier) *AnomalyRepository {
	return &AnomalyRepository{db: db}
}

// SaveAnomaly stores an anomaly and its optional prescription. A second
// save of the same anomaly only fills in a missing prescription.
func (r *AnomalyRepository) SaveAnomaly(ctx context.Context, a *diagnostic.Anomaly, p *diagnostic.Prescription) error {
	if a == nil {
		return fmt.Errorf("save anomaly: nil anomaly")
	}

	causes, err := json.Marshal(a.RootCauses)
	if err != nil {
		return fmt.Errorf("save anomaly: marshal root causes: %w", err)
	}
	var prescription []byte
	if p != nil {
		if prescription, err = json.Marshal(p); err != nil {
			return fmt.Errorf("save anomaly: marshal prescription: %w", err)
		}
	}

	query := `
		INSERT INTO anomaly_log (
			id, sensor_type, severity, value, threshold, message,
			root_causes, prescription, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			prescription = COALESCE(anomaly_log.prescription, EXCLUDED.prescription)
	`
	_, err = r.db.Exec(ctx, query,
		a.ID,
		string(a.SensorType),
		string(a.Severity),
		a.Value,
		a.Threshold,
		a.Message,
		causes,
		prescription,
		a.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("save anomaly: %w", classify(err))
	}
	return nil
}

// Recent returns the newest anomalies for a sensor, newest first.
func (r *AnomalyRepository) Recent(ctx context.Context, sensor diagnostic.SensorType, limit int) ([]application.Finding, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, sensor_type, severity, value, threshold, message,
			   root_causes, prescription, detected_at
		FROM anomaly_log
		WHERE sensor_type = $1
		ORDER BY detected_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, string(sensor), limit)
	if err != nil {
		return nil, fmt.Errorf("recent anomalies: %w", err)
	}
	defer rows.Close()

	var records []application.Finding
	for rows.Next() {
		rec := application.Finding{Anomaly: &diagnostic.Anomaly{}}
		var sensorType, severity string
		var causes, prescription []byte
		var detectedAt time.Time

		err := rows.Scan(
			&rec.Anomaly.ID,
			&sensorType,
			&severity,
			&rec.Anomaly.Value,
			&rec.Anomaly.Threshold,
			&rec.Anomaly.Message,
			&causes,
			&prescription,
			&detectedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("recent anomalies: scan: %w", err)
		}

		rec.Anomaly.SensorType = diagnostic.SensorType(sensorType)
		rec.Anomaly.Severity = diagnostic.Severity(severity)
		rec.Anomaly.Timestamp = detectedAt
		if len(causes) > 0 {
			if err := json.Unmarshal(causes, &rec.Anomaly.RootCauses); err != nil {
				return nil, fmt.Errorf("recent anomalies: root causes: %w", err)
			}
		}
		if len(prescription) > 0 {
			rec.Prescription = &diagnostic.Prescription{}
			if err := json.Unmarshal(prescription, rec.Prescription); err != nil {
				return nil, fmt.Errorf("recent anomalies: prescription: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
