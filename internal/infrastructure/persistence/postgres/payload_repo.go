package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/physics-telemetry/internal/domain/pattern"
	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
)

// PayloadRepository stores published pattern payloads. It is the payload
// sink of the publish_payload command.
type PayloadRepository struct {
	db Querier
}

// NewPayloadRepository creates a new PayloadRepository.
func NewPayloadRepository(db Querier) *PayloadRepository {
	return &PayloadRepository{db: db}
}

// Name identifies the sink in events and logs.
func (r *PayloadRepository) Name() string { return "postgres" }

// SavePayload stores a payload under id. Saving the same id twice is a
// no-op, so a retried publish cannot duplicate a snapshot.
func (r *PayloadRepository) SavePayload(ctx context.Context, id string, p pattern.Payload) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("save payload: %w", shared.WrapError("sink", "SavePayload", shared.ErrInvalidID, "payload id is not a uuid", err))
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("save payload: marshal: %w", err)
	}

	query := `
		INSERT INTO payload_snapshots (
			id, sink, total_patterns, qualified_patterns, mean_confidence,
			window_start, window_end, generated_at, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.db.Exec(ctx, query,
		id,
		r.Name(),
		p.Summary.TotalPatterns,
		p.Summary.QualifiedPatterns,
		p.Summary.MeanConfidence,
		nullTime(p.Summary.WindowStart),
		nullTime(p.Summary.WindowEnd),
		p.Summary.GeneratedAt,
		body,
	)
	if err != nil {
		return fmt.Errorf("save payload: %w", classify(err))
	}
	return nil
}

// LatestPayload returns the most recently generated payload.
func (r *PayloadRepository) LatestPayload(ctx context.Context) (string, *pattern.Payload, error) {
	query := `SELECT id, payload FROM payload_snapshots ORDER BY generated_at DESC LIMIT 1`

	var id string
	var body []byte
	if err := r.db.QueryRow(ctx, query).Scan(&id, &body); err != nil {
		if IsNoRows(err) {
			return "", nil, fmt.Errorf("latest payload: %w", shared.ErrNotFound)
		}
		return "", nil, fmt.Errorf("latest payload: %w", err)
	}

	var p pattern.Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return "", nil, fmt.Errorf("latest payload: unmarshal: %w", err)
	}
	return id, &p, nil
}

// DeleteOlderThan removes snapshots generated before cutoff and reports how
// many were removed.
func (r *PayloadRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM payload_snapshots WHERE generated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete payloads: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
