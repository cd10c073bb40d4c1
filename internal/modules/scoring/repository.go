package scoring

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/riskscore/internal/database"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ScoreRecord is one persisted score.
type ScoreRecord struct {
	ID             string          `json:"id"`
	ApplicationRef string          `json:"application_ref"`
	RiskScore      float64         `json:"risk_score"`
	Probability    float64         `json:"probability_of_default"`
	Category       Category        `json:"risk_category"`
	Recommendation Recommendation  `json:"recommendation"`
	ModelVersion   string          `json:"model_version"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Repository persists computed scores in the scores database.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a score repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "scores").Logger(),
	}
}

// Save stores a record, assigning an id and timestamp when missing.
func (r *Repository) Save(ctx context.Context, rec *ScoreRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	payload := rec.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO scores
		(id, application_ref, risk_score, probability, category, recommendation, model_version, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ApplicationRef, rec.RiskScore, rec.Probability,
		string(rec.Category), string(rec.Recommendation), rec.ModelVersion,
		string(payload), rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert score: %w", err)
	}

	r.log.Debug().Str("id", rec.ID).Str("application_ref", rec.ApplicationRef).Msg("Score saved")
	return nil
}

// ListByApplication returns the newest scores for an application, newest first.
func (r *Repository) ListByApplication(ctx context.Context, ref string, limit int) ([]ScoreRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, application_ref, risk_score, probability, category,
		recommendation, model_version, payload, created_at
		FROM scores WHERE application_ref = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, ref, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()

	records := []ScoreRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scores: %w", err)
	}
	return records, nil
}

// DeleteOlderThan removes scores created before cutoff and returns the count.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM scores WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete scores: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted scores: %w", err)
	}
	return n, nil
}

func scanRecord(rows *sql.Rows) (ScoreRecord, error) {
	var rec ScoreRecord
	var category, recommendation, payload string
	var createdAt int64
	if err := rows.Scan(&rec.ID, &rec.ApplicationRef, &rec.RiskScore, &rec.Probability,
		&category, &recommendation, &rec.ModelVersion, &payload, &createdAt); err != nil {
		return rec, err
	}
	rec.Category = Category(category)
	rec.Recommendation = Recommendation(recommendation)
	rec.Payload = json.RawMessage(payload)
	rec.CreatedAt = time.Unix(createdAt, 0)
	return rec, nil
}
