package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/mandalnitish/discom-queue-backend/internal/engine"
	"github.com/mandalnitish/discom-queue-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Journal is the persistence collaborator: every committed transition is
// written here, entity snapshot plus outbox event row in one transaction,
// before the engine acknowledges the caller. At boot it rehydrates the
// in-memory stores from the last snapshots.
type Journal struct {
	pool *pgxpool.Pool
}

func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

func (j *Journal) Migrate(ctx context.Context) error {
	_, err := j.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tokens (
			token_id       TEXT PRIMARY KEY,
			token_number   TEXT NOT NULL,
			customer_id    TEXT,
			customer_name  TEXT,
			customer_phone TEXT,
			category       TEXT NOT NULL,
			status         TEXT NOT NULL,
			priority       INT NOT NULL DEFAULT 0,
			counter_id     TEXT,
			estimated_wait INT NOT NULL DEFAULT 0,
			created_at     TIMESTAMPTZ NOT NULL,
			called_at      TIMESTAMPTZ,
			completed_at   TIMESTAMPTZ,
			rating         INT,
			feedback       TEXT
		);
		CREATE INDEX IF NOT EXISTS tokens_status_category_idx ON tokens (status, category, created_at);

		CREATE TABLE IF NOT EXISTS counters (
			counter_id          TEXT PRIMARY KEY,
			name                TEXT NOT NULL,
			category            TEXT NOT NULL,
			staff_id            TEXT,
			staff_name          TEXT,
			status              TEXT NOT NULL,
			current_token       TEXT,
			tokens_served_today INT NOT NULL DEFAULT 0,
			avg_service_seconds DOUBLE PRECISION NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS token_events (
			event_id   TEXT PRIMARY KEY,
			type       TEXT NOT NULL,
			category   TEXT,
			payload    JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS token_events_created_idx ON token_events (created_at);
	`)
	return err
}

func (j *Journal) Append(ctx context.Context, event engine.Event) error {
	tx, err := j.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if event.Token != nil {
		if err = upsertToken(ctx, tx, event.Token); err != nil {
			return err
		}
	}
	if event.Counter != nil {
		if err = upsertCounter(ctx, tx, event.Counter); err != nil {
			return err
		}
	}

	var payload []byte
	payload, err = json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO token_events (event_id, type, category, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, event.EventID, event.Type, event.Category, payload, event.CreatedAt); err != nil {
		return err
	}

	err = tx.Commit(ctx)
	return err
}

func upsertToken(ctx context.Context, tx pgx.Tx, token *models.Token) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO tokens (
			token_id, token_number, customer_id, customer_name, customer_phone,
			category, status, priority, counter_id, estimated_wait,
			created_at, called_at, completed_at, rating, feedback
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (token_id) DO UPDATE SET
			status = EXCLUDED.status,
			counter_id = EXCLUDED.counter_id,
			called_at = EXCLUDED.called_at,
			completed_at = EXCLUDED.completed_at,
			rating = EXCLUDED.rating,
			feedback = EXCLUDED.feedback
	`, token.TokenID, token.TokenNumber, token.CustomerID, token.CustomerName, token.CustomerPhone,
		token.Category, token.Status, token.Priority, token.CounterID, token.EstimatedWait,
		token.CreatedAt, token.CalledAt, token.CompletedAt, token.Rating, token.Feedback)
	return err
}

func upsertCounter(ctx context.Context, tx pgx.Tx, counter *models.Counter) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO counters (
			counter_id, name, category, staff_id, staff_name,
			status, current_token, tokens_served_today, avg_service_seconds
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (counter_id) DO UPDATE SET
			staff_id = EXCLUDED.staff_id,
			staff_name = EXCLUDED.staff_name,
			status = EXCLUDED.status,
			current_token = EXCLUDED.current_token,
			tokens_served_today = EXCLUDED.tokens_served_today,
			avg_service_seconds = EXCLUDED.avg_service_seconds
	`, counter.CounterID, counter.Name, counter.Category, counter.StaffID, counter.StaffName,
		counter.Status, counter.CurrentToken, counter.TokensServedToday, counter.AvgServiceSeconds)
	return err
}

// LoadTokens returns every waiting or serving token, plus every token
// created since dayStart regardless of status. The open tokens rebuild the
// queue after a restart; the day's closed tokens rebuild the display
// sequence and the statistics record.
func (j *Journal) LoadTokens(ctx context.Context, dayStart time.Time) ([]models.Token, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT token_id, token_number, customer_id, customer_name, customer_phone,
			category, status, priority, counter_id, estimated_wait,
			created_at, called_at, completed_at, rating, feedback
		FROM tokens
		WHERE status IN ('waiting', 'serving') OR created_at >= $1
		ORDER BY created_at ASC
	`, dayStart)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []models.Token
	for rows.Next() {
		var token models.Token
		var customerID, customerName, customerPhone, feedback sql.NullString
		var counterID sql.NullString
		var calledAt, completedAt sql.NullTime
		var rating sql.NullInt64
		if err := rows.Scan(&token.TokenID, &token.TokenNumber, &customerID, &customerName, &customerPhone,
			&token.Category, &token.Status, &token.Priority, &counterID, &token.EstimatedWait,
			&token.CreatedAt, &calledAt, &completedAt, &rating, &feedback); err != nil {
			return nil, err
		}
		token.CustomerID = customerID.String
		token.CustomerName = customerName.String
		token.CustomerPhone = customerPhone.String
		token.Feedback = feedback.String
		if counterID.Valid {
			id := counterID.String
			token.CounterID = &id
		}
		if calledAt.Valid {
			at := calledAt.Time
			token.CalledAt = &at
		}
		if completedAt.Valid {
			at := completedAt.Time
			token.CompletedAt = &at
		}
		if rating.Valid {
			value := int(rating.Int64)
			token.Rating = &value
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (j *Journal) LoadCounters(ctx context.Context) ([]models.Counter, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT counter_id, name, category, staff_id, staff_name,
			status, current_token, tokens_served_today, avg_service_seconds
		FROM counters
		ORDER BY counter_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counters []models.Counter
	for rows.Next() {
		var counter models.Counter
		var staffID, staffName, currentToken sql.NullString
		if err := rows.Scan(&counter.CounterID, &counter.Name, &counter.Category, &staffID, &staffName,
			&counter.Status, &currentToken, &counter.TokensServedToday, &counter.AvgServiceSeconds); err != nil {
			return nil, err
		}
		if staffID.Valid {
			id := staffID.String
			counter.StaffID = &id
		}
		counter.StaffName = staffName.String
		if currentToken.Valid {
			id := currentToken.String
			counter.CurrentToken = &id
		}
		counters = append(counters, counter)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counters, nil
}

// SeedCounters inserts the provisioned counters if they do not exist yet.
func (j *Journal) SeedCounters(ctx context.Context, counters []models.Counter) error {
	for i := range counters {
		if _, err := j.pool.Exec(ctx, `
			INSERT INTO counters (
				counter_id, name, category, staff_id, staff_name,
				status, current_token, tokens_served_today, avg_service_seconds
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (counter_id) DO NOTHING
		`, counters[i].CounterID, counters[i].Name, counters[i].Category, counters[i].StaffID, counters[i].StaffName,
			counters[i].Status, counters[i].CurrentToken, counters[i].TokensServedToday, counters[i].AvgServiceSeconds); err != nil {
			return err
		}
	}
	return nil
}
