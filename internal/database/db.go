package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/jandrishti/aqi-backend/internal/logging"
)

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &DB{db}, nil
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		logging.Info().Str("file", filename).Msg("running migration")

		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	logging.Info().Int("count", len(sqlFiles)).Msg("migrations completed")
	return nil
}

// ActiveWards returns the wards flagged for monitoring
func (db *DB) ActiveWards(ctx context.Context) ([]Ward, error) {
	query := `
		SELECT ward_no, ward_name, quadrant, latitude, longitude, is_active
		FROM selected_wards
		WHERE is_active = true
		ORDER BY ward_no
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wards []Ward
	for rows.Next() {
		var w Ward
		if err := rows.Scan(&w.WardNo, &w.WardName, &w.Quadrant, &w.Latitude, &w.Longitude, &w.IsActive); err != nil {
			return nil, err
		}
		wards = append(wards, w)
	}

	return wards, rows.Err()
}

// UpsertWard inserts or updates a ward descriptor
func (db *DB) UpsertWard(ctx context.Context, w *Ward) error {
	query := `
		INSERT INTO selected_wards (ward_no, ward_name, quadrant, latitude, longitude, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (ward_no) DO UPDATE
		SET ward_name = EXCLUDED.ward_name,
		    quadrant = EXCLUDED.quadrant,
		    latitude = EXCLUDED.latitude,
		    longitude = EXCLUDED.longitude,
		    is_active = EXCLUDED.is_active
	`
	_, err := db.ExecContext(ctx, query, w.WardNo, w.WardName, w.Quadrant, w.Latitude, w.Longitude, w.IsActive)
	return err
}

// UpsertWardDailyAQI inserts the daily aggregate, overwriting any row for the same (ward_no, date)
func (db *DB) UpsertWardDailyAQI(ctx context.Context, row *WardDailyAQI) error {
	query := `
		INSERT INTO ward_aqi_daily (
			ward_no, ward_name, quadrant, latitude, longitude, date,
			avg_aqi, min_aqi, max_aqi,
			avg_pm25, avg_pm10, avg_no2, avg_o3,
			hourly_readings_count, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (ward_no, date) DO UPDATE
		SET
			ward_name = EXCLUDED.ward_name,
			quadrant = EXCLUDED.quadrant,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			avg_aqi = EXCLUDED.avg_aqi,
			min_aqi = EXCLUDED.min_aqi,
			max_aqi = EXCLUDED.max_aqi,
			avg_pm25 = EXCLUDED.avg_pm25,
			avg_pm10 = EXCLUDED.avg_pm10,
			avg_no2 = EXCLUDED.avg_no2,
			avg_o3 = EXCLUDED.avg_o3,
			hourly_readings_count = EXCLUDED.hourly_readings_count,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	return db.QueryRowContext(ctx, query,
		row.WardNo,
		row.WardName,
		row.Quadrant,
		row.Latitude,
		row.Longitude,
		row.Date.Format("2006-01-02"),
		row.AvgAQI,
		row.MinAQI,
		row.MaxAQI,
		row.AvgPM25,
		row.AvgPM10,
		row.AvgNO2,
		row.AvgO3,
		row.HourlyReadingsCount,
		row.UpdatedAt,
	).Scan(&row.ID)
}

// WardDailyAQIRange returns persisted aggregates between from and to inclusive.
// wardNo <= 0 selects every ward.
func (db *DB) WardDailyAQIRange(ctx context.Context, wardNo int, from, to time.Time) ([]WardDailyAQI, error) {
	query := `
		SELECT id, ward_no, ward_name, quadrant, latitude, longitude, date,
		       avg_aqi, min_aqi, max_aqi, avg_pm25, avg_pm10, avg_no2, avg_o3,
		       hourly_readings_count, updated_at
		FROM ward_aqi_daily
		WHERE date BETWEEN $1 AND $2
		  AND ($3 <= 0 OR ward_no = $3)
		ORDER BY date DESC, ward_no
	`

	rows, err := db.QueryContext(ctx, query, from.Format("2006-01-02"), to.Format("2006-01-02"), wardNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []WardDailyAQI
	for rows.Next() {
		var r WardDailyAQI
		if err := rows.Scan(
			&r.ID,
			&r.WardNo,
			&r.WardName,
			&r.Quadrant,
			&r.Latitude,
			&r.Longitude,
			&r.Date,
			&r.AvgAQI,
			&r.MinAQI,
			&r.MaxAQI,
			&r.AvgPM25,
			&r.AvgPM10,
			&r.AvgNO2,
			&r.AvgO3,
			&r.HourlyReadingsCount,
			&r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, r)
	}

	return result, rows.Err()
}

// InsertRawReadings archives a batch of hourly readings in one transaction.
// Readings already archived for the same (ward_no, date, hour) are left untouched.
func (db *DB) InsertRawReadings(ctx context.Context, readings []RawReading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ward_aqi_readings (
			ward_no, date, hour, aqi, pm25, pm10, no2, o3, source_timestamp, fetched_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (ward_no, date, hour) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range readings {
		if _, err := stmt.ExecContext(ctx,
			r.WardNo,
			r.Date.Format("2006-01-02"),
			r.Hour,
			r.AQI,
			r.PM25,
			r.PM10,
			r.NO2,
			r.O3,
			r.SourceTimestamp,
			r.FetchedAt,
		); err != nil {
			return fmt.Errorf("failed to insert reading for ward %d: %w", r.WardNo, err)
		}
	}

	return tx.Commit()
}

// InsertChatMessage stores a chat message and fills in its id and created_at
func (db *DB) InsertChatMessage(ctx context.Context, msg *ChatMessage) error {
	query := `
		INSERT INTO chat_messages (user_id, message, response)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	return db.QueryRowContext(ctx, query, msg.UserID, msg.Message, msg.Response).Scan(&msg.ID, &msg.CreatedAt)
}

// ListChatMessages returns a user's messages, newest first
func (db *DB) ListChatMessages(ctx context.Context, userID string, limit, offset int) ([]ChatMessage, error) {
	query := `
		SELECT id, user_id, message, response, created_at
		FROM chat_messages
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.UserID, &m.Message, &m.Response, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}
