package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ponytojas/go-iot-dashboard/config"
	"github.com/ponytojas/go-iot-dashboard/internal/models"
)

// TimescaleDB handles database operations
type TimescaleDB struct {
	pool   *pgxpool.Pool
	table  string
	logger *zap.Logger
}

// NewTimescaleDB connects to the database, retrying with exponential
// backoff until maxWait has elapsed.
func NewTimescaleDB(ctx context.Context, cfg *config.Config, maxWait time.Duration, logger *zap.Logger) (*TimescaleDB, error) {
	logger.Info("connecting to database",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("user", cfg.Database.User),
		zap.String("dbname", cfg.Database.DBName),
		zap.String("sslmode", cfg.Database.SSLMode),
	)

	pool, err := pgxpool.New(ctx, cfg.GetDBConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxWait
	ping := func() error { return pool.Ping(ctx) }
	notify := func(err error, next time.Duration) {
		logger.Warn("database not reachable, retrying", zap.Error(err), zap.Duration("in", next))
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(b, ctx), notify); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &TimescaleDB{
		pool:   pool,
		table:  pgx.Identifier{cfg.Timescale.TableName}.Sanitize(),
		logger: logger,
	}, nil
}

// Close closes the connection pool
func (db *TimescaleDB) Close() {
	db.pool.Close()
}

// InitializeTable checks if the table exists and creates it if it doesn't
func (db *TimescaleDB) InitializeTable(ctx context.Context) error {
	var exists bool
	err := db.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, db.table).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check if table exists: %w", err)
	}

	if exists {
		db.logger.Info("table already exists", zap.String("table", db.table))
		return nil
	}

	db.logger.Info("creating table", zap.String("table", db.table))
	for _, stmt := range createStatements(db.table) {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	db.logger.Info("table created and converted to hypertable", zap.String("table", db.table))

	return nil
}

func createStatements(table string) []string {
	return []string{
		fmt.Sprintf(`
			CREATE TABLE %s (
				time TIMESTAMPTZ NOT NULL,
				device_id TEXT NOT NULL,
				firmware_version TEXT NOT NULL,
				sensor TEXT NOT NULL,
				axis TEXT NOT NULL DEFAULT '',
				value DOUBLE PRECISION NOT NULL,
				unit TEXT NOT NULL DEFAULT '',
				series TEXT NOT NULL DEFAULT '',
				sensor_time TIMESTAMPTZ NOT NULL
			)
		`, table),
		fmt.Sprintf(`SELECT create_hypertable('%s', 'time')`, table),
		fmt.Sprintf(`CREATE INDEX ON %s (device_id, time DESC)`, table),
	}
}

// InsertSamples writes all samples of one message in a single batch
func (db *TimescaleDB) InsertSamples(ctx context.Context, samples []models.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (time, device_id, firmware_version, sensor, axis, value, unit, series, sensor_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, db.table)

	batch := &pgx.Batch{}
	for _, s := range samples {
		batch.Queue(query, s.Time, s.DeviceID, s.FirmwareVersion, s.Sensor, s.Axis, s.Value, s.Unit, s.Series, s.SensorTime)
	}

	br := db.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range samples {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert sensor data: %w", err)
		}
	}

	return nil
}

// QueryRecords returns the device's records newer than since, oldest first
func (db *TimescaleDB) QueryRecords(ctx context.Context, deviceID string, since time.Time) ([]models.Record, error) {
	rows, err := db.pool.Query(ctx, fmt.Sprintf(`
		SELECT time, device_id, firmware_version, sensor, axis, value, unit, series, sensor_time
		FROM %s
		WHERE device_id = $1 AND time >= $2
		ORDER BY time ASC, sensor ASC, axis ASC
	`, db.table), deviceID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor data: %w", err)
	}

	samples, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Sample, error) {
		var s models.Sample
		err := row.Scan(&s.Time, &s.DeviceID, &s.FirmwareVersion, &s.Sensor, &s.Axis, &s.Value, &s.Unit, &s.Series, &s.SensorTime)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read sensor data: %w", err)
	}

	return models.GroupSamples(samples), nil
}
