package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"sahtee-exposure/internal/domain"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresExposuresRepo 暴露记录 PostgreSQL 实现
// exposures 一行 + exposure_measurements 按 seq 追加
type PostgresExposuresRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresExposuresRepo(db *sql.DB, logger *zap.Logger) *PostgresExposuresRepo {
	return &PostgresExposuresRepo{db: db, logger: logger}
}

const exposureColumns = `
	exposure_id,
	agent,
	hazard_category,
	area,
	site_id,
	department_id,
	regulatory_limit,
	unit,
	monitoring_frequency,
	exposed_employee_count,
	control_measures,
	linked_capa_ids,
	created_at,
	updated_at`

// CreateExposure 插入暴露记录及其初始测量历史（同一事务）
func (r *PostgresExposuresRepo) CreateExposure(ctx context.Context, e *domain.ExposureRecord) error {
	if e == nil {
		return fmt.Errorf("exposure is required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	} else if _, err := uuid.Parse(e.ID); err != nil {
		return fmt.Errorf("exposure_id %q is not a UUID: %w", e.ID, domain.ErrValidation)
	}
	if err := domain.ValidateHistoryOrder(e.MeasurementHistory); err != nil {
		return err
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO exposures (`+exposureColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)`,
		e.ID,
		e.Agent,
		string(e.HazardCategory),
		e.Area,
		e.SiteID,
		e.DepartmentID,
		e.RegulatoryLimit,
		e.Unit,
		string(e.MonitoringFrequency),
		e.ExposedEmployeeCount,
		pq.Array(nonNil(e.ControlMeasures)),
		pq.Array(nonNil(e.LinkedCapaIDs)),
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create exposure: %w", err)
	}

	for i, m := range e.MeasurementHistory {
		if err := insertMeasurement(ctx, tx, e.ID, i+1, m); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit exposure: %w", err)
	}
	return nil
}

// GetExposure 获取暴露记录（含按 seq 排序的测量历史）
func (r *PostgresExposuresRepo) GetExposure(ctx context.Context, exposureID string) (*domain.ExposureRecord, error) {
	if exposureID == "" {
		return nil, fmt.Errorf("exposure_id is required")
	}
	if err := checkUUID("exposure", exposureID); err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+exposureColumns+` FROM exposures WHERE exposure_id = $1`, exposureID)
	e, err := scanExposure(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("exposure %s: %w", exposureID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get exposure: %w", err)
	}

	history, err := r.loadHistory(ctx, []string{exposureID})
	if err != nil {
		return nil, err
	}
	e.MeasurementHistory = history[exposureID]
	return e, nil
}

// ListExposures 列表查询（hazard_category 精确匹配，search 对 agent/area 模糊匹配）
func (r *PostgresExposuresRepo) ListExposures(ctx context.Context, q ExposureQuery) ([]*domain.ExposureRecord, error) {
	where := []string{}
	args := []interface{}{}
	argN := 1

	if q.HazardCategory != nil {
		where = append(where, fmt.Sprintf("hazard_category = $%d", argN))
		args = append(args, string(*q.HazardCategory))
		argN++
	}
	if q.Search != nil && strings.TrimSpace(*q.Search) != "" {
		where = append(where, fmt.Sprintf("(agent ILIKE $%d OR area ILIKE $%d)", argN, argN))
		args = append(args, "%"+strings.TrimSpace(*q.Search)+"%")
		argN++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM exposures
		%s
		ORDER BY created_at, exposure_id
	`, exposureColumns, whereClause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list exposures: %w", err)
	}
	defer rows.Close()

	var out []*domain.ExposureRecord
	var ids []string
	for rows.Next() {
		e, err := scanExposure(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exposure: %w", err)
		}
		out = append(out, e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate exposures: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.ExposureRecord{}, nil
	}

	history, err := r.loadHistory(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, e := range out {
		e.MeasurementHistory = history[e.ID]
	}
	return out, nil
}

// AppendMeasurement 行锁串行化同一记录的追加，不同记录之间互不阻塞
func (r *PostgresExposuresRepo) AppendMeasurement(ctx context.Context, exposureID string, m domain.Measurement) error {
	if exposureID == "" {
		return fmt.Errorf("exposure_id is required")
	}
	if err := checkUUID("exposure", exposureID); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var locked string
	err = tx.QueryRowContext(ctx,
		`SELECT exposure_id FROM exposures WHERE exposure_id = $1 FOR UPDATE`,
		exposureID,
	).Scan(&locked)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("exposure %s: %w", exposureID, domain.ErrNotFound)
		}
		return fmt.Errorf("failed to lock exposure: %w", err)
	}

	var seq int
	var lastAt sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0), MAX(measured_at) FROM exposure_measurements WHERE exposure_id = $1`,
		exposureID,
	).Scan(&seq, &lastAt)
	if err != nil {
		return fmt.Errorf("failed to get measurement seq: %w", err)
	}
	if lastAt.Valid {
		if err := domain.CheckChronological(lastAt.Time, m.Date); err != nil {
			return fmt.Errorf("exposure %s: %w", exposureID, err)
		}
	}

	if err := insertMeasurement(ctx, tx, exposureID, seq+1, m); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE exposures SET updated_at = CURRENT_TIMESTAMP WHERE exposure_id = $1`,
		exposureID,
	); err != nil {
		return fmt.Errorf("failed to touch exposure: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit measurement: %w", err)
	}
	return nil
}

// GetMeasurementHistory 按追加顺序返回测量历史
func (r *PostgresExposuresRepo) GetMeasurementHistory(ctx context.Context, exposureID string) ([]domain.Measurement, error) {
	if err := checkUUID("exposure", exposureID); err != nil {
		return nil, err
	}
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM exposures WHERE exposure_id = $1)`,
		exposureID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check exposure: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("exposure %s: %w", exposureID, domain.ErrNotFound)
	}

	history, err := r.loadHistory(ctx, []string{exposureID})
	if err != nil {
		return nil, err
	}
	if history[exposureID] == nil {
		return []domain.Measurement{}, nil
	}
	return history[exposureID], nil
}

func (r *PostgresExposuresRepo) loadHistory(ctx context.Context, ids []string) (map[string][]domain.Measurement, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT exposure_id, value, unit, measured_at, method, duration_ms, within_limits
		FROM exposure_measurements
		WHERE exposure_id = ANY($1)
		ORDER BY exposure_id, seq
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load measurements: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.Measurement, len(ids))
	for rows.Next() {
		var id string
		var m domain.Measurement
		var durationMs int64
		if err := rows.Scan(&id, &m.Value, &m.Unit, &m.Date, &m.Method, &durationMs, &m.WithinLimits); err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		m.Date = m.Date.UTC()
		m.Duration = time.Duration(durationMs) * time.Millisecond
		out[id] = append(out[id], m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate measurements: %w", err)
	}
	return out, nil
}

// checkUUID 主键列为 UUID，非法 id 直接视为不存在，避免 22P02
func checkUUID(kind, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	return nil
}

func insertMeasurement(ctx context.Context, tx *sql.Tx, exposureID string, seq int, m domain.Measurement) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO exposure_measurements (
			exposure_id, seq, value, unit, measured_at, method, duration_ms, within_limits
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		exposureID,
		seq,
		m.Value,
		m.Unit,
		m.Date.UTC(),
		m.Method,
		m.Duration.Milliseconds(),
		m.WithinLimits,
	)
	if err != nil {
		return fmt.Errorf("failed to insert measurement: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExposure(row rowScanner) (*domain.ExposureRecord, error) {
	var e domain.ExposureRecord
	var hazard, frequency string
	var controls, capas pq.StringArray

	err := row.Scan(
		&e.ID,
		&e.Agent,
		&hazard,
		&e.Area,
		&e.SiteID,
		&e.DepartmentID,
		&e.RegulatoryLimit,
		&e.Unit,
		&frequency,
		&e.ExposedEmployeeCount,
		&controls,
		&capas,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.HazardCategory = domain.HazardCategory(hazard)
	e.MonitoringFrequency = domain.MonitoringFrequency(frequency)
	e.ControlMeasures = []string(controls)
	e.LinkedCapaIDs = []string(capas)
	return &e, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
