package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"sahtee-exposure/internal/domain"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresAlertsRepo 健康警报 PostgreSQL 实现
type PostgresAlertsRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresAlertsRepo(db *sql.DB, logger *zap.Logger) *PostgresAlertsRepo {
	return &PostgresAlertsRepo{db: db, logger: logger}
}

const alertColumns = `
	alert_id,
	alert_type,
	severity,
	status,
	title,
	description,
	exposure_id,
	subject_id,
	percent_of_limit,
	affected_employee_count,
	affected_departments,
	resolution_notes,
	acknowledged_at,
	resolved_at,
	linked_capa_id,
	version,
	created_at,
	updated_at`

// pqUniqueViolation health_alerts_open_uniq 冲突
const pqUniqueViolation = "23505"

// CreateIfNoOpen 事务内：advisory lock(subject,type) -> 查未解决警报 -> 插入
func (r *PostgresAlertsRepo) CreateIfNoOpen(ctx context.Context, alert *domain.HealthAlert) (*domain.HealthAlert, bool, error) {
	if alert == nil {
		return nil, false, fmt.Errorf("alert is required")
	}
	if alert.SubjectID == "" {
		return nil, false, fmt.Errorf("subject_id is required")
	}
	if alert.ExposureID != nil {
		if _, err := uuid.Parse(*alert.ExposureID); err != nil {
			return nil, false, fmt.Errorf("exposure_id %q is not a UUID: %w", *alert.ExposureID, domain.ErrValidation)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`,
		alert.SubjectID+"|"+string(alert.Type),
	); err != nil {
		return nil, false, fmt.Errorf("failed to lock alert subject: %w", err)
	}

	existing, err := scanAlert(tx.QueryRowContext(ctx, `
		SELECT `+alertColumns+`
		FROM health_alerts
		WHERE subject_id = $1
		  AND alert_type = $2
		  AND status <> 'resolved'
		LIMIT 1
	`, alert.SubjectID, string(alert.Type)))
	if err == nil {
		return existing, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to check open alerts: %w", err)
	}

	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = now
	}
	alert.UpdatedAt = now
	alert.Version = 1

	_, err = tx.ExecContext(ctx, `
		INSERT INTO health_alerts (`+alertColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
		)`,
		alert.ID,
		string(alert.Type),
		string(alert.Severity),
		string(alert.Status),
		alert.Title,
		alert.Description,
		alert.ExposureID,
		alert.SubjectID,
		alert.PercentOfLimit,
		alert.AffectedEmployeeCount,
		pq.Array(nonNil(alert.AffectedDepartments)),
		alert.ResolutionNotes,
		alert.AcknowledgedAt,
		alert.ResolvedAt,
		alert.LinkedCapaID,
		alert.Version,
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			// 另一个写入者抢先创建；交给调用方按已存在处理
			return nil, false, fmt.Errorf("open alert for %s/%s: %w", alert.SubjectID, alert.Type, domain.ErrConflict)
		}
		return nil, false, fmt.Errorf("failed to create alert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit alert: %w", err)
	}
	return alert.Clone(), true, nil
}

// GetAlert 根据 alert_id 获取警报
func (r *PostgresAlertsRepo) GetAlert(ctx context.Context, alertID string) (*domain.HealthAlert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required")
	}
	if err := checkUUID("alert", alertID); err != nil {
		return nil, err
	}
	a, err := scanAlert(r.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM health_alerts WHERE alert_id = $1`, alertID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("alert %s: %w", alertID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

// ListAlerts 按状态 / 严重度 / 类型过滤，最新在前
func (r *PostgresAlertsRepo) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.HealthAlert, error) {
	where := []string{}
	args := []interface{}{}
	argN := 1

	if filter.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argN))
		args = append(args, string(*filter.Status))
		argN++
	}
	if filter.Severity != nil {
		where = append(where, fmt.Sprintf("severity = $%d", argN))
		args = append(args, string(*filter.Severity))
		argN++
	}
	if filter.Type != nil {
		where = append(where, fmt.Sprintf("alert_type = $%d", argN))
		args = append(args, string(*filter.Type))
		argN++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM health_alerts
		%s
		ORDER BY created_at DESC, alert_id
	`, alertColumns, whereClause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	out := []*domain.HealthAlert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return out, nil
}

// UpdateAlert 乐观并发：WHERE version = 旧版本；0 行时区分不存在和版本冲突
func (r *PostgresAlertsRepo) UpdateAlert(ctx context.Context, alert *domain.HealthAlert) error {
	if alert == nil || alert.ID == "" {
		return fmt.Errorf("alert_id is required")
	}
	if err := checkUUID("alert", alert.ID); err != nil {
		return err
	}
	alert.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE health_alerts
		SET status = $1,
		    severity = $2,
		    resolution_notes = $3,
		    acknowledged_at = $4,
		    resolved_at = $5,
		    linked_capa_id = $6,
		    version = $7,
		    updated_at = $8
		WHERE alert_id = $9
		  AND version = $10
	`,
		string(alert.Status),
		string(alert.Severity),
		alert.ResolutionNotes,
		alert.AcknowledgedAt,
		alert.ResolvedAt,
		alert.LinkedCapaID,
		alert.Version,
		alert.UpdatedAt,
		alert.ID,
		alert.Version-1,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := r.GetAlert(ctx, alert.ID); err != nil {
			return err
		}
		return fmt.Errorf("alert %s: %w", alert.ID, domain.ErrConflict)
	}
	return nil
}

func scanAlert(row rowScanner) (*domain.HealthAlert, error) {
	var a domain.HealthAlert
	var alertType, severity, status string
	var exposureID, notes, capaID sql.NullString
	var percent sql.NullFloat64
	var affected sql.NullInt64
	var departments pq.StringArray
	var acknowledgedAt, resolvedAt sql.NullTime

	err := row.Scan(
		&a.ID,
		&alertType,
		&severity,
		&status,
		&a.Title,
		&a.Description,
		&exposureID,
		&a.SubjectID,
		&percent,
		&affected,
		&departments,
		&notes,
		&acknowledgedAt,
		&resolvedAt,
		&capaID,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Type = domain.AlertType(alertType)
	a.Severity = domain.AlertSeverity(severity)
	a.Status = domain.AlertStatus(status)
	a.AffectedDepartments = []string(departments)
	if exposureID.Valid {
		a.ExposureID = &exposureID.String
	}
	if percent.Valid {
		a.PercentOfLimit = &percent.Float64
	}
	if affected.Valid {
		n := int(affected.Int64)
		a.AffectedEmployeeCount = &n
	}
	if notes.Valid {
		a.ResolutionNotes = &notes.String
	}
	if acknowledgedAt.Valid {
		t := acknowledgedAt.Time.UTC()
		a.AcknowledgedAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		a.ResolvedAt = &t
	}
	if capaID.Valid {
		a.LinkedCapaID = &capaID.String
	}
	return &a, nil
}
