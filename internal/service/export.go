package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"sahtee-exposure/internal/domain"

	"github.com/xuri/excelize/v2"
)

const (
	exposureSheet = "Expositions"
	alertSheet    = "Alertes"
	timeLayout    = "2006-01-02 15:04"
)

// ExposureExportHeader 暴露导出表头
var ExposureExportHeader = []string{
	"Agent", "Catégorie", "Zone", "Site", "Service", "VLEP", "Unité", "Fréquence",
	"Salariés exposés", "Dernière mesure", "Date mesure", "% VLEP", "Niveau", "Mesures de prévention",
}

// AlertExportHeader 警报导出表头
var AlertExportHeader = []string{
	"Type", "Sévérité", "Statut", "Titre", "% VLEP", "Créée le", "Résolue le", "Notes", "CAPA",
}

// ExportExposures writes the filtered exposures, and the alerts when an alert service is
// wired, into an xlsx workbook.
func (s *ExposureService) ExportExposures(ctx context.Context, filter domain.ExposureFilter) ([]byte, error) {
	views, err := s.ListExposures(ctx, filter)
	if err != nil {
		return nil, err
	}
	var alerts []*domain.HealthAlert
	if s.alerts != nil {
		alerts, err = s.alerts.ListAlerts(ctx, domain.AlertFilter{})
		if err != nil {
			return nil, err
		}
	}

	f := excelize.NewFile()

	index, err := f.NewSheet(exposureSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	rows := make([][]interface{}, 0, len(views))
	for _, v := range views {
		row := []interface{}{
			v.Agent, string(v.HazardCategory), v.Area, v.SiteID, v.DepartmentID,
			v.RegulatoryLimit, v.Unit, string(v.MonitoringFrequency), v.ExposedEmployeeCount,
			nil, nil, nil, string(domain.AlertLevelLow), strings.Join(v.ControlMeasures, ", "),
		}
		if latest, ok := v.Latest(); ok {
			row[9] = latest.Value
			row[10] = latest.Date.Format(timeLayout)
		}
		if v.Evaluation != nil {
			row[11] = round2(v.Evaluation.PercentOfLimit)
			row[12] = string(v.Evaluation.AlertLevel)
		}
		rows = append(rows, row)
	}
	if err := writeSheet(f, exposureSheet, ExposureExportHeader, rows, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	if s.alerts != nil {
		if _, err := f.NewSheet(alertSheet); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create sheet: %w", err)
		}
		rows = rows[:0]
		for _, a := range alerts {
			row := []interface{}{
				string(a.Type), string(a.Severity), string(a.Status), a.Title,
				nil, a.CreatedAt.Format(timeLayout), nil, nil, nil,
			}
			if a.PercentOfLimit != nil {
				row[4] = round2(*a.PercentOfLimit)
			}
			if a.ResolvedAt != nil {
				row[6] = a.ResolvedAt.Format(timeLayout)
			}
			if a.ResolutionNotes != nil {
				row[7] = *a.ResolutionNotes
			}
			if a.LinkedCapaID != nil {
				row[8] = *a.LinkedCapaID
			}
			rows = append(rows, row)
		}
		if err := writeSheet(f, alertSheet, AlertExportHeader, rows, headerStyle); err != nil {
			f.Close()
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]interface{}, headerStyle int) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheet, name, name, 18); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, row := range rows {
		for j, value := range row {
			if value == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(j+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}

	// 冻结表头
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}
	return nil
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
