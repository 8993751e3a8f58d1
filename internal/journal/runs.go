package journal

import (
	"database/sql"
	"fmt"
)

// StartRun inserts a new run row and returns its id
func (db *DB) StartRun(macroName string, simulation bool) (int64, error) {
	result, err := db.conn.Exec(`
		INSERT INTO runs (macro_name, status, simulation, started_at)
		VALUES (?, ?, ?, datetime('now'))
	`, macroName, RunStatusRunning, simulation)

	if err != nil {
		return 0, fmt.Errorf("failed to start run: %w", err)
	}

	return result.LastInsertId()
}

// FinishRun marks a run as finished with its terminal status
func (db *DB) FinishRun(runID int64, status string, actionsExecuted int, errorMessage string) error {
	var errVal interface{}
	if errorMessage != "" {
		errVal = errorMessage
	}

	_, err := db.conn.Exec(`
		UPDATE runs
		SET status = ?,
		    finished_at = datetime('now'),
		    actions_executed = ?,
		    error_message = ?
		WHERE id = ?
	`, status, actionsExecuted, errVal, runID)

	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	return nil
}

// RecordDetection inserts one detection row
func (db *DB) RecordDetection(d *Detection) (int64, error) {
	result, err := db.conn.Exec(`
		INSERT INTO detections (
			run_id, action_id, action_index, template, method,
			found, score, box_x, box_y, box_w, box_h, screen_hash, detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
	`, d.RunID, d.ActionID, d.ActionIndex, d.Template, d.Method,
		d.Found, d.Score, intOrNil(d.BoxX), intOrNil(d.BoxY), intOrNil(d.BoxW), intOrNil(d.BoxH),
		nullIfEmpty(d.ScreenHash))

	if err != nil {
		return 0, fmt.Errorf("failed to record detection: %w", err)
	}

	return result.LastInsertId()
}

// GetRun retrieves a run by id
func (db *DB) GetRun(runID int64) (*Run, error) {
	row := db.conn.QueryRow(`
		SELECT id, macro_name, started_at, finished_at, status,
		       actions_executed, simulation, error_message
		FROM runs
		WHERE id = ?
	`, runID)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %d not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// RecentRuns returns the most recent runs, newest first
func (db *DB) RecentRuns(limit int) ([]*Run, error) {
	query := `
		SELECT id, macro_name, started_at, finished_at, status,
		       actions_executed, simulation, error_message
		FROM runs
		ORDER BY started_at DESC, id DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// RunDetections returns all detections for one run in execution order
func (db *DB) RunDetections(runID int64) ([]*Detection, error) {
	rows, err := db.conn.Query(`
		SELECT id, run_id, action_id, action_index, template, method,
		       found, score, box_x, box_y, box_w, box_h, screen_hash, detected_at
		FROM detections
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var detections []*Detection
	for rows.Next() {
		var d Detection
		var actionID sql.NullString
		var boxX, boxY, boxW, boxH sql.NullInt64
		var screenHash sql.NullString

		err := rows.Scan(
			&d.ID, &d.RunID, &actionID, &d.ActionIndex, &d.Template, &d.Method,
			&d.Found, &d.Score, &boxX, &boxY, &boxW, &boxH, &screenHash, &d.DetectedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}

		d.ActionID = actionID.String
		d.ScreenHash = screenHash.String
		if boxX.Valid {
			d.BoxX = intPtr(int(boxX.Int64))
			d.BoxY = intPtr(int(boxY.Int64))
			d.BoxW = intPtr(int(boxW.Int64))
			d.BoxH = intPtr(int(boxH.Int64))
		}

		detections = append(detections, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating detections: %w", err)
	}

	return detections, nil
}

// TemplateStatsAll aggregates detection outcomes per template, most used first
func (db *DB) TemplateStatsAll() ([]TemplateStats, error) {
	rows, err := db.conn.Query(`
		SELECT template,
		       COUNT(*) AS total,
		       COALESCE(SUM(found), 0) AS found,
		       COALESCE(AVG(score), 0) AS avg_score
		FROM detections
		GROUP BY template
		ORDER BY total DESC, template
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query template stats: %w", err)
	}
	defer rows.Close()

	var stats []TemplateStats
	for rows.Next() {
		var s TemplateStats
		if err := rows.Scan(&s.Template, &s.Total, &s.Found, &s.AvgScore); err != nil {
			return nil, fmt.Errorf("failed to scan template stats: %w", err)
		}
		stats = append(stats, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating template stats: %w", err)
	}

	return stats, nil
}

// scanner covers both sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var finishedAt sql.NullTime
	var errorMessage sql.NullString

	err := s.Scan(
		&run.ID, &run.MacroName, &run.StartedAt, &finishedAt, &run.Status,
		&run.ActionsExecuted, &run.Simulation, &errorMessage,
	)
	if err != nil {
		return nil, err
	}

	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	if errorMessage.Valid {
		run.ErrorMessage = &errorMessage.String
	}

	return &run, nil
}

func intOrNil(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func intPtr(v int) *int {
	return &v
}
