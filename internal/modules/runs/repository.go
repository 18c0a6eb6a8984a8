package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/aristath/hosd/internal/database"
	"github.com/aristath/hosd/internal/modules/dominance"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// runColumns lists the runs columns in the order scanRun expects
const runColumns = `id, status, objective, assets, scenarios, dominance_order, problem, result,
error, rounds, converged, objective_value, created_at, started_at, finished_at`

// summaryColumns skips the blobs for listings
const summaryColumns = `id, status, objective, assets, scenarios, dominance_order, NULL, NULL,
error, rounds, converged, objective_value, created_at, started_at, finished_at`

// Repository stores runs and their rounds in runs.db
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a run repository on an open runs database
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "runs").Logger(),
	}
}

// Create stores a pending run for a normalised problem and returns it
func (r *Repository) Create(ctx context.Context, p dominance.Problem) (*Run, error) {
	blob, err := msgpack.Marshal(&p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode problem: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	run := &Run{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		Objective: p.Objective,
		Assets:    p.Assets(),
		Scenarios: p.ScenarioCount(),
		Order:     p.Order,
		Problem:   &p,
		CreatedAt: now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO runs (id, status, objective, assets, scenarios, dominance_order, problem, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, string(run.Status), string(run.Objective), run.Assets, run.Scenarios, run.Order, blob, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	r.log.Debug().Str("run_id", run.ID).Msg("Run created")
	return run, nil
}

// MarkRunning moves a run to running and records its start time
func (r *Repository) MarkRunning(ctx context.Context, id string) error {
	return r.update(ctx, id, `UPDATE runs SET status = ?, started_at = ? WHERE id = ?`,
		string(StatusRunning), time.Now().Unix(), id)
}

// Complete stores the result of a finished run. warning is kept in the error
// column, e.g. for runs that hit the round cap.
func (r *Repository) Complete(ctx context.Context, id string, res *dominance.Result, warning string) error {
	blob, err := msgpack.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return r.update(ctx, id, `
		UPDATE runs
		SET status = ?, result = ?, error = ?, rounds = ?, converged = ?, objective_value = ?, finished_at = ?
		WHERE id = ?
	`, string(StatusCompleted), blob, nullString(warning), res.Rounds, boolToInt(res.Converged),
		res.Objective, time.Now().Unix(), id)
}

// Fail marks a run as failed. res is the partial result if one exists.
func (r *Repository) Fail(ctx context.Context, id string, cause error, res *dominance.Result) error {
	var (
		blob      []byte
		rounds    int
		objective sql.NullFloat64
	)
	if res != nil {
		var err error
		if blob, err = msgpack.Marshal(res); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		rounds = res.Rounds
		objective = sql.NullFloat64{Float64: res.Objective, Valid: true}
	}
	return r.update(ctx, id, `
		UPDATE runs
		SET status = ?, result = ?, error = ?, rounds = ?, converged = 0, objective_value = ?, finished_at = ?
		WHERE id = ?
	`, string(StatusFailed), blob, cause.Error(), rounds, objective, time.Now().Unix(), id)
}

// AddRound stores one cutting-plane round of a run
func (r *Repository) AddRound(ctx context.Context, id string, report dominance.RoundReport) error {
	var threshold, violation sql.NullFloat64
	if report.Violation.Violated {
		threshold = sql.NullFloat64{Float64: report.Violation.Threshold, Valid: true}
		violation = sql.NullFloat64{Float64: report.Violation.Value, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO run_rounds
		(run_id, round, state, active_count, residual_norm, iterations, newton_converged, violated, threshold, violation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, report.Round, string(report.State), report.ActiveCount, finiteOrZero(report.ResidualNorm),
		report.Iterations, boolToInt(report.NewtonConverged), boolToInt(report.Violation.Violated),
		threshold, violation)
	if err != nil {
		return fmt.Errorf("failed to store round %d of run %s: %w", report.Round, id, err)
	}
	return nil
}

// Get returns a run with its problem and result
func (r *Repository) Get(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// Rounds returns the stored rounds of a run in order
func (r *Repository) Rounds(ctx context.Context, id string) ([]Round, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT round, state, active_count, residual_norm, iterations, newton_converged, violated, threshold, violation
		FROM run_rounds WHERE run_id = ? ORDER BY round
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds of run %s: %w", id, err)
	}
	defer rows.Close()

	var out []Round
	for rows.Next() {
		var (
			rd                   Round
			newtonConv, violated int
			threshold, violation sql.NullFloat64
		)
		if err := rows.Scan(&rd.Round, &rd.State, &rd.ActiveCount, &rd.ResidualNorm, &rd.Iterations,
			&newtonConv, &violated, &threshold, &violation); err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		rd.NewtonConverged = newtonConv != 0
		rd.Violated = violated != 0
		rd.Threshold = floatPtr(threshold)
		rd.Violation = floatPtr(violation)
		out = append(out, rd)
	}
	return out, rows.Err()
}

// List returns run summaries, newest first, without problem and result blobs
func (r *Repository) List(ctx context.Context, opts ListOptions) ([]Run, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}

	query := `SELECT ` + summaryColumns + ` FROM runs`
	args := []interface{}{}
	if opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes finished runs created before cutoff together with
// their rounds. Pending and running runs are kept.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		// foreign key cascades depend on the connection pragma, so delete explicitly
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM run_rounds WHERE run_id IN (
				SELECT id FROM runs WHERE created_at < ? AND status IN (?, ?)
			)
		`, cutoff.Unix(), string(StatusCompleted), string(StatusFailed)); err != nil {
			return fmt.Errorf("failed to delete rounds: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ? AND status IN (?, ?)`,
			cutoff.Unix(), string(StatusCompleted), string(StatusFailed))
		if err != nil {
			return fmt.Errorf("failed to delete runs: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (r *Repository) update(ctx context.Context, id, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run                     Run
		status, objective       string
		problemBlob, resultBlob []byte
		errText                 sql.NullString
		converged               int
		objectiveValue          sql.NullFloat64
		createdAt               int64
		startedAt, finishedAt   sql.NullInt64
	)
	if err := row.Scan(&run.ID, &status, &objective, &run.Assets, &run.Scenarios, &run.Order,
		&problemBlob, &resultBlob, &errText, &run.Rounds, &converged, &objectiveValue,
		&createdAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}

	run.Status = Status(status)
	run.Objective = dominance.Objective(objective)
	run.Error = errText.String
	run.Converged = converged != 0
	run.ObjectiveValue = floatPtr(objectiveValue)
	run.CreatedAt = time.Unix(createdAt, 0).UTC()
	run.StartedAt = timePtr(startedAt)
	run.FinishedAt = timePtr(finishedAt)

	if len(problemBlob) > 0 {
		var p dominance.Problem
		if err := msgpack.Unmarshal(problemBlob, &p); err != nil {
			return nil, fmt.Errorf("failed to decode problem: %w", err)
		}
		run.Problem = &p
	}
	if len(resultBlob) > 0 {
		var res dominance.Result
		if err := msgpack.Unmarshal(resultBlob, &res); err != nil {
			return nil, fmt.Errorf("failed to decode result: %w", err)
		}
		run.Result = &res
	}
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
