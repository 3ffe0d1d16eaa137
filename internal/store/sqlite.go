package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/underwrite-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS properties (
	id              TEXT PRIMARY KEY,
	family          TEXT NOT NULL,
	stage           TEXT NOT NULL DEFAULT 'not_started',
	stage_completed INTEGER NOT NULL DEFAULT 1,
	user_id         TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS addresses (
	property_id  TEXT PRIMARY KEY REFERENCES properties(id) ON DELETE CASCADE,
	full_address TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS unit_configurations (
	id          TEXT PRIMARY KEY,
	property_id TEXT NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
	bedrooms    INTEGER NOT NULL,
	bathrooms   REAL NOT NULL,
	quantity    INTEGER NOT NULL,
	rent_avm    REAL,
	rent_high   REAL,
	rent_low    REAL,
	rent_fmr    REAL,
	UNIQUE (property_id, bedrooms, bathrooms)
);

CREATE TABLE IF NOT EXISTS property_meta (
	property_id TEXT NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
	key         TEXT NOT NULL,
	value       TEXT NOT NULL,
	payload     TEXT,
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (property_id, key)
);

CREATE TABLE IF NOT EXISTS lookup_results (
	id          TEXT PRIMARY KEY,
	property_id TEXT NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
	result_type TEXT NOT NULL,
	input       TEXT,
	data        TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS system_settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS stage_runs (
	id          TEXT PRIMARY KEY,
	property_id TEXT NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL,
	error_kind  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_properties_stage ON properties(stage);
CREATE INDEX IF NOT EXISTS idx_properties_family ON properties(family);
CREATE INDEX IF NOT EXISTS idx_lookup_results_type ON lookup_results(property_id, result_type);
CREATE INDEX IF NOT EXISTS idx_stage_runs_property ON stage_runs(property_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqlExecer is the subset of *sql.DB and *sql.Tx the write helpers need.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) CreateProperty(ctx context.Context, in model.Intake) (*model.Property, error) {
	if err := ValidateIntake(in); err != nil {
		return nil, err
	}
	family, err := ResolveFamily(in)
	if err != nil {
		return nil, err
	}
	meta, err := IntakeMeta(in)
	if err != nil {
		return nil, err
	}

	p := &model.Property{
		ID:             uuid.New().String(),
		Family:         family,
		Stage:          model.StageNotStarted,
		StageCompleted: true,
		UserID:         in.UserID,
		CreatedAt:      time.Now().UTC(),
	}
	p.UpdatedAt = p.CreatedAt

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin intake")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO properties (id, family, stage, stage_completed, user_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.Family), string(p.Stage), p.StageCompleted, p.UserID, p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert property")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO addresses (property_id, full_address, created_at) VALUES (?, ?, ?)`,
		p.ID, in.Address, p.CreatedAt,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert address")
	}
	for _, u := range in.Units {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO unit_configurations (id, property_id, bedrooms, bathrooms, quantity, rent_avm, rent_high, rent_low, rent_fmr)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), p.ID, u.Bedrooms, u.Bathrooms, u.Quantity,
			nullFloat(u.RentAVM), nullFloat(u.RentHigh), nullFloat(u.RentLow), nullFloat(u.RentFMR),
		); err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert unit %dbd/%gba", u.Bedrooms, u.Bathrooms)
		}
	}
	for _, m := range meta {
		if err := upsertMetaSQLite(ctx, tx, p.ID, m, p.CreatedAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit intake")
	}
	return p, nil
}

func (s *SQLiteStore) GetProperty(ctx context.Context, id string) (*model.Property, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, family, stage, stage_completed, user_id, created_at, updated_at FROM properties WHERE id = ?`,
		id,
	)
	return scanProperty(row, id)
}

func (s *SQLiteStore) ListProperties(ctx context.Context, filter PropertyFilter) ([]model.Property, error) {
	query := `SELECT id, family, stage, stage_completed, user_id, created_at, updated_at FROM properties WHERE 1=1`
	var args []any

	if filter.Family != "" {
		query += ` AND family = ?`
		args = append(args, string(filter.Family))
	}
	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(filter.Stage))
	}
	if filter.Incomplete {
		query += ` AND stage <> ?`
		args = append(args, string(model.StageComplete))
	}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	query += ` ORDER BY created_at, rowid`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list properties")
	}
	defer rows.Close()

	var out []model.Property
	for rows.Next() {
		p, err := scanProperty(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list properties iterate")
}

func (s *SQLiteStore) GetAddress(ctx context.Context, propertyID string) (*model.Address, error) {
	var a model.Address
	err := s.db.QueryRowContext(ctx,
		`SELECT property_id, full_address, created_at FROM addresses WHERE property_id = ?`,
		propertyID,
	).Scan(&a.PropertyID, &a.FullAddress, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: address for property %s", propertyID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get address")
	}
	return &a, nil
}

func (s *SQLiteStore) ListUnits(ctx context.Context, propertyID string) ([]model.UnitConfiguration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, property_id, bedrooms, bathrooms, quantity, rent_avm, rent_high, rent_low, rent_fmr
		 FROM unit_configurations WHERE property_id = ? ORDER BY bedrooms, bathrooms`,
		propertyID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list units")
	}
	defer rows.Close()

	var out []model.UnitConfiguration
	for rows.Next() {
		var u model.UnitConfiguration
		var avm, high, low, fmr sql.NullFloat64
		if err := rows.Scan(&u.ID, &u.PropertyID, &u.Bedrooms, &u.Bathrooms, &u.Quantity, &avm, &high, &low, &fmr); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan unit")
		}
		u.RentAVM, u.RentHigh, u.RentLow, u.RentFMR = floatPtr(avm), floatPtr(high), floatPtr(low), floatPtr(fmr)
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list units iterate")
}

// UpdateUnitRents sets the non-nil rent fields of one unit configuration.
func (s *SQLiteStore) UpdateUnitRents(ctx context.Context, unitID string, rents model.UnitRents) error {
	if err := ValidateRents(rents); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE unit_configurations SET
			rent_avm  = COALESCE(?, rent_avm),
			rent_high = COALESCE(?, rent_high),
			rent_low  = COALESCE(?, rent_low),
			rent_fmr  = COALESCE(?, rent_fmr)
		 WHERE id = ?`,
		nullFloat(rents.AVM), nullFloat(rents.High), nullFloat(rents.Low), nullFloat(rents.FMR), unitID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update unit rents %s", unitID)
	}
	return checkRowsAffected(res, "unit", unitID)
}

func (s *SQLiteStore) SetStage(ctx context.Context, propertyID string, stage model.Stage, completed bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE properties SET stage = ?, stage_completed = ?, updated_at = ? WHERE id = ?`,
		string(stage), completed, time.Now().UTC(), propertyID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set stage %s", propertyID)
	}
	return checkRowsAffected(res, "property", propertyID)
}

func (s *SQLiteStore) UpsertMeta(ctx context.Context, propertyID, key, value string, payload json.RawMessage) error {
	return upsertMetaSQLite(ctx, s.db, propertyID, MetaWrite{Key: key, Value: value, Payload: payload}, time.Now().UTC())
}

func upsertMetaSQLite(ctx context.Context, ex sqlExecer, propertyID string, m MetaWrite, now time.Time) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO property_meta (property_id, key, value, payload, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (property_id, key) DO UPDATE SET
			value = excluded.value, payload = excluded.payload, updated_at = excluded.updated_at`,
		propertyID, m.Key, m.Value, nullJSON(m.Payload), now,
	)
	return eris.Wrapf(err, "sqlite: upsert meta %s", m.Key)
}

func (s *SQLiteStore) ListMeta(ctx context.Context, propertyID string) ([]model.PropertyMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT property_id, key, value, payload, updated_at FROM property_meta WHERE property_id = ? ORDER BY key`,
		propertyID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list meta")
	}
	defer rows.Close()

	var out []model.PropertyMeta
	for rows.Next() {
		var m model.PropertyMeta
		var payload sql.NullString
		if err := rows.Scan(&m.PropertyID, &m.Key, &m.Value, &payload, &m.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan meta")
		}
		if payload.Valid {
			m.Payload = json.RawMessage(payload.String)
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list meta iterate")
}

func (s *SQLiteStore) QueryResults(ctx context.Context, propertyID, resultType string, limit int) ([]model.LookupResult, error) {
	query := `SELECT id, property_id, result_type, input, data, created_at FROM lookup_results
		WHERE property_id = ? AND result_type = ? ORDER BY created_at, rowid`
	args := []any{propertyID, resultType}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryResults(ctx, query, args...)
}

func (s *SQLiteStore) ListResults(ctx context.Context, propertyID string) ([]model.LookupResult, error) {
	return s.queryResults(ctx,
		`SELECT id, property_id, result_type, input, data, created_at FROM lookup_results
		 WHERE property_id = ? ORDER BY created_at, rowid`,
		propertyID,
	)
}

func (s *SQLiteStore) queryResults(ctx context.Context, query string, args ...any) ([]model.LookupResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query results")
	}
	defer rows.Close()

	var out []model.LookupResult
	for rows.Next() {
		var r model.LookupResult
		var input sql.NullString
		var data string
		if err := rows.Scan(&r.ID, &r.PropertyID, &r.ResultType, &input, &data, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		if input.Valid {
			r.Input = json.RawMessage(input.String)
		}
		r.Data = json.RawMessage(data)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: query results iterate")
}

func (s *SQLiteStore) WriteResults(ctx context.Context, propertyID, resultType string, mode model.WriteMode, records []json.RawMessage, input json.RawMessage) ([]model.LookupResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin write results")
	}
	defer tx.Rollback() //nolint:errcheck

	out, err := writeResultsSQLite(ctx, tx, propertyID, ResultWrite{
		ResultType: resultType, Mode: mode, Records: records, Input: input,
	}, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return out, eris.Wrap(tx.Commit(), "sqlite: commit write results")
}

func writeResultsSQLite(ctx context.Context, ex sqlExecer, propertyID string, w ResultWrite, now time.Time) ([]model.LookupResult, error) {
	switch w.Mode {
	case model.WriteReplace:
		if _, err := ex.ExecContext(ctx,
			`DELETE FROM lookup_results WHERE property_id = ? AND result_type = ?`,
			propertyID, w.ResultType,
		); err != nil {
			return nil, eris.Wrapf(err, "sqlite: clear %s results", w.ResultType)
		}
	case model.WriteAppend:
	default:
		return nil, eris.Errorf("sqlite: unknown write mode %q", w.Mode)
	}

	out := make([]model.LookupResult, 0, len(w.Records))
	for _, rec := range w.Records {
		r := model.LookupResult{
			ID:         uuid.New().String(),
			PropertyID: propertyID,
			ResultType: w.ResultType,
			Input:      w.Input,
			Data:       rec,
			CreatedAt:  now,
		}
		if _, err := ex.ExecContext(ctx,
			`INSERT INTO lookup_results (id, property_id, result_type, input, data, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, r.PropertyID, r.ResultType, nullJSON(r.Input), string(r.Data), r.CreatedAt,
		); err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert %s result", w.ResultType)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *SQLiteStore) PatchResult(ctx context.Context, resultID string, fields map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin patch result")
	}
	defer tx.Rollback() //nolint:errcheck

	var resultType, data string
	err = tx.QueryRowContext(ctx, `SELECT result_type, data FROM lookup_results WHERE id = ?`, resultID).Scan(&resultType, &data)
	if err == sql.ErrNoRows {
		return eris.Wrapf(ErrNotFound, "sqlite: result %s", resultID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read result %s", resultID)
	}
	if !model.RawResultType(resultType) {
		return eris.Wrapf(ErrDerivedResult, "sqlite: result %s is %s", resultID, resultType)
	}

	patched, err := mergeFields(json.RawMessage(data), fields)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE lookup_results SET data = ? WHERE id = ?`, string(patched), resultID); err != nil {
		return eris.Wrapf(err, "sqlite: patch result %s", resultID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit patch result")
}

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (json.RawMessage, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM system_settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: setting %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get setting %s", key)
	}
	return json.RawMessage(value), nil
}

func (s *SQLiteStore) PutSetting(ctx context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return eris.Errorf("sqlite: setting %s is not valid JSON", key)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: put setting %s", key)
}

func (s *SQLiteStore) RecordStageRun(ctx context.Context, run model.StageRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_runs (id, property_id, stage, status, error_kind, error, duration_ms, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.PropertyID, string(run.Stage), string(run.Status), run.ErrorKind, run.Error, run.DurationMs, run.StartedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: record stage run for %s", run.PropertyID)
}

func (s *SQLiteStore) ListStageRuns(ctx context.Context, propertyID string) ([]model.StageRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, property_id, stage, status, error_kind, error, duration_ms, started_at
		 FROM stage_runs WHERE property_id = ? ORDER BY started_at, rowid`,
		propertyID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stage runs")
	}
	defer rows.Close()

	var out []model.StageRun
	for rows.Next() {
		var r model.StageRun
		if err := rows.Scan(&r.ID, &r.PropertyID, &r.Stage, &r.Status, &r.ErrorKind, &r.Error, &r.DurationMs, &r.StartedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage run")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list stage runs iterate")
}

// Apply commits b in a single transaction. Meta writes go first, then result
// writes in the order they were buffered.
func (s *SQLiteStore) Apply(ctx context.Context, b *Batch) error {
	if b == nil || b.Empty() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin apply")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, m := range b.Meta {
		if err := upsertMetaSQLite(ctx, tx, b.PropertyID, m, now); err != nil {
			return err
		}
	}
	for _, w := range b.Results {
		if _, err := writeResultsSQLite(ctx, tx, b.PropertyID, w, now); err != nil {
			return err
		}
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit apply for %s", b.PropertyID)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanProperty(row scannable, id string) (*model.Property, error) {
	var p model.Property
	err := row.Scan(&p.ID, &p.Family, &p.Stage, &p.StageCompleted, &p.UserID, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "property %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan property")
	}
	return &p, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
