package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/underwrite-cli/internal/db"
	"github.com/sells-group/underwrite-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var _ Store = (*PostgresStore)(nil)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"get_property":  `SELECT id, family, stage, stage_completed, user_id, created_at, updated_at FROM properties WHERE id = $1`,
	"set_stage":     `UPDATE properties SET stage = $1, stage_completed = $2, updated_at = $3 WHERE id = $4`,
	"list_meta":     `SELECT property_id, key, value, payload, updated_at FROM property_meta WHERE property_id = $1 ORDER BY key`,
	"get_setting":   `SELECT value FROM system_settings WHERE key = $1`,
	"insert_run":    `INSERT INTO stage_runs (id, property_id, stage, status, error_kind, error, duration_ms, started_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"query_results": `SELECT id, property_id, result_type, input, data, created_at FROM lookup_results WHERE property_id = $1 AND result_type = $2 ORDER BY seq`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS properties (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	family          TEXT NOT NULL,
	stage           TEXT NOT NULL DEFAULT 'not_started',
	stage_completed BOOLEAN NOT NULL DEFAULT true,
	user_id         TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS addresses (
	property_id  TEXT PRIMARY KEY REFERENCES properties(id) ON DELETE CASCADE,
	full_address TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS unit_configurations (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	property_id TEXT NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
	bedrooms    INTEGER NOT NULL,
	bathrooms   DOUBLE PRECISION NOT NULL,
	quantity    INTEGER NOT NULL CHECK (quantity > 0),
	rent_avm    DOUBLE PRECISION,
	rent_high   DOUBLE PRECISION,
	rent_low    DOUBLE PRECISION,
	rent_fmr    DOUBLE PRECISION,
	UNIQUE (property_id, bedrooms, bathrooms)
);

CREATE TABLE IF NOT EXISTS property_meta (
	property_id TEXT NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
	key         TEXT NOT NULL,
	value       TEXT NOT NULL,
	payload     JSONB,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (property_id, key)
);

CREATE TABLE IF NOT EXISTS lookup_results (
	seq         BIGSERIAL,
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	property_id TEXT NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
	result_type TEXT NOT NULL,
	input       JSONB,
	data        JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS system_settings (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS stage_runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	property_id TEXT NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL,
	error_kind  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_properties_stage ON properties(stage);
CREATE INDEX IF NOT EXISTS idx_properties_family ON properties(family);
CREATE INDEX IF NOT EXISTS idx_lookup_results_type ON lookup_results(property_id, result_type, seq);
CREATE INDEX IF NOT EXISTS idx_stage_runs_property ON stage_runs(property_id, started_at);
`

var (
	metaUpsert = db.UpsertConfig{
		Table:        "property_meta",
		Columns:      []string{"property_id", "key", "value", "payload", "updated_at"},
		ConflictKeys: []string{"property_id", "key"},
	}
	resultColumns = []string{"id", "property_id", "result_type", "input", "data", "created_at"}
	unitColumns   = []string{"id", "property_id", "bedrooms", "bathrooms", "quantity", "rent_avm", "rent_high", "rent_low", "rent_fmr"}
)

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateProperty(ctx context.Context, in model.Intake) (*model.Property, error) {
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

	now := time.Now().UTC()
	p := &model.Property{
		ID:             uuid.New().String(),
		Family:         family,
		Stage:          model.StageNotStarted,
		StageCompleted: true,
		UserID:         in.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin intake")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO properties (id, family, stage, stage_completed, user_id, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, string(p.Family), string(p.Stage), p.StageCompleted, p.UserID, now, now,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: insert property")
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO addresses (property_id, full_address, created_at) VALUES ($1, $2, $3)`,
		p.ID, in.Address, now,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: insert address")
	}

	units := make([][]any, 0, len(in.Units))
	for _, u := range in.Units {
		units = append(units, []any{
			uuid.New().String(), p.ID, u.Bedrooms, u.Bathrooms, u.Quantity,
			u.RentAVM, u.RentHigh, u.RentLow, u.RentFMR,
		})
	}
	if _, err := db.CopyFrom(ctx, tx, "unit_configurations", unitColumns, units); err != nil {
		return nil, eris.Wrap(err, "postgres: insert units")
	}
	if _, err := db.BulkUpsert(ctx, tx, metaUpsert, metaRows(p.ID, meta, now)); err != nil {
		return nil, eris.Wrap(err, "postgres: insert intake meta")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit intake")
	}
	return p, nil
}

func (s *PostgresStore) GetProperty(ctx context.Context, id string) (*model.Property, error) {
	var p model.Property
	err := s.pool.QueryRow(ctx,
		`SELECT id, family, stage, stage_completed, user_id, created_at, updated_at FROM properties WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Family, &p.Stage, &p.StageCompleted, &p.UserID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "property %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get property %s", id)
	}
	return &p, nil
}

func (s *PostgresStore) ListProperties(ctx context.Context, filter PropertyFilter) ([]model.Property, error) {
	query := `SELECT id, family, stage, stage_completed, user_id, created_at, updated_at FROM properties WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Family != "" {
		query += fmt.Sprintf(` AND family = $%d`, argIdx)
		args = append(args, string(filter.Family))
		argIdx++
	}
	if filter.Stage != "" {
		query += fmt.Sprintf(` AND stage = $%d`, argIdx)
		args = append(args, string(filter.Stage))
		argIdx++
	}
	if filter.Incomplete {
		query += fmt.Sprintf(` AND stage <> $%d`, argIdx)
		args = append(args, string(model.StageComplete))
		argIdx++
	}
	if filter.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	query += ` ORDER BY created_at, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list properties")
	}
	defer rows.Close()

	var out []model.Property
	for rows.Next() {
		var p model.Property
		if err := rows.Scan(&p.ID, &p.Family, &p.Stage, &p.StageCompleted, &p.UserID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan property")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list properties iterate")
}

func (s *PostgresStore) GetAddress(ctx context.Context, propertyID string) (*model.Address, error) {
	var a model.Address
	err := s.pool.QueryRow(ctx,
		`SELECT property_id, full_address, created_at FROM addresses WHERE property_id = $1`,
		propertyID,
	).Scan(&a.PropertyID, &a.FullAddress, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "address for property %s", propertyID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get address")
	}
	return &a, nil
}

func (s *PostgresStore) ListUnits(ctx context.Context, propertyID string) ([]model.UnitConfiguration, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, property_id, bedrooms, bathrooms, quantity, rent_avm, rent_high, rent_low, rent_fmr
		 FROM unit_configurations WHERE property_id = $1 ORDER BY bedrooms, bathrooms`,
		propertyID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list units")
	}
	defer rows.Close()

	var out []model.UnitConfiguration
	for rows.Next() {
		var u model.UnitConfiguration
		if err := rows.Scan(&u.ID, &u.PropertyID, &u.Bedrooms, &u.Bathrooms, &u.Quantity,
			&u.RentAVM, &u.RentHigh, &u.RentLow, &u.RentFMR); err != nil {
			return nil, eris.Wrap(err, "postgres: scan unit")
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list units iterate")
}

func (s *PostgresStore) UpdateUnitRents(ctx context.Context, unitID string, rents model.UnitRents) error {
	if err := ValidateRents(rents); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE unit_configurations SET
			rent_avm  = COALESCE($1, rent_avm),
			rent_high = COALESCE($2, rent_high),
			rent_low  = COALESCE($3, rent_low),
			rent_fmr  = COALESCE($4, rent_fmr)
		 WHERE id = $5`,
		rents.AVM, rents.High, rents.Low, rents.FMR, unitID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update unit rents %s", unitID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "unit %s", unitID)
	}
	return nil
}

func (s *PostgresStore) SetStage(ctx context.Context, propertyID string, stage model.Stage, completed bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE properties SET stage = $1, stage_completed = $2, updated_at = $3 WHERE id = $4`,
		string(stage), completed, time.Now().UTC(), propertyID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set stage %s", propertyID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "property %s", propertyID)
	}
	return nil
}

func (s *PostgresStore) UpsertMeta(ctx context.Context, propertyID, key, value string, payload json.RawMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO property_meta (property_id, key, value, payload, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (property_id, key) DO UPDATE SET
		   value = EXCLUDED.value, payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		propertyID, key, value, pgJSON(payload), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert meta %s", key)
}

func (s *PostgresStore) ListMeta(ctx context.Context, propertyID string) ([]model.PropertyMeta, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT property_id, key, value, payload, updated_at FROM property_meta WHERE property_id = $1 ORDER BY key`,
		propertyID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list meta")
	}
	defer rows.Close()

	var out []model.PropertyMeta
	for rows.Next() {
		var m model.PropertyMeta
		var payload []byte
		if err := rows.Scan(&m.PropertyID, &m.Key, &m.Value, &payload, &m.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan meta")
		}
		if len(payload) > 0 {
			m.Payload = json.RawMessage(payload)
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list meta iterate")
}

func (s *PostgresStore) QueryResults(ctx context.Context, propertyID, resultType string, limit int) ([]model.LookupResult, error) {
	query := `SELECT id, property_id, result_type, input, data, created_at FROM lookup_results
		WHERE property_id = $1 AND result_type = $2 ORDER BY seq`
	args := []any{propertyID, resultType}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	return s.queryResults(ctx, query, args...)
}

func (s *PostgresStore) ListResults(ctx context.Context, propertyID string) ([]model.LookupResult, error) {
	return s.queryResults(ctx,
		`SELECT id, property_id, result_type, input, data, created_at FROM lookup_results
		 WHERE property_id = $1 ORDER BY seq`,
		propertyID,
	)
}

func (s *PostgresStore) queryResults(ctx context.Context, query string, args ...any) ([]model.LookupResult, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query results")
	}
	defer rows.Close()

	var out []model.LookupResult
	for rows.Next() {
		var r model.LookupResult
		var input, data []byte
		if err := rows.Scan(&r.ID, &r.PropertyID, &r.ResultType, &input, &data, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		if len(input) > 0 {
			r.Input = json.RawMessage(input)
		}
		r.Data = json.RawMessage(data)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: query results iterate")
}

func (s *PostgresStore) WriteResults(ctx context.Context, propertyID, resultType string, mode model.WriteMode, records []json.RawMessage, input json.RawMessage) ([]model.LookupResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin write results")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	out, err := writeResultsPostgres(ctx, tx, propertyID, ResultWrite{
		ResultType: resultType, Mode: mode, Records: records, Input: input,
	}, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return out, eris.Wrap(tx.Commit(ctx), "postgres: commit write results")
}

func writeResultsPostgres(ctx context.Context, ex db.Execer, propertyID string, w ResultWrite, now time.Time) ([]model.LookupResult, error) {
	switch w.Mode {
	case model.WriteReplace:
		if _, err := ex.Exec(ctx,
			`DELETE FROM lookup_results WHERE property_id = $1 AND result_type = $2`,
			propertyID, w.ResultType,
		); err != nil {
			return nil, eris.Wrapf(err, "postgres: clear %s results", w.ResultType)
		}
	case model.WriteAppend:
	default:
		return nil, eris.Errorf("postgres: unknown write mode %q", w.Mode)
	}

	out := make([]model.LookupResult, 0, len(w.Records))
	rows := make([][]any, 0, len(w.Records))
	for _, rec := range w.Records {
		r := model.LookupResult{
			ID:         uuid.New().String(),
			PropertyID: propertyID,
			ResultType: w.ResultType,
			Input:      w.Input,
			Data:       rec,
			CreatedAt:  now,
		}
		rows = append(rows, []any{r.ID, r.PropertyID, r.ResultType, pgJSON(r.Input), []byte(r.Data), r.CreatedAt})
		out = append(out, r)
	}
	if _, err := db.CopyFrom(ctx, ex, "lookup_results", resultColumns, rows); err != nil {
		return nil, eris.Wrapf(err, "postgres: insert %s results", w.ResultType)
	}
	return out, nil
}

// PatchResult merges fields into the stored object with the jsonb || operator.
func (s *PostgresStore) PatchResult(ctx context.Context, resultID string, fields map[string]any) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal patch")
	}

	var resultType string
	err = s.pool.QueryRow(ctx, `SELECT result_type FROM lookup_results WHERE id = $1`, resultID).Scan(&resultType)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "result %s", resultID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: read result %s", resultID)
	}
	if !model.RawResultType(resultType) {
		return eris.Wrapf(ErrDerivedResult, "postgres: result %s is %s", resultID, resultType)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE lookup_results SET data = data || $1::jsonb WHERE id = $2 AND jsonb_typeof(data) = 'object'`,
		patch, resultID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: patch result %s", resultID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "object result %s", resultID)
	}
	return nil
}

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (json.RawMessage, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM system_settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "setting %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get setting %s", key)
	}
	return json.RawMessage(value), nil
}

func (s *PostgresStore) PutSetting(ctx context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return eris.Errorf("postgres: setting %s is not valid JSON", key)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO system_settings (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, []byte(value), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: put setting %s", key)
}

func (s *PostgresStore) RecordStageRun(ctx context.Context, run model.StageRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stage_runs (id, property_id, stage, status, error_kind, error, duration_ms, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.PropertyID, string(run.Stage), string(run.Status), run.ErrorKind, run.Error, run.DurationMs, run.StartedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: record stage run for %s", run.PropertyID)
}

func (s *PostgresStore) ListStageRuns(ctx context.Context, propertyID string) ([]model.StageRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, property_id, stage, status, error_kind, error, duration_ms, started_at
		 FROM stage_runs WHERE property_id = $1 ORDER BY started_at`,
		propertyID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stage runs")
	}
	defer rows.Close()

	var out []model.StageRun
	for rows.Next() {
		var r model.StageRun
		if err := rows.Scan(&r.ID, &r.PropertyID, &r.Stage, &r.Status, &r.ErrorKind, &r.Error, &r.DurationMs, &r.StartedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage run")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list stage runs iterate")
}

// Apply commits b in one transaction: meta rows through a COPY-staged upsert,
// then each result write in buffered order.
func (s *PostgresStore) Apply(ctx context.Context, b *Batch) error {
	if b == nil || b.Empty() {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin apply")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	if _, err := db.BulkUpsert(ctx, tx, metaUpsert, metaRows(b.PropertyID, b.Meta, now)); err != nil {
		return eris.Wrapf(err, "postgres: apply meta for %s", b.PropertyID)
	}
	for _, w := range b.Results {
		if _, err := writeResultsPostgres(ctx, tx, b.PropertyID, w, now); err != nil {
			return err
		}
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: commit apply for %s", b.PropertyID)
}

func metaRows(propertyID string, meta []MetaWrite, now time.Time) [][]any {
	rows := make([][]any, 0, len(meta))
	for _, m := range meta {
		rows = append(rows, []any{propertyID, m.Key, m.Value, pgJSON(m.Payload), now})
	}
	return rows
}

// pgJSON maps an empty payload to SQL NULL.
func pgJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
