package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"eodbars/internal/config"
)

const (
	insertSymbolSQL = `INSERT INTO market_data.symbol_map (
        symbol, name, exchange, asset_type, sector, industry, is_active, data_source
    ) VALUES (
        $1, NULLIF($2, ''), NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8
    )
    ON CONFLICT (symbol) DO NOTHING;`

	listSymbolsSQL = `SELECT
        id, symbol, COALESCE(name, ''), COALESCE(exchange, ''), asset_type,
        COALESCE(sector, ''), COALESCE(industry, ''), is_active, data_source, created_at, updated_at
    FROM market_data.symbol_map
    WHERE ($1 = FALSE OR is_active)
    ORDER BY symbol;`

	setSymbolActiveSQL = `UPDATE market_data.symbol_map
    SET is_active = $2, updated_at = NOW()
    WHERE symbol = $1;`

	// Rows are unnested from parallel arrays so the whole batch is one statement.
	upsertBarsSQL = `INSERT INTO market_data.bars (
        symbol, ts, open, high, low, close, volume, split_adjusted, dividend_adjusted
    )
    SELECT u.symbol, u.ts, u.open::numeric, u.high::numeric, u.low::numeric, u.close::numeric, u.volume, FALSE, FALSE
    FROM unnest($1::text[], $2::timestamptz[], $3::text[], $4::text[], $5::text[], $6::text[], $7::bigint[])
        AS u(symbol, ts, open, high, low, close, volume)
    ON CONFLICT (symbol, ts) DO UPDATE
    SET
        open   = EXCLUDED.open,
        high   = EXCLUDED.high,
        low    = EXCLUDED.low,
        close  = EXCLUDED.close,
        volume = EXCLUDED.volume;`

	listBarsSQL = `SELECT
        symbol, ts, open::text, high::text, low::text, close::text, volume,
        adjusted_close::text, split_adjusted, dividend_adjusted, created_at
    FROM market_data.bars
    WHERE symbol = $1
      AND ts >= $2
      AND ts < $3
    ORDER BY ts;`

	listBarDatesSQL = `SELECT DISTINCT (ts AT TIME ZONE 'UTC')::date
    FROM market_data.bars
    WHERE symbol = $1
      AND ts >= $2
      AND ts < $3
    ORDER BY 1;`

	actionExistsSQL = `SELECT EXISTS (
        SELECT 1 FROM market_data.corporate_actions
        WHERE symbol = $1 AND action_type = $2 AND ex_date = $3
    );`

	insertActionSQL = `INSERT INTO market_data.corporate_actions (
        symbol, action_type, ex_date, split_ratio, dividend_amount, processed
    ) VALUES (
        $1, $2, $3, $4::numeric, $5::numeric, FALSE
    );`

	listActionsSQL = `SELECT
        id, symbol, action_type, ex_date, split_ratio::text, dividend_amount::text,
        processed, processed_at, created_at
    FROM market_data.corporate_actions
    WHERE symbol = $1
      AND ex_date BETWEEN $2 AND $3
    ORDER BY ex_date, action_type;`

	insertQualityLogSQL = `INSERT INTO market_data.data_quality_log (
        symbol, check_type, severity, check_time, date_range_start, date_range_end,
        issue_count, details, resolved
    ) VALUES (
        $1, $2, $3, $4, $5, $6, $7, $8::jsonb, FALSE
    )
    RETURNING id;`

	listQualityLogsSQL = `SELECT
        id, symbol, check_type, severity, check_time, date_range_start, date_range_end,
        issue_count, details::text, resolved, resolved_at
    FROM market_data.data_quality_log
    WHERE check_time >= $1
      AND ($2 = '' OR symbol = $2)
      AND ($3 = '' OR severity = $3)
      AND ($4 OR NOT resolved)
    ORDER BY check_time DESC, id DESC
    LIMIT $5;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store implements Repository on PostgreSQL (optionally TimescaleDB).
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ Repository     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return pool, nil
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Migrate creates the market_data schema and, when asked, the bars hypertable.
func (s *Store) Migrate(ctx context.Context, opts MigrateOptions) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if opts.Timescale {
		if _, err := pool.Exec(ctx, timescaleSchema); err != nil {
			return fmt.Errorf("create hypertable: %w", err)
		}
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// A failed unlock is released with the session when the connection closes.
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, true, nil
}

// AddSymbol registers a symbol; it reports false when the symbol already exists.
func (s *Store) AddSymbol(ctx context.Context, sym Symbol) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, err := pool.Exec(ctx, insertSymbolSQL,
		sym.Symbol, sym.Name, sym.Exchange, sym.AssetType, sym.Sector, sym.Industry, sym.IsActive, sym.DataSource)
	if err != nil {
		return false, fmt.Errorf("insert symbol: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListSymbols lists registered symbols ordered by ticker.
func (s *Store) ListSymbols(ctx context.Context, activeOnly bool) ([]Symbol, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listSymbolsSQL, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	defer rows.Close()

	symbols := make([]Symbol, 0)
	for rows.Next() {
		var sym Symbol
		if err := rows.Scan(&sym.ID, &sym.Symbol, &sym.Name, &sym.Exchange, &sym.AssetType,
			&sym.Sector, &sym.Industry, &sym.IsActive, &sym.DataSource, &sym.CreatedAt, &sym.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// SetSymbolActive toggles whether scheduled jobs pick up symbol.
func (s *Store) SetSymbolActive(ctx context.Context, symbol string, active bool) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, setSymbolActiveSQL, symbol, active)
	if err != nil {
		return fmt.Errorf("set symbol active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	return nil
}

// UpsertBars writes bars with a single set-based upsert.
func (s *Store) UpsertBars(ctx context.Context, bars []Bar) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, nil
	}

	var (
		symbols = make([]string, len(bars))
		stamps  = make([]time.Time, len(bars))
		opens   = make([]string, len(bars))
		highs   = make([]string, len(bars))
		lows    = make([]string, len(bars))
		closes  = make([]string, len(bars))
		volumes = make([]int64, len(bars))
	)
	for i, bar := range bars {
		symbols[i] = bar.Symbol
		stamps[i] = bar.Timestamp.UTC()
		opens[i] = bar.Open.String()
		highs[i] = bar.High.String()
		lows[i] = bar.Low.String()
		closes[i] = bar.Close.String()
		volumes[i] = bar.Volume
	}

	if _, err := pool.Exec(ctx, upsertBarsSQL, symbols, stamps, opens, highs, lows, closes, volumes); err != nil {
		return 0, fmt.Errorf("upsert bars: %w", err)
	}
	return len(bars), nil
}

// ListBars returns bars for symbol with dates in [start, end], ordered by timestamp.
func (s *Store) ListBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listBarsSQL, symbol, Day(start), nextDay(end))
	if err != nil {
		return nil, fmt.Errorf("list bars: %w", err)
	}
	defer rows.Close()

	bars := make([]Bar, 0)
	for rows.Next() {
		bar, err := scanPgBar(rows)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	return bars, rows.Err()
}

// ListBarDates returns the distinct calendar dates stored for symbol in [start, end].
func (s *Store) ListBarDates(ctx context.Context, symbol string, start, end time.Time) ([]time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listBarDatesSQL, symbol, Day(start), nextDay(end))
	if err != nil {
		return nil, fmt.Errorf("list bar dates: %w", err)
	}
	defer rows.Close()

	dates := make([]time.Time, 0)
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan bar date: %w", err)
		}
		dates = append(dates, Day(d))
	}
	return dates, rows.Err()
}

// InsertActionsIfAbsent checks and inserts every action inside one transaction.
func (s *Store) InsertActionsIfAbsent(ctx context.Context, actions []CorporateAction) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if len(actions) == 0 {
		return 0, nil
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted := 0
	for _, action := range actions {
		exDate := Day(action.ExDate)
		var exists bool
		if err := tx.QueryRow(ctx, actionExistsSQL, action.Symbol, string(action.Type), exDate).Scan(&exists); err != nil {
			return 0, fmt.Errorf("check corporate action: %w", err)
		}
		if exists {
			continue
		}
		if _, err := tx.Exec(ctx, insertActionSQL,
			action.Symbol, string(action.Type), exDate,
			decimalArg(action.SplitRatio), decimalArg(action.DividendAmount)); err != nil {
			return 0, fmt.Errorf("insert corporate action: %w", err)
		}
		inserted++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit corporate actions: %w", err)
	}
	return inserted, nil
}

// ListActions returns corporate actions with ex_date in [start, end].
func (s *Store) ListActions(ctx context.Context, symbol string, start, end time.Time) ([]CorporateAction, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listActionsSQL, symbol, Day(start), Day(end))
	if err != nil {
		return nil, fmt.Errorf("list corporate actions: %w", err)
	}
	defer rows.Close()

	actions := make([]CorporateAction, 0)
	for rows.Next() {
		var (
			action      CorporateAction
			actionType  string
			ratio       sql.NullString
			amount      sql.NullString
			processedAt sql.NullTime
		)
		if err := rows.Scan(&action.ID, &action.Symbol, &actionType, &action.ExDate, &ratio, &amount,
			&action.Processed, &processedAt, &action.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan corporate action: %w", err)
		}
		action.Type = ActionType(actionType)
		if action.SplitRatio, err = parseNullDecimal(ratio); err != nil {
			return nil, fmt.Errorf("parse split ratio: %w", err)
		}
		if action.DividendAmount, err = parseNullDecimal(amount); err != nil {
			return nil, fmt.Errorf("parse dividend amount: %w", err)
		}
		if processedAt.Valid {
			t := processedAt.Time
			action.ProcessedAt = &t
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

// AppendQualityLog inserts one check result.
func (s *Store) AppendQualityLog(ctx context.Context, entry QualityLog) (QualityLog, error) {
	pool, err := s.getPool()
	if err != nil {
		return QualityLog{}, err
	}

	var details any
	if len(entry.Details) > 0 {
		details = string(entry.Details)
	}

	if err := pool.QueryRow(ctx, insertQualityLogSQL,
		entry.Symbol,
		string(entry.CheckType),
		string(entry.Severity),
		entry.CheckTime,
		Day(entry.DateRangeStart),
		Day(entry.DateRangeEnd),
		entry.IssueCount,
		details,
	).Scan(&entry.ID); err != nil {
		return QualityLog{}, fmt.Errorf("insert quality log: %w", err)
	}
	entry.Resolved = false
	return entry, nil
}

// ListQualityLogs returns logs matching filter, newest first.
func (s *Store) ListQualityLogs(ctx context.Context, filter QualityLogFilter) ([]QualityLog, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}

	rows, err := pool.Query(ctx, listQualityLogsSQL,
		filter.Since, filter.Symbol, string(filter.Severity), filter.IncludeResolved, limit)
	if err != nil {
		return nil, fmt.Errorf("list quality logs: %w", err)
	}
	defer rows.Close()

	logs := make([]QualityLog, 0)
	for rows.Next() {
		var (
			entry      QualityLog
			checkType  string
			severity   string
			details    sql.NullString
			resolvedAt sql.NullTime
		)
		if err := rows.Scan(&entry.ID, &entry.Symbol, &checkType, &severity, &entry.CheckTime,
			&entry.DateRangeStart, &entry.DateRangeEnd, &entry.IssueCount, &details,
			&entry.Resolved, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan quality log: %w", err)
		}
		entry.CheckType = CheckType(checkType)
		entry.Severity = Severity(severity)
		if details.Valid {
			entry.Details = json.RawMessage(details.String)
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			entry.ResolvedAt = &t
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func scanPgBar(rows pgx.Rows) (Bar, error) {
	var (
		bar                                Bar
		openStr, highStr, lowStr, closeStr string
		adjusted                           sql.NullString
	)
	if err := rows.Scan(&bar.Symbol, &bar.Timestamp, &openStr, &highStr, &lowStr, &closeStr, &bar.Volume,
		&adjusted, &bar.SplitAdjusted, &bar.DividendAdjusted, &bar.CreatedAt); err != nil {
		return Bar{}, fmt.Errorf("scan bar: %w", err)
	}
	if err := parseOHLC(&bar, openStr, highStr, lowStr, closeStr); err != nil {
		return Bar{}, err
	}
	adj, err := parseNullDecimal(adjusted)
	if err != nil {
		return Bar{}, fmt.Errorf("parse adjusted close: %w", err)
	}
	bar.AdjustedClose = adj
	bar.Timestamp = bar.Timestamp.UTC()
	return bar, nil
}

func parseOHLC(bar *Bar, openStr, highStr, lowStr, closeStr string) error {
	var err error
	if bar.Open, err = decimal.NewFromString(openStr); err != nil {
		return fmt.Errorf("parse open: %w", err)
	}
	if bar.High, err = decimal.NewFromString(highStr); err != nil {
		return fmt.Errorf("parse high: %w", err)
	}
	if bar.Low, err = decimal.NewFromString(lowStr); err != nil {
		return fmt.Errorf("parse low: %w", err)
	}
	if bar.Close, err = decimal.NewFromString(closeStr); err != nil {
		return fmt.Errorf("parse close: %w", err)
	}
	return nil
}

func parseNullDecimal(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func decimalArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}
