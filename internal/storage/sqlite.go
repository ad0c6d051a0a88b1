package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

var _ Repository = (*SQLiteStore)(nil)

// SQLiteStore implements Repository on an embedded SQLite database. Timestamps are stored
// as unix seconds and calendar dates as YYYY-MM-DD text.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at dsn, e.g. "file:bars.db" or ":memory:".
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// Migrate creates the tables. The hypertable option has no SQLite equivalent.
func (s *SQLiteStore) Migrate(ctx context.Context, _ MigrateOptions) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	return nil
}

// AddSymbol registers a symbol; it reports false when the symbol already exists.
func (s *SQLiteStore) AddSymbol(ctx context.Context, sym Symbol) (bool, error) {
	now := s.now().Unix()
	res, err := s.db.ExecContext(ctx, `INSERT INTO symbol_map
        (symbol, name, exchange, asset_type, sector, industry, is_active, data_source, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (symbol) DO NOTHING`,
		sym.Symbol, sym.Name, sym.Exchange, sym.AssetType, sym.Sector, sym.Industry, sym.IsActive, sym.DataSource, now, now)
	if err != nil {
		return false, fmt.Errorf("insert symbol: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert symbol: %w", err)
	}
	return n == 1, nil
}

// ListSymbols lists registered symbols ordered by ticker.
func (s *SQLiteStore) ListSymbols(ctx context.Context, activeOnly bool) ([]Symbol, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
        id, symbol, name, exchange, asset_type, sector, industry, is_active, data_source, created_at, updated_at
        FROM symbol_map
        WHERE (? = 0 OR is_active = 1)
        ORDER BY symbol`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	defer rows.Close()

	symbols := make([]Symbol, 0)
	for rows.Next() {
		var (
			sym              Symbol
			created, updated int64
		)
		if err := rows.Scan(&sym.ID, &sym.Symbol, &sym.Name, &sym.Exchange, &sym.AssetType,
			&sym.Sector, &sym.Industry, &sym.IsActive, &sym.DataSource, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		sym.CreatedAt = time.Unix(created, 0).UTC()
		sym.UpdatedAt = time.Unix(updated, 0).UTC()
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// SetSymbolActive toggles whether scheduled jobs pick up symbol.
func (s *SQLiteStore) SetSymbolActive(ctx context.Context, symbol string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE symbol_map SET is_active = ?, updated_at = ? WHERE symbol = ?`,
		active, s.now().Unix(), symbol)
	if err != nil {
		return fmt.Errorf("set symbol active: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	return nil
}

// UpsertBars writes bars inside one transaction; on conflict only OHLCV is overwritten.
func (s *SQLiteStore) UpsertBars(ctx context.Context, bars []Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO bars
        (symbol, ts, open, high, low, close, volume, split_adjusted, dividend_adjusted, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?)
        ON CONFLICT (symbol, ts) DO UPDATE SET
            open = excluded.open,
            high = excluded.high,
            low = excluded.low,
            close = excluded.close,
            volume = excluded.volume`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert bars: %w", err)
	}
	defer stmt.Close()

	now := s.now().Unix()
	for _, bar := range bars {
		if _, err := stmt.ExecContext(ctx, bar.Symbol, bar.Timestamp.Unix(),
			bar.Open.String(), bar.High.String(), bar.Low.String(), bar.Close.String(), bar.Volume, now); err != nil {
			return 0, fmt.Errorf("upsert bar %s %s: %w", bar.Symbol, bar.Timestamp.Format(DateLayout), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bars: %w", err)
	}
	return len(bars), nil
}

// ListBars returns bars for symbol with dates in [start, end], ordered by timestamp.
func (s *SQLiteStore) ListBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
        symbol, ts, open, high, low, close, volume, adjusted_close, split_adjusted, dividend_adjusted, created_at
        FROM bars
        WHERE symbol = ? AND ts >= ? AND ts < ?
        ORDER BY ts`, symbol, Day(start).Unix(), nextDay(end).Unix())
	if err != nil {
		return nil, fmt.Errorf("list bars: %w", err)
	}
	defer rows.Close()

	bars := make([]Bar, 0)
	for rows.Next() {
		var (
			bar                                Bar
			ts, created                        int64
			openStr, highStr, lowStr, closeStr string
			adjusted                           sql.NullString
		)
		if err := rows.Scan(&bar.Symbol, &ts, &openStr, &highStr, &lowStr, &closeStr, &bar.Volume,
			&adjusted, &bar.SplitAdjusted, &bar.DividendAdjusted, &created); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		if err := parseOHLC(&bar, openStr, highStr, lowStr, closeStr); err != nil {
			return nil, err
		}
		if bar.AdjustedClose, err = parseNullDecimal(adjusted); err != nil {
			return nil, fmt.Errorf("parse adjusted close: %w", err)
		}
		bar.Timestamp = time.Unix(ts, 0).UTC()
		bar.CreatedAt = time.Unix(created, 0).UTC()
		bars = append(bars, bar)
	}
	return bars, rows.Err()
}

// ListBarDates returns the distinct calendar dates stored for symbol in [start, end].
func (s *SQLiteStore) ListBarDates(ctx context.Context, symbol string, start, end time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT date(ts, 'unixepoch')
        FROM bars
        WHERE symbol = ? AND ts >= ? AND ts < ?
        ORDER BY 1`, symbol, Day(start).Unix(), nextDay(end).Unix())
	if err != nil {
		return nil, fmt.Errorf("list bar dates: %w", err)
	}
	defer rows.Close()

	dates := make([]time.Time, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan bar date: %w", err)
		}
		d, err := time.Parse(DateLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("parse bar date %q: %w", raw, err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// InsertActionsIfAbsent checks and inserts every action inside one transaction.
func (s *SQLiteStore) InsertActionsIfAbsent(ctx context.Context, actions []CorporateAction) (int, error) {
	if len(actions) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	now := s.now().Unix()
	for _, action := range actions {
		exDate := Day(action.ExDate).Format(DateLayout)
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (
            SELECT 1 FROM corporate_actions WHERE symbol = ? AND action_type = ? AND ex_date = ?)`,
			action.Symbol, string(action.Type), exDate).Scan(&exists); err != nil {
			return 0, fmt.Errorf("check corporate action: %w", err)
		}
		if exists {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO corporate_actions
            (symbol, action_type, ex_date, split_ratio, dividend_amount, processed, created_at)
            VALUES (?, ?, ?, ?, ?, 0, ?)`,
			action.Symbol, string(action.Type), exDate,
			decimalArg(action.SplitRatio), decimalArg(action.DividendAmount), now); err != nil {
			return 0, fmt.Errorf("insert corporate action: %w", err)
		}
		inserted++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit corporate actions: %w", err)
	}
	return inserted, nil
}

// ListActions returns corporate actions with ex_date in [start, end].
func (s *SQLiteStore) ListActions(ctx context.Context, symbol string, start, end time.Time) ([]CorporateAction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
        id, symbol, action_type, ex_date, split_ratio, dividend_amount, processed, processed_at, created_at
        FROM corporate_actions
        WHERE symbol = ? AND ex_date BETWEEN ? AND ?
        ORDER BY ex_date, action_type`,
		symbol, Day(start).Format(DateLayout), Day(end).Format(DateLayout))
	if err != nil {
		return nil, fmt.Errorf("list corporate actions: %w", err)
	}
	defer rows.Close()

	actions := make([]CorporateAction, 0)
	for rows.Next() {
		var (
			action             CorporateAction
			actionType, exDate string
			ratio, amount      sql.NullString
			processedAt        sql.NullInt64
			created            int64
		)
		if err := rows.Scan(&action.ID, &action.Symbol, &actionType, &exDate, &ratio, &amount,
			&action.Processed, &processedAt, &created); err != nil {
			return nil, fmt.Errorf("scan corporate action: %w", err)
		}
		action.Type = ActionType(actionType)
		if action.ExDate, err = time.Parse(DateLayout, exDate); err != nil {
			return nil, fmt.Errorf("parse ex_date: %w", err)
		}
		if action.SplitRatio, err = parseNullDecimal(ratio); err != nil {
			return nil, fmt.Errorf("parse split ratio: %w", err)
		}
		if action.DividendAmount, err = parseNullDecimal(amount); err != nil {
			return nil, fmt.Errorf("parse dividend amount: %w", err)
		}
		if processedAt.Valid {
			t := time.Unix(processedAt.Int64, 0).UTC()
			action.ProcessedAt = &t
		}
		action.CreatedAt = time.Unix(created, 0).UTC()
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

// AppendQualityLog inserts one check result.
func (s *SQLiteStore) AppendQualityLog(ctx context.Context, entry QualityLog) (QualityLog, error) {
	var details any
	if len(entry.Details) > 0 {
		details = string(entry.Details)
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO data_quality_log
        (symbol, check_type, severity, check_time, date_range_start, date_range_end, issue_count, details, resolved)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		entry.Symbol, string(entry.CheckType), string(entry.Severity), entry.CheckTime.Unix(),
		Day(entry.DateRangeStart).Format(DateLayout), Day(entry.DateRangeEnd).Format(DateLayout),
		entry.IssueCount, details)
	if err != nil {
		return QualityLog{}, fmt.Errorf("insert quality log: %w", err)
	}
	if entry.ID, err = res.LastInsertId(); err != nil {
		return QualityLog{}, fmt.Errorf("insert quality log: %w", err)
	}
	entry.Resolved = false
	return entry, nil
}

// ListQualityLogs returns logs matching filter, newest first.
func (s *SQLiteStore) ListQualityLogs(ctx context.Context, filter QualityLogFilter) ([]QualityLog, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT
        id, symbol, check_type, severity, check_time, date_range_start, date_range_end,
        issue_count, details, resolved, resolved_at
        FROM data_quality_log
        WHERE check_time >= ?
          AND (? = '' OR symbol = ?)
          AND (? = '' OR severity = ?)
          AND (? = 1 OR resolved = 0)
        ORDER BY check_time DESC, id DESC
        LIMIT ?`,
		filter.Since.Unix(), filter.Symbol, filter.Symbol,
		string(filter.Severity), string(filter.Severity), filter.IncludeResolved, limit)
	if err != nil {
		return nil, fmt.Errorf("list quality logs: %w", err)
	}
	defer rows.Close()

	logs := make([]QualityLog, 0)
	for rows.Next() {
		var (
			entry                QualityLog
			checkType, severity  string
			checkTime            int64
			rangeStart, rangeEnd string
			details              sql.NullString
			resolvedAt           sql.NullInt64
		)
		if err := rows.Scan(&entry.ID, &entry.Symbol, &checkType, &severity, &checkTime,
			&rangeStart, &rangeEnd, &entry.IssueCount, &details, &entry.Resolved, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan quality log: %w", err)
		}
		entry.CheckType = CheckType(checkType)
		entry.Severity = Severity(severity)
		entry.CheckTime = time.Unix(checkTime, 0).UTC()
		if entry.DateRangeStart, err = time.Parse(DateLayout, rangeStart); err != nil {
			return nil, fmt.Errorf("parse date_range_start: %w", err)
		}
		if entry.DateRangeEnd, err = time.Parse(DateLayout, rangeEnd); err != nil {
			return nil, fmt.Errorf("parse date_range_end: %w", err)
		}
		if details.Valid {
			entry.Details = json.RawMessage(details.String)
		}
		if resolvedAt.Valid {
			t := time.Unix(resolvedAt.Int64, 0).UTC()
			entry.ResolvedAt = &t
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}
