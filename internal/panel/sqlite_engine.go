package panel

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	_ "modernc.org/sqlite"

	apperrors "factorpanel/internal/errors"
	"factorpanel/internal/frame"
	"factorpanel/pkg/contracts/domain"
)

// SQLiteJoiner runs the joins as SQL in a private in-memory database.
// Every table carries a seq column holding its frame row number so results
// can be ordered like the frame engine's.
type SQLiteJoiner struct {
	db *sql.DB
}

// NewSQLiteJoiner opens the in-memory database
func NewSQLiteJoiner(ctx context.Context) (*SQLiteJoiner, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, apperrors.NewStorageError("failed to open in-memory database", err)
	}
	// :memory: databases are per connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperrors.NewStorageError("failed to open in-memory database", err)
	}
	return &SQLiteJoiner{db: db}, nil
}

// Name implements Joiner
func (j *SQLiteJoiner) Name() string { return "sqlite" }

// Close implements Joiner
func (j *SQLiteJoiner) Close() error {
	return j.db.Close()
}

// CrossActive implements Joiner
func (j *SQLiteJoiner) CrossActive(ctx context.Context, firms, calendar dataframe.DataFrame) (dataframe.DataFrame, error) {
	if err := j.writeTable(ctx, "firms", firms, nil); err != nil {
		return firms, err
	}
	if err := j.writeTable(ctx, "calendar", calendar, nil); err != nil {
		return firms, err
	}

	return j.queryFrame(ctx, []string{frame.Permno, frame.Name, frame.IndustryCode, frame.Date}, `
		SELECT f.permno, f.comnam, f.siccd, c.date
		FROM firms f CROSS JOIN calendar c
		WHERE c.date BETWEEN f.begdat AND f.enddat
		ORDER BY f.seq, c.seq`)
}

// AttachReturns implements Joiner
func (j *SQLiteJoiner) AttachReturns(ctx context.Context, panel, returns dataframe.DataFrame) (dataframe.DataFrame, int, error) {
	if err := j.writeTable(ctx, "returns", returns, []string{frame.Permno, frame.Date}); err != nil {
		return panel, 0, err
	}
	var kept int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM returns`).Scan(&kept); err != nil {
		return panel, 0, apperrors.NewStorageError("failed to count returns", err)
	}
	if err := j.writeTable(ctx, "panel", panel, nil); err != nil {
		return panel, 0, err
	}

	cols := append(panel.Names(), frame.Return, frame.ReturnExDiv, frame.Status)
	out, err := j.queryFrame(ctx, cols, fmt.Sprintf(`
		SELECT %s, r.ret, r.retx, COALESCE(r.ret_status, '%s')
		FROM panel p
		LEFT JOIN returns r ON r.permno = p.permno AND r.date = p.date
		ORDER BY p.seq`, selectList("p", panel.Names()), domain.ReturnMissing))
	return out, returns.Nrow() - kept, err
}

// JoinMembership implements Joiner
func (j *SQLiteJoiner) JoinMembership(ctx context.Context, panel, membership dataframe.DataFrame, start, end domain.DateKey) (dataframe.DataFrame, error) {
	if err := j.writeTable(ctx, "membership", membership, nil); err != nil {
		return panel, err
	}
	if err := j.writeTable(ctx, "panel", panel, nil); err != nil {
		return panel, err
	}

	return j.queryFrame(ctx, panel.Names(), fmt.Sprintf(`
		SELECT %s
		FROM panel p
		JOIN membership m ON m.permno = p.permno AND p.date BETWEEN m.start AND m.ending
		WHERE p.date BETWEEN ? AND ?
		ORDER BY p.seq, m.start, m.ending, m.seq`, selectList("p", panel.Names())),
		int(start), int(end))
}

// JoinClassification implements Joiner
func (j *SQLiteJoiner) JoinClassification(ctx context.Context, panel, classes dataframe.DataFrame, sentinel Sentinel) (dataframe.DataFrame, error) {
	if err := j.writeTable(ctx, "classes", classes, nil); err != nil {
		return panel, err
	}
	if err := j.writeTable(ctx, "panel", panel, nil); err != nil {
		return panel, err
	}

	cols := append(panel.Names(), frame.Class, frame.SicStart, frame.SicEnd)
	return j.queryFrame(ctx, cols, fmt.Sprintf(`
		SELECT %s, COALESCE(c.class, ?), COALESCE(c.sic_start, ?), COALESCE(c.sic_end, ?)
		FROM panel p
		LEFT JOIN classes c ON p.siccd BETWEEN c.sic_start AND c.sic_end
		ORDER BY p.seq, c.sic_start, c.sic_end, c.class, c.seq`, selectList("p", panel.Names())),
		sentinel.Class, sentinel.Bound, sentinel.Bound)
}

// JoinFactors implements Joiner
func (j *SQLiteJoiner) JoinFactors(ctx context.Context, panel, factors dataframe.DataFrame) (dataframe.DataFrame, error) {
	if err := j.writeTable(ctx, "factors", factors, []string{frame.Year, frame.Month}); err != nil {
		return panel, err
	}
	if err := j.writeTable(ctx, "panel", panel, nil); err != nil {
		return panel, err
	}

	cols := append(panel.Names(), frame.MktRF, frame.SMB, frame.HML, frame.RF)
	return j.queryFrame(ctx, cols, fmt.Sprintf(`
		SELECT %s, f.mktrf, f.smb, f.hml, f.rf
		FROM panel p
		LEFT JOIN factors f ON f.year = p.year AND f.month = p.month
		ORDER BY p.seq`, selectList("p", panel.Names())))
}

// writeTable replaces table with the contents of df plus a seq column.
// With a primary key, rows repeating a key are ignored so the first wins.
func (j *SQLiteJoiner) writeTable(ctx context.Context, table string, df dataframe.DataFrame, key []string) error {
	if df.Err != nil {
		return df.Err
	}
	names := df.Names()

	defs := []string{"seq INTEGER NOT NULL"}
	for _, n := range names {
		defs = append(defs, fmt.Sprintf("%s %s", quote(n), sqlType(df.Col(n).Type())))
	}
	if len(key) > 0 {
		quoted := make([]string, len(key))
		for i, k := range key {
			quoted[i] = quote(k)
		}
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoted, ", ")))
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStorageError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(table)); err != nil {
		return apperrors.NewStorageError("failed to drop "+table, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quote(table), strings.Join(defs, ", "))); err != nil {
		return apperrors.NewStorageError("failed to create "+table, err)
	}

	cols := append([]string{"seq"}, names...)
	for i := range cols {
		cols[i] = quote(cols[i])
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	verb := "INSERT"
	if len(key) > 0 {
		verb = "INSERT OR IGNORE"
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("%s INTO %s (%s) VALUES (%s)",
		verb, quote(table), strings.Join(cols, ", "), placeholders))
	if err != nil {
		return apperrors.NewStorageError("failed to prepare insert into "+table, err)
	}
	defer stmt.Close()

	columns := make([][]any, len(names))
	for c, n := range names {
		columns[c], err = sqlValues(df.Col(n))
		if err != nil {
			return err
		}
	}

	args := make([]any, len(cols))
	for r := 0; r < df.Nrow(); r++ {
		args[0] = r
		for c := range names {
			args[c+1] = columns[c][r]
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return apperrors.NewStorageError("failed to insert into "+table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStorageError("failed to commit "+table, err)
	}
	return nil
}

// queryFrame runs query and builds a frame whose columns are typed by the
// canonical column types
func (j *SQLiteJoiner) queryFrame(ctx context.Context, cols []string, query string, args ...any) (dataframe.DataFrame, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return dataframe.DataFrame{}, apperrors.NewStorageError("join query failed", err)
	}
	defer rows.Close()

	ints := make(map[int][]int)
	floats := make(map[int][]float64)
	strs := make(map[int][]string)

	dest := make([]any, len(cols))
	for i, c := range cols {
		switch frame.Types[c] {
		case series.Int:
			dest[i] = new(sql.NullInt64)
			ints[i] = []int{}
		case series.Float:
			dest[i] = new(sql.NullFloat64)
			floats[i] = []float64{}
		default:
			dest[i] = new(sql.NullString)
			strs[i] = []string{}
		}
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return dataframe.DataFrame{}, apperrors.NewStorageError("failed to scan join row", err)
		}
		for i, d := range dest {
			switch v := d.(type) {
			case *sql.NullInt64:
				if !v.Valid {
					return dataframe.DataFrame{}, apperrors.NewStorageError(
						fmt.Sprintf("unexpected NULL in integer column %s", cols[i]), nil)
				}
				ints[i] = append(ints[i], int(v.Int64))
			case *sql.NullFloat64:
				if v.Valid {
					floats[i] = append(floats[i], v.Float64)
				} else {
					floats[i] = append(floats[i], math.NaN())
				}
			case *sql.NullString:
				strs[i] = append(strs[i], v.String)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return dataframe.DataFrame{}, apperrors.NewStorageError("join query failed", err)
	}

	out := make([]series.Series, len(cols))
	for i, c := range cols {
		switch frame.Types[c] {
		case series.Int:
			out[i] = frame.IntSeries(c, ints[i])
		case series.Float:
			out[i] = frame.FloatSeries(c, floats[i])
		default:
			out[i] = frame.StringSeries(c, strs[i])
		}
	}
	df := dataframe.New(out...)
	return df, df.Err
}

// sqlValues converts a column to driver values. NaN becomes NULL.
func sqlValues(s series.Series) ([]any, error) {
	out := make([]any, s.Len())
	switch s.Type() {
	case series.Int:
		vals, err := s.Int()
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", s.Name, err)
		}
		for i, v := range vals {
			out[i] = int64(v)
		}
	case series.Float:
		for i, v := range s.Float() {
			if math.IsNaN(v) {
				out[i] = nil
			} else {
				out[i] = v
			}
		}
	default:
		for i, v := range s.Records() {
			out[i] = v
		}
	}
	return out, nil
}

func sqlType(t series.Type) string {
	switch t {
	case series.Int:
		return "INTEGER"
	case series.Float:
		return "REAL"
	default:
		return "TEXT"
	}
}

func selectList(alias string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + quote(c)
	}
	return strings.Join(out, ", ")
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
