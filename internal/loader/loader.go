package loader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"golang.org/x/sync/errgroup"

	"factorpanel/internal/config"
	apperrors "factorpanel/internal/errors"
	"factorpanel/internal/frame"
	"factorpanel/internal/infrastructure"
	"factorpanel/pkg/contracts/domain"
)

// Table names used in logs and errors
const (
	TableFirms          = "firm_header"
	TableCalendar       = "index_returns"
	TableMembership     = "membership"
	TableReturns        = "firm_returns"
	TableClassification = "classification"
	TableFactors        = "factors"
)

// Tables holds the six loaded inputs with canonical column names
type Tables struct {
	Firms          dataframe.DataFrame
	Calendar       dataframe.DataFrame
	Membership     dataframe.DataFrame
	Returns        dataframe.DataFrame
	Classification dataframe.DataFrame
	Factors        dataframe.DataFrame

	// Sources fingerprints each input by table name
	Sources map[string]SourceInfo
}

// Loader reads and types the pipeline inputs
type Loader struct {
	cfg    *config.Config
	source *Source
	logger *slog.Logger
}

// New creates a Loader. Remote fetches use the configured timeout and
// request rate.
func New(cfg *config.Config, logger *slog.Logger) *Loader {
	return &Loader{
		cfg: cfg,
		source: NewSource(
			&http.Client{Timeout: cfg.Inputs.HTTPTimeout},
			NewLimiter(cfg.Inputs.RemoteRPS, cfg.Inputs.RemoteBurst),
		),
		logger: infrastructure.WithComponent(logger, "loader"),
	}
}

// locations maps table names to their configured locations
func (l *Loader) locations() map[string]string {
	in := l.cfg.Inputs
	return map[string]string{
		TableFirms:          in.FirmHeader,
		TableCalendar:       in.IndexReturns,
		TableMembership:     in.Membership,
		TableReturns:        in.FirmReturns,
		TableClassification: in.Classification,
		TableFactors:        in.Factors,
	}
}

// LoadAll loads every input concurrently. The first failure cancels the
// remaining loads.
func (l *Loader) LoadAll(ctx context.Context) (*Tables, error) {
	var t Tables
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) { t.Firms, err = l.LoadFirms(gctx); return })
	g.Go(func() (err error) { t.Calendar, err = l.LoadCalendar(gctx); return })
	g.Go(func() (err error) { t.Membership, err = l.LoadMembership(gctx); return })
	g.Go(func() (err error) { t.Returns, err = l.LoadReturns(gctx); return })
	g.Go(func() (err error) { t.Classification, err = l.LoadClassification(gctx); return })
	g.Go(func() (err error) { t.Factors, err = l.LoadFactors(gctx); return })

	if err := g.Wait(); err != nil {
		return nil, err
	}

	t.Sources = make(map[string]SourceInfo, 6)
	for table, loc := range l.locations() {
		if info, ok := l.source.Info(loc); ok {
			t.Sources[table] = info
		}
	}
	return &t, nil
}

// readTable opens location and reads it as an all-string frame
func (l *Loader) readTable(ctx context.Context, table, location string) (dataframe.DataFrame, error) {
	rc, err := l.source.Open(ctx, location)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	defer rc.Close()
	return l.parseTable(table, location, rc)
}

func (l *Loader) parseTable(table, location string, r io.Reader) (dataframe.DataFrame, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return dataframe.DataFrame{}, apperrors.NewLoadError(location, err).WithContext("table", table)
	}

	delim := l.cfg.Inputs.DelimiterRune()
	df := dataframe.ReadCSV(bytes.NewReader(data),
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.WithDelimiter(delim),
		dataframe.NaNValues([]string{}),
	)
	if df.Err != nil {
		// gota rejects a header without records; that is an empty table
		if header, ok := headerOnly(data, delim); ok {
			return emptyTable(header), nil
		}
		return df, apperrors.NewParsingError(fmt.Sprintf("%s: malformed file %s", table, location), df.Err).
			WithContext("table", table)
	}
	return df, nil
}

// headerOnly returns the header of data when it is the only record
func headerOnly(data []byte, delim rune) ([]string, bool) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delim
	header, err := r.Read()
	if err != nil || len(header) == 0 {
		return nil, false
	}
	if _, err := r.Read(); err != io.EOF {
		return nil, false
	}
	return header, true
}

func emptyTable(header []string) dataframe.DataFrame {
	cols := make([]series.Series, len(header))
	for i, name := range header {
		cols[i] = series.New([]string{}, series.String, name)
	}
	return dataframe.New(cols...)
}

func (l *Loader) logLoaded(ctx context.Context, table, location string, rows int, attrs ...any) {
	args := append([]any{"table", table, "source", location, "rows", rows}, attrs...)
	l.logger.InfoContext(ctx, "input loaded", args...)
}

// LoadFirms loads the firm header: permno, comnam, siccd, begdat, enddat.
// A blank industry code becomes 0, which no classification range matches.
func (l *Loader) LoadFirms(ctx context.Context) (dataframe.DataFrame, error) {
	loc := l.cfg.Inputs.FirmHeader
	cols := l.cfg.Columns.FirmHeader
	raw, err := l.readTable(ctx, TableFirms, loc)
	if err != nil {
		return raw, err
	}

	permnoCol, err := pick(raw, TableFirms, cols.Permno, nil)
	if err != nil {
		return raw, err
	}
	permnos, err := permnoCol.ints()
	if err != nil {
		return raw, err
	}
	codeCol, err := pick(raw, TableFirms, cols.IndustryCode, nil)
	if err != nil {
		return raw, err
	}
	codes, blanks, err := codeCol.intsOrZero()
	if err != nil {
		return raw, err
	}
	nameCol, err := pick(raw, TableFirms, cols.Name, nil)
	if err != nil {
		return raw, err
	}
	begin, err := l.dateColumn(raw, TableFirms, cols.Begin)
	if err != nil {
		return raw, err
	}
	end, err := l.dateColumn(raw, TableFirms, cols.End)
	if err != nil {
		return raw, err
	}

	df := dataframe.New(
		frame.IntSeries(frame.Permno, permnos),
		frame.StringSeries(frame.Name, nameCol.strings()),
		frame.IntSeries(frame.IndustryCode, codes),
		frame.IntSeries(frame.Begin, begin),
		frame.IntSeries(frame.End, end),
	)
	l.logLoaded(ctx, TableFirms, loc, df.Nrow(), "blank_industry_codes", blanks)
	return df, df.Err
}

// LoadCalendar loads the market index dates that define the trading calendar
func (l *Loader) LoadCalendar(ctx context.Context) (dataframe.DataFrame, error) {
	loc := l.cfg.Inputs.IndexReturns
	raw, err := l.readTable(ctx, TableCalendar, loc)
	if err != nil {
		return raw, err
	}
	dates, err := l.dateColumn(raw, TableCalendar, l.cfg.Columns.IndexReturns.Date)
	if err != nil {
		return raw, err
	}

	df := dataframe.New(frame.IntSeries(frame.Date, dates))
	l.logLoaded(ctx, TableCalendar, loc, df.Nrow())
	return df, df.Err
}

// LoadMembership loads index membership intervals: permno, start, ending
func (l *Loader) LoadMembership(ctx context.Context) (dataframe.DataFrame, error) {
	loc := l.cfg.Inputs.Membership
	cols := l.cfg.Columns.Membership
	raw, err := l.readTable(ctx, TableMembership, loc)
	if err != nil {
		return raw, err
	}

	permnoCol, err := pick(raw, TableMembership, cols.Permno, nil)
	if err != nil {
		return raw, err
	}
	permnos, err := permnoCol.ints()
	if err != nil {
		return raw, err
	}
	start, err := l.dateColumn(raw, TableMembership, cols.Start)
	if err != nil {
		return raw, err
	}
	end, err := l.dateColumn(raw, TableMembership, cols.End)
	if err != nil {
		return raw, err
	}

	df := dataframe.New(
		frame.IntSeries(frame.Permno, permnos),
		frame.IntSeries(frame.Start, start),
		frame.IntSeries(frame.Ending, end),
	)
	l.logLoaded(ctx, TableMembership, loc, df.Nrow())
	return df, df.Err
}

// LoadReturns loads monthly firm returns with a status per row
func (l *Loader) LoadReturns(ctx context.Context) (dataframe.DataFrame, error) {
	loc := l.cfg.Inputs.FirmReturns
	cols := l.cfg.Columns.FirmReturns
	raw, err := l.readTable(ctx, TableReturns, loc)
	if err != nil {
		return raw, err
	}

	permnoCol, err := pick(raw, TableReturns, cols.Permno, nil)
	if err != nil {
		return raw, err
	}
	permnos, err := permnoCol.ints()
	if err != nil {
		return raw, err
	}
	dates, err := l.dateColumn(raw, TableReturns, cols.Date)
	if err != nil {
		return raw, err
	}
	retCol, err := pick(raw, TableReturns, cols.Return, nil)
	if err != nil {
		return raw, err
	}
	retxCol, err := pick(raw, TableReturns, cols.ReturnExDiv, nil)
	if err != nil {
		return raw, err
	}

	n := len(permnos)
	ret := make([]float64, n)
	retx := make([]float64, n)
	status := make([]string, n)
	counts := make(map[domain.ReturnStatus]int, 3)
	for i := 0; i < n; i++ {
		var rs, xs domain.ReturnStatus
		ret[i], rs = returnValue(retCol.values[i], l.cfg.Returns.Floor)
		retx[i], xs = returnValue(retxCol.values[i], l.cfg.Returns.Floor)
		s := combineStatus(rs, xs)
		status[i] = string(s)
		counts[s]++
	}

	df := dataframe.New(
		frame.IntSeries(frame.Permno, permnos),
		frame.IntSeries(frame.Date, dates),
		frame.FloatSeries(frame.Return, ret),
		frame.FloatSeries(frame.ReturnExDiv, retx),
		frame.StringSeries(frame.Status, status),
	)
	l.logLoaded(ctx, TableReturns, loc, df.Nrow(),
		"valid", counts[domain.ReturnValid],
		"invalid", counts[domain.ReturnInvalid],
		"missing", counts[domain.ReturnMissing])
	return df, df.Err
}

// LoadClassification loads industry ranges for the configured scheme:
// class, sic_start, sic_end
func (l *Loader) LoadClassification(ctx context.Context) (dataframe.DataFrame, error) {
	loc := l.cfg.Inputs.Classification
	cols := l.cfg.Columns.Classification
	raw, err := l.readTable(ctx, TableClassification, loc)
	if err != nil {
		return raw, err
	}

	classCol, err := pick(raw, TableClassification, cols.Class, nil)
	if err != nil {
		return raw, err
	}
	classes, err := classCol.ints()
	if err != nil {
		return raw, err
	}
	startCol, err := pick(raw, TableClassification, cols.Start, nil)
	if err != nil {
		return raw, err
	}
	starts, err := startCol.ints()
	if err != nil {
		return raw, err
	}
	endCol, err := pick(raw, TableClassification, cols.End, nil)
	if err != nil {
		return raw, err
	}
	ends, err := endCol.ints()
	if err != nil {
		return raw, err
	}

	keep := make([]bool, len(classes))
	for i := range keep {
		keep[i] = true
	}
	if cols.Scheme != "" && hasColumn(raw, cols.Scheme) {
		schemeCol, _ := pick(raw, TableClassification, cols.Scheme, nil)
		schemes, err := schemeCol.ints()
		if err != nil {
			return raw, err
		}
		for i, s := range schemes {
			keep[i] = s == l.cfg.Classification.Scheme
		}
	} else {
		l.logger.DebugContext(ctx, "classification has no scheme column, using all rows",
			"column", cols.Scheme)
	}

	var outClass, outStart, outEnd []int
	for i := range classes {
		if !keep[i] {
			continue
		}
		if starts[i] > ends[i] {
			return raw, apperrors.NewAppValidationError(
				fmt.Sprintf("%s: line %d: range start %d is after end %d", TableClassification, startCol.line(i), starts[i], ends[i])).
				WithContext("table", TableClassification)
		}
		outClass = append(outClass, classes[i])
		outStart = append(outStart, starts[i])
		outEnd = append(outEnd, ends[i])
	}

	df := dataframe.New(
		frame.IntSeries(frame.Class, outClass),
		frame.IntSeries(frame.SicStart, outStart),
		frame.IntSeries(frame.SicEnd, outEnd),
	)
	l.logLoaded(ctx, TableClassification, loc, df.Nrow(), "scheme", l.cfg.Classification.Scheme)
	return df, df.Err
}

// LoadFactors loads monthly factor returns: year, month, mktrf, smb, hml, rf.
// Values are published in percent and scaled to fractions.
func (l *Loader) LoadFactors(ctx context.Context) (dataframe.DataFrame, error) {
	loc := l.cfg.Inputs.Factors
	cols := l.cfg.Columns.Factors

	rc, err := l.source.Open(ctx, loc)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	defer rc.Close()

	block, lines, err := l.monthlyBlock(rc)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	raw, err := l.parseTable(TableFactors, loc, strings.NewReader(block))
	if err != nil {
		return raw, err
	}

	dateCol, err := pick(raw, TableFactors, cols.Date, lines)
	if err != nil {
		return raw, err
	}
	periods, err := dateCol.ints()
	if err != nil {
		return raw, err
	}
	years := make([]int, len(periods))
	months := make([]int, len(periods))
	for i, p := range periods {
		years[i], months[i] = p/100, p%100
	}

	values := make(map[string][]float64, 4)
	for canonical, name := range map[string]string{
		frame.MktRF: cols.MktRF,
		frame.SMB:   cols.SMB,
		frame.HML:   cols.HML,
		frame.RF:    cols.RF,
	} {
		c, err := pick(raw, TableFactors, name, lines)
		if err != nil {
			return raw, err
		}
		v, err := c.floats(l.cfg.Factors.Scale)
		if err != nil {
			return raw, err
		}
		values[canonical] = v
	}

	df := dataframe.New(
		frame.IntSeries(frame.Year, years),
		frame.IntSeries(frame.Month, months),
		frame.FloatSeries(frame.MktRF, values[frame.MktRF]),
		frame.FloatSeries(frame.SMB, values[frame.SMB]),
		frame.FloatSeries(frame.HML, values[frame.HML]),
		frame.FloatSeries(frame.RF, values[frame.RF]),
	)
	l.logLoaded(ctx, TableFactors, loc, df.Nrow())
	return df, df.Err
}

// monthlyBlock extracts the header and the YYYYMM rows of a factor file.
// Preamble lines before the header are skipped. A blank first header cell
// is named after the configured date column. It returns the block and the
// source line of every data row.
func (l *Loader) monthlyBlock(r io.Reader) (string, []int, error) {
	cols := l.cfg.Columns.Factors
	delim := string(l.cfg.Inputs.DelimiterRune())

	var b strings.Builder
	var lines []int
	headerFound := false

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		fields := strings.Split(text, delim)

		if !headerFound {
			if !containsField(fields, cols.MktRF) {
				continue
			}
			if strings.TrimSpace(fields[0]) == "" {
				fields[0] = cols.Date
			}
			b.WriteString(strings.Join(fields, delim))
			b.WriteByte('\n')
			headerFound = true
			continue
		}

		if !isMonthKey(fields[0]) {
			if l.cfg.Factors.SkipNonMonthly {
				break
			}
			return "", nil, apperrors.NewParsingError(
				fmt.Sprintf("%s: line %d: %q is not a YYYYMM period", TableFactors, lineNo, strings.TrimSpace(fields[0])), nil).
				WithContext("table", TableFactors).
				WithContext("line", lineNo)
		}
		b.WriteString(text)
		b.WriteByte('\n')
		lines = append(lines, lineNo)
	}
	if err := scanner.Err(); err != nil {
		return "", nil, apperrors.NewLoadError(TableFactors, err)
	}
	if !headerFound {
		return "", nil, apperrors.NewParsingError(
			fmt.Sprintf("%s: no header row with column %q", TableFactors, cols.MktRF), nil).
			WithContext("table", TableFactors)
	}
	return b.String(), lines, nil
}

func (l *Loader) dateColumn(raw dataframe.DataFrame, table, name string) ([]int, error) {
	c, err := pick(raw, table, name, nil)
	if err != nil {
		return nil, err
	}
	return c.dates(l.cfg.Inputs.DateLayout)
}

func containsField(fields []string, name string) bool {
	for _, f := range fields {
		if strings.EqualFold(strings.TrimSpace(f), name) {
			return true
		}
	}
	return false
}
