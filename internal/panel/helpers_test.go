package panel

import (
	"context"
	"math"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/stretchr/testify/require"

	"factorpanel/internal/config"
	"factorpanel/internal/frame"
	"factorpanel/internal/shared/testutil"
	"factorpanel/pkg/contracts/domain"
)

var nan = math.NaN()

type returnRow struct {
	permno int
	date   int
	ret    float64
	retx   float64
	status domain.ReturnStatus
}

func firmsFrame(rows ...domain.Firm) dataframe.DataFrame {
	var permno, code, begin, end []int
	var name []string
	for _, r := range rows {
		permno = append(permno, r.Permno)
		code = append(code, r.IndustryCode)
		name = append(name, r.Name)
		begin = append(begin, int(r.Begin))
		end = append(end, int(r.End))
	}
	return dataframe.New(
		frame.IntSeries(frame.Permno, nonNilInts(permno)),
		frame.StringSeries(frame.Name, nonNilStrings(name)),
		frame.IntSeries(frame.IndustryCode, nonNilInts(code)),
		frame.IntSeries(frame.Begin, nonNilInts(begin)),
		frame.IntSeries(frame.End, nonNilInts(end)),
	)
}

func calendarFrame(dates ...int) dataframe.DataFrame {
	return dataframe.New(frame.IntSeries(frame.Date, nonNilInts(dates)))
}

func membershipFrame(rows ...domain.MembershipInterval) dataframe.DataFrame {
	var permno, start, end []int
	for _, r := range rows {
		permno = append(permno, r.Permno)
		start = append(start, int(r.Start))
		end = append(end, int(r.End))
	}
	return dataframe.New(
		frame.IntSeries(frame.Permno, nonNilInts(permno)),
		frame.IntSeries(frame.Start, nonNilInts(start)),
		frame.IntSeries(frame.Ending, nonNilInts(end)),
	)
}

func returnsFrame(rows ...returnRow) dataframe.DataFrame {
	var permno, date []int
	var ret, retx []float64
	var status []string
	for _, r := range rows {
		permno = append(permno, r.permno)
		date = append(date, r.date)
		ret = append(ret, r.ret)
		retx = append(retx, r.retx)
		status = append(status, string(r.status))
	}
	if ret == nil {
		ret, retx = []float64{}, []float64{}
	}
	return dataframe.New(
		frame.IntSeries(frame.Permno, nonNilInts(permno)),
		frame.IntSeries(frame.Date, nonNilInts(date)),
		frame.FloatSeries(frame.Return, ret),
		frame.FloatSeries(frame.ReturnExDiv, retx),
		frame.StringSeries(frame.Status, nonNilStrings(status)),
	)
}

func classesFrame(rows ...domain.ClassificationInterval) dataframe.DataFrame {
	var class, start, end []int
	for _, r := range rows {
		class = append(class, r.Class)
		start = append(start, r.Start)
		end = append(end, r.End)
	}
	return dataframe.New(
		frame.IntSeries(frame.Class, nonNilInts(class)),
		frame.IntSeries(frame.SicStart, nonNilInts(start)),
		frame.IntSeries(frame.SicEnd, nonNilInts(end)),
	)
}

func factorsFrame(rows ...domain.FactorRecord) dataframe.DataFrame {
	var year, month []int
	var mkt, smb, hml, rf []float64
	for _, r := range rows {
		year = append(year, r.Year)
		month = append(month, r.Month)
		mkt = append(mkt, r.MktRF)
		smb = append(smb, r.SMB)
		hml = append(hml, r.HML)
		rf = append(rf, r.RF)
	}
	if mkt == nil {
		mkt, smb, hml, rf = []float64{}, []float64{}, []float64{}, []float64{}
	}
	return dataframe.New(
		frame.IntSeries(frame.Year, nonNilInts(year)),
		frame.IntSeries(frame.Month, nonNilInts(month)),
		frame.FloatSeries(frame.MktRF, mkt),
		frame.FloatSeries(frame.SMB, smb),
		frame.FloatSeries(frame.HML, hml),
		frame.FloatSeries(frame.RF, rf),
	)
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func defaultOptions() Options {
	return Options{
		WindowStart:       19250101,
		WindowEnd:         20201231,
		MonthlyMembership: true,
		MissingPolicy:     config.PolicyZero,
		InvalidPolicy:     config.PolicyZero,
		OverlapPolicy:     config.OverlapWarn,
		Sentinel:          Sentinel{Class: 5, Bound: -9999},
		MaxRows:           1_000_000,
	}
}

var engines = []string{config.EngineFrame, config.EngineSQLite}

// forEachEngine runs fn once per join engine with a fresh builder
func forEachEngine(t *testing.T, opts Options, fn func(t *testing.T, b *Builder, logs *testutil.BufferedSlogHandler)) {
	t.Helper()
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			joiner, err := NewJoiner(context.Background(), engine)
			require.NoError(t, err)
			defer joiner.Close()

			logger, logs := testutil.NewTestLogger(t)
			fn(t, NewBuilder(opts, joiner, logger), logs)
		})
	}
}

func ints(t *testing.T, df dataframe.DataFrame, col string) []int {
	t.Helper()
	v, err := frame.Ints(df, col)
	require.NoError(t, err)
	return v
}

var richFirms = []domain.Firm{
	{Permno: 10001, IndustryCode: 1500, Name: "BUILDERS", Begin: 19241231, End: 20000331},
	{Permno: 10002, IndustryCode: 4925, Name: "GAS UTIL", Begin: 19990101, End: 20211231},
	{Permno: 10003, IndustryCode: 9999, Name: "MISC", Begin: 20000131, End: 20000229},
	{Permno: 10004, IndustryCode: 300, Name: "FARM", Begin: 19990630, End: 19991231},
	{Permno: 10001, IndustryCode: 1, Name: "BUILDERS OLD", Begin: 19000101, End: 19000101},
}

var richMembership = []domain.MembershipInterval{
	{Permno: 10001, Start: 19241201, End: 20000215},
	{Permno: 10002, Start: 19990115, End: 19991115},
	{Permno: 10002, Start: 20000301, End: 20211231},
	{Permno: 10003, Start: 20000101, End: 20000131},
	{Permno: 10004, Start: 19990101, End: 20001231},
}

// richInputs spans the analysis window edges, gaps between membership
// intervals, every return status, a valid-labelled row lacking RETX and
// an unmatched factor month
func richInputs() Inputs {
	calendar := []int{
		19241231, 19250130, 19991229, 19991130, 19991231,
		20000131, 20000229, 20000331, 20201231, 20210129,
	}
	var factors []domain.FactorRecord
	for _, ym := range [][2]int{{1925, 1}, {1999, 11}, {1999, 12}, {2000, 1}, {2000, 2}, {2020, 12}} {
		factors = append(factors, domain.FactorRecord{
			Year:  ym[0],
			Month: ym[1],
			MktRF: float64(ym[1]) / 100,
			SMB:   float64(ym[0]%7) / 100,
			HML:   -float64(ym[1]) / 200,
			RF:    0.001,
		})
	}

	return Inputs{
		Firms:      firmsFrame(richFirms...),
		Calendar:   calendarFrame(calendar...),
		Membership: membershipFrame(richMembership...),
		Returns: returnsFrame(
			returnRow{10001, 19250130, 0.031, 0.030, domain.ReturnValid},
			returnRow{10001, 19991229, nan, nan, domain.ReturnInvalid},
			returnRow{10001, 20000131, -0.25, -0.26, domain.ReturnValid},
			returnRow{10001, 20000229, 0.5, 0.5, domain.ReturnValid},
			returnRow{10002, 19991130, 0.012, 0.011, domain.ReturnValid},
			returnRow{10002, 20000331, 0.044, nan, domain.ReturnInvalid},
			returnRow{10002, 20201231, -0.01, nan, domain.ReturnValid},
			returnRow{10003, 20000131, 0.2, 0.19, domain.ReturnValid},
			returnRow{10003, 20000131, 0.7, 0.7, domain.ReturnValid},
			returnRow{10004, 19991231, -0.05, -0.05, domain.ReturnValid},
		),
		Classification: classesFrame(
			domain.ClassificationInterval{Class: 1, Start: 100, End: 999},
			domain.ClassificationInterval{Class: 2, Start: 1500, End: 1799},
			domain.ClassificationInterval{Class: 3, Start: 4900, End: 4949},
			domain.ClassificationInterval{Class: 4, Start: 5000, End: 5999},
		),
		Factors: factorsFrame(factors...),
	}
}
