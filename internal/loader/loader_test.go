package loader

import (
	"context"
	"encoding/hex"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"factorpanel/internal/config"
	apperrors "factorpanel/internal/errors"
	"factorpanel/internal/frame"
	"factorpanel/internal/shared/testutil"
)

const factorFile = `This file was created by CMPT_ME_BEME_RETS using the 202012 CRSP database.
The 1-month TBill return is from Ibbotson and Associates, Inc.

,Mkt-RF,SMB,HML,RF
200001,  -4.74,   5.76,  -1.88,   0.41
200002,   2.45,  21.42,  -9.70,   0.43

 Annual Factors: January-December 
,Mkt-RF,SMB,HML,RF
2000,  -17.60,   -1.50,  44.99,   5.89
`

type fixture struct {
	dir string
	cfg *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()

	cfg.Inputs.FirmHeader = testutil.WriteCSV(t, dir, "header.csv",
		[]string{"PERMNO", "HSICCD", "HCOMNAM", "BEGDAT", "ENDDAT"},
		[]string{"10001", "4925", "GAS CO", "31JAN2000", "31DEC2000"},
		[]string{"10002", "", "BANK CO", "29FEB2000", "31MAR2000"},
	)
	cfg.Inputs.IndexReturns = testutil.WriteCSV(t, dir, "index.csv",
		[]string{"DATE", "VWRETD"},
		[]string{"31jan2000", "0.01"},
		[]string{"29FEB2000", "0.02"},
	)
	cfg.Inputs.Membership = testutil.WriteCSV(t, dir, "membership.csv",
		[]string{"PERMNO", "START", "ENDING"},
		[]string{"10001", "01JAN1990", "31DEC2020"},
	)
	cfg.Inputs.FirmReturns = testutil.WriteCSV(t, dir, "returns.csv",
		[]string{"PERMNO", "DATE", "RET", "RETX"},
		[]string{"10001", "31JAN2000", "0.05", "0.04"},
		[]string{"10001", "29FEB2000", "C", "C"},
		[]string{"10002", "29FEB2000", "-1.5", "-1.5"},
		[]string{"10002", "31MAR2000", "0.02", "-2"},
		[]string{"10002", "30APR2000", "NaN", ""},
		[]string{"10002", "31MAY2000", "0.03", ""},
		[]string{"10002", "30JUN2000", "0.01", "B"},
	)
	cfg.Inputs.Classification = testutil.WriteCSV(t, dir, "sic.csv",
		[]string{"scheme", "class", "start", "end"},
		[]string{"5", "1", "100", "999"},
		[]string{"5", "2", "4900", "4949"},
		[]string{"10", "7", "100", "9999"},
	)
	path := filepath.Join(dir, "factors.csv")
	require.NoError(t, os.WriteFile(path, []byte(factorFile), 0o644))
	cfg.Inputs.Factors = path

	return &fixture{dir: dir, cfg: cfg}
}

func (f *fixture) loader(t *testing.T) *Loader {
	logger, _ := testutil.NewTestLogger(t)
	return New(f.cfg, logger)
}

func TestLoadFirms(t *testing.T) {
	f := newFixture(t)
	df, err := f.loader(t).LoadFirms(context.Background())
	require.NoError(t, err)

	assert.Equal(t, frame.FirmColumns, df.Names())
	permnos, _ := frame.Ints(df, frame.Permno)
	assert.Equal(t, []int{10001, 10002}, permnos)
	codes, _ := frame.Ints(df, frame.IndustryCode)
	assert.Equal(t, []int{4925, 0}, codes)
	begin, _ := frame.Ints(df, frame.Begin)
	assert.Equal(t, []int{20000131, 20000229}, begin)
	assert.Equal(t, []string{"GAS CO", "BANK CO"}, frame.Strings(df, frame.Name))
}

func TestLoadFirmsBadDate(t *testing.T) {
	f := newFixture(t)
	f.cfg.Inputs.FirmHeader = testutil.WriteCSV(t, f.dir, "bad.csv",
		[]string{"PERMNO", "HSICCD", "HCOMNAM", "BEGDAT", "ENDDAT"},
		[]string{"10001", "4925", "GAS CO", "31JAN2000", "31DEC2000"},
		[]string{"10002", "6000", "BANK CO", "2000-02-29", "31MAR2000"},
	)

	_, err := f.loader(t).LoadFirms(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeParsing))
	assert.Contains(t, err.Error(), "BEGDAT")
	assert.Contains(t, err.Error(), "line 3")
	assert.Contains(t, err.Error(), "2000-02-29")
}

func TestLoadMissingColumn(t *testing.T) {
	f := newFixture(t)
	f.cfg.Columns.Membership.End = "FINISH"

	_, err := f.loader(t).LoadMembership(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeParsing))
	assert.Contains(t, err.Error(), `"FINISH"`)
}

func TestLoadMissingFile(t *testing.T) {
	f := newFixture(t)
	f.cfg.Inputs.Membership = filepath.Join(f.dir, "absent.csv")

	_, err := f.loader(t).LoadMembership(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeLoad))
}

func TestLoadHeaderOnly(t *testing.T) {
	f := newFixture(t)
	f.cfg.Inputs.Membership = testutil.WriteCSV(t, f.dir, "no_members.csv", []string{"PERMNO", "START", "ENDING"})
	f.cfg.Inputs.FirmReturns = testutil.WriteCSV(t, f.dir, "no_returns.csv", []string{"PERMNO", "DATE", "RET", "RETX"})
	l := f.loader(t)

	members, err := l.LoadMembership(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, members.Nrow())
	assert.Equal(t, []string{frame.Permno, frame.Start, frame.Ending}, members.Names())

	returns, err := l.LoadReturns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, returns.Nrow())

	empty := filepath.Join(f.dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	f.cfg.Inputs.Membership = empty
	_, err = f.loader(t).LoadMembership(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeParsing))
}

func TestLoadReturnsStatus(t *testing.T) {
	f := newFixture(t)
	df, err := f.loader(t).LoadReturns(context.Background())
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"valid", "missing", "invalid", "invalid", "missing", "missing", "missing"},
		frame.Strings(df, frame.Status))

	ret := frame.Floats(df, frame.Return)
	assert.Equal(t, 0.05, ret[0])
	assert.True(t, math.IsNaN(ret[1]))
	assert.True(t, math.IsNaN(ret[2]))
	// RET stays usable when only RETX is below the floor
	assert.Equal(t, 0.02, ret[3])
	retx := frame.Floats(df, frame.ReturnExDiv)
	assert.True(t, math.IsNaN(retx[3]))

	// a usable RET does not make the row valid when RETX is absent
	assert.Equal(t, 0.03, ret[5])
	assert.True(t, math.IsNaN(retx[5]))
	assert.Equal(t, 0.01, ret[6])
	assert.True(t, math.IsNaN(retx[6]))
}

func TestLoadClassification(t *testing.T) {
	f := newFixture(t)
	df, err := f.loader(t).LoadClassification(context.Background())
	require.NoError(t, err)

	classes, _ := frame.Ints(df, frame.Class)
	assert.Equal(t, []int{1, 2}, classes, "other schemes are filtered out")

	f.cfg.Columns.Classification.Scheme = ""
	df, err = f.loader(t).LoadClassification(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, df.Nrow())
}

func TestLoadClassificationInvertedRange(t *testing.T) {
	f := newFixture(t)
	f.cfg.Inputs.Classification = testutil.WriteCSV(t, f.dir, "inverted.csv",
		[]string{"class", "start", "end"},
		[]string{"1", "999", "100"},
	)
	_, err := f.loader(t).LoadClassification(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

func TestLoadFactors(t *testing.T) {
	f := newFixture(t)
	df, err := f.loader(t).LoadFactors(context.Background())
	require.NoError(t, err)

	assert.Equal(t, frame.FactorColumns, df.Names())
	require.Equal(t, 2, df.Nrow(), "annual block is skipped")
	years, _ := frame.Ints(df, frame.Year)
	months, _ := frame.Ints(df, frame.Month)
	assert.Equal(t, []int{2000, 2000}, years)
	assert.Equal(t, []int{1, 2}, months)
	assert.InDelta(t, -0.0474, frame.Floats(df, frame.MktRF)[0], 1e-12)
	assert.InDelta(t, 0.0043, frame.Floats(df, frame.RF)[1], 1e-12)
}

func TestLoadFactorsStrict(t *testing.T) {
	f := newFixture(t)
	f.cfg.Factors.SkipNonMonthly = false

	_, err := f.loader(t).LoadFactors(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeParsing))
	assert.Contains(t, err.Error(), "Annual Factors")
}

func TestLoadRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/factors.csv" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(factorFile))
	}))
	defer srv.Close()

	f := newFixture(t)
	f.cfg.Inputs.Factors = srv.URL + "/factors.csv"
	df, err := f.loader(t).LoadFactors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, df.Nrow())

	f.cfg.Inputs.Factors = srv.URL + "/missing.csv"
	_, err = f.loader(t).LoadFactors(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeLoad))
	assert.Contains(t, err.Error(), "404")
}

func TestLoadAll(t *testing.T) {
	f := newFixture(t)
	tables, err := f.loader(t).LoadAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, tables.Firms.Nrow())
	assert.Equal(t, 2, tables.Calendar.Nrow())
	assert.Equal(t, 1, tables.Membership.Nrow())
	assert.Equal(t, 7, tables.Returns.Nrow())
	assert.Equal(t, 2, tables.Classification.Nrow())
	assert.Equal(t, 2, tables.Factors.Nrow())

	require.Len(t, tables.Sources, 6)
	raw, err := os.ReadFile(f.cfg.Inputs.Factors)
	require.NoError(t, err)
	sum := blake2b.Sum256(raw)
	assert.Equal(t, hex.EncodeToString(sum[:]), tables.Sources[TableFactors].Digest)
	assert.Equal(t, int64(len(raw)), tables.Sources[TableFactors].Bytes)
}

func TestLoadAllFailsFast(t *testing.T) {
	f := newFixture(t)
	f.cfg.Inputs.Factors = filepath.Join(f.dir, "absent.csv")

	tables, err := f.loader(t).LoadAll(context.Background())
	assert.Nil(t, tables)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeLoad))
}

func TestParseHelpers(t *testing.T) {
	n, err := parseInt(" 10107.0 ")
	require.NoError(t, err)
	assert.Equal(t, 10107, n)
	_, err = parseInt("10.5")
	assert.Error(t, err)

	assert.True(t, isMonthKey("192607"))
	assert.False(t, isMonthKey("1926"))
	assert.False(t, isMonthKey("192613"))
	assert.False(t, isMonthKey(" Annual"))
}
