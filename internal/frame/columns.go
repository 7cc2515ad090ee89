// Package frame defines the canonical column names shared by every table in
// the pipeline and small typed accessors over gota data frames.
package frame

import (
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// Canonical column names
const (
	Permno       = "permno"
	Name         = "comnam"
	IndustryCode = "siccd"
	Begin        = "begdat"
	End          = "enddat"
	Date         = "date"
	Return       = "ret"
	ReturnExDiv  = "retx"
	Status       = "ret_status"
	Start        = "start"
	Ending       = "ending"
	Year         = "year"
	Month        = "month"
	Class        = "class"
	SicStart     = "sic_start"
	SicEnd       = "sic_end"
	MktRF        = "mktrf"
	SMB          = "smb"
	HML          = "hml"
	RF           = "rf"
)

// Table schemas, in output column order
var (
	FirmColumns           = []string{Permno, Name, IndustryCode, Begin, End}
	CalendarColumns       = []string{Date}
	MembershipColumns     = []string{Permno, Start, Ending}
	ReturnColumns         = []string{Permno, Date, Return, ReturnExDiv, Status}
	ClassificationColumns = []string{Class, SicStart, SicEnd}
	FactorColumns         = []string{Year, Month, MktRF, SMB, HML, RF}

	PanelColumns      = []string{Permno, Name, IndustryCode, Date, Return, ReturnExDiv, Status}
	MembershipOutput  = []string{Permno, Name, IndustryCode, Date, Return, ReturnExDiv, Status, Year, Month}
	ClassifiedColumns = []string{Permno, Name, IndustryCode, Date, Return, ReturnExDiv, Status, Year, Month, Class, SicStart, SicEnd}
	FinalColumns      = []string{Permno, Name, Date, Year, Month, Return, ReturnExDiv, Status, Class, MktRF, SMB, HML, RF}
)

// Types maps every canonical column to its gota type
var Types = map[string]series.Type{
	Permno:       series.Int,
	Name:         series.String,
	IndustryCode: series.Int,
	Begin:        series.Int,
	End:          series.Int,
	Date:         series.Int,
	Return:       series.Float,
	ReturnExDiv:  series.Float,
	Status:       series.String,
	Start:        series.Int,
	Ending:       series.Int,
	Year:         series.Int,
	Month:        series.Int,
	Class:        series.Int,
	SicStart:     series.Int,
	SicEnd:       series.Int,
	MktRF:        series.Float,
	SMB:          series.Float,
	HML:          series.Float,
	RF:           series.Float,
}

// NewEmpty returns a zero-row frame with the named canonical columns
func NewEmpty(cols []string) dataframe.DataFrame {
	s := make([]series.Series, len(cols))
	for i, c := range cols {
		switch Types[c] {
		case series.Int:
			s[i] = IntSeries(c, []int{})
		case series.Float:
			s[i] = FloatSeries(c, []float64{})
		default:
			s[i] = StringSeries(c, []string{})
		}
	}
	return dataframe.New(s...)
}
