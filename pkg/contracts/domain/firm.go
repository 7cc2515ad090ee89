package domain

import (
	"fmt"
	"time"
)

// DateKey is a calendar date packed as yyyymmdd. Packed keys sort in
// calendar order, which lets tables compare dates as plain integers.
type DateKey int

// NewDateKey packs a time value into a DateKey using its calendar date.
func NewDateKey(t time.Time) DateKey {
	return DateKey(t.Year()*10000 + int(t.Month())*100 + t.Day())
}

// Year returns the calendar year
func (d DateKey) Year() int {
	return int(d) / 10000
}

// Month returns the calendar month (1-12)
func (d DateKey) Month() int {
	return int(d) / 100 % 100
}

// Day returns the day of month
func (d DateKey) Day() int {
	return int(d) % 100
}

// Time converts the key back to a UTC midnight timestamp
func (d DateKey) Time() time.Time {
	return time.Date(d.Year(), time.Month(d.Month()), d.Day(), 0, 0, 0, 0, time.UTC)
}

// String formats the key as ISO 8601
func (d DateKey) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year(), d.Month(), d.Day())
}

// Firm is one record of the firm header file
type Firm struct {
	Permno       int     `json:"permno"`
	IndustryCode int     `json:"siccd"`
	Name         string  `json:"comnam"`
	Begin        DateKey `json:"begdat"`
	End          DateKey `json:"enddat"`
}

// Active reports whether the firm was trading on the given date
func (f Firm) Active(d DateKey) bool {
	return d >= f.Begin && d <= f.End
}

// MembershipInterval is a period during which a firm was an index constituent
type MembershipInterval struct {
	Permno int     `json:"permno"`
	Start  DateKey `json:"start"`
	End    DateKey `json:"ending"`
}

// Contains reports whether d lies inside the closed interval
func (m MembershipInterval) Contains(d DateKey) bool {
	return d >= m.Start && d <= m.End
}

// ClassificationInterval maps a closed range of raw industry codes to a class
type ClassificationInterval struct {
	Class int `json:"class"`
	Start int `json:"sic_start"`
	End   int `json:"sic_end"`
}

// Contains reports whether code lies inside the closed range
func (c ClassificationInterval) Contains(code int) bool {
	return code >= c.Start && code <= c.End
}

// FactorRecord holds one month of three-factor data in fractional units
type FactorRecord struct {
	Year  int     `json:"year"`
	Month int     `json:"month"`
	MktRF float64 `json:"mktrf"`
	SMB   float64 `json:"smb"`
	HML   float64 `json:"hml"`
	RF    float64 `json:"rf"`
}
