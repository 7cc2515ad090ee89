package domain

// ReturnStatus distinguishes the reasons a return can be absent
type ReturnStatus string

const (
	// ReturnValid marks a recorded return at or above the floor
	ReturnValid ReturnStatus = "valid"
	// ReturnInvalid marks a recorded return below the floor (data error)
	ReturnInvalid ReturnStatus = "invalid"
	// ReturnMissing marks an active trading date without a usable return
	ReturnMissing ReturnStatus = "missing"
)

// IsValid reports whether s is one of the known statuses
func (s ReturnStatus) IsValid() bool {
	switch s {
	case ReturnValid, ReturnInvalid, ReturnMissing:
		return true
	}
	return false
}

// AnalysisRow is the unit of observation for regression and plotting
type AnalysisRow struct {
	Permno      int     `json:"permno" parquet:"permno"`
	Name        string  `json:"comnam" parquet:"comnam"`
	Date        int     `json:"date" parquet:"date"`
	Year        int     `json:"year" parquet:"year"`
	Month       int     `json:"month" parquet:"month"`
	Return      float64 `json:"ret" parquet:"ret"`
	ReturnExDiv float64 `json:"retx" parquet:"retx"`
	Status      string  `json:"ret_status" parquet:"ret_status"`
	Class       int     `json:"class" parquet:"class"`
	MktRF       float64 `json:"mktrf" parquet:"mktrf"`
	SMB         float64 `json:"smb" parquet:"smb"`
	HML         float64 `json:"hml" parquet:"hml"`
	RF          float64 `json:"rf" parquet:"rf"`
}
