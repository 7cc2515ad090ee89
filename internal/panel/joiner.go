package panel

import (
	"context"
	"fmt"

	"github.com/go-gota/gota/dataframe"

	"factorpanel/internal/config"
	"factorpanel/pkg/contracts/domain"
)

// Joiner performs the relational steps of a build. Implementations must
// return identical tables for identical inputs, preserving the row order of
// the left table and, within one left row, the documented match order.
type Joiner interface {
	// Name identifies the engine in logs
	Name() string

	// CrossActive pairs every firm with every calendar date and keeps the
	// pairs inside the firm's trading window. Firms and calendar arrive
	// sorted, the output has columns permno, comnam, siccd, date.
	CrossActive(ctx context.Context, firms, calendar dataframe.DataFrame) (dataframe.DataFrame, error)

	// AttachReturns left joins returns on (permno, date). Repeated return
	// keys keep their first row; the count of ignored rows is returned.
	// Unmatched rows get NaN returns with status missing.
	AttachReturns(ctx context.Context, panel, returns dataframe.DataFrame) (dataframe.DataFrame, int, error)

	// JoinMembership emits one row per (panel row, membership interval)
	// containing the row's date, intervals ordered by (start, ending), and
	// keeps only dates inside [start, end].
	JoinMembership(ctx context.Context, panel, membership dataframe.DataFrame, start, end domain.DateKey) (dataframe.DataFrame, error)

	// JoinClassification emits one row per range containing siccd, ordered
	// by (sic_start, sic_end, class), or a single sentinel row when none does.
	JoinClassification(ctx context.Context, panel, classes dataframe.DataFrame, sentinel Sentinel) (dataframe.DataFrame, error)

	// JoinFactors left joins factors on (year, month), first row per key
	// wins, unmatched rows get NaN factors.
	JoinFactors(ctx context.Context, panel, factors dataframe.DataFrame) (dataframe.DataFrame, error)

	Close() error
}

// NewJoiner returns the engine selected by name
func NewJoiner(ctx context.Context, engine string) (Joiner, error) {
	switch engine {
	case config.EngineFrame, "":
		return NewFrameJoiner(), nil
	case config.EngineSQLite:
		return NewSQLiteJoiner(ctx)
	default:
		return nil, fmt.Errorf("unknown join engine %q", engine)
	}
}
