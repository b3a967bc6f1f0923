package crud

import (
	"fmt"

	"github.com/dsi-data/logops/internal/apperr"
	"github.com/dsi-data/logops/internal/model"
)

// argsBuilder accumulates positional query parameters and hands back
// $N placeholders in the order they were added, so query fragments can
// be composed without the caller tracking placeholder numbers by hand.
type argsBuilder struct {
	args []interface{}
}

func (b *argsBuilder) add(v interface{}) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// timeFilterSQL renders filters' date constraint against column, using b
// to mint placeholders. It returns "" if filters carries no date
// constraint (the caller is then responsible for supplying one, e.g. the
// retention gate's default cutoff).
func timeFilterSQL(b *argsBuilder, column string, filters model.Filters) (string, error) {
	if filters.DateOperation == "" {
		return "", nil
	}

	switch filters.DateOperation {
	case "between":
		if filters.DateStart == nil || filters.DateEnd == nil {
			return "", apperr.New(apperr.ValidationError, "between filter requires both start and end")
		}
		ph1 := b.add(*filters.DateStart)
		ph2 := b.add(*filters.DateEnd)
		return fmt.Sprintf("%s >= %s AND %s <= %s", column, ph1, column, ph2), nil
	case "greater_than":
		if filters.DateStart == nil {
			return "", apperr.New(apperr.ValidationError, "greater_than filter requires a start")
		}
		ph := b.add(*filters.DateStart)
		return fmt.Sprintf("%s >= %s", column, ph), nil
	case "less_than":
		if filters.DateEnd == nil {
			return "", apperr.New(apperr.ValidationError, "less_than filter requires an end")
		}
		ph := b.add(*filters.DateEnd)
		return fmt.Sprintf("%s <= %s", column, ph), nil
	case "equals":
		if filters.DateStart == nil {
			return "", apperr.New(apperr.ValidationError, "equals filter requires a value")
		}
		ph := b.add(*filters.DateStart)
		return fmt.Sprintf("%s = %s", column, ph), nil
	default:
		return "", apperr.New(apperr.ValidationError, fmt.Sprintf("unknown date operation %q", filters.DateOperation))
	}
}
