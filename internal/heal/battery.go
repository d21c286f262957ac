package heal

import (
	"fmt"
	"strings"

	"github.com/tabwright-labs/tabwright/pkg/core"
)

// Battery test names.
const (
	TestReturnsValue   = "returns-a-value"
	TestGroupedContext = "grouped-context"
	TestRowSweep       = "row-sweep"
)

// DefaultBattery builds the standard test queries for a measure: a scalar
// probe, a grouped evaluation, and a bounded row sweep. groupColumn may be
// empty when the table has no parsed columns; the grouped probe then falls
// back to an ALLSELECTED calculate and the row sweep is omitted.
func DefaultBattery(table, measure, groupColumn string) []core.TestQuery {
	mref := "[" + measure + "]"
	tref := quoteTable(table)

	queries := []core.TestQuery{
		{
			Name:  TestReturnsValue,
			Query: fmt.Sprintf(`EVALUATE ROW("Value", %s)`, mref),
		},
	}

	if groupColumn == "" {
		queries = append(queries, core.TestQuery{
			Name:  TestGroupedContext,
			Query: fmt.Sprintf(`EVALUATE ROW("Value", CALCULATE(%s, ALLSELECTED()))`, mref),
		})
		return queries
	}

	cref := fmt.Sprintf("%s[%s]", tref, groupColumn)
	queries = append(queries,
		core.TestQuery{
			Name:  TestGroupedContext,
			Query: fmt.Sprintf(`EVALUATE SUMMARIZECOLUMNS(%s, "Value", %s)`, cref, mref),
		},
		core.TestQuery{
			Name:  TestRowSweep,
			Query: fmt.Sprintf(`EVALUATE TOPN(100, ADDCOLUMNS(VALUES(%s), "Value", %s))`, cref, mref),
		},
	)
	return queries
}

func quoteTable(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
