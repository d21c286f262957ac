package heal

import "testing"

func TestDefaultBattery(t *testing.T) {
	queries := DefaultBattery("Sales", "Total Sales", "Region")
	if len(queries) != 3 {
		t.Fatalf("expected 3 queries, got %d", len(queries))
	}

	want := map[string]string{
		TestReturnsValue:   `EVALUATE ROW("Value", [Total Sales])`,
		TestGroupedContext: `EVALUATE SUMMARIZECOLUMNS('Sales'[Region], "Value", [Total Sales])`,
		TestRowSweep:       `EVALUATE TOPN(100, ADDCOLUMNS(VALUES('Sales'[Region]), "Value", [Total Sales]))`,
	}
	for _, q := range queries {
		if q.Query != want[q.Name] {
			t.Errorf("%s: expected %q, got %q", q.Name, want[q.Name], q.Query)
		}
	}
}

func TestDefaultBattery_NoColumn(t *testing.T) {
	queries := DefaultBattery("Targets", "Goal", "")
	if len(queries) != 2 {
		t.Fatalf("expected 2 queries without a group column, got %d", len(queries))
	}
	if queries[1].Name != TestGroupedContext {
		t.Errorf("expected grouped-context fallback, got %q", queries[1].Name)
	}
	if queries[1].Query != `EVALUATE ROW("Value", CALCULATE([Goal], ALLSELECTED()))` {
		t.Errorf("unexpected fallback query %q", queries[1].Query)
	}
}

func TestDefaultBattery_QuotesTableName(t *testing.T) {
	queries := DefaultBattery("Bob's Data", "M", "Region")
	if got := queries[1].Query; got != `EVALUATE SUMMARIZECOLUMNS('Bob''s Data'[Region], "Value", [M])` {
		t.Errorf("unexpected quoting: %q", got)
	}
}
