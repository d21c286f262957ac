package tmdl

import (
	"bytes"
	"strings"
	"testing"
)

func TestSerialize_CleanRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{
			name: "basic table",
			content: `table Sales
	lineageTag: tbl-001

	/// Total revenue for the period
	measure 'Total Sales' = SUM('Sales'[Amount])
		formatString: #,0.00
		lineageTag: m-001

	measure Orders = COUNTROWS('Sales')
		lineageTag: m-002

	column Amount
		dataType: decimal
`,
		},
		{
			name:    "extra blank lines",
			content: "table T\n\n\n\tmeasure M = 1\n\n\n\tmeasure N = 2\n\n",
		},
		{
			name:    "no trailing newline",
			content: "table T\n\tmeasure M = 1",
		},
		{
			name: "crlf terminators",
			content: strings.ReplaceAll(`table T
	measure M = 1
		lineageTag: m-1
`, "\n", "\r\n"),
		},
		{
			name: "relationships only",
			content: `relationship a1b2c3d4
	fromColumn: 'Sales'[CustomerID]
	toColumn: 'Customers'[ID]
`,
		},
		{
			name: "stray measure after columns",
			content: `table T
	measure A = 1

	column C
		dataType: string

	measure B = 2
`,
		},
		{
			name: "unreadable measure block",
			content: `table T
	measure Broken
		lineageTag: m-1

	measure Good = 1
`,
		},
		{
			name:    "space indentation",
			content: "table S\n    lineageTag: t-1\n\n    measure M = 1\n",
		},
	}

	for _, tc := range cases {
		doc, err := Parse("model.tmdl", []byte(tc.content))
		if err != nil {
			t.Fatalf("%s: failed to parse: %v", tc.name, err)
		}
		got := doc.Serialize()
		if !bytes.Equal(got, []byte(tc.content)) {
			t.Errorf("%s: round trip mismatch:\ngot:  %q\nwant: %q", tc.name, got, tc.content)
		}
	}
}

func TestSerialize_UpdateRewritesSingleSpan(t *testing.T) {
	content := `table Sales
	lineageTag: tbl-001

	/// Total revenue for the period
	measure 'Total Sales' = SUM('Sales'[Amount])
		formatString: #,0.00
		lineageTag: m-001

	measure Orders = COUNTROWS('Sales')
		lineageTag: m-002

	column Amount
		dataType: decimal
`
	doc, err := Parse("sales.tmdl", []byte(content))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	tbl := doc.Table("Sales")
	m := tbl.Measure("Orders")
	m.Expression = "DIVIDE([Total Sales], [Order Count], 0)"
	m.MarkDirty()
	tbl.MarkDirty()

	want := `table Sales
	lineageTag: tbl-001

	/// Total revenue for the period
	measure 'Total Sales' = SUM('Sales'[Amount])
		formatString: #,0.00
		lineageTag: m-001

	measure Orders = DIVIDE([Total Sales], [Order Count], 0)
		lineageTag: m-002

	column Amount
		dataType: decimal
`
	if got := string(doc.Serialize()); got != want {
		t.Errorf("serialized document mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestSerialize_AppendMeasure(t *testing.T) {
	content := `table Sales
	lineageTag: tbl-001

	/// Total revenue for the period
	measure 'Total Sales' = SUM('Sales'[Amount])
		formatString: #,0.00
		lineageTag: m-001

	measure Orders = COUNTROWS('Sales')
		lineageTag: m-002

	column Amount
		dataType: decimal
`
	doc, err := Parse("sales.tmdl", []byte(content))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	tbl := doc.Table("Sales")
	tbl.AppendMeasure(&Measure{
		Name:         "Order Count",
		Expression:   "DISTINCTCOUNT('Sales'[OrderID])",
		FormatString: "#,0",
		Description:  "Distinct order count.",
		IdentityTag:  "m-003",
		Annotations:  []Annotation{{Name: "PBI_FormatHint", Value: `{"isDecimalNumber":true}`}},
	})

	want := `table Sales
	lineageTag: tbl-001

	/// Total revenue for the period
	measure 'Total Sales' = SUM('Sales'[Amount])
		formatString: #,0.00
		lineageTag: m-001

	measure Orders = COUNTROWS('Sales')
		lineageTag: m-002

	/// Distinct order count.
	measure 'Order Count' = DISTINCTCOUNT('Sales'[OrderID])
		formatString: #,0
		lineageTag: m-003
		annotation PBI_FormatHint = {"isDecimalNumber":true}

	column Amount
		dataType: decimal
`
	if got := string(doc.Serialize()); got != want {
		t.Errorf("serialized document mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestSerialize_InsertIntoTableWithoutMeasures(t *testing.T) {
	content := `table Empty
	lineageTag: t-9

	column A
		dataType: string
`
	doc, err := Parse("empty.tmdl", []byte(content))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	doc.Table("Empty").AppendMeasure(&Measure{Name: "First", Expression: "1"})

	want := `table Empty
	lineageTag: t-9

	measure First = 1

	column A
		dataType: string
`
	if got := string(doc.Serialize()); got != want {
		t.Errorf("serialized document mismatch:\ngot:  %q\nwant: %q", got, want)
	}

	// Without an identity tag the block lands right after the declaration.
	content = `table Bare

	column C
		dataType: string
`
	doc, err = Parse("bare.tmdl", []byte(content))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	doc.Table("Bare").AppendMeasure(&Measure{Name: "First", Expression: "1"})

	want = `table Bare

	measure First = 1

	column C
		dataType: string
`
	if got := string(doc.Serialize()); got != want {
		t.Errorf("serialized document mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestSerialize_DeleteMeasure(t *testing.T) {
	content := `table Sales
	lineageTag: tbl-001

	/// Total revenue for the period
	measure 'Total Sales' = SUM('Sales'[Amount])
		formatString: #,0.00
		lineageTag: m-001

	measure Orders = COUNTROWS('Sales')
		lineageTag: m-002

	column Amount
		dataType: decimal
`
	doc, err := Parse("sales.tmdl", []byte(content))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if removed := doc.Table("Sales").RemoveMeasure("Total Sales"); removed == nil {
		t.Fatal("expected RemoveMeasure to return the detached measure")
	}

	want := `table Sales
	lineageTag: tbl-001

	measure Orders = COUNTROWS('Sales')
		lineageTag: m-002

	column Amount
		dataType: decimal
`
	if got := string(doc.Serialize()); got != want {
		t.Errorf("serialized document mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestSerialize_DeleteOnlyMeasureCollapsesBlanks(t *testing.T) {
	content := `table T
	lineageTag: t-1

	measure Only = 1
		lineageTag: m-1

	column C
		dataType: int64
`
	doc, err := Parse("t.tmdl", []byte(content))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	doc.Table("T").RemoveMeasure("Only")

	want := `table T
	lineageTag: t-1

	column C
		dataType: int64
`
	if got := string(doc.Serialize()); got != want {
		t.Errorf("serialized document mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestSerialize_MultilineRender(t *testing.T) {
	content := `table T
	measure M = 1
		lineageTag: m-1
`
	doc, err := Parse("t.tmdl", []byte(content))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	tbl := doc.Table("T")
	m := tbl.Measure("M")
	m.Expression = "DIVIDE(\n\t[A],\n\t[B],\n\t0\n)"
	m.MarkDirty()
	tbl.MarkDirty()

	want := `table T
	measure M =
		DIVIDE(
			[A],
			[B],
			0
		)
		lineageTag: m-1
`
	got := string(doc.Serialize())
	if got != want {
		t.Fatalf("serialized document mismatch:\ngot:  %q\nwant: %q", got, want)
	}

	// The block form parses back to the same expression.
	reparsed, err := Parse("t.tmdl", []byte(got))
	if err != nil {
		t.Fatalf("failed to re-parse serialized document: %v", err)
	}
	back := reparsed.Table("T").Measure("M")
	if back == nil {
		t.Fatal("expected measure 'M' after re-parse")
	}
	if back.Expression != m.Expression {
		t.Errorf("expression changed across round trip:\ngot:  %q\nwant: %q", back.Expression, m.Expression)
	}
}

func TestSerialize_RenameQuotesName(t *testing.T) {
	content := "table T\n\tmeasure M = 1\n"
	doc, err := Parse("t.tmdl", []byte(content))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	tbl := doc.Table("T")
	m := tbl.Measure("M")
	m.Name = "M 2"
	m.MarkDirty()
	tbl.MarkDirty()

	want := "table T\n\tmeasure 'M 2' = 1\n"
	if got := string(doc.Serialize()); got != want {
		t.Errorf("serialized document mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestSerialize_CRLFMutation(t *testing.T) {
	lf := `table T
	measure M = 1
		lineageTag: m-1
`
	content := strings.ReplaceAll(lf, "\n", "\r\n")
	doc, err := Parse("t.tmdl", []byte(content))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	tbl := doc.Table("T")
	m := tbl.Measure("M")
	m.Expression = "2"
	m.MarkDirty()
	tbl.MarkDirty()

	want := strings.ReplaceAll(`table T
	measure M = 2
		lineageTag: m-1
`, "\n", "\r\n")
	if got := string(doc.Serialize()); got != want {
		t.Errorf("serialized document mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestSerialize_NoFinalNewlinePreserved(t *testing.T) {
	content := "table T\n\tmeasure M = 1"
	doc, err := Parse("t.tmdl", []byte(content))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	tbl := doc.Table("T")
	m := tbl.Measure("M")
	m.Expression = "2"
	m.MarkDirty()
	tbl.MarkDirty()

	want := "table T\n\tmeasure M = 2"
	if got := string(doc.Serialize()); got != want {
		t.Errorf("serialized document mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestSerialize_PreservesStrayBlocks(t *testing.T) {
	content := `table T
	measure A = 1

	column C
		dataType: string

	measure B = 2
`
	doc, err := Parse("t.tmdl", []byte(content))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	tbl := doc.Table("T")
	m := tbl.Measure("A")
	m.Expression = "9"
	m.MarkDirty()
	tbl.MarkDirty()

	want := `table T
	measure A = 9

	column C
		dataType: string

	measure B = 2
`
	if got := string(doc.Serialize()); got != want {
		t.Errorf("serialized document mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestSerialize_MultipleTables(t *testing.T) {
	content := `table A
	lineageTag: t-a

	measure M1 = 1

table B
	lineageTag: t-b

	measure M2 = 2
`
	doc, err := Parse("model.tmdl", []byte(content))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	for name, expr := range map[string]string{"M1": "10", "M2": "20"} {
		tbl, m := doc.FindMeasure(name)
		m.Expression = expr
		m.MarkDirty()
		tbl.MarkDirty()
	}

	want := `table A
	lineageTag: t-a

	measure M1 = 10

table B
	lineageTag: t-b

	measure M2 = 20
`
	if got := string(doc.Serialize()); got != want {
		t.Errorf("serialized document mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestSerialize_MixedMutations(t *testing.T) {
	content := `table T
	lineageTag: t-1

	measure A = 1
		lineageTag: m-a

	measure B = 2
		lineageTag: m-b

	measure C = 3
		lineageTag: m-c
`
	doc, err := Parse("t.tmdl", []byte(content))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	tbl := doc.Table("T")
	tbl.RemoveMeasure("B")
	c := tbl.Measure("C")
	c.Expression = "30"
	c.MarkDirty()
	tbl.AppendMeasure(&Measure{Name: "D", Expression: "4"})

	want := `table T
	lineageTag: t-1

	measure A = 1
		lineageTag: m-a

	measure C = 30
		lineageTag: m-c

	measure D = 4
`
	if got := string(doc.Serialize()); got != want {
		t.Errorf("serialized document mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}
