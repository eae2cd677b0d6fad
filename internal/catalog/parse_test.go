package catalog

import (
	"strings"
	"testing"
)

func TestParseSourceBasic(t *testing.T) {
	input := strings.Join([]string{
		"S. No.,Product Name,Input Image URLs",
		"1,Widget,\"http://example.com/a.png, http://example.com/b.png\"",
		"2,Gadget,http://example.com/c.png",
	}, "\n") + "\n"

	rows, rowErrs, err := parseSource(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parseSource returned error: %v", err)
	}
	if len(rowErrs) != 0 {
		t.Fatalf("unexpected row errors: %+v", rowErrs)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	first := rows[0]
	if first.serialNumber != 1 || first.productName != "Widget" {
		t.Fatalf("unexpected first row: %+v", first)
	}
	if len(first.inputRefs) != 2 || first.inputRefs[1] != "http://example.com/b.png" {
		t.Fatalf("unexpected input refs: %#v", first.inputRefs)
	}
}

func TestParseSourceSkipsInvalidSerial(t *testing.T) {
	input := strings.Join([]string{
		"S. No.,Product Name,Input Image URLs",
		"one,Widget,http://example.com/a.png",
		"2,Gadget,http://example.com/c.png",
	}, "\n") + "\n"

	rows, rowErrs, err := parseSource(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parseSource returned error: %v", err)
	}
	if len(rows) != 1 || rows[0].serialNumber != 2 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if len(rowErrs) != 1 || rowErrs[0].line != 2 {
		t.Fatalf("unexpected row errors: %+v", rowErrs)
	}
}

func TestParseSourceSkipsShortRows(t *testing.T) {
	input := strings.Join([]string{
		"S. No.,Product Name,Input Image URLs",
		"1,MissingURLs",
		"2,Gadget,http://example.com/c.png",
	}, "\n") + "\n"

	rows, rowErrs, err := parseSource(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parseSource returned error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if len(rowErrs) != 1 {
		t.Fatalf("row errors = %d, want 1", len(rowErrs))
	}
}

func TestParseSourceEmptyInput(t *testing.T) {
	if _, _, err := parseSource(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty source")
	}
}

func TestParseSourceHeaderOnly(t *testing.T) {
	rows, rowErrs, err := parseSource(strings.NewReader("S. No.,Product Name,Input Image URLs\n"))
	if err != nil {
		t.Fatalf("parseSource returned error: %v", err)
	}
	if len(rows) != 0 || len(rowErrs) != 0 {
		t.Fatalf("unexpected result: rows=%d errors=%d", len(rows), len(rowErrs))
	}
}

func TestSplitRefsDropsEmptyEntries(t *testing.T) {
	refs := splitRefs("http://a, ,http://b,")
	if len(refs) != 2 || refs[0] != "http://a" || refs[1] != "http://b" {
		t.Fatalf("unexpected refs: %#v", refs)
	}
}
