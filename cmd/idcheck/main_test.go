package main

import (
	"strings"
	"testing"
	"time"

	"idcheck.org/internal/checker"
	"idcheck.org/internal/idcard"
)

func TestFormat(t *testing.T) {
	ref := time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)
	got := format(checker.NewVerdict("11010519491231002X", idcard.Validate("11010519491231002X", ref)))
	if got != "11010519491231002X\tvalid\t1949-12-31\tfemale" {
		t.Fatalf("unexpected line %q", got)
	}
	got = format(checker.NewVerdict("11010519491231000X", idcard.Validate("11010519491231000X", ref)))
	if !strings.HasPrefix(got, "11010519491231000X\tinvalid\tchecksum_mismatch\t") {
		t.Fatalf("unexpected line %q", got)
	}
}

func TestReadLines(t *testing.T) {
	lines, err := readLines(strings.NewReader("  11010519491231002X \n\n440302198802034569\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || lines[0] != "11010519491231002X" {
		t.Fatalf("unexpected lines %q", lines)
	}
}
