package main

import (
	"reflect"
	"testing"

	"github.com/gogpu/compose/imagekey"
)

func TestParseFrameRangesSingle(t *testing.T) {
	got, err := parseFrameRanges("5")
	if err != nil {
		t.Fatalf("parseFrameRanges() error = %v", err)
	}
	want := []imagekey.Time{5}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseFrameRanges(\"5\") = %v, want %v", got, want)
	}
}

func TestParseFrameRangesInclusiveRange(t *testing.T) {
	got, err := parseFrameRanges("1-4")
	if err != nil {
		t.Fatalf("parseFrameRanges() error = %v", err)
	}
	want := []imagekey.Time{1, 2, 3, 4}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseFrameRanges(\"1-4\") = %v, want %v", got, want)
	}
}

func TestParseFrameRangesMultipleCommaSeparated(t *testing.T) {
	got, err := parseFrameRanges("1-2,10-11")
	if err != nil {
		t.Fatalf("parseFrameRanges() error = %v", err)
	}
	want := []imagekey.Time{1, 2, 10, 11}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseFrameRanges(\"1-2,10-11\") = %v, want %v", got, want)
	}
}

func TestParseFrameRangesReversedBoundsNormalized(t *testing.T) {
	got, err := parseFrameRanges("4-1")
	if err != nil {
		t.Fatalf("parseFrameRanges() error = %v", err)
	}
	want := []imagekey.Time{1, 2, 3, 4}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseFrameRanges(\"4-1\") = %v, want %v", got, want)
	}
}

func TestParseFrameRangesRejectsEmpty(t *testing.T) {
	if _, err := parseFrameRanges(""); err == nil {
		t.Fatalf("parseFrameRanges(\"\") error = nil, want error")
	}
}

func TestParseFrameRangesRejectsGarbage(t *testing.T) {
	cases := []string{"a-b", "1-", "x"}
	for _, c := range cases {
		if _, err := parseFrameRanges(c); err == nil {
			t.Errorf("parseFrameRanges(%q) error = nil, want error", c)
		}
	}
}
