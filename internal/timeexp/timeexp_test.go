// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package timeexp

import (
	"errors"
	"testing"

	"github.com/tomtom215/markerforge/internal/models"
)

func testContext(isEnd bool) Context {
	return Context{
		Markers: []*models.Marker{
			{ID: 1, Start: 5000, End: 65000, Index: 0, Type: models.MarkerTypeIntro},
			{ID: 2, Start: 1200000, End: 1260000, Index: 1, Type: models.MarkerTypeCredits},
		},
		Chapters: []models.Chapter{
			{Index: 1, Name: "Opening Titles", Start: 0, End: 90000},
			{Index: 2, Name: "Act One", Start: 90000, End: 600000},
			{Index: 3, Name: "Recap", Start: 600000, End: 660000},
		},
		Duration: 1500000,
		IsEnd:    isEnd,
	}
}

func TestTimestampToMs(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "0:00:00", want: 0},
		{in: "1:02:03", want: 3723000},
		{in: "1:02:03.456", want: 3723456},
		{in: "02:03", want: 123000},
		{in: "2:03.5", want: 123500},
		{in: "-0:30", want: -30000},
		{in: "45000", want: 45000},
		{in: "-45000", want: -45000},
		{in: "1:99:00", wantErr: true},
		{in: "0:00:75", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := TimestampToMs(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("TimestampToMs(%q) = %d, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("TimestampToMs(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("TimestampToMs(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	// msToTimestamp(timestampToMs(s)) must reproduce canonical strings.
	canonical := []string{
		"0:00:00",
		"0:00:01",
		"0:02:03",
		"1:02:03",
		"1:02:03.456",
		"-0:00:30",
		"12:34:56.001",
	}
	for _, s := range canonical {
		ms, err := TimestampToMs(s)
		if err != nil {
			t.Fatalf("TimestampToMs(%q): %v", s, err)
		}
		if got := MsToTimestamp(ms); got != s {
			t.Errorf("round trip of %q produced %q", s, got)
		}
	}
}

func TestParse_Plain(t *testing.T) {
	e, err := Parse("45000")
	if err != nil {
		t.Fatal(err)
	}
	if e.HasReference() {
		t.Error("plain expression should not have a reference")
	}
	got, err := e.Evaluate(testContext(false))
	if err != nil {
		t.Fatal(err)
	}
	if got != 45000 {
		t.Errorf("Evaluate = %d, want 45000", got)
	}
}

func TestParse_NegativeFromEnd(t *testing.T) {
	e, err := Parse("-1:00")
	if err != nil {
		t.Fatal(err)
	}
	got, err := e.Evaluate(testContext(false))
	if err != nil {
		t.Fatal(err)
	}
	if got != 1500000-60000 {
		t.Errorf("Evaluate = %d, want %d", got, 1500000-60000)
	}
}

func TestEvaluate_MarkerReferences(t *testing.T) {
	tests := []struct {
		expr  string
		isEnd bool
		want  int64
	}{
		// Default side: E for start expressions, S for end expressions.
		{expr: "=M1", isEnd: false, want: 65000},
		{expr: "=M1", isEnd: true, want: 5000},
		{expr: "=M1S", isEnd: false, want: 5000},
		{expr: "=M1E", isEnd: true, want: 65000},
		{expr: "=M-1S", isEnd: false, want: 1200000},
		{expr: "=M1+5000", isEnd: false, want: 70000},
		{expr: "=M1-0:05", isEnd: false, want: 60000},
		{expr: "=C@M2S", isEnd: false, want: 1200000},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			e, err := Parse(tt.expr)
			if err != nil {
				t.Fatal(err)
			}
			got, err := e.Evaluate(testContext(tt.isEnd))
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %d, want %d", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluate_ChapterReferences(t *testing.T) {
	tests := []struct {
		expr  string
		isEnd bool
		want  int64
	}{
		{expr: "=Ch2S", isEnd: false, want: 90000},
		{expr: "=Ch2", isEnd: true, want: 90000},
		{expr: "=Ch-1E", isEnd: false, want: 660000},
		{expr: "=Ch(Recap)S", isEnd: false, want: 600000},
		{expr: "=Ch(recap)S", isEnd: false, want: 600000},
		{expr: "=Ch(Open*)S", isEnd: false, want: 0},
		{expr: "=Ch(Act ?ne)E", isEnd: false, want: 600000},
		{expr: "=Ch(/^rec/i)S", isEnd: false, want: 600000},
		{expr: "=Ch(Recap)S+30000", isEnd: false, want: 630000},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			e, err := Parse(tt.expr)
			if err != nil {
				t.Fatal(err)
			}
			got, err := e.Evaluate(testContext(tt.isEnd))
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %d, want %d", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluate_ChapterNotFound(t *testing.T) {
	e, err := Parse("=Ch(No Such Chapter)")
	if err != nil {
		t.Fatal(err)
	}
	_, err = e.Evaluate(testContext(false))
	if !errors.Is(err, ErrChapterNotFound) {
		t.Errorf("expected ErrChapterNotFound, got %v", err)
	}
}

func TestEvaluate_NegativeResultRejected(t *testing.T) {
	e, err := Parse("=M1S-1:00")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Evaluate(testContext(false)); err == nil {
		t.Error("expected error for negative referenced result")
	}
}

func TestParse_Invalid(t *testing.T) {
	invalid := []string{
		"=",
		"=X@M1",
		"=M0",
		"=Ch(unclosed",
		"=Ch(/unterminated)",
		"=M1*2",
		"1:00 - M1",
		"=M1+abc",
	}
	for _, expr := range invalid {
		if _, err := Parse(expr); err == nil {
			t.Errorf("Parse(%q) should fail", expr)
		}
	}
}

func TestForcedType(t *testing.T) {
	e, err := Parse("=A@Ch1E")
	if err != nil {
		t.Fatal(err)
	}
	if e.ForcedType() != models.MarkerTypeCommercial {
		t.Errorf("ForcedType = %q, want commercial", e.ForcedType())
	}
}
