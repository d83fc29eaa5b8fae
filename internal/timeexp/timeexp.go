// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

// Package timeexp evaluates marker-timestamp expressions. An expression
// is either a plain timestamp (`1:23:45.600`, bare milliseconds,
// negative meaning "from the end of the item"), or a reference
// expression starting with `=`:
//
//	=M1+5000         5 seconds after the first marker
//	=C@M-1S          start of the last marker, forcing type credits
//	=Ch2E-0:30       30 seconds before the end of chapter 2
//	=Ch(Opening*)    chapter matched by wildcard name
//	=Ch(/^recap/i)   chapter matched by regex
//
// At most one reference may appear, references cannot be subtracted
// from plain timestamps, and a referenced result can never be negative.
package timeexp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tomtom215/markerforge/internal/models"
)

// Side selects which boundary of a referenced marker/chapter is used.
type Side int

const (
	// SideDefault resolves to End for start expressions and Start for
	// end expressions, so `=M1` as a start means "right after marker 1"
	// and as an end means "right before marker 1".
	SideDefault Side = iota
	SideStart
	SideEnd
)

// ErrChapterNotFound is returned when a chapter reference does not
// match any chapter of the item. A missing chapter is an error, not a
// silent skip: silently skipping would place markers at unintended
// offsets.
var ErrChapterNotFound = fmt.Errorf("no matching chapter")

type refKind int

const (
	refNone refKind = iota
	refMarker
	refChapterIndex
	refChapterName
)

// Expression is a parsed timestamp expression, reusable across items.
type Expression struct {
	raw string

	// Plain-timestamp form.
	plainMs       int64
	plainNegative bool

	// Reference form.
	kind       refKind
	forcedType models.MarkerType // "" when not forced
	refN       int               // 1-based; negative counts from the end
	side       Side
	nameRe     *regexp.Regexp // chapter name matcher
	offsetMs   int64
}

// HasReference reports whether the expression references a marker or
// chapter (and therefore needs item context to evaluate).
func (e *Expression) HasReference() bool {
	return e.kind != refNone
}

// ForcedType returns the marker type forced by the `=T@` prefix, or ""
// when the expression does not force one.
func (e *Expression) ForcedType() models.MarkerType {
	return e.forcedType
}

// String returns the original expression text.
func (e *Expression) String() string {
	return e.raw
}

var markerRefPattern = regexp.MustCompile(`^M(-?\d+)([SE])?`)
var chapterIndexPattern = regexp.MustCompile(`^Ch(-?\d+)([SE])?`)

// Parse parses an expression. The result is independent of any
// particular item; call Evaluate with the item's context.
func Parse(expr string) (*Expression, error) {
	raw := expr
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty expression")
	}

	if !strings.HasPrefix(expr, "=") {
		ms, err := TimestampToMs(expr)
		if err != nil {
			return nil, err
		}
		e := &Expression{raw: raw, plainMs: ms}
		if ms < 0 {
			e.plainMs = -ms
			e.plainNegative = true
		}
		return e, nil
	}

	e := &Expression{raw: raw}
	rest := expr[1:]

	// Optional forced type: I@, C@, A@.
	if len(rest) >= 2 && rest[1] == '@' {
		switch rest[0] {
		case 'I':
			e.forcedType = models.MarkerTypeIntro
		case 'C':
			e.forcedType = models.MarkerTypeCredits
		case 'A':
			e.forcedType = models.MarkerTypeCommercial
		default:
			return nil, fmt.Errorf("invalid type specifier %q in %q", rest[0], raw)
		}
		rest = rest[2:]
	}

	var err error
	rest, err = e.parseReference(rest)
	if err != nil {
		return nil, err
	}

	// Optional signed offset.
	if rest != "" {
		sign := int64(1)
		switch rest[0] {
		case '+':
		case '-':
			sign = -1
		default:
			return nil, fmt.Errorf("unexpected %q in expression %q", rest, e.raw)
		}
		off, err := TimestampToMs(rest[1:])
		if err != nil {
			return nil, fmt.Errorf("invalid offset in %q: %w", e.raw, err)
		}
		if off < 0 {
			// `=M1+-5` and reference subtraction shapes are rejected.
			return nil, fmt.Errorf("invalid offset in %q", e.raw)
		}
		e.offsetMs = sign * off
	}
	return e, nil
}

// parseReference consumes the reference at the head of rest, returning
// the unconsumed remainder.
func (e *Expression) parseReference(rest string) (string, error) {
	if m := markerRefPattern.FindStringSubmatch(rest); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n == 0 {
			return "", fmt.Errorf("invalid marker reference in %q", e.raw)
		}
		e.kind = refMarker
		e.refN = n
		e.side = parseSide(m[2])
		return rest[len(m[0]):], nil
	}

	if strings.HasPrefix(rest, "Ch(") {
		end := strings.LastIndex(rest, ")")
		if end < 0 {
			return "", fmt.Errorf("unterminated chapter reference in %q", e.raw)
		}
		inner := rest[3:end]
		re, err := chapterNamePattern(inner)
		if err != nil {
			return "", fmt.Errorf("invalid chapter reference in %q: %w", e.raw, err)
		}
		e.kind = refChapterName
		e.nameRe = re
		rest = rest[end+1:]
		if rest != "" && (rest[0] == 'S' || rest[0] == 'E') {
			e.side = parseSide(rest[:1])
			rest = rest[1:]
		}
		return rest, nil
	}

	if m := chapterIndexPattern.FindStringSubmatch(rest); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n == 0 {
			return "", fmt.Errorf("invalid chapter reference in %q", e.raw)
		}
		e.kind = refChapterIndex
		e.refN = n
		e.side = parseSide(m[2])
		return rest[len(m[0]):], nil
	}

	return "", fmt.Errorf("expected marker or chapter reference in %q", e.raw)
}

func parseSide(s string) Side {
	switch s {
	case "S":
		return SideStart
	case "E":
		return SideEnd
	}
	return SideDefault
}

// chapterNamePattern compiles the inside of a Ch(...) reference. A
// `/re/[i]` body is treated as a regex; anything else is a literal name
// with `*` and `?` wildcards, matched case-insensitively.
func chapterNamePattern(inner string) (*regexp.Regexp, error) {
	if len(inner) >= 2 && strings.HasPrefix(inner, "/") {
		body := inner[1:]
		flags := ""
		if strings.HasSuffix(body, "/i") {
			body = body[:len(body)-2]
			flags = "(?i)"
		} else if strings.HasSuffix(body, "/") {
			body = body[:len(body)-1]
		} else {
			return nil, fmt.Errorf("unterminated regex %q", inner)
		}
		return regexp.Compile(flags + body)
	}

	var sb strings.Builder
	sb.WriteString("(?i)^")
	for _, r := range inner {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}

// Context supplies the per-item data an expression evaluates against.
type Context struct {
	// Markers are the item's markers in index order.
	Markers []*models.Marker

	// Chapters are the item's chapters in index order.
	Chapters []models.Chapter

	// Duration is the item's runtime in milliseconds, used by negative
	// plain timestamps ("-2:00" = two minutes before the end).
	Duration int64

	// IsEnd is true when the expression supplies a marker's end
	// timestamp. It flips the default reference side.
	IsEnd bool
}

// Evaluate resolves the expression to milliseconds for one item.
func (e *Expression) Evaluate(ctx Context) (int64, error) {
	if e.kind == refNone {
		if e.plainNegative {
			return ctx.Duration - e.plainMs, nil
		}
		return e.plainMs, nil
	}

	base, err := e.resolveReference(ctx)
	if err != nil {
		return 0, err
	}
	result := base + e.offsetMs
	if result < 0 {
		return 0, fmt.Errorf("expression %q resolves to a negative timestamp", e.raw)
	}
	return result, nil
}

func (e *Expression) resolveReference(ctx Context) (int64, error) {
	side := e.side
	if side == SideDefault {
		// A start expression lands after the referenced range, an end
		// expression before it.
		if ctx.IsEnd {
			side = SideStart
		} else {
			side = SideEnd
		}
	}

	switch e.kind {
	case refMarker:
		m, err := nth(ctx.Markers, e.refN)
		if err != nil {
			return 0, fmt.Errorf("marker reference in %q: %w", e.raw, err)
		}
		if side == SideStart {
			return m.Start, nil
		}
		return m.End, nil

	case refChapterIndex:
		chapters := make([]*models.Chapter, len(ctx.Chapters))
		for i := range ctx.Chapters {
			chapters[i] = &ctx.Chapters[i]
		}
		ch, err := nth(chapters, e.refN)
		if err != nil {
			return 0, fmt.Errorf("chapter reference in %q: %w", e.raw, ErrChapterNotFound)
		}
		if side == SideStart {
			return ch.Start, nil
		}
		return ch.End, nil

	case refChapterName:
		for i := range ctx.Chapters {
			if e.nameRe.MatchString(ctx.Chapters[i].Name) {
				if side == SideStart {
					return ctx.Chapters[i].Start, nil
				}
				return ctx.Chapters[i].End, nil
			}
		}
		return 0, fmt.Errorf("chapter reference in %q: %w", e.raw, ErrChapterNotFound)
	}
	return 0, fmt.Errorf("unresolvable expression %q", e.raw)
}

// nth returns the n-th element (1-based); negative n counts from the end.
func nth[T any](items []*T, n int) (*T, error) {
	idx := n - 1
	if n < 0 {
		idx = len(items) + n
	}
	if idx < 0 || idx >= len(items) {
		return nil, fmt.Errorf("index %d out of range (have %d)", n, len(items))
	}
	return items[idx], nil
}
