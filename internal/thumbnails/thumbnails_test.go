// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package thumbnails

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/markerforge/internal/apperr"
)

// buildBIF assembles a minimal BIF blob: frames[i] becomes a fake JPEG
// payload at interval*i milliseconds.
func buildBIF(intervalMs uint32, frames ...[]byte) []byte {
	header := make([]byte, bifHeaderSize)
	copy(header, bifMagic)
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(frames)))
	binary.LittleEndian.PutUint32(header[16:20], intervalMs)

	index := make([]byte, 0, (len(frames)+1)*bifEntrySize)
	offset := uint32(bifHeaderSize + (len(frames)+1)*bifEntrySize)
	for i, frame := range frames {
		entry := make([]byte, bifEntrySize)
		binary.LittleEndian.PutUint32(entry[0:4], uint32(i))
		binary.LittleEndian.PutUint32(entry[4:8], offset)
		index = append(index, entry...)
		offset += uint32(len(frame))
	}
	end := make([]byte, bifEntrySize)
	binary.LittleEndian.PutUint32(end[0:4], bifEndMarker)
	binary.LittleEndian.PutUint32(end[4:8], offset)
	index = append(index, end...)

	out := append(header, index...)
	for _, frame := range frames {
		out = append(out, frame...)
	}
	return out
}

func TestParseBIF(t *testing.T) {
	f0 := []byte("frame-zero")
	f1 := []byte("frame-one!")
	f2 := []byte("frame-two")
	data := buildBIF(5000, f0, f1, f2)

	index, err := parseBIF(data)
	if err != nil {
		t.Fatalf("parseBIF: %v", err)
	}
	if index.frameCount() != 3 {
		t.Fatalf("frameCount = %d, want 3", index.frameCount())
	}
	if index.intervalMs() != 5000 {
		t.Fatalf("intervalMs = %d, want 5000", index.intervalMs())
	}

	cases := []struct {
		timestampMs int64
		want        []byte
	}{
		{0, f0},
		{4999, f0},
		{5000, f1},
		{9999, f1},
		{10000, f2},
		{999999, f2},
		{-50, f0},
	}
	for _, tc := range cases {
		got, err := index.frameAt(tc.timestampMs)
		if err != nil {
			t.Fatalf("frameAt(%d): %v", tc.timestampMs, err)
		}
		if !bytes.Equal(got, tc.want) {
			t.Errorf("frameAt(%d) = %q, want %q", tc.timestampMs, got, tc.want)
		}
	}
}

func TestParseBIFZeroMultiplierDefaultsToSeconds(t *testing.T) {
	data := buildBIF(0, []byte("a"), []byte("b"))
	index, err := parseBIF(data)
	if err != nil {
		t.Fatalf("parseBIF: %v", err)
	}
	if index.intervalMs() != 1000 {
		t.Fatalf("intervalMs = %d, want 1000", index.intervalMs())
	}
	got, err := index.frameAt(1500)
	if err != nil {
		t.Fatalf("frameAt: %v", err)
	}
	if string(got) != "b" {
		t.Fatalf("frameAt(1500) = %q, want %q", got, "b")
	}
}

func TestParseBIFRejectsGarbage(t *testing.T) {
	cases := map[string][]byte{
		"empty":       nil,
		"short":       bifMagic,
		"wrong magic": make([]byte, bifHeaderSize),
		"truncated index": func() []byte {
			data := buildBIF(1000, []byte("x"), []byte("y"))
			return data[:bifHeaderSize+bifEntrySize]
		}(),
	}
	for name, data := range cases {
		if _, err := parseBIF(data); err == nil {
			t.Errorf("parseBIF(%s) accepted invalid input", name)
		}
	}
}

func TestParseBIFEmptyIndex(t *testing.T) {
	data := buildBIF(1000)
	_, err := parseBIF(data)
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("kind = %v, want KindNotFound", apperr.KindOf(err))
	}
}

func TestLRUCacheEviction(t *testing.T) {
	c := newLRUCache(3, time.Minute)
	for i := 0; i < 3; i++ {
		c.add(fmt.Sprintf("k%d", i), []byte{byte(i)})
	}

	// Touch k0 so k1 becomes the eviction candidate.
	if _, ok := c.get("k0"); !ok {
		t.Fatal("k0 missing before eviction")
	}
	c.add("k3", []byte{3})

	if _, ok := c.get("k1"); ok {
		t.Error("k1 survived eviction")
	}
	for _, key := range []string{"k0", "k2", "k3"} {
		if _, ok := c.get(key); !ok {
			t.Errorf("%s evicted unexpectedly", key)
		}
	}
	if c.len() != 3 {
		t.Fatalf("len = %d, want 3", c.len())
	}
}

func TestLRUCacheTTL(t *testing.T) {
	c := newLRUCache(8, 10*time.Millisecond)
	c.add("k", []byte("v"))
	if _, ok := c.get("k"); !ok {
		t.Fatal("fresh entry missing")
	}
	time.Sleep(25 * time.Millisecond)
	if _, ok := c.get("k"); ok {
		t.Fatal("expired entry still served")
	}
	if c.len() != 0 {
		t.Fatalf("len = %d after lazy expiry, want 0", c.len())
	}
}

func TestLRUCacheClearAndStats(t *testing.T) {
	c := newLRUCache(8, time.Minute)
	c.add("k", []byte("v"))
	c.get("k")
	c.get("absent")
	hits, misses, size := c.stats()
	if hits != 1 || misses != 1 || size != 1 {
		t.Fatalf("stats = (%d, %d, %d), want (1, 1, 1)", hits, misses, size)
	}

	c.clear()
	if _, ok := c.get("k"); ok {
		t.Fatal("entry survived clear")
	}
	if c.len() != 0 {
		t.Fatalf("len = %d after clear, want 0", c.len())
	}
}

type fakeHost struct {
	paths  map[int64]string
	hashes map[int64]string
}

func (h *fakeHost) MediaPath(_ context.Context, id int64) (string, error) {
	path, ok := h.paths[id]
	if !ok {
		return "", apperr.Newf(apperr.KindNotFound, "no media for item %d", id)
	}
	return path, nil
}

func (h *fakeHost) MediaHash(_ context.Context, id int64) (string, error) {
	return h.hashes[id], nil
}

// writeBundle lays a BIF under dataPath the way Plex shards bundles.
func writeBundle(t *testing.T, dataPath, hash string, bif []byte) {
	t.Helper()
	dir := filepath.Join(dataPath, "Media", "localhost",
		hash[:1], hash[1:]+".bundle", "Contents", "Indexes")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "index-sd.bif"), bif, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestThumbnailIndexMode(t *testing.T) {
	ctx := context.Background()
	dataPath := t.TempDir()
	writeBundle(t, dataPath, "deadbeef", buildBIF(2000, []byte("early"), []byte("late")))

	host := &fakeHost{hashes: map[int64]string{12: "deadbeef"}}
	m := New(host, nil, Options{DataPath: dataPath})

	got, err := m.Thumbnail(ctx, 12, 500)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	if string(got) != "early" {
		t.Fatalf("Thumbnail(500) = %q, want %q", got, "early")
	}
	got, err = m.Thumbnail(ctx, 12, 3500)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	if string(got) != "late" {
		t.Fatalf("Thumbnail(3500) = %q, want %q", got, "late")
	}

	// Second fetch of a rounded-equal timestamp must come from cache,
	// not disk.
	hitsBefore, _, _ := m.Stats()
	if _, err := m.Thumbnail(ctx, 12, 3999); err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	hitsAfter, _, _ := m.Stats()
	if hitsAfter != hitsBefore+1 {
		t.Fatalf("cache hits %d -> %d, want one more", hitsBefore, hitsAfter)
	}
}

func TestThumbnailMissingBundle(t *testing.T) {
	ctx := context.Background()
	host := &fakeHost{hashes: map[int64]string{12: "deadbeef", 13: ""}}
	m := New(host, nil, Options{DataPath: t.TempDir()})

	for _, id := range []int64{12, 13} {
		_, err := m.Thumbnail(ctx, id, 0)
		if apperr.KindOf(err) != apperr.KindNotFound {
			t.Errorf("item %d: kind = %v, want KindNotFound", id, apperr.KindOf(err))
		}
	}
}

func TestThumbnailDisabled(t *testing.T) {
	ctx := context.Background()
	m := New(&fakeHost{}, nil, Options{DataPath: t.TempDir()})
	m.SetEnabled(false)

	_, err := m.Thumbnail(ctx, 12, 0)
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("kind = %v, want KindNotFound", apperr.KindOf(err))
	}
}

func TestThumbnailRejectsNegativeTimestamp(t *testing.T) {
	ctx := context.Background()
	m := New(&fakeHost{}, nil, Options{DataPath: t.TempDir()})

	_, err := m.Thumbnail(ctx, 12, -1)
	if apperr.KindOf(err) != apperr.KindInvalidInput {
		t.Fatalf("kind = %v, want KindInvalidInput", apperr.KindOf(err))
	}
}

func TestHandleReloadClearsCache(t *testing.T) {
	ctx := context.Background()
	dataPath := t.TempDir()
	writeBundle(t, dataPath, "deadbeef", buildBIF(2000, []byte("frame")))

	host := &fakeHost{hashes: map[int64]string{12: "deadbeef"}}
	m := New(host, nil, Options{DataPath: dataPath})

	if _, err := m.Thumbnail(ctx, 12, 0); err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	if _, _, size := m.Stats(); size != 1 {
		t.Fatalf("cache size = %d, want 1", size)
	}
	if err := m.HandleReload(ctx); err != nil {
		t.Fatalf("HandleReload: %v", err)
	}
	if _, _, size := m.Stats(); size != 0 {
		t.Fatalf("cache size = %d after reload, want 0", size)
	}
}

func TestPreciseModeRejectsUnreachableMedia(t *testing.T) {
	ctx := context.Background()
	host := &fakeHost{paths: map[int64]string{12: "/definitely/not/here.mkv"}}
	m := New(host, nil, Options{DataPath: t.TempDir()})
	m.SetPrecise(true)

	_, err := m.Thumbnail(ctx, 12, 0)
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("kind = %v, want KindNotFound", apperr.KindOf(err))
	}

	_, err = m.Thumbnail(ctx, 99, 0)
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("unknown item error = %v, want *apperr.Error", err)
	}
}
