// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package thumbnails

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/tomtom215/markerforge/internal/apperr"
)

// BIF (Base Index Frames) is the Roku trick-play format Plex writes
// into item bundles: a magic header, a frame index of
// (timestamp, offset) pairs, then concatenated JPEGs.
var bifMagic = []byte{0x89, 'B', 'I', 'F', 0x0d, 0x0a, 0x1a, 0x0a}

const (
	bifHeaderSize = 64
	bifEntrySize  = 8
	bifEndMarker  = 0xffffffff
)

type bifFrame struct {
	timestamp uint32 // in multiplier units
	offset    uint32
}

type bifIndex struct {
	// multiplier converts index timestamps to milliseconds.
	multiplier uint32
	frames     []bifFrame
	data       []byte
}

// parseBIF validates the header and reads the frame index. The data
// slice is retained; callers must not mutate it.
func parseBIF(data []byte) (*bifIndex, error) {
	if len(data) < bifHeaderSize || !bytes.Equal(data[:len(bifMagic)], bifMagic) {
		return nil, apperr.New(apperr.KindBackend, "not a BIF file")
	}
	count := binary.LittleEndian.Uint32(data[12:16])
	multiplier := binary.LittleEndian.Uint32(data[16:20])
	if multiplier == 0 {
		multiplier = 1000
	}
	if count == 0 {
		return nil, apperr.New(apperr.KindNotFound, "BIF index is empty")
	}

	// The index holds count+1 entries; the last is the end marker
	// whose offset is the end of the final frame.
	indexEnd := bifHeaderSize + (int(count)+1)*bifEntrySize
	if len(data) < indexEnd {
		return nil, apperr.New(apperr.KindBackend, "truncated BIF index")
	}

	frames := make([]bifFrame, 0, count+1)
	for i := 0; i <= int(count); i++ {
		base := bifHeaderSize + i*bifEntrySize
		frames = append(frames, bifFrame{
			timestamp: binary.LittleEndian.Uint32(data[base : base+4]),
			offset:    binary.LittleEndian.Uint32(data[base+4 : base+8]),
		})
	}
	return &bifIndex{multiplier: multiplier, frames: frames, data: data}, nil
}

// frameAt returns the JPEG covering timestampMs: the frame with the
// largest index timestamp not after it.
func (b *bifIndex) frameAt(timestampMs int64) ([]byte, error) {
	if timestampMs < 0 {
		timestampMs = 0
	}
	target := uint32(timestampMs / int64(b.multiplier))

	// frames is sorted by timestamp with the end marker last.
	n := len(b.frames) - 1 // exclude end marker
	i := sort.Search(n, func(i int) bool { return b.frames[i].timestamp > target })
	if i == 0 {
		i = 1
	}
	frame := b.frames[i-1]
	next := b.frames[i]

	start, end := int(frame.offset), int(next.offset)
	if next.timestamp == bifEndMarker && end > len(b.data) {
		end = len(b.data)
	}
	if start >= end || end > len(b.data) {
		return nil, apperr.New(apperr.KindBackend, "corrupt BIF frame bounds")
	}
	return b.data[start:end], nil
}

// frameCount reports how many frames the index carries.
func (b *bifIndex) frameCount() int {
	return len(b.frames) - 1
}

// intervalMs is the spacing between frames in milliseconds.
func (b *bifIndex) intervalMs() int64 {
	return int64(b.multiplier)
}
