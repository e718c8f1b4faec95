// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// maxFrameBytes bounds a single message, the length-delimited analogue of
// the teacher's 10 MiB bufio.Scanner buffer cap.
const maxFrameBytes = 32 << 20

// FrameReader reads length-delimited JSON messages: a 4-byte big-endian
// length prefix followed by exactly that many bytes of JSON payload.
type FrameReader struct {
	r io.Reader
}

// NewFrameReader wraps r (typically os.Stdin) as a frame source.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// ReadFrame blocks for the next frame, returning io.EOF once the
// underlying stream closes cleanly between frames.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(f.r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("frame of %d bytes exceeds %d byte limit", n, maxFrameBytes)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(f.r, payload); err != nil {
		return nil, fmt.Errorf("short frame body: %w", err)
	}
	return payload, nil
}

// FrameWriter writes length-delimited JSON messages. Writes are
// serialized: both the request/response loop and asynchronous resource
// notifications share one writer, and a torn write would corrupt framing
// for every subsequent message.
type FrameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewFrameWriter wraps w (typically os.Stdout) as a frame sink.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes one length-prefixed payload atomically with respect to
// other WriteFrame calls on the same writer.
func (f *FrameWriter) WriteFrame(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := f.w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := f.w.Write(payload)
	return err
}
