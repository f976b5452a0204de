// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package csr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/AleutianAI/frontier/services/enact/status"
)

var magic = [4]byte{'C', 'S', 'R', '1'}

// MarshalBinary encodes the graph as a little-endian header followed by the
// row offset and column arrays.
func (g *Graph) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(16 + int(g.Bytes()))
	buf.Write(magic[:])
	hdr := struct {
		Nodes uint32
		Edges uint64
	}{uint32(g.Nodes), uint64(g.Edges)}
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, g.RowOffsets); err != nil {
		return nil, fmt.Errorf("encode row offsets: %w", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, g.ColumnIndices); err != nil {
		return nil, fmt.Errorf("encode columns: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a graph written by MarshalBinary and validates it.
func (g *Graph) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	var m [4]byte
	if _, err := io.ReadFull(r, m[:]); err != nil || m != magic {
		return status.Invalid("csr decode", "bad magic")
	}
	var hdr struct {
		Nodes uint32
		Edges uint64
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return status.New(status.KindInvalidInput, "csr decode", err)
	}
	need := int64(hdr.Nodes+1)*8 + int64(hdr.Edges)*4
	if hdr.Nodes > maxVertices || int64(r.Len()) != need {
		return status.Invalid("csr decode", "payload is %d bytes, header implies %d", r.Len(), need)
	}

	rows := make([]int64, hdr.Nodes+1)
	cols := make([]int32, hdr.Edges)
	if err := binary.Read(r, binary.LittleEndian, rows); err != nil {
		return status.New(status.KindInvalidInput, "csr decode", err)
	}
	if err := binary.Read(r, binary.LittleEndian, cols); err != nil {
		return status.New(status.KindInvalidInput, "csr decode", err)
	}
	decoded, err := New(int(hdr.Nodes), rows, cols)
	if err != nil {
		return err
	}
	*g = *decoded
	return nil
}
