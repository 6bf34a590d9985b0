package vbf

import (
	"encoding/binary"
	"fmt"

	"github.com/volvotools/vagdiag/internal/support/checksum"
)

// Chunk is one binary record in a VBF body: an absolute write offset,
// its data, and a trailing CRC (spec.md §3 VbfChunk).
type Chunk struct {
	WriteOffset uint32
	Data        []byte
	CRC         uint32
}

// VBF is a parsed Vehicle Binary Format file: header plus chunk stream.
type VBF struct {
	Header Header
	Chunks []Chunk
}

// Parse reads a full VBF file: the text header, then the binary chunk
// stream whose per-chunk trailer width depends on the header's
// vbf_version (16-bit from version 2 onward, else 8-bit).
func Parse(data []byte) (VBF, error) {
	header, offset, err := ParseHeader(data)
	if err != nil {
		return VBF{}, err
	}
	chunks, err := parseBody(header, data[offset:])
	if err != nil {
		return VBF{}, err
	}
	return VBF{Header: header, Chunks: chunks}, nil
}

func parseBody(header Header, body []byte) ([]Chunk, error) {
	var chunks []Chunk
	pos := 0
	for pos < len(body) {
		if pos+8 > len(body) {
			return nil, fmt.Errorf("vbf: truncated chunk header")
		}
		writeOffset := binary.BigEndian.Uint32(body[pos:])
		size := binary.BigEndian.Uint32(body[pos+4:])
		pos += 8
		if pos+int(size) > len(body) {
			return nil, fmt.Errorf("vbf: chunk data runs past end of file")
		}
		chunkData := append([]byte(nil), body[pos:pos+int(size)]...)
		pos += int(size)

		var crc uint32
		if header.VBFVersion >= 2 {
			if pos+2 > len(body) {
				return nil, fmt.Errorf("vbf: truncated 16-bit crc trailer")
			}
			crc = uint32(binary.BigEndian.Uint16(body[pos:]))
			pos += 2
		} else {
			if pos+1 > len(body) {
				return nil, fmt.Errorf("vbf: truncated 8-bit crc trailer")
			}
			crc = uint32(body[pos])
			pos++
		}
		chunks = append(chunks, Chunk{WriteOffset: writeOffset, Data: chunkData, CRC: crc})
	}
	return chunks, nil
}

// VerifyChunkCRC reports whether c's CRC-16 trailer matches its data,
// for version-2-and-later VBFs (spec.md §8 scenario 6).
func VerifyChunkCRC(c Chunk) bool {
	return uint32(checksum.CRC16(c.Data)) == c.CRC
}

// SerializeBody re-renders the chunk stream in the on-disk layout,
// for the round-trip test spec.md §8 requires.
func SerializeBody(header Header, chunks []Chunk) []byte {
	var out []byte
	for _, c := range chunks {
		var head [8]byte
		binary.BigEndian.PutUint32(head[0:], c.WriteOffset)
		binary.BigEndian.PutUint32(head[4:], uint32(len(c.Data)))
		out = append(out, head[:]...)
		out = append(out, c.Data...)
		if header.VBFVersion >= 2 {
			var trailer [2]byte
			binary.BigEndian.PutUint16(trailer[:], uint16(c.CRC))
			out = append(out, trailer[:]...)
		} else {
			out = append(out, byte(c.CRC))
		}
	}
	return out
}
