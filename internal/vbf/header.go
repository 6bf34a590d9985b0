// Package vbf parses and serializes Vehicle Binary Format files: a text
// header grammar followed by a binary chunk stream with a per-chunk CRC
// trailer (spec.md §3 VBF/VbfChunk, §4.8 VBF format, §8 scenario 6).
package vbf

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SWPartType enumerates the `sw_part_type` header value.
type SWPartType int

const (
	SWPartUnknown SWPartType = iota
	SWPartSBL
	SWPartData
	SWPartEXE
	SWPartSIGCFG
)

// NetworkType enumerates the `network` header value.
type NetworkType int

const (
	NetworkUnknown NetworkType = iota
	NetworkCANHS
	NetworkCANMS
)

// FrameFormat enumerates the `frame_format`/`can_frame_format` value.
type FrameFormat int

const (
	FrameFormatUnknown FrameFormat = iota
	FrameFormatCANStandard
	FrameFormatCANExtended
)

// EraseRegion is one `{start,end}` pair from the header's `erase` list.
type EraseRegion struct {
	Start, End uint32
}

// Header is the parsed text preamble of a VBF file (spec.md §4.8).
type Header struct {
	VBFVersion   float64
	Description  []string
	SWPartNumber string
	SWVersion    string
	SWPartType   SWPartType
	Network      NetworkType
	ECUAddress   uint32
	FrameFormat  FrameFormat
	Call         uint32
	FileChecksum uint32
	Erase        []EraseRegion
}

var (
	reVBFVersion  = regexp.MustCompile(`(?i)vbf_version\s*=\s*([0-9.]+)\s*;`)
	reHeaderBlock = regexp.MustCompile(`(?is)header\s*\{(.*)\}`)
	reDescription = regexp.MustCompile(`(?is)description\s*=\s*\{(.*?)\}\s*;`)
	reQuoted      = regexp.MustCompile(`"([^"]*)"`)
	reErase       = regexp.MustCompile(`(?is)erase\s*=\s*\{(.*?)\}\s*;`)
	reEraseBlock  = regexp.MustCompile(`(?i)\{\s*0x([0-9a-f]+)\s*,\s*0x([0-9a-f]+)\s*\}`)
	reKV          = regexp.MustCompile(`(?im)^\s*([a-z_]+)\s*=\s*(?:"([^"]*)"|0x([0-9a-f]+)|([^;]+?))\s*;`)
)

// ParseHeader parses the text grammar from the start of data and returns
// the header plus the byte offset where the binary body begins.
//
// This is a hand-rolled scanner, not a generated grammar parser: the
// original uses boost::spirit x3, and no PEG/parser-combinator library
// appears anywhere in the example pack to ground a Go equivalent on, so
// regexp plus stdlib string scanning is the only available approach
// here (see DESIGN.md).
func ParseHeader(data []byte) (Header, int, error) {
	text := string(data)

	vm := reVBFVersion.FindStringSubmatchIndex(text)
	if vm == nil {
		return Header{}, 0, fmt.Errorf("vbf: missing vbf_version")
	}
	version, err := strconv.ParseFloat(text[vm[2]:vm[3]], 64)
	if err != nil {
		return Header{}, 0, fmt.Errorf("vbf: invalid vbf_version: %w", err)
	}

	hm := reHeaderBlock.FindStringSubmatchIndex(text[vm[1]:])
	if hm == nil {
		return Header{}, 0, fmt.Errorf("vbf: missing header block")
	}
	blockStart := vm[1] + hm[2]
	blockEnd := vm[1] + hm[3]
	bodyOffset := vm[1] + hm[1]
	for bodyOffset < len(text) && isVBFSpace(text[bodyOffset]) {
		bodyOffset++
	}
	block := text[blockStart:blockEnd]

	h := Header{VBFVersion: version}

	if dm := reDescription.FindStringSubmatch(block); dm != nil {
		for _, q := range reQuoted.FindAllStringSubmatch(dm[1], -1) {
			h.Description = append(h.Description, q[1])
		}
	}
	if em := reErase.FindStringSubmatch(block); em != nil {
		for _, b := range reEraseBlock.FindAllStringSubmatch(em[1], -1) {
			start, _ := strconv.ParseUint(b[1], 16, 32)
			end, _ := strconv.ParseUint(b[2], 16, 32)
			h.Erase = append(h.Erase, EraseRegion{Start: uint32(start), End: uint32(end)})
		}
	}

	stripped := reDescription.ReplaceAllString(block, "")
	stripped = reErase.ReplaceAllString(stripped, "")
	for _, kv := range reKV.FindAllStringSubmatch(stripped, -1) {
		key := strings.ToLower(kv[1])
		quoted, hexVal, rest := kv[2], kv[3], strings.TrimSpace(kv[4])
		switch key {
		case "sw_part_number":
			h.SWPartNumber = firstNonEmpty(quoted, rest)
		case "sw_version":
			h.SWVersion = firstNonEmpty(quoted, rest)
		case "sw_part_type":
			h.SWPartType = parseSWPartType(firstNonEmpty(quoted, rest))
		case "network":
			h.Network = parseNetworkType(firstNonEmpty(quoted, rest))
		case "ecu_address", "ecu_addr":
			h.ECUAddress = parseHexField(hexVal, rest)
		case "frame_format", "can_frame_format":
			h.FrameFormat = parseFrameFormat(firstNonEmpty(quoted, rest))
		case "call", "jmp", "jsr":
			h.Call = parseHexField(hexVal, rest)
		case "file_checksum":
			h.FileChecksum = parseHexField(hexVal, rest)
		}
	}

	return h, bodyOffset, nil
}

// isVBFSpace reports whether b is insignificant whitespace between the
// header's closing brace and the binary body, matching the original
// boost::spirit grammar's post-match whitespace skip.
func isVBFSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func parseHexField(direct, rest string) uint32 {
	s := direct
	if s == "" {
		s = strings.TrimPrefix(strings.TrimSpace(rest), "0x")
	}
	v, _ := strconv.ParseUint(s, 16, 32)
	return uint32(v)
}

func parseSWPartType(v string) SWPartType {
	switch strings.ToLower(v) {
	case "sbl":
		return SWPartSBL
	case "data":
		return SWPartData
	case "exe":
		return SWPartEXE
	case "sigcfg":
		return SWPartSIGCFG
	default:
		return SWPartUnknown
	}
}

func parseNetworkType(v string) NetworkType {
	switch strings.ToLower(v) {
	case "can_hs":
		return NetworkCANHS
	case "can_ms":
		return NetworkCANMS
	default:
		return NetworkUnknown
	}
}

func parseFrameFormat(v string) FrameFormat {
	switch strings.ToLower(v) {
	case "can_standard", "standard":
		return FrameFormatCANStandard
	case "can_extended", "extended":
		return FrameFormatCANExtended
	default:
		return FrameFormatUnknown
	}
}
