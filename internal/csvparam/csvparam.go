// Package csvparam loads logger.LogParameter definitions from the
// 10-column CSV file spec.md §6 specifies. spec.md lists the CSV loader
// as an out-of-scope external collaborator, but the logger needs a
// concrete loader to build LogParameters for its own tests, so this
// package fills that role (grounded on original_source/LogParameters.cpp
// for the column order and on the Volvo CSV layout spec.md §6 documents).
package csvparam

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/volvotools/vagdiag/internal/logger"
)

// Load parses the 10-column
// Name,Address,Size,Bitmask,Unit,Signed,I,Factor,Offset,Comment CSV
// format into LogParameters, skipping a header row if present.
func Load(r io.Reader) ([]logger.LogParameter, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 10
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csvparam: read: %w", err)
	}

	var params []logger.LogParameter
	for i, rec := range records {
		if i == 0 && looksLikeHeader(rec) {
			continue
		}
		p, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("csvparam: row %d: %w", i+1, err)
		}
		params = append(params, p)
	}
	return params, nil
}

func looksLikeHeader(rec []string) bool {
	return strings.EqualFold(strings.TrimSpace(rec[0]), "name")
}

func parseRow(rec []string) (logger.LogParameter, error) {
	addr, err := parseHex(rec[1])
	if err != nil {
		return logger.LogParameter{}, fmt.Errorf("address: %w", err)
	}
	size, err := strconv.Atoi(strings.TrimSpace(rec[2]))
	if err != nil || size < 1 || size > 4 {
		return logger.LogParameter{}, fmt.Errorf("size: invalid value %q", rec[2])
	}
	bitmask, err := parseHex(rec[3])
	if err != nil {
		return logger.LogParameter{}, fmt.Errorf("bitmask: %w", err)
	}
	signed, err := parseBoolFlag(rec[5])
	if err != nil {
		return logger.LogParameter{}, fmt.Errorf("signed: %w", err)
	}
	inverse, err := parseBoolFlag(rec[6])
	if err != nil {
		return logger.LogParameter{}, fmt.Errorf("inverse: %w", err)
	}
	factor, err := strconv.ParseFloat(strings.TrimSpace(rec[7]), 64)
	if err != nil {
		return logger.LogParameter{}, fmt.Errorf("factor: %w", err)
	}
	if inverse && factor == 0 {
		return logger.LogParameter{}, fmt.Errorf("factor: must be non-zero when inverse conversion is set")
	}
	offset, err := strconv.ParseFloat(strings.TrimSpace(rec[8]), 64)
	if err != nil {
		return logger.LogParameter{}, fmt.Errorf("offset: %w", err)
	}

	return logger.LogParameter{
		Name:        strings.TrimSpace(rec[0]),
		Address:     addr,
		Size:        size,
		Bitmask:     bitmask,
		Unit:        strings.TrimSpace(rec[4]),
		Signed:      signed,
		Inverse:     inverse,
		Factor:      factor,
		Offset:      offset,
		Description: strings.TrimSpace(rec[9]),
	}, nil
}

func parseHex(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	return uint32(v), err
}

func parseBoolFlag(s string) (bool, error) {
	switch strings.TrimSpace(s) {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("expected 0 or 1, got %q", s)
	}
}
