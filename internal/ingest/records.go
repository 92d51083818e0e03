package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/voc-classifier/internal/model"
)

// Column names expected in the header row.
const (
	ColSourceID         = "source_id"
	ColConsultingDate   = "consulting_date"
	ColClientGender     = "client_gender"
	ColClientAge        = "client_age"
	ColConsultingTurns  = "consulting_turns"
	ColConsultingLength = "consulting_length"
	ColContent          = "consulting_content"
)

var requiredColumns = []string{ColSourceID, ColContent}

var dateLayouts = []string{time.DateOnly, "2006/01/02", "2006.01.02", "20060102", time.RFC3339}

// Rejection describes a row that was not imported. Row is 1-based and counts
// the header.
type Rejection struct {
	Row      int    `json:"row"`
	SourceID string `json:"source_id,omitempty"`
	Reason   string `json:"reason"`
}

// ParseRows maps a header row plus data rows to RawRecords. Rows that fail
// validation are returned as rejections; a missing required column fails the
// whole file.
func ParseRows(rows [][]string) ([]model.RawRecord, []Rejection, error) {
	if len(rows) == 0 {
		return nil, nil, eris.New("ingest: file is empty")
	}

	index := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		index[name] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, nil, eris.Errorf("ingest: missing required column %q", col)
		}
	}

	var (
		records  []model.RawRecord
		rejected []Rejection
		seen     = make(map[string]int)
	)
	for i, row := range rows[1:] {
		line := i + 2
		if blank(row) {
			continue
		}

		get := func(col string) string {
			j, ok := index[col]
			if !ok || j >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[j])
		}

		rec, err := parseRecord(get)
		if err == nil {
			if first, dup := seen[rec.SourceID]; dup {
				err = fmt.Errorf("duplicate source_id (first seen on row %d)", first)
			}
		}
		if err != nil {
			rejected = append(rejected, Rejection{Row: line, SourceID: get(ColSourceID), Reason: err.Error()})
			continue
		}

		seen[rec.SourceID] = line
		records = append(records, rec)
	}
	return records, rejected, nil
}

func parseRecord(get func(string) string) (model.RawRecord, error) {
	rec := model.RawRecord{
		SourceID:     get(ColSourceID),
		ClientGender: get(ColClientGender),
		Content:      get(ColContent),
	}
	if rec.SourceID == "" {
		return rec, fmt.Errorf("%s is empty", ColSourceID)
	}
	if rec.Content == "" {
		return rec, fmt.Errorf("%s is empty", ColContent)
	}

	if v := get(ColConsultingDate); v != "" {
		d, err := parseDate(v)
		if err != nil {
			return rec, err
		}
		rec.ConsultingDate = d
	}

	ints := []struct {
		col string
		dst *int
	}{
		{ColClientAge, &rec.ClientAge},
		{ColConsultingTurns, &rec.ConsultingTurns},
		{ColConsultingLength, &rec.ConsultingLength},
	}
	for _, f := range ints {
		v := get(f.col)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return rec, fmt.Errorf("%s %q is not a non-negative integer", f.col, v)
		}
		*f.dst = n
	}

	if rec.ConsultingLength == 0 {
		rec.ConsultingLength = len([]rune(rec.Content))
	}
	return rec, nil
}

func parseDate(v string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("%s %q is not a date", ColConsultingDate, v)
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
