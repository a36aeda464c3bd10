// Package ingest converts uploaded CSV files into normalized detection rows.
//
// Responsibilities:
//   - Normalize header names (case, whitespace, units in parentheses)
//   - Map common column aliases onto canonical metric names
//   - Parse dates in the formats field exports actually use
//   - Skip blank and non-numeric cells instead of failing the upload
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/farmsight/farmsight-analytics/internal/detection"
)

// Error describes a CSV that could not be converted into rows.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return "csv ingest: " + e.Reason
}

// columnAliases maps normalized header names onto canonical metric names.
// Headers not present here pass through under their normalized name.
var columnAliases = map[string]string{
	"eggs":           "eggs_produced",
	"eggs produced":  "eggs_produced",
	"eggs_produced":  "eggs_produced",
	"weight":         "avg_weight_kg",
	"avg weight":     "avg_weight_kg",
	"avg_weight":     "avg_weight_kg",
	"avg_weight_kg":  "avg_weight_kg",
	"feed":           "feed_kg_total",
	"feed consumed":  "feed_kg_total",
	"feed_consumed":  "feed_kg_total",
	"feed_kg_total":  "feed_kg_total",
	"water":          "water_liters_total",
	"water consumed": "water_liters_total",
	"water_consumed": "water_liters_total",
	"mortality":      "mortality_rate",
	"mortality rate": "mortality_rate",
	"mortality_rate": "mortality_rate",
	"temperature":    "temperature_c",
	"temp":           "temperature_c",
	"temperature_c":  "temperature_c",
	"humidity":       "humidity_pct",
	"humidity_pct":   "humidity_pct",
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/2006",
	"02.01.2006",
}

// Parse reads a CSV export and returns normalized rows ready for detection.
// The file must carry a date column and at least one metric column. Rows
// without an entity column are attributed to a single default entity.
func Parse(r io.Reader) ([]detection.Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &Error{Reason: "file is empty"}
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	dateCol := -1
	entityCol := -1
	metricCols := make(map[int]string)
	for i, raw := range header {
		name := normalizeHeader(raw)
		switch name {
		case "date", "timestamp":
			dateCol = i
		case "room", "room_id", "entity", "entity_id":
			entityCol = i
		default:
			if canonical, ok := columnAliases[name]; ok {
				name = canonical
			}
			if name != "" {
				metricCols[i] = name
			}
		}
	}
	if dateCol < 0 {
		return nil, &Error{Reason: "missing required date column"}
	}
	if len(metricCols) == 0 {
		return nil, &Error{Reason: "no metric columns found"}
	}

	var rows []detection.Row
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}

		ts, err := parseDate(record[dateCol])
		if err != nil {
			return nil, &Error{Reason: fmt.Sprintf("line %d: %v", line, err)}
		}

		entity := "room-1"
		if entityCol >= 0 && entityCol < len(record) {
			if v := strings.TrimSpace(record[entityCol]); v != "" {
				entity = v
			}
		}

		metrics := make(map[string]float64, len(metricCols))
		for i, name := range metricCols {
			if i >= len(record) {
				continue
			}
			cell := strings.TrimSpace(record[i])
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				continue
			}
			metrics[name] = v
		}
		if len(metrics) == 0 {
			continue
		}

		rows = append(rows, detection.Row{
			EntityID:  entity,
			Timestamp: ts,
			Metrics:   metrics,
		})
	}

	if len(rows) == 0 {
		return nil, &Error{Reason: "no usable data rows"}
	}
	return rows, nil
}

func normalizeHeader(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	// Strip unit suffixes like "(kg)" or "(°c)".
	if idx := strings.Index(name, "("); idx >= 0 {
		name = strings.TrimSpace(name[:idx])
	}
	return name
}

func parseDate(raw string) (time.Time, error) {
	cell := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, cell); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", cell)
}
