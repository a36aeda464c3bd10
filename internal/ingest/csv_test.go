package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseNormalizedExport(t *testing.T) {
	csv := `entity_id,date,eggs_produced,mortality_rate
room-1,2025-06-01,280,0.5
room-1,2025-06-02,275,0.6
room-2,2025-06-01,240,1.1
`
	rows, err := Parse(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}

	first := rows[0]
	if first.EntityID != "room-1" {
		t.Errorf("entity: got %s", first.EntityID)
	}
	want := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if !first.Timestamp.Equal(want) {
		t.Errorf("timestamp: got %v, want %v", first.Timestamp, want)
	}
	if first.Metrics["eggs_produced"] != 280 || first.Metrics["mortality_rate"] != 0.5 {
		t.Errorf("metrics: got %v", first.Metrics)
	}
}

func TestParseMapsColumnAliases(t *testing.T) {
	csv := `Date,Room,Eggs Produced,Avg Weight (kg),Temperature (°C),Feed Consumed
2025-06-01,3,280,2.1,22.5,120
`
	rows, err := Parse(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}

	row := rows[0]
	if row.EntityID != "3" {
		t.Errorf("entity from room column: got %s", row.EntityID)
	}
	for _, metric := range []string{"eggs_produced", "avg_weight_kg", "temperature_c", "feed_kg_total"} {
		if _, ok := row.Metrics[metric]; !ok {
			t.Errorf("canonical metric %s missing, got %v", metric, row.Metrics)
		}
	}
}

func TestParseDefaultsEntityWhenNoRoomColumn(t *testing.T) {
	csv := "date,eggs_produced\n2025-06-01,280\n"
	rows, err := Parse(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rows[0].EntityID != "room-1" {
		t.Errorf("default entity: got %s, want room-1", rows[0].EntityID)
	}
}

func TestParseSkipsBlankAndNonNumericCells(t *testing.T) {
	csv := `date,eggs_produced,mortality_rate
2025-06-01,280,n/a
2025-06-02,,0.5
`
	rows, err := Parse(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if _, ok := rows[0].Metrics["mortality_rate"]; ok {
		t.Error("non-numeric cell should be dropped")
	}
	if _, ok := rows[1].Metrics["eggs_produced"]; ok {
		t.Error("blank cell should be dropped")
	}
}

func TestParseRejectsBadInputs(t *testing.T) {
	tests := []struct {
		name string
		csv  string
	}{
		{"empty file", ""},
		{"missing date column", "room,eggs_produced\n1,280\n"},
		{"no metric columns", "date,room\n2025-06-01,1\n"},
		{"unparseable date", "date,eggs_produced\nnot-a-date,280\n"},
		{"no usable rows", "date,eggs_produced\n2025-06-01,n/a\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.csv))
			var ingErr *Error
			if !errors.As(err, &ingErr) {
				t.Fatalf("got %v, want *ingest.Error", err)
			}
		})
	}
}

func TestParseAcceptsMultipleDateFormats(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{"2025-06-01", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"06/15/2025", time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)},
		{"2025-06-01T08:30:00Z", time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		rows, err := Parse(strings.NewReader("date,eggs_produced\n" + tc.raw + ",280\n"))
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		if !rows[0].Timestamp.Equal(tc.want) {
			t.Errorf("date %q: got %v, want %v", tc.raw, rows[0].Timestamp, tc.want)
		}
	}
}
