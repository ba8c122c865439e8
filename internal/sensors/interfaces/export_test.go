package interfaces

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"twinhub/internal/attrstore"
	"twinhub/internal/sensors"
)

func exportFixture() (sensors.Sensor, attrstore.Attribute, []attrstore.Point) {
	sensor := sensors.Sensor{
		ID:               1,
		TypeName:         "weather-station",
		UniqueIdentifier: "ws-0001",
		Name:             "roof station",
	}
	measure := attrstore.Attribute{
		ID:       3,
		Name:     "temperature",
		Unit:     "degrees C",
		Datatype: attrstore.DatatypeFloat,
	}
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	points := []attrstore.Point{
		{Value: attrstore.Float(21.5), Timestamp: base},
		{Value: attrstore.Float(22.0), Timestamp: base.Add(time.Minute)},
	}
	return sensor, measure, points
}

func TestBuildReadingsXLSX(t *testing.T) {
	sensor, measure, points := exportFixture()
	payload, err := BuildReadingsXLSX(sensor, measure, points)
	if err != nil {
		t.Fatalf("build xlsx: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("reopen xlsx: %v", err)
	}
	defer f.Close()

	got, err := f.GetCellValue("summary", "B3")
	if err != nil {
		t.Fatalf("read cell: %v", err)
	}
	if got != "ws-0001" {
		t.Fatalf("summary sensor cell: got %q", got)
	}
	got, err = f.GetCellValue("readings", "A2")
	if err != nil {
		t.Fatalf("read cell: %v", err)
	}
	if got != "2026-08-20T10:00:00Z" {
		t.Fatalf("first reading timestamp: got %q", got)
	}
}

func TestBuildReadingsPDF(t *testing.T) {
	sensor, measure, points := exportFixture()
	payload, err := BuildReadingsPDF(sensor, measure, points)
	if err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	if len(payload) == 0 {
		t.Fatal("empty pdf")
	}
	if !bytes.HasPrefix(payload, []byte("%PDF")) {
		t.Fatalf("not a pdf: % x", payload[:8])
	}
}

func TestMeasureLabel(t *testing.T) {
	if got := measureLabel(attrstore.Attribute{Name: "humidity"}); got != "humidity" {
		t.Fatalf("unitless label: got %q", got)
	}
	if got := measureLabel(attrstore.Attribute{Name: "temperature", Unit: "degrees C"}); got != "temperature (degrees C)" {
		t.Fatalf("label with unit: got %q", got)
	}
}
