package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"twinhub/internal/attrstore"
	"twinhub/internal/sensors"
)

// BuildReadingsPDF renders a minimal PDF for a reading series.
func BuildReadingsPDF(sensor sensors.Sensor, measure attrstore.Attribute, points []attrstore.Point) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Sensor Readings")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Sensor: %s", sensor.UniqueIdentifier))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Type: %s", sensor.TypeName))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Measure: %s", measureLabel(measure)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Points: %d", len(points)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(70, 6, "Timestamp", "1", 0, "C", false, 0, "")
	pdf.CellFormat(70, 6, "Value", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, point := range points {
		pdf.CellFormat(70, 6, point.Timestamp.UTC().Format(time.RFC3339), "1", 0, "C", false, 0, "")
		pdf.CellFormat(70, 6, fmt.Sprintf("%v", point.Value.Any()), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildReadingsXLSX renders a minimal XLSX for a reading series.
func BuildReadingsXLSX(sensor sensors.Sensor, measure attrstore.Attribute, points []attrstore.Point) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	readingsSheet := "readings"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(readingsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Sensor Readings")
	_ = f.SetCellValue(summarySheet, "A3", "Sensor")
	_ = f.SetCellValue(summarySheet, "B3", sensor.UniqueIdentifier)
	_ = f.SetCellValue(summarySheet, "A4", "Type")
	_ = f.SetCellValue(summarySheet, "B4", sensor.TypeName)
	_ = f.SetCellValue(summarySheet, "A5", "Measure")
	_ = f.SetCellValue(summarySheet, "B5", measureLabel(measure))
	_ = f.SetCellValue(summarySheet, "A6", "Datatype")
	_ = f.SetCellValue(summarySheet, "B6", string(measure.Datatype))
	_ = f.SetCellValue(summarySheet, "A7", "Points")
	_ = f.SetCellValue(summarySheet, "B7", len(points))

	_ = f.SetCellValue(readingsSheet, "A1", "Timestamp")
	_ = f.SetCellValue(readingsSheet, "B1", "Value")
	for i, point := range points {
		row := i + 2
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("A%d", row), point.Timestamp.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("B%d", row), point.Value.Any())
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func measureLabel(measure attrstore.Attribute) string {
	if measure.Unit == "" {
		return measure.Name
	}
	return fmt.Sprintf("%s (%s)", measure.Name, measure.Unit)
}
