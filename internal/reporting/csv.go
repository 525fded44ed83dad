// Package reporting renders committed tests for export: the CSV capture
// format shared with the offline analyzer, and markdown summaries.
package reporting

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"static-fire-lab/internal/domain"
)

// csvHeader is the capture export header. Time is relative to the first
// sample so exports from different sessions line up at zero.
const csvHeader = "time_ms,force_n,raw_value"

// RenderCSV renders a telemetry series in the export format.
func RenderCSV(series domain.TelemetrySeries) string {
	var sb strings.Builder
	sb.WriteString(csvHeader)
	sb.WriteByte('\n')

	if len(series) == 0 {
		return sb.String()
	}

	start := series[0].DeviceTimestamp
	for _, r := range series {
		sb.WriteString(strconv.FormatInt(r.DeviceTimestamp-start, 10))
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatFloat(r.Force, 'f', -1, 64))
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatInt(r.Raw, 10))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// CSVFilename names a test export after its ID and start time. The layout
// avoids spaces and colons so the name survives Content-Disposition.
func CSVFilename(record *domain.TestRecord) string {
	return fmt.Sprintf("test_%d_%s.csv", record.ID,
		record.StartedAt.UTC().Format("2006-01-02T15-04-05"))
}

// ParseCSV reads a capture in the export format. The header row is
// optional; malformed rows fail with their line number.
func ParseCSV(r io.Reader) (domain.TelemetrySeries, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 3
	reader.TrimLeadingSpace = true

	var series domain.TelemetrySeries
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line++

		if line == 1 && record[0] == "time_ms" {
			continue
		}

		timeMS, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: parse time_ms %q: %w", line, record[0], err)
		}
		force, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: parse force_n %q: %w", line, record[1], err)
		}
		raw, err := strconv.ParseInt(record[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: parse raw_value %q: %w", line, record[2], err)
		}

		series = append(series, domain.Reading{
			DeviceTimestamp: timeMS,
			Force:           force,
			Raw:             raw,
		})
	}
	return series, nil
}
