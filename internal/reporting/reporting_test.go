package reporting

import (
	"strings"
	"testing"
	"time"

	"static-fire-lab/internal/domain"
)

func sampleSeries() domain.TelemetrySeries {
	return domain.TelemetrySeries{
		{DeviceTimestamp: 5000, Force: 0, Raw: 8388608},
		{DeviceTimestamp: 5012, Force: 42.5, Raw: 8431108},
		{DeviceTimestamp: 5025, Force: 97.25, Raw: 8485858},
	}
}

func sampleRecord() *domain.TestRecord {
	return &domain.TestRecord{
		ID:          7,
		Fingerprint: "3kDxQ9vY",
		SessionID:   "0f9a4c2e-1111-2222-3333-444455556666",
		Label:       "Blue Streak H128",
		StartedAt:   time.Date(2026, 3, 1, 14, 30, 5, 0, time.UTC),
		DurationMS:  2104,
		SampleCount: 168,
		Result: domain.AnalysisResult{
			PeakThrust:        97.42,
			TotalImpulse:      171.33,
			AverageThrust:     84.21,
			BurnTime:          1.953,
			TimeToPeak:        0.512,
			RiseRate:          190.24,
			DecayRate:         -310.11,
			ThrustStability:   3.11,
			ImpulseEfficiency: 0.901,
			TimeTo90Percent:   0.204,
			BurnProfile:       domain.BurnProfileNeutral,
			MotorClass:        "H",
			Warnings:          []string{},
		},
	}
}

func TestRenderCSV_RelativeTimeBase(t *testing.T) {
	out := RenderCSV(sampleSeries())

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	want := []string{
		"time_ms,force_n,raw_value",
		"0,0,8388608",
		"12,42.5,8431108",
		"25,97.25,8485858",
	}
	if len(lines) != len(want) {
		t.Fatalf("line count = %d, want %d\n%s", len(lines), len(want), out)
	}
	for i, w := range want {
		if lines[i] != w {
			t.Errorf("line %d = %q, want %q", i, lines[i], w)
		}
	}
}

func TestRenderCSV_Empty(t *testing.T) {
	if got := RenderCSV(nil); got != "time_ms,force_n,raw_value\n" {
		t.Errorf("empty series rendered %q", got)
	}
}

func TestParseCSV_RoundTrip(t *testing.T) {
	series := sampleSeries()
	parsed, err := ParseCSV(strings.NewReader(RenderCSV(series)))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(parsed) != len(series) {
		t.Fatalf("parsed %d samples, want %d", len(parsed), len(series))
	}
	base := series[0].DeviceTimestamp
	for i, r := range parsed {
		if r.DeviceTimestamp != series[i].DeviceTimestamp-base {
			t.Errorf("sample %d: time %d, want %d", i, r.DeviceTimestamp, series[i].DeviceTimestamp-base)
		}
		if r.Force != series[i].Force {
			t.Errorf("sample %d: force %v, want %v", i, r.Force, series[i].Force)
		}
		if r.Raw != series[i].Raw {
			t.Errorf("sample %d: raw %d, want %d", i, r.Raw, series[i].Raw)
		}
	}
}

func TestParseCSV_HeaderOptional(t *testing.T) {
	parsed, err := ParseCSV(strings.NewReader("0,1.5,100\n12,2.5,200\n"))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("parsed %d samples, want 2", len(parsed))
	}
	if parsed[1].Force != 2.5 || parsed[1].Raw != 200 {
		t.Errorf("second sample = %+v", parsed[1])
	}
}

func TestParseCSV_MalformedRow(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("time_ms,force_n,raw_value\n12,not-a-number,200\n"))
	if err == nil {
		t.Fatal("expected an error for a non-numeric force")
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("error %q does not name the offending line", err)
	}
}

func TestCSVFilename(t *testing.T) {
	got := CSVFilename(sampleRecord())
	if got != "test_7_2026-03-01T14-30-05.csv" {
		t.Errorf("filename = %q", got)
	}
	if strings.ContainsAny(got, " :") {
		t.Errorf("filename %q contains header-hostile characters", got)
	}
}

func TestRenderMarkdown_FullRecord(t *testing.T) {
	generated := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	out := RenderMarkdown(sampleRecord(), generated)

	for _, want := range []string{
		"# Static Fire Test 7 — Blue Streak H128",
		"Generated: 2026-03-02T09:00:00Z",
		"| Started | 2026-03-01T14:30:05Z |",
		"| Duration | 2.104 s |",
		"| Samples | 168 |",
		"| Peak Thrust | 97.42 N |",
		"| Total Impulse | 171.33 N·s |",
		"| Burn Time | 1.953 s |",
		"| Impulse Efficiency | 0.901 |",
		"| Burn Profile | neutral |",
		"| Motor Class | H |",
		"None.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q\n%s", want, out)
		}
	}

	// No mass was supplied, so no specific-impulse row.
	if strings.Contains(out, "Specific Impulse") {
		t.Error("specific impulse rendered without a propellant mass")
	}
	if strings.Contains(out, "CATO") {
		t.Error("CATO row rendered for a clean burn")
	}
}

func TestRenderMarkdown_WarningsAndCato(t *testing.T) {
	record := sampleRecord()
	record.Label = ""
	record.Result.SpecificImpulse = 10.0
	record.Result.CatoDetected = true
	record.Result.Warnings = []string{"Possible CATO (catastrophic failure) detected"}

	out := RenderMarkdown(record, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	if !strings.Contains(out, "# Static Fire Test 7\n") {
		t.Error("unlabeled record should render a bare title")
	}
	for _, want := range []string{
		"| Specific Impulse | 10.00 s |",
		"| CATO Detected | yes |",
		"- Possible CATO (catastrophic failure) detected",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q", want)
		}
	}
}

func TestRenderMarkdown_OfflineCapture(t *testing.T) {
	record := &domain.TestRecord{
		Label:       "burn.csv",
		DurationMS:  1990,
		SampleCount: 160,
		Result:      sampleRecord().Result,
	}

	out := RenderMarkdown(record, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	if !strings.Contains(out, "# Static Fire Analysis — burn.csv") {
		t.Errorf("offline capture title wrong:\n%s", out)
	}
	if strings.Contains(out, "| Started |") {
		t.Error("zero start time should not render a Started row")
	}
}
