package reporting

import (
	"fmt"
	"strings"
	"time"

	"static-fire-lab/internal/domain"
)

// RenderMarkdown renders a committed test as a markdown summary: metadata
// header, metric table, warnings. generatedAt is injected so output is
// reproducible.
func RenderMarkdown(record *domain.TestRecord, generatedAt time.Time) string {
	var sb strings.Builder

	// Header. Offline captures have no assigned ID.
	title := "# Static Fire Analysis"
	if record.ID != 0 {
		title = fmt.Sprintf("# Static Fire Test %d", record.ID)
	}
	if record.Label != "" {
		title += " — " + record.Label
	}
	sb.WriteString(title + "\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", generatedAt.UTC().Format(time.RFC3339)))

	// Metadata
	sb.WriteString("| | |\n")
	sb.WriteString("|---|---|\n")
	if !record.StartedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("| Started | %s |\n", record.StartedAt.UTC().Format(time.RFC3339)))
	}
	sb.WriteString(fmt.Sprintf("| Duration | %.3f s |\n", float64(record.DurationMS)/1000))
	sb.WriteString(fmt.Sprintf("| Samples | %d |\n", record.SampleCount))
	if record.Fingerprint != "" {
		sb.WriteString(fmt.Sprintf("| Fingerprint | `%s` |\n", record.Fingerprint))
	}
	if record.SessionID != "" {
		sb.WriteString(fmt.Sprintf("| Session | %s |\n", record.SessionID))
	}
	sb.WriteString("\n")

	// Metrics
	r := record.Result
	sb.WriteString("## Metrics\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Peak Thrust | %.2f N |\n", r.PeakThrust))
	sb.WriteString(fmt.Sprintf("| Total Impulse | %.2f N·s |\n", r.TotalImpulse))
	sb.WriteString(fmt.Sprintf("| Average Thrust | %.2f N |\n", r.AverageThrust))
	sb.WriteString(fmt.Sprintf("| Burn Time | %.3f s |\n", r.BurnTime))
	sb.WriteString(fmt.Sprintf("| Time to Peak | %.3f s |\n", r.TimeToPeak))
	sb.WriteString(fmt.Sprintf("| Time to 90%% | %.3f s |\n", r.TimeTo90Percent))
	sb.WriteString(fmt.Sprintf("| Rise Rate | %.2f N/s |\n", r.RiseRate))
	sb.WriteString(fmt.Sprintf("| Decay Rate | %.2f N/s |\n", r.DecayRate))
	sb.WriteString(fmt.Sprintf("| Thrust Stability | %.2f N |\n", r.ThrustStability))
	sb.WriteString(fmt.Sprintf("| Impulse Efficiency | %.3f |\n", r.ImpulseEfficiency))
	sb.WriteString(fmt.Sprintf("| Burn Profile | %s |\n", r.BurnProfile))
	sb.WriteString(fmt.Sprintf("| Motor Class | %s |\n", r.MotorClass))
	if r.SpecificImpulse > 0 {
		sb.WriteString(fmt.Sprintf("| Specific Impulse | %.2f s |\n", r.SpecificImpulse))
	}
	if r.CatoDetected {
		sb.WriteString("| CATO Detected | yes |\n")
	}
	sb.WriteString("\n")

	// Warnings
	sb.WriteString("## Warnings\n\n")
	if len(r.Warnings) > 0 {
		for _, w := range r.Warnings {
			sb.WriteString(fmt.Sprintf("- %s\n", w))
		}
	} else {
		sb.WriteString("None.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}
