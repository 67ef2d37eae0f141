package diagnose

import (
	"fmt"
	"strings"
)

const maxPlanActions = 5

// HealingPlan renders a diagnosis as a plain-text report.
func HealingPlan(d Diagnosis) string {
	if len(d.Issues) == 0 {
		return "No issues detected. Device is operating normally."
	}

	var b strings.Builder
	b.WriteString("Self-Healing Diagnosis Report\n\n")
	fmt.Fprintf(&b, "Issues Found: %d\n", len(d.Issues))
	fmt.Fprintf(&b, "Confidence: %.1f%%\n", d.Confidence*100)
	fmt.Fprintf(&b, "Human Intervention Required: %s\n\n", yesNo(d.RequiresHumanIntervention))

	for _, is := range d.Issues {
		fmt.Fprintf(&b, "[%s] %s\n", is.Severity, titleWords(is.Type))
		fmt.Fprintf(&b, "   %s\n\n", is.Description)
	}

	if len(d.HealingActions) > 0 {
		b.WriteString("Recommended Actions:\n")
		for i, a := range d.HealingActions {
			if i == maxPlanActions {
				break
			}
			fmt.Fprintf(&b, "%d. %s\n", i+1, titleWords(a))
		}
	}

	if d.RequiresHumanIntervention {
		b.WriteString("\nHuman intervention recommended for critical issues.")
	}
	return strings.TrimRight(b.String(), "\n")
}

// titleWords turns "check_power_supply" into "Check Power Supply".
func titleWords(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
