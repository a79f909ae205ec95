package web

import (
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
)

func itoa(value int) string {
	return strconv.Itoa(value)
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	return value.Format("2006-01-02 15:04:05")
}

// formatIdle renders whole seconds; attached documents show a dash.
func formatIdle(row DocumentSummary) string {
	if row.Clients > 0 {
		return "-"
	}
	return strconv.FormatFloat(row.IdleSeconds, 'f', 0, 64) + "s"
}

func formatRoster(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	escaped := make([]string, 0, len(names))
	for _, name := range names {
		escaped = append(escaped, templ.EscapeString(name))
	}
	return strings.Join(escaped, ", ")
}

func phaseLabel(phase string) string {
	if phase == "" {
		return "new"
	}
	return phase
}
