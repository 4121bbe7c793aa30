package report

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/brunobpinto/smart-trashcans/internal/storage"
)

const (
	MarkerLow    = "🟢"
	MarkerMedium = "🟡"
	MarkerHigh   = "🔴"

	nameWidth = 12
)

// Marker thresholds match dashboard fill summary.
func Marker(fill float64) string {
	switch {
	case fill < 33:
		return MarkerLow
	case fill < 66:
		return MarkerMedium
	default:
		return MarkerHigh
	}
}

// Snapshot is ranking built fresh per cycle.
type Snapshot struct {
	Generated time.Time
	// Total is number of trashcans with any status
	Total   int
	Entries []storage.TrashcanStatus
}

// Build ranks by fill descending, equal fill keeps input order.
func Build(statuses []storage.TrashcanStatus, top int, now time.Time) Snapshot {
	s := Snapshot{Generated: now, Total: len(statuses)}
	if len(statuses) == 0 {
		return s
	}
	ranked := make([]storage.TrashcanStatus, len(statuses))
	copy(ranked, statuses)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Status.CapacityPct > ranked[j].Status.CapacityPct
	})
	if top > 0 && len(ranked) > top {
		ranked = ranked[:top]
	}
	s.Entries = ranked
	return s
}

const noDataText = "🗑 <b>Trashcans report</b>\nNo status data received yet."

// Render produces Telegram HTML: fixed-width table in <pre>, then details per trashcan.
func Render(s Snapshot) string {
	if s.Total == 0 {
		return noDataText
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🗑 <b>Trashcans report</b> %s\n", s.Generated.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Top %d of %d by fill level\n", len(s.Entries), s.Total)

	b.WriteString("<pre>\n")
	fmt.Fprintf(&b, "%-2s %-*s %6s %5s\n", "#", nameWidth, "Name", "Fill", "Uses")
	for i, e := range s.Entries {
		// pad before escape, entities must not count as width
		name := html.EscapeString(fmt.Sprintf("%-*s", nameWidth, truncate(e.Trashcan.Name, nameWidth)))
		fmt.Fprintf(&b, "%-2d %s %5.0f%% %5d\n", i+1, name, e.Status.CapacityPct, e.Status.UseCount)
	}
	b.WriteString("</pre>\n")

	for _, e := range s.Entries {
		fmt.Fprintf(&b, "\n%s <b>%s</b> %.0f%%", Marker(e.Status.CapacityPct), html.EscapeString(e.Trashcan.Name), e.Status.CapacityPct)
		if e.Trashcan.Location != "" {
			fmt.Fprintf(&b, "\n  location: %s", html.EscapeString(e.Trashcan.Location))
		}
		if e.Trashcan.Description != "" {
			fmt.Fprintf(&b, "\n  %s", html.EscapeString(e.Trashcan.Description))
		}
		fmt.Fprintf(&b, "\n  uses: %d, updated %s", e.Status.UseCount, e.Status.Hour.Format("2006-01-02 15:04"))
	}
	return b.String()
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n-1]) + "…"
}
