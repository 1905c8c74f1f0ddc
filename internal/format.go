package gateway

import (
	"fmt"
	"strings"
	"time"
)

// HumanBytes renders a byte count the way the status and prepare pages
// show file sizes: two decimals, binary units.
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// HumanDuration renders an uptime as "1d 2h 3m 4s", dropping leading
// zero components.
func HumanDuration(d time.Duration) string {
	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	mins := d / time.Minute
	secs := d - mins*time.Minute

	var b strings.Builder
	if days > 0 {
		fmt.Fprintf(&b, "%dd ", days)
	}
	if hours > 0 || b.Len() > 0 {
		fmt.Fprintf(&b, "%dh ", hours)
	}
	if mins > 0 || b.Len() > 0 {
		fmt.Fprintf(&b, "%dm ", mins)
	}
	fmt.Fprintf(&b, "%ds", secs/time.Second)
	return b.String()
}
