package alert

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mallocator/domain-watch/pkg/status"
)

// Registrar search pages linked from availability notices
var registrarLinks = []struct {
	name   string
	format string
}{
	{"NameSilo", "https://www.namesilo.com/register.php?search_type=new&domains=%s"},
	{"GoDaddy", "https://www.godaddy.com/domains/searchresults.aspx?domainToCheck=%s"},
	{"Namecheap", "https://www.namecheap.com/domains/registration/results.aspx?domain=%s"},
}

// Message renders the Markdown text for a decision
func Message(d Decision, domain string, c status.Classification, checkedAt time.Time) string {
	var b strings.Builder

	switch d.Kind {
	case FirstCheck:
		b.WriteString("🔎 *Now watching domain*\n\n")
	case BecameAvailable:
		b.WriteString("🚨 *Domain available for registration!*\n\n")
	case StillAvailable:
		b.WriteString("🔔 *Domain still available*\n\n")
	case Expired:
		b.WriteString("⚠️ *Domain expired*\n\n")
	case ExpiringSoon:
		fmt.Fprintf(&b, "⏰ *Domain expires in %s*\n\n", plural(d.Days, "day"))
	default:
		return ""
	}

	fmt.Fprintf(&b, "- *Domain:* %s\n", code(domain))
	fmt.Fprintf(&b, "- *Status:* %s\n", c.Status)
	if c.Registrar != "" {
		fmt.Fprintf(&b, "- *Registrar:* %s\n", code(c.Registrar))
	}
	if c.ExpiryDate != nil {
		fmt.Fprintf(&b, "- *Expiry date:* %s (%s)\n", code(c.ExpiryDate.Format("2006-01-02")), daysText(d.Days))
	} else if c.Ambiguous() {
		b.WriteString("- *Expiry date:* unreadable\n")
	}
	fmt.Fprintf(&b, "- *Checked at:* %s\n", code(checkedAt.UTC().Format("2006-01-02 15:04:05 MST")))
	if c.Guessed {
		b.WriteString("\n_WHOIS gave no answer, status guessed from DNS_\n")
	}

	if c.Status == status.Available {
		b.WriteString("\n*Register at*\n")
		for _, l := range registrarLinks {
			fmt.Fprintf(&b, "- [%s](%s)\n", l.name, fmt.Sprintf(l.format, url.QueryEscape(domain)))
		}
	}

	switch d.Kind {
	case ExpiringSoon:
		b.WriteString("\nRenew it in time or get ready to pick it up.\n")
	case Expired:
		b.WriteString("\nThe domain may be released soon.\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// Details summarizes a classification for the history log
func Details(c status.Classification, now time.Time) string {
	var parts []string
	if c.Registrar != "" {
		parts = append(parts, "registrar: "+c.Registrar)
	}
	if c.ExpiryDate != nil {
		days, _ := c.DaysUntilExpiry(now)
		parts = append(parts, fmt.Sprintf("expires: %s (%s)", c.ExpiryDate.Format("2006-01-02"), daysText(days)))
	}
	if c.Guessed {
		parts = append(parts, "guessed from DNS")
	}
	if c.Err != nil {
		parts = append(parts, "error: "+c.Err.Error())
	}
	return strings.Join(parts, ", ")
}

func daysText(days int) string {
	switch {
	case days > 0:
		return plural(days, "day") + " left"
	case days == 0:
		return "expires today"
	default:
		return plural(-days, "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// code wraps a value in a Markdown code span, which needs no further escaping
func code(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "'") + "`"
}
