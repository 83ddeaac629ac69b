// Package prompt renders the agent knowledge base into the system
// instruction text handed to the live session at connect time.
package prompt

import (
	"fmt"
	"strings"

	"github.com/Alphas-DBS/Nova-Core/pkg/store"
)

// Compile renders the knowledge base deterministically: the same config
// always produces the same instruction text. Empty sections are omitted.
func Compile(cfg store.AgentConfig) string {
	var b strings.Builder

	company := strings.TrimSpace(cfg.CompanyName)
	if company == "" {
		company = "the company"
	}
	fmt.Fprintf(&b, "You are a friendly, persuasive voice sales agent for %s.\n", company)
	b.WriteString("You are on a live phone call with a potential customer. Keep replies short and conversational, one thought at a time, as a human sales rep would. Never mention that you are an AI.\n")

	if about := strings.TrimSpace(cfg.About); about != "" {
		b.WriteString("\n## About the company\n")
		b.WriteString(about)
		b.WriteString("\n")
	}

	if len(cfg.Products) > 0 {
		b.WriteString("\n## Products and services\n")
		for _, p := range cfg.Products {
			line := "- " + strings.TrimSpace(p.Name)
			if price := strings.TrimSpace(p.Price); price != "" {
				line += " (" + price + ")"
			}
			if desc := strings.TrimSpace(p.Description); desc != "" {
				line += ": " + desc
			}
			b.WriteString(line + "\n")
		}
	}

	if script := strings.TrimSpace(cfg.SalesScript); script != "" {
		b.WriteString("\n## Sales approach\n")
		b.WriteString(script)
		b.WriteString("\n")
	}

	if len(cfg.Objections) > 0 {
		b.WriteString("\n## Handling objections\n")
		for _, o := range cfg.Objections {
			fmt.Fprintf(&b, "- If the customer says %q, respond along the lines of: %s\n",
				strings.TrimSpace(o.Objection), strings.TrimSpace(o.Response))
		}
	}

	if len(cfg.FAQs) > 0 {
		b.WriteString("\n## Frequently asked questions\n")
		for _, f := range cfg.FAQs {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", strings.TrimSpace(f.Question), strings.TrimSpace(f.Answer))
		}
	}

	b.WriteString("\n## Lead capture\n")
	b.WriteString("Whenever you learn something about the customer (their phone number, what they are interested in, their mood, or where they stand), call the update_lead function with just the fields you learned. Do this silently; never read the fields back to the customer.\n")

	return b.String()
}
