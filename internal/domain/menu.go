package domain

import (
	"fmt"
	"strings"
)

// Menu is an interactive list message. Gateways that cannot render it get
// PlainText instead.
type Menu struct {
	Title      string
	Body       string
	ButtonText string
	Footer     string
	Sections   []MenuSection
}

type MenuSection struct {
	Title string
	Rows  []MenuRow
}

type MenuRow struct {
	ID          string
	Title       string
	Description string
}

// PlainText renders the menu as a numbered text message.
func (m Menu) PlainText() string {
	var b strings.Builder
	if m.Title != "" {
		fmt.Fprintf(&b, "*%s*\n", m.Title)
	}
	if m.Body != "" {
		b.WriteString(m.Body)
		b.WriteString("\n")
	}
	n := 0
	for _, s := range m.Sections {
		if s.Title != "" {
			fmt.Fprintf(&b, "\n_%s_\n", s.Title)
		}
		for _, r := range s.Rows {
			n++
			fmt.Fprintf(&b, "%d. %s", n, r.Title)
			if r.Description != "" {
				fmt.Fprintf(&b, ": %s", r.Description)
			}
			b.WriteString("\n")
		}
	}
	if m.Footer != "" {
		fmt.Fprintf(&b, "\n%s", m.Footer)
	}
	return strings.TrimRight(b.String(), "\n")
}
