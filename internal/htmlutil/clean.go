package htmlutil

import (
	"strings"

	"github.com/k3a/html2text"
)

// ToText converts HTML to plain text, collapsing runs of whitespace so the
// result reads as a single paragraph when spoken.
func ToText(s string) string {
	if s == "" {
		return ""
	}
	return strings.Join(strings.Fields(html2text.HTML2Text(s)), " ")
}
