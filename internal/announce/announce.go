// Package announce renders LumiNUS announcements (server-side HTML
// descriptions) to plain text for terminal output. golang.org/x/net/html
// strips tags and decodes entities in one pass: its tokenizer already
// decodes entities while walking, so extracting #text nodes alone yields
// clean text content.
package announce

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/nuslumi/luminus-sync/internal/api"
)

// RenderDescription strips every HTML tag out of descriptionHTML and
// returns the concatenated text content, decoded of entities.
func RenderDescription(descriptionHTML string) string {
	doc, err := html.Parse(strings.NewReader(descriptionHTML))
	if err != nil {
		// A server-controlled description field that html.Parse can't even
		// tokenize is unexpected; fall back to it verbatim rather than
		// dropping the announcement's content entirely.
		return descriptionHTML
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String()
}

// PrintModule writes moduleCode/moduleName's announcements to w in a
// "# CODE NAME" / "=== title ===" / body layout: one blank line after the
// header, announcements printed back to back with no blank line between
// them, and two blank lines trailing the module's whole section.
func PrintModule(w io.Writer, moduleCode, moduleName string, announcements []api.Announcement) error {
	if _, err := fmt.Fprintf(w, "# %s %s\n\n", moduleCode, moduleName); err != nil {
		return err
	}
	for _, ann := range announcements {
		if _, err := fmt.Fprintf(w, "=== %s ===\n", ann.Title); err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, RenderDescription(ann.Description)); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	return nil
}
