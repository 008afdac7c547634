package optionchain

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is a parsed option chain page used outside a live browser.
type Document struct {
	root *html.Node
}

// ParseDocument parses an HTML page.
func ParseDocument(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{root: root}, nil
}

// Tables returns every table in document order, in the same shape the live page probe returns.
func (d *Document) Tables() []TableCandidate {
	var out []TableCandidate
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Table {
			out = append(out, readTable(n, len(out)))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return out
}

// Spot reads the underlying value from the element with the given id.
func (d *Document) Spot(elementID string) (float64, bool) {
	n := findByID(d.root, elementID)
	if n == nil {
		return 0, false
	}
	return SpotFromText(textContent(n))
}

func readTable(table *html.Node, ordinal int) TableCandidate {
	id := attr(table, "id")
	if id == "" {
		id = fmt.Sprintf("table-%d", ordinal)
	}
	cand := TableCandidate{ID: id, Text: collapseSpace(textContent(table))}

	var walk func(n *html.Node, inHead bool)
	walk = func(n *html.Node, inHead bool) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Table:
				if n != table {
					return // nested tables are separate candidates
				}
			case atom.Thead:
				inHead = true
			case atom.Tr:
				cells, allHeader := rowCells(n)
				if len(cells) == 0 {
					return
				}
				if inHead || allHeader {
					cand.HeaderRows = append(cand.HeaderRows, cells)
				} else {
					cand.Rows = append(cand.Rows, cells)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inHead)
		}
	}
	walk(table, false)
	cand.Fingerprint = Fingerprint(cand.Rows)
	return cand
}

func rowCells(tr *html.Node) ([]string, bool) {
	var cells []string
	allHeader := true
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.Th:
			cells = append(cells, collapseSpace(textContent(c)))
		case atom.Td:
			allHeader = false
			cells = append(cells, collapseSpace(textContent(c)))
		}
	}
	return cells, allHeader && len(cells) > 0
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode && attr(n, "id") == id {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
