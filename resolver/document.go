package resolver

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var (
	_ Source  = (*Document)(nil)
	_ Element = (*Document)(nil)
)

// Document is a Source over static HTML. Timeouts are ignored since the
// markup is already loaded.
type Document struct {
	sel *goquery.Selection
}

func NewDocument(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	return &Document{sel: doc.Selection}, nil
}

func NewDocumentFromString(html string) (*Document, error) {
	return NewDocument(strings.NewReader(html))
}

func (d *Document) Find(_ context.Context, selector string, _ time.Duration) (Element, error) {
	s := d.sel.Find(selector).First()
	if s.Length() == 0 {
		return nil, ErrNotFound
	}

	return &Document{sel: s}, nil
}

func (d *Document) FindAll(_ context.Context, selector string, _ time.Duration) ([]Element, error) {
	found := d.sel.Find(selector)

	els := make([]Element, 0, found.Length())

	found.Each(func(_ int, s *goquery.Selection) {
		els = append(els, &Document{sel: s})
	})

	return els, nil
}

func (d *Document) Text(context.Context) (string, error) {
	return strings.TrimSpace(d.sel.Text()), nil
}

func (d *Document) Attr(_ context.Context, name string) (string, error) {
	v, _ := d.sel.Attr(name)

	return v, nil
}

// HTML returns the outer HTML of the node.
func (d *Document) HTML() (string, error) {
	return goquery.OuterHtml(d.sel)
}
