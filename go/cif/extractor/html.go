package extractor

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"go.skia.org/cif/go/cif/connector"
	"go.skia.org/cif/go/cif/types"
)

// whitespaceRe matches runs of whitespace. \p{Z} is included because Go's \s
// does not cover non-breaking spaces, which are common in HTML.
var whitespaceRe = regexp.MustCompile(`[\s\p{Z}]+`)

// collapseWhitespace folds whitespace runs into single spaces and trims the
// ends.
func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// textNodes returns every text node of doc in document order, with entities
// decoded.
func textNodes(doc []byte) []string {
	z := html.NewTokenizer(bytes.NewReader(doc))
	ret := []string{}
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ret
		case html.TextToken:
			if text := string(z.Text()); text != "" {
				ret = append(ret, text)
			}
		}
	}
}

// HTML emits a single DOCUMENT fragment holding all of the artifact's text
// content with markup removed and whitespace collapsed.
type HTML struct {
	conn   connector.Connector
	filter *TextFilter
}

// NewHTML returns an HTML extractor reading through conn.
func NewHTML(conn connector.Connector, filter *TextFilter) *HTML {
	return &HTML{conn: conn, filter: filter}
}

// Type implements Extractor.
func (h *HTML) Type() string {
	return "HTMLExtractor"
}

// CalcFragments implements Extractor.
func (h *HTML) CalcFragments(ctx context.Context, artifact *types.Artifact, opts FragmentOptions) ([]*types.Fragment, error) {
	content, err := readContent(ctx, h.conn, artifact, opts)
	if err != nil {
		return nil, err
	}
	text := collapseWhitespace(strings.Join(textNodes(content), " "))
	return []*types.Fragment{
		newFragment(artifact, opts, 0, types.AggregationDocument, text, nil, h.filter),
	}, nil
}

// CalcFragmentKeys implements Extractor.
func (h *HTML) CalcFragmentKeys(ctx context.Context, artifact *types.Artifact, fragment *types.Fragment) ([]*types.FragmentKey, error) {
	return calcRuleKeys(artifact, fragment), nil
}

// link is one anchor found in a document.
type link struct {
	href string
	text string
}

// findLinks returns the href and anchor text of every <a> element carrying
// an href attribute, in document order.
func findLinks(doc []byte) []link {
	z := html.NewTokenizer(bytes.NewReader(doc))
	ret := []link{}
	var current *link
	var text []string
	flush := func() {
		if current == nil {
			return
		}
		current.text = collapseWhitespace(strings.Join(text, " "))
		ret = append(ret, *current)
		current = nil
	}
	for {
		switch z.Next() {
		case html.ErrorToken:
			flush()
			return ret
		case html.StartTagToken, html.SelfClosingTagToken:
			t := z.Token()
			if t.DataAtom != atom.A {
				continue
			}
			href, ok := findAttr(t, "href")
			if !ok {
				continue
			}
			if t.Type == html.SelfClosingTagToken {
				ret = append(ret, link{href: href})
				continue
			}
			current = &link{href: href}
			text = nil
		case html.TextToken:
			if current != nil {
				text = append(text, string(z.Text()))
			}
		case html.EndTagToken:
			t := z.Token()
			if t.DataAtom == atom.A {
				flush()
			}
		}
	}
}

func findAttr(t html.Token, name string) (string, bool) {
	for _, a := range t.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// HTMLLink emits one LINK fragment per anchor in the artifact with the href
// and the anchor text joined into the fragment text.
type HTMLLink struct {
	conn   connector.Connector
	filter *TextFilter
}

// NewHTMLLink returns an HTMLLink extractor reading through conn.
func NewHTMLLink(conn connector.Connector, filter *TextFilter) *HTMLLink {
	return &HTMLLink{conn: conn, filter: filter}
}

// Type implements Extractor.
func (h *HTMLLink) Type() string {
	return "HTMLLinkExtractor"
}

// CalcFragments implements Extractor.
func (h *HTMLLink) CalcFragments(ctx context.Context, artifact *types.Artifact, opts FragmentOptions) ([]*types.Fragment, error) {
	content, err := readContent(ctx, h.conn, artifact, opts)
	if err != nil {
		return nil, err
	}
	links := findLinks(content)
	ret := make([]*types.Fragment, 0, len(links))
	for i, l := range links {
		text := fmt.Sprintf("%s %s", l.href, l.text)
		ret = append(ret, newFragment(artifact, opts, int64(i), types.AggregationLink, text, nil, h.filter))
	}
	return ret, nil
}

// CalcFragmentKeys implements Extractor.
func (h *HTMLLink) CalcFragmentKeys(ctx context.Context, artifact *types.Artifact, fragment *types.Fragment) ([]*types.FragmentKey, error) {
	return calcRuleKeys(artifact, fragment), nil
}

// findTitle returns the text of the document's first <title> element,
// trimmed but otherwise untouched. ok is false when the document has no
// title element.
func findTitle(doc []byte) (string, bool) {
	z := html.NewTokenizer(bytes.NewReader(doc))
	inTitle := false
	var text strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return "", false
		case html.StartTagToken:
			if t := z.Token(); t.DataAtom == atom.Title {
				inTitle = true
			}
		case html.TextToken:
			if inTitle {
				text.Write(z.Text())
			}
		case html.EndTagToken:
			if t := z.Token(); t.DataAtom == atom.Title && inTitle {
				return strings.TrimSpace(text.String()), true
			}
		}
	}
}

// HTMLTitle emits a single TITLE fragment holding the artifact's <title>
// text. Artifacts without a title element are an error.
type HTMLTitle struct {
	conn   connector.Connector
	filter *TextFilter
}

// NewHTMLTitle returns an HTMLTitle extractor reading through conn.
func NewHTMLTitle(conn connector.Connector, filter *TextFilter) *HTMLTitle {
	return &HTMLTitle{conn: conn, filter: filter}
}

// Type implements Extractor.
func (h *HTMLTitle) Type() string {
	return "HTMLTitleExtractor"
}

// CalcFragments implements Extractor.
func (h *HTMLTitle) CalcFragments(ctx context.Context, artifact *types.Artifact, opts FragmentOptions) ([]*types.Fragment, error) {
	content, err := readContent(ctx, h.conn, artifact, opts)
	if err != nil {
		return nil, err
	}
	title, ok := findTitle(content)
	if !ok {
		return nil, errors.Errorf("no title element found in %s", artifact.ExternalID)
	}
	return []*types.Fragment{
		newFragment(artifact, opts, 0, types.AggregationTitle, title, nil, h.filter),
	}, nil
}

// CalcFragmentKeys implements Extractor.
func (h *HTMLTitle) CalcFragmentKeys(ctx context.Context, artifact *types.Artifact, fragment *types.Fragment) ([]*types.FragmentKey, error) {
	return calcRuleKeys(artifact, fragment), nil
}

var _ Extractor = (*HTML)(nil)
var _ Extractor = (*HTMLLink)(nil)
var _ Extractor = (*HTMLTitle)(nil)
