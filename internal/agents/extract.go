package agents

import (
	"bytes"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cockroachdb/errors"

	"scanwatch/internal/scan/capture"
	"scanwatch/internal/scan/errkind"
)

// Selector keys with special meaning. Every other key names a field.
const (
	SelItem = "item" // required: one match per candidate
	SelURL  = "url"  // candidate link, resolved against the page URL
	SelID   = "id"   // stable id used as the fingerprint
)

// ErrNoItemSelector is returned for descriptors without an item selector.
var ErrNoItemSelector = errkind.New(errkind.SourceUnavailable, `selectors.item is required`)

// ExtractHTML parses body and applies selectors (see Extract).
func ExtractHTML(body []byte, base *url.URL, selectors map[string]string, limit int) ([]capture.CandidateRaw, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "parse html")
	}
	return Extract(doc, base, selectors, limit)
}

// Extract returns one candidate per match of selectors["item"]. Field selectors are
// evaluated relative to the item; "sel@attr" reads an attribute instead of text, and an
// empty selector reads the item itself. Items with no field values are skipped. limit <= 0
// means no limit.
func Extract(doc *goquery.Document, base *url.URL, selectors map[string]string, limit int) ([]capture.CandidateRaw, error) {
	itemSel := strings.TrimSpace(selectors[SelItem])
	if itemSel == "" {
		return nil, ErrNoItemSelector
	}

	fields := make([]string, 0, len(selectors))
	for k := range selectors {
		if k != SelItem {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)

	var out []capture.CandidateRaw
	doc.Find(itemSel).EachWithBreak(func(_ int, item *goquery.Selection) bool {
		c := capture.CandidateRaw{Fields: map[string]string{}}
		for _, name := range fields {
			v := evalField(item, selectors[name])
			if v == "" {
				continue
			}
			switch name {
			case SelURL:
				c.URL = resolve(base, v)
			case SelID:
				c.Fingerprint = v
			default:
				c.Fields[name] = v
			}
		}
		if c.URL == "" && len(c.Fields) == 0 && c.Fingerprint == "" {
			return true
		}
		if len(c.Fields) == 0 {
			c.Fields = nil
		}
		out = append(out, c)
		return limit <= 0 || len(out) < limit
	})
	return out, nil
}

func evalField(item *goquery.Selection, expr string) string {
	sel, attr := expr, ""
	if i := strings.LastIndex(expr, "@"); i >= 0 {
		sel, attr = expr[:i], expr[i+1:]
	}
	sel = strings.TrimSpace(sel)
	target := item
	if sel != "" {
		target = item.Find(sel).First()
	}
	if target.Length() == 0 {
		return ""
	}
	if attr != "" {
		v, _ := target.Attr(strings.TrimSpace(attr))
		return strings.TrimSpace(v)
	}
	return strings.Join(strings.Fields(target.Text()), " ")
}

func resolve(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}
