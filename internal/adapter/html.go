package adapter

import (
	"context"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/deltafeed/engine/internal/model"
)

// HTMLConfig is the config map shape for an "html"-adapter source. Each
// selector is a restricted subset covering what the corpus's upstream
// pages actually use: a tag name, optional ".class" suffixes, and an
// optional leading ">" for direct-child scoping from the item node.
type HTMLConfig struct {
	URL          string
	ItemSelector string
	TitleSel     string
	LinkSel      string
	ContentSel   string
	AllowPrivate bool
	Timeout      time.Duration
	BearerToken  string
}

type HTMLAdapter struct {
	Base
	cfg HTMLConfig
}

func NewHTMLAdapter(base Base, cfg HTMLConfig) *HTMLAdapter {
	return &HTMLAdapter{Base: base, cfg: cfg}
}

func (a *HTMLAdapter) Fetch(ctx context.Context) ([]RawItem, int, string) {
	res := httpFetch(ctx, a.cfg.URL, fetchOptions{
		timeout: a.cfg.Timeout, allowPrivate: a.cfg.AllowPrivate, bearerToken: a.cfg.BearerToken,
	})
	if res.errMsg != "" {
		return nil, res.httpStatus, res.errMsg
	}
	root, err := html.Parse(strings.NewReader(string(res.body)))
	if err != nil {
		return nil, res.httpStatus, "decode failed: " + err.Error()
	}

	var out []RawItem
	for _, node := range selectAll(root, a.cfg.ItemSelector) {
		item := RawItem{}
		if t := selectFirst(node, a.cfg.TitleSel); t != nil {
			item["title"] = textOf(t)
		}
		if l := selectFirst(node, a.cfg.LinkSel); l != nil {
			item["link"] = attrOf(l, "href")
			if item["title"] == nil || item["title"] == "" {
				item["title"] = textOf(l)
			}
		}
		if c := selectFirst(node, a.cfg.ContentSel); c != nil {
			item["content"] = textOf(c)
		}
		out = append(out, item)
	}
	return a.Truncate(out), res.httpStatus, ""
}

func (a *HTMLAdapter) Normalize(raw RawItem, fetchedAt time.Time) model.NormalizedItem {
	id := a.BestEffortID(raw)
	published, updated := a.BestEffortTimes(raw, fetchedAt)
	return model.NormalizedItem{
		Source:        a.SourceName,
		ID:            id,
		URL:           a.BestEffortURL(raw),
		Title:         a.Title(raw),
		PublishedAt:   published,
		UpdatedAt:     updated,
		Content:       stringify(raw["content"]),
		SourcePayload: a.SourcePayload(raw),
	}
}

func (a *HTMLAdapter) SourceHash(items []model.NormalizedItem) (string, error) {
	return hashItems(a.SourceName, items, a.MaxItems)
}

// selector is a parsed "tag.class1.class2" pattern, optionally preceded
// by a lone ">" meaning "direct children only".
type selector struct {
	tag        string
	classes    []string
	directOnly bool
}

func parseSelector(s string) selector {
	s = strings.TrimSpace(s)
	sel := selector{}
	if strings.HasPrefix(s, ">") {
		sel.directOnly = true
		s = strings.TrimSpace(strings.TrimPrefix(s, ">"))
	}
	parts := strings.Split(s, ".")
	sel.tag = parts[0]
	if len(parts) > 1 {
		sel.classes = parts[1:]
	}
	return sel
}

func (sel selector) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if sel.tag != "" && sel.tag != "*" && n.Data != sel.tag {
		return false
	}
	if len(sel.classes) == 0 {
		return true
	}
	classAttr := attrOf(n, "class")
	have := strings.Fields(classAttr)
	haveSet := make(map[string]bool, len(have))
	for _, c := range have {
		haveSet[c] = true
	}
	for _, want := range sel.classes {
		if !haveSet[want] {
			return false
		}
	}
	return true
}

// selectAll returns every descendant of root matching selStr, in
// document order. An empty selStr matches nothing.
func selectAll(root *html.Node, selStr string) []*html.Node {
	if strings.TrimSpace(selStr) == "" {
		return nil
	}
	sel := parseSelector(selStr)
	var out []*html.Node
	var walk func(n *html.Node, depth int)
	walk = func(n *html.Node, depth int) {
		if sel.matches(n) && (!sel.directOnly || depth == 1) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, depth+1)
		}
	}
	walk(root, 0)
	return out
}

// selectFirst returns the first descendant of root matching selStr.
func selectFirst(root *html.Node, selStr string) *html.Node {
	all := selectAll(root, selStr)
	if len(all) == 0 {
		return nil
	}
	return all[0]
}

func attrOf(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
