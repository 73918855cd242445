package adapter

import (
	"context"
	"encoding/xml"
	"time"

	"github.com/deltafeed/engine/internal/model"
)

// RSSConfig is the config map shape for an "rss"-adapter source. The feed
// may be RSS 2.0 or Atom; both decode into rssEnvelope's union of fields.
type RSSConfig struct {
	URL          string
	AllowPrivate bool
	Timeout      time.Duration
	BearerToken  string
}

type RSSAdapter struct {
	Base
	cfg RSSConfig
}

func NewRSSAdapter(base Base, cfg RSSConfig) *RSSAdapter {
	return &RSSAdapter{Base: base, cfg: cfg}
}

// rssEnvelope covers both <rss><channel><item> and <feed><entry> shapes
// with one struct: Atom's <feed> and RSS's <channel> share no element
// names, so both can be tagged on the same Go fields without collision.
type rssEnvelope struct {
	Channel *rssChannel `xml:"channel"`
	Entries []rssEntry  `xml:"entry"`
}

type rssChannel struct {
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	GUID    string `xml:"guid"`
	PubDate string `xml:"pubDate"`
	Desc    string `xml:"description"`
	Content string `xml:"encoded"`
}

type rssEntry struct {
	Title     string    `xml:"title"`
	ID        string    `xml:"id"`
	Published string    `xml:"published"`
	Updated   string    `xml:"updated"`
	Summary   string    `xml:"summary"`
	Content   string    `xml:"content"`
	Links     []rssLink `xml:"link"`
}

type rssLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

func (a *RSSAdapter) Fetch(ctx context.Context) ([]RawItem, int, string) {
	res := httpFetch(ctx, a.cfg.URL, fetchOptions{
		timeout: a.cfg.Timeout, allowPrivate: a.cfg.AllowPrivate, bearerToken: a.cfg.BearerToken,
	})
	if res.errMsg != "" {
		return nil, res.httpStatus, res.errMsg
	}
	var env rssEnvelope
	if err := xml.Unmarshal(res.body, &env); err != nil {
		return nil, res.httpStatus, "decode failed: " + err.Error()
	}

	var out []RawItem
	if env.Channel != nil {
		for _, it := range env.Channel.Items {
			out = append(out, RawItem{
				"guid":        it.GUID,
				"link":        it.Link,
				"title":       it.Title,
				"pubDate":     it.PubDate,
				"description": it.Desc,
				"content":     firstNonEmpty(it.Content, it.Desc),
			})
		}
	}
	for _, e := range env.Entries {
		link := e.ID
		for _, l := range e.Links {
			if l.Rel == "alternate" || l.Rel == "" {
				link = l.Href
				break
			}
		}
		out = append(out, RawItem{
			"id":        e.ID,
			"link":      link,
			"title":     e.Title,
			"published": e.Published,
			"updated":   e.Updated,
			"content":   firstNonEmpty(e.Content, e.Summary),
		})
	}
	return a.Truncate(out), res.httpStatus, ""
}

func (a *RSSAdapter) Normalize(raw RawItem, fetchedAt time.Time) model.NormalizedItem {
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

func (a *RSSAdapter) SourceHash(items []model.NormalizedItem) (string, error) {
	return hashItems(a.SourceName, items, a.MaxItems)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
