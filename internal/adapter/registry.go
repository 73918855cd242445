package adapter

import (
	"os"
	"time"

	"github.com/deltafeed/engine/internal/model"
	pkgerrors "github.com/deltafeed/engine/pkg/errors"
)

const (
	KindJSON           = "json"
	KindRSS            = "rss"
	KindHTML           = "html"
	KindMoltbookLegacy = "moltbook-legacy"
)

const (
	// defaultMaxItems / hardMaxItems bound how many items one fetch can
	// yield; the configured max_items cap is itself capped at 50.
	defaultMaxItems = 50
	hardMaxItems    = 50
	defaultTimeout  = 20 * time.Second
)

// New builds the concrete Adapter for a source's configured kind.
func New(sourceName string, sc model.SourceConfig) (Adapter, error) {
	base := Base{
		SourceName: sourceName,
		MaxItems:   sc.MaxItemsOr(defaultMaxItems, hardMaxItems),
	}
	url, _ := sc.Config["url"].(string)
	allowPrivate, _ := sc.Config["allow_private_networks"].(bool)
	// timeout_sec can only tighten the fetch deadline, never extend it
	// past the 20-second ceiling.
	timeout := defaultTimeout
	if v, ok := sc.Config["timeout_sec"].(float64); ok && v > 0 && time.Duration(v)*time.Second < defaultTimeout {
		timeout = time.Duration(v) * time.Second
	}
	var bearer string
	if envName, _ := sc.Config["credential_env"].(string); envName != "" {
		bearer = os.Getenv(envName)
	}

	switch sc.Adapter {
	case KindJSON:
		itemsPath, _ := sc.Config["items_path"].(string)
		return NewJSONAdapter(base, JSONConfig{
			URL: url, ItemsPath: itemsPath, AllowPrivate: allowPrivate, Timeout: timeout,
			BearerToken: bearer,
		}), nil

	case KindRSS:
		return NewRSSAdapter(base, RSSConfig{
			URL: url, AllowPrivate: allowPrivate, Timeout: timeout, BearerToken: bearer,
		}), nil

	case KindHTML:
		itemSel, _ := sc.Config["item_selector"].(string)
		titleSel, _ := sc.Config["title_selector"].(string)
		linkSel, _ := sc.Config["link_selector"].(string)
		contentSel, _ := sc.Config["content_selector"].(string)
		return NewHTMLAdapter(base, HTMLConfig{
			URL: url, ItemSelector: itemSel, TitleSel: titleSel, LinkSel: linkSel,
			ContentSel: contentSel, AllowPrivate: allowPrivate, Timeout: timeout,
			BearerToken: bearer,
		}), nil

	case KindMoltbookLegacy:
		return NewMoltbookAdapter(base, JSONConfig{
			URL: url, AllowPrivate: allowPrivate, Timeout: timeout, BearerToken: bearer,
		}), nil

	default:
		return nil, pkgerrors.New(pkgerrors.ConfigUnknownAdapter, "unknown adapter kind: "+sc.Adapter, nil).AsError()
	}
}
