package articles

import (
	"context"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/articles/internal/model"
)

// parseTimeoutDefault is the parser timeout used when the caller does not
// override it (§4.B).
const parseTimeoutDefault = 10 * time.Second

// xmlParser turns raw feed bytes into raw items via gofeed, which handles
// RSS/Atom/JSON feed detection and namespace-aware field extraction, honoring
// a caller-supplied timeout.
type xmlParser struct {
	timeout time.Duration
}

func newXmlParser(timeout time.Duration) *xmlParser {
	if timeout <= 0 {
		timeout = parseTimeoutDefault
	}
	return &xmlParser{timeout: timeout}
}

// parseResult carries gofeed's outcome across the goroutine boundary.
type parseResult struct {
	items []model.RawItem
	err   error
}

// Parse decodes feedXML into raw items. gofeed's ParseString call has no
// context parameter, so it runs in its own goroutine while the caller
// selects between its completion and a context.WithTimeout-derived deadline
// (Design Note: "cyclic parser callbacks ... model as a bounded channel").
func (p *xmlParser) Parse(ctx context.Context, feedXML []byte) ([]model.RawItem, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan parseResult, 1)
	go func() {
		items, err := decodeFeed(feedXML)
		done <- parseResult{items: items, err: err}
	}()

	select {
	case r := <-done:
		return r.items, r.err
	case <-ctx.Done():
		return nil, model.WrapError(model.ErrKindFeedParseTimeout, "feed parse timed out", ctx.Err())
	}
}

// decodeFeed runs gofeed against feedXML and converts its items to RawItem.
// Any failure here — malformed XML/JSON, or a well-formed document gofeed
// cannot classify as RSS/Atom/JSON at all — means the input is not a feed
// (§4.B's "Not a feed" → InvalidFeed rule).
func decodeFeed(feedXML []byte) ([]model.RawItem, error) {
	parser := gofeed.NewParser()
	parsedFeed, err := parser.ParseString(string(feedXML))
	if err != nil {
		return nil, model.WrapError(model.ErrKindInvalidFeed, "input is not a valid feed", err)
	}
	return convertGofeedItems(parsedFeed.Items), nil
}

// convertGofeedItems maps gofeed's parsed items onto the candidate-key
// RawItem shape ArticleBuilder/idResolver expect, preserving both RSS and
// Atom dialects (gofeed already normalizes namespaces and content:encoded).
func convertGofeedItems(items []*gofeed.Item) []model.RawItem {
	out := make([]model.RawItem, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}

		fields := make(map[string]string, 7)
		if item.GUID != "" {
			fields["guid"] = item.GUID
		}
		if item.Title != "" {
			fields["title"] = item.Title
		}
		if item.Link != "" {
			fields["link"] = item.Link
		}
		if item.Description != "" {
			fields["description"] = item.Description
		}
		if item.Content != "" {
			fields["content"] = item.Content
		}
		if author := authorName(item); author != "" {
			fields["author"] = author
		}
		if pubdate := rawPubDate(item); pubdate != "" {
			fields["pubdate"] = pubdate
		}

		out = append(out, model.RawItem{Fields: fields})
	}
	return out
}

// authorName prefers the singular Author field, falling back to the first
// entry of Authors (RSS items commonly populate only one of the two).
func authorName(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		return item.Authors[0].Name
	}
	return ""
}

// rawPubDate returns the feed's own unparsed date text so ArticleBuilder's
// normalizeRawDates can apply its own layout parsing; Published wins over
// Updated, matching RSS pubDate's priority over Atom's updated.
func rawPubDate(item *gofeed.Item) string {
	if item.Published != "" {
		return item.Published
	}
	return item.Updated
}
