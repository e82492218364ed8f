package articles

import (
	"context"

	"github.com/hitoshi/articles/internal/model"
	"github.com/hitoshi/articles/internal/security"
)

// htmlFieldNames lists the raw item fields whose values may carry
// unsanitized HTML markup and therefore run through the content sanitizer
// before being exposed to callers.
var htmlFieldNames = []string{"description", "content"}

// SanitizingFlattener is the reference Flattener: it copies every raw field
// into the flattened map, sanitizing markup-bearing fields, and offers a
// content-injection hook that fetches the item's link when the feed only
// carried a summary (§4.C).
type SanitizingFlattener struct {
	sanitizer security.ContentSanitizerService
	fetcher   Fetcher
}

func NewSanitizingFlattener(sanitizer security.ContentSanitizerService, fetcher Fetcher) *SanitizingFlattener {
	if sanitizer == nil {
		sanitizer = security.NewContentSanitizer()
	}
	return &SanitizingFlattener{sanitizer: sanitizer, fetcher: fetcher}
}

func (f *SanitizingFlattener) Flatten(ctx context.Context, rawItem model.RawItem, opts FlattenOptions) (FlattenResult, error) {
	flattened := make(map[string]any, len(rawItem.Fields))
	for name, value := range rawItem.Fields {
		flattened[name] = value
	}
	for _, name := range htmlFieldNames {
		if v, ok := flattened[name].(string); ok && v != "" {
			flattened[name] = f.sanitizer.Sanitize(v)
		}
	}

	_, hasContent := rawItem.Get("content")
	link, hasLink := rawItem.Get("link")
	needsInjection := opts.UseParserRules && !hasContent && hasLink && f.fetcher != nil

	result := FlattenResult{
		Flattened:                  flattened,
		HasArticleContentInjection: needsInjection,
	}
	if needsInjection {
		result.InjectArticleContent = func() (map[string]any, error) {
			resp, err := f.fetcher.Fetch(ctx, link, FetchOptions{ExecuteFetch: true})
			if err != nil {
				return nil, err
			}
			if resp == nil || resp.Body == nil {
				return nil, nil
			}
			return map[string]any{"content": f.sanitizer.Sanitize(string(resp.Body))}, nil
		}
	}

	return result, nil
}
