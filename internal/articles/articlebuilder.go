package articles

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/articles/internal/model"
)

// injectionBatchSize is the batch width for the content-injection pass
// (§4.C).
const injectionBatchSize = 25

// injectionBatchPause is the pause between injection batches.
const injectionBatchPause = time.Second

// articleBuilder wraps the external Flattener, attaching id/idHash,
// normalized raw dates, and an optional content-injection hook (§4.C).
type articleBuilder struct {
	flattener            Flattener
	maxInjectionArticles int
	logger               *slog.Logger
}

func newArticleBuilder(flattener Flattener, maxInjectionArticles int, logger *slog.Logger) *articleBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &articleBuilder{flattener: flattener, maxInjectionArticles: maxInjectionArticles, logger: logger}
}

// Build turns a batch of raw items into Articles: resolves the identity
// field across the whole batch, flattens each item, attaches id/idHash and
// normalized raw dates, then runs the (conditional) content-injection pass.
func (b *articleBuilder) Build(ctx context.Context, items []model.RawItem, opts FlattenOptions) ([]model.Article, error) {
	if len(items) == 0 {
		return nil, nil
	}

	resolver := newIdResolver()
	for _, item := range items {
		resolver.Observe(item)
	}
	idKey, err := resolver.Resolve()
	if err != nil {
		return nil, err
	}

	articles := make([]model.Article, 0, len(items))
	for _, item := range items {
		flat, err := b.flattener.Flatten(ctx, item, opts)
		if err != nil {
			return nil, err
		}

		idVal, _ := item.Get(idKey)
		flattened := flat.Flattened
		if flattened == nil {
			flattened = make(map[string]any)
		}
		flattened["id"] = idVal
		flattened["idHash"] = model.Sha1Hex(idVal)

		articles = append(articles, model.Article{
			Flattened:                  flattened,
			Raw:                        normalizeRawDates(item),
			InjectArticleContent:       flat.InjectArticleContent,
			HasArticleContentInjection: flat.HasArticleContentInjection,
		})
	}

	warnDuplicateIdHashes(b.logger, articles)
	if err := requireIdHashes(articles); err != nil {
		return nil, err
	}

	if err := b.runContentInjection(ctx, articles); err != nil {
		return nil, err
	}

	return articles, nil
}

// normalizeRawDates converts raw date/pubdate fields to ISO-8601 only when
// they parse as a valid date; otherwise leaves them absent (§4.C).
func normalizeRawDates(item model.RawItem) model.RawDates {
	var out model.RawDates
	if v, ok := item.Get("date"); ok {
		if iso, ok := parseToISO8601(v); ok {
			out.Date = &iso
		}
	}
	if v, ok := item.Get("pubdate"); ok {
		if iso, ok := parseToISO8601(v); ok {
			out.PubDate = &iso
		}
	}
	return out
}

// parseToISO8601 tries the layouts feeds commonly use for dates.
func parseToISO8601(v string) (string, bool) {
	layouts := []string{
		time.RFC1123Z,
		time.RFC1123,
		time.RFC3339,
		"2006-01-02T15:04:05Z07:00",
		"Mon, 2 Jan 2006 15:04:05 -0700",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC().Format(time.RFC3339), true
		}
	}
	return "", false
}

// warnDuplicateIdHashes logs (not fails) when the batch carries duplicate
// idHash values — permitted by §3's invariant, the later store insert will
// simply collide on the unique constraint and be swallowed.
func warnDuplicateIdHashes(logger *slog.Logger, articles []model.Article) {
	seen := make(map[string]bool, len(articles))
	for _, a := range articles {
		h := a.IdHash()
		if seen[h] {
			logger.Warn("duplicate idHash within parse pass", "idHash", h)
			continue
		}
		seen[h] = true
	}
}

// requireIdHashes fails the whole build if any article lacks idHash — a
// post-build invariant violation (§4.C, §7 MissingIdHash).
func requireIdHashes(articles []model.Article) error {
	for _, a := range articles {
		if a.IdHash() == "" {
			return model.NewError(model.ErrKindMissingIdHash, "article missing idHash after build")
		}
	}
	return nil
}

// runContentInjection runs each article's InjectArticleContent closure in
// batches of injectionBatchSize, all closures within a batch concurrently,
// pausing injectionBatchPause between batches, using a rate.Limiter for the
// pacing rather than a bare time.Sleep (§4.C).
func (b *articleBuilder) runContentInjection(ctx context.Context, articles []model.Article) error {
	if len(articles) > b.maxInjectionArticles {
		return nil
	}

	var toInject []int
	for i, a := range articles {
		if a.HasArticleContentInjection && a.InjectArticleContent != nil {
			toInject = append(toInject, i)
		}
	}
	if len(toInject) == 0 {
		return nil
	}

	limiter := rate.NewLimiter(rate.Every(injectionBatchPause), 1)

	for start := 0; start < len(toInject); start += injectionBatchSize {
		// The first batch spends the limiter's initial token, so every later
		// batch waits a full injectionBatchPause after the one before it began.
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		end := start + injectionBatchSize
		if end > len(toInject) {
			end = len(toInject)
		}

		type result struct {
			idx int
			out map[string]any
			err error
		}
		results := make(chan result, end-start)
		for _, idx := range toInject[start:end] {
			idx := idx
			go func() {
				out, err := articles[idx].InjectArticleContent()
				results <- result{idx: idx, out: out, err: err}
			}()
		}
		for range toInject[start:end] {
			r := <-results
			if r.err != nil {
				b.logger.Warn("content injection failed", "error", r.err)
				continue
			}
			for k, v := range r.out {
				articles[r.idx].Flattened[k] = v
			}
		}
	}

	return nil
}
