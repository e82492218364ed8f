package articles

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/articles/internal/model"
)

// defaultDatePlaceholders is used by the date filter when the caller does
// not supply its own placeholder list (§4.H).
var defaultDatePlaceholders = []string{"date", "pubdate"}

// deliveryPlanner implements getArticlesToDeliverFromXml — the two-tier
// dedup + blocking/passing comparison algorithm with staged persistence
// (§4.H, the module's central algorithm).
type deliveryPlanner struct {
	parser             *xmlParser
	builder            *articleBuilder
	fieldStore         FieldStore
	comparisonRegistry ComparisonRegistry
	txBeginner         TxBeginner
	logger             *slog.Logger
	metrics            MetricsSink
}

func newDeliveryPlanner(parser *xmlParser, builder *articleBuilder, fieldStore FieldStore, comparisonRegistry ComparisonRegistry, txBeginner TxBeginner, logger *slog.Logger, metrics MetricsSink) *deliveryPlanner {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetricsSink{}
	}
	return &deliveryPlanner{
		parser:             parser,
		builder:            builder,
		fieldStore:         fieldStore,
		comparisonRegistry: comparisonRegistry,
		txBeginner:         txBeginner,
		logger:             logger,
		metrics:            metrics,
	}
}

func (p *deliveryPlanner) Deliver(ctx context.Context, in DeliveryInput) (*DeliveryOutput, error) {
	rawItems, err := p.parser.Parse(ctx, in.FeedXML)
	if err != nil {
		return nil, err
	}

	articles, err := p.builder.Build(ctx, rawItems, FlattenOptions{
		FormatOptions:          in.FormatOptions,
		UseParserRules:         in.UseParserRules,
		ExternalFeedProperties: in.ExternalFeedProperties,
	})
	if err != nil {
		return nil, err
	}
	if len(articles) == 0 {
		return &DeliveryOutput{AllArticles: []model.Article{}, ArticlesToDeliver: []model.Article{}}, nil
	}

	priorArticlesStored, err := p.fieldStore.HasArticlesStoredForFeed(ctx, in.FeedID)
	if err != nil {
		return nil, err
	}

	comparisonNames := union(in.BlockingComparisons, in.PassingComparisons)

	if !priorArticlesStored {
		// Seed pass: record ids (and every requested comparison field) for
		// every article, deliver nothing. Prevents historical-backfill
		// flooding on a feed's first-ever poll.
		rows := append(idRowsFor(in.FeedID, articles), comparisonFieldRowsFor(in.FeedID, articles, comparisonNames)...)
		if err := p.persistFieldRows(ctx, rows); err != nil {
			return nil, err
		}
		return &DeliveryOutput{AllArticles: articles, ArticlesToDeliver: []model.Article{}}, nil
	}

	existingHashes, err := p.fieldStore.FindIdFieldsForFeed(ctx, in.FeedID, fieldHashesOf(articles))
	if err != nil {
		return nil, err
	}
	existingSet := make(map[string]bool, len(existingHashes))
	for _, h := range existingHashes {
		existingSet[h] = true
	}

	var newArticles, seenArticles []model.Article
	for _, a := range articles {
		if existingSet[a.IdHash()] {
			seenArticles = append(seenArticles, a)
		} else {
			newArticles = append(newArticles, a)
		}
	}

	activated, err := p.comparisonRegistry.Find(ctx, in.FeedID, comparisonNames)
	if err != nil {
		return nil, err
	}
	storedComparisons, unstoredComparisons := partitionComparisonStatus(comparisonNames, activated)

	blockingActive := intersect(storedComparisons, in.BlockingComparisons)
	articlesPastBlocks, err := p.checkBlocking(ctx, in.FeedID, newArticles, blockingActive)
	if err != nil {
		return nil, err
	}

	passingActive := intersect(storedComparisons, in.PassingComparisons)
	articlesPassedComparisons, err := p.checkPassing(ctx, in.FeedID, seenArticles, passingActive)
	if err != nil {
		return nil, err
	}

	if err := p.persistDeliveryStep(ctx, in.FeedID, newArticles, storedComparisons, articlesPassedComparisons, passingActive, unstoredComparisons, articles); err != nil {
		return nil, err
	}

	delivered := append(append([]model.Article{}, articlesPastBlocks...), articlesPassedComparisons...)
	reverseArticles(delivered)
	delivered = filterByDateChecks(delivered, in.DateChecks)

	return &DeliveryOutput{AllArticles: articles, ArticlesToDeliver: delivered}, nil
}

// checkBlocking returns the subset of newArticles that are not blocked. An
// article is blocked iff, for one of the activated blocking fields, the
// value's hash has already been persisted for this feed. Empty
// blockingActive is an explicit short-circuit: everything passes (§4.H
// step 6).
func (p *deliveryPlanner) checkBlocking(ctx context.Context, feedID model.FeedId, newArticles []model.Article, blockingActive []string) ([]model.Article, error) {
	if len(blockingActive) == 0 {
		return newArticles, nil
	}

	var passed []model.Article
	for _, a := range newArticles {
		pairs := fieldPairsFor(a, blockingActive)
		if len(pairs) == 0 {
			passed = append(passed, a)
			continue
		}
		blocked, err := p.fieldStore.SomeFieldsExist(ctx, feedID, pairs)
		if err != nil {
			return nil, err
		}
		if !blocked {
			passed = append(passed, a)
		}
	}
	return passed, nil
}

// checkPassing returns the subset of seenArticles that carry a new value in
// an activated passing field — a signal the article mutated meaningfully
// (§4.H step 7). No activated passing comparisons means nothing passes.
func (p *deliveryPlanner) checkPassing(ctx context.Context, feedID model.FeedId, seenArticles []model.Article, passingActive []string) ([]model.Article, error) {
	if len(passingActive) == 0 {
		return nil, nil
	}

	var passed []model.Article
	for _, a := range seenArticles {
		pairs := fieldPairsFor(a, passingActive)
		if len(pairs) == 0 {
			continue
		}
		seenBefore, err := p.fieldStore.SomeFieldsExist(ctx, feedID, pairs)
		if err != nil {
			return nil, err
		}
		if !seenBefore {
			passed = append(passed, a)
		}
	}
	return passed, nil
}

// persistDeliveryStep implements §4.H step 8's three staged writes inside a
// single transaction when a TxBeginner is available.
func (p *deliveryPlanner) persistDeliveryStep(
	ctx context.Context,
	feedID model.FeedId,
	newArticles []model.Article,
	storedComparisons []string,
	articlesPassedComparisons []model.Article,
	passingActive []string,
	unstoredComparisons []string,
	allArticles []model.Article,
) error {
	var tx *sql.Tx
	if p.txBeginner != nil {
		t, err := p.txBeginner.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		tx = t
	}

	commit := func() error {
		if tx == nil {
			return nil
		}
		return tx.Commit()
	}
	rollback := func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}

	if len(newArticles) > 0 {
		rows := append(idRowsFor(feedID, newArticles), comparisonFieldRowsFor(feedID, newArticles, storedComparisons)...)
		if err := p.persistFieldRowsTx(ctx, tx, rows); err != nil {
			rollback()
			return err
		}
	}

	if len(articlesPassedComparisons) > 0 {
		rows := comparisonFieldRowsFor(feedID, articlesPassedComparisons, passingActive)
		if err := p.persistFieldRowsTx(ctx, tx, rows); err != nil {
			rollback()
			return err
		}
	}

	if len(unstoredComparisons) > 0 {
		rows := comparisonFieldRowsFor(feedID, allArticles, unstoredComparisons)
		if err := p.persistFieldRowsTx(ctx, tx, rows); err != nil {
			rollback()
			return err
		}
		registryRows := make([]model.ComparisonRegistryRow, len(unstoredComparisons))
		for i, name := range unstoredComparisons {
			registryRows[i] = model.ComparisonRegistryRow{FeedId: feedID, FieldName: name}
		}
		if err := p.comparisonRegistry.Persist(ctx, tx, registryRows); err != nil {
			rollback()
			return err
		}
	}

	return commit()
}

// persistFieldRows persists rows with no caller transaction (used for the
// seed pass, which is a single write).
func (p *deliveryPlanner) persistFieldRows(ctx context.Context, rows []model.StoredFieldRow) error {
	return p.persistFieldRowsTx(ctx, nil, rows)
}

// persistFieldRowsTx persists rows, swallowing unique-constraint violations
// (a concurrent writer won the race — §4.E, §7) while propagating any other
// error.
func (p *deliveryPlanner) persistFieldRowsTx(ctx context.Context, tx *sql.Tx, rows []model.StoredFieldRow) error {
	if len(rows) == 0 {
		return nil
	}
	err := p.fieldStore.Persist(ctx, tx, rows)
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrUniqueViolation) {
		p.logger.Debug("field row persist collided with concurrent writer", "error", err)
		p.metrics.RecordUniqueViolationSwallowed(string(rows[0].FeedId))
		return nil
	}
	return err
}

// fieldPairsFor builds the (fieldName, hashedValue) pairs used by
// SomeFieldsExist for the given field names present on the article.
func fieldPairsFor(a model.Article, fieldNames []string) []model.FieldPair {
	var pairs []model.FieldPair
	for _, name := range fieldNames {
		v, ok := a.Flattened[name]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		pairs = append(pairs, model.FieldPair{Name: name, Value: model.Sha1Hex(s)})
	}
	return pairs
}

// reverseArticles reverses in place: XML feeds list newest first; delivery
// wants oldest-first (§4.H step 9).
func reverseArticles(articles []model.Article) {
	for i, j := 0, len(articles)-1; i < j; i, j = i+1, j-1 {
		articles[i], articles[j] = articles[j], articles[i]
	}
}

// filterByDateChecks drops articles whose most-relevant raw date is missing
// or older than the configured threshold (§4.H "Date check filter").
func filterByDateChecks(articles []model.Article, checks *DateChecks) []model.Article {
	if checks == nil || checks.OldArticleDateDiffMsThreshold == nil {
		return articles
	}
	placeholders := checks.DatePlaceholderReferences
	if len(placeholders) == 0 {
		placeholders = defaultDatePlaceholders
	}
	threshold := *checks.OldArticleDateDiffMsThreshold

	var out []model.Article
	for _, a := range articles {
		d, ok := firstValidRawDate(a, placeholders)
		if !ok {
			continue
		}
		if time.Since(d) <= threshold {
			out = append(out, a)
		}
	}
	return out
}

// firstValidRawDate evaluates the placeholders against article.raw in order
// and returns the first one that parses as a valid date.
func firstValidRawDate(a model.Article, placeholders []string) (time.Time, bool) {
	for _, ph := range placeholders {
		var v *string
		switch ph {
		case "date":
			v = a.Raw.Date
		case "pubdate":
			v = a.Raw.PubDate
		}
		if v == nil {
			continue
		}
		if t, err := time.Parse(time.RFC3339, *v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
