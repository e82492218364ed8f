package articles

import (
	"context"
	"math/rand"

	"github.com/hitoshi/articles/internal/model"
)

// singleArticleLookup implements fetchFeedArticle/fetchRandomFeedArticle: a
// thin convenience layer over FetchOrchestrator's full-list result (§4.I).
type singleArticleLookup struct {
	orchestrator *fetchOrchestrator
}

func newSingleArticleLookup(orchestrator *fetchOrchestrator) *singleArticleLookup {
	return &singleArticleLookup{orchestrator: orchestrator}
}

// FetchFeedArticle runs the orchestrator and finds the article whose id
// matches. A nil Output (pending fetch) raises ErrPendingRequest; a present
// but non-matching id raises ErrFeedArticleNotFound.
func (l *singleArticleLookup) FetchFeedArticle(ctx context.Context, feedURL, id string, opts FetchArticlesOptions) (*model.Article, error) {
	result, err := l.orchestrator.FindOrFetchFeedArticles(ctx, feedURL, opts)
	if err != nil {
		return nil, err
	}
	if result.Output == nil {
		return nil, model.NewError(model.ErrKindPendingRequest, "fetch is pending, no articles available yet")
	}
	for _, a := range result.Output {
		if a.Id() == id {
			article := a
			return &article, nil
		}
	}
	return nil, model.NewError(model.ErrKindFeedArticleNotFound, "no article with the given id in this feed")
}

// FetchRandomFeedArticle returns a uniformly random article, or nil if the
// feed currently has none.
func (l *singleArticleLookup) FetchRandomFeedArticle(ctx context.Context, feedURL string, opts FetchArticlesOptions) (*model.Article, error) {
	result, err := l.orchestrator.FindOrFetchFeedArticles(ctx, feedURL, opts)
	if err != nil {
		return nil, err
	}
	if len(result.Output) == 0 {
		return nil, nil
	}
	article := result.Output[rand.Intn(len(result.Output))]
	return &article, nil
}
