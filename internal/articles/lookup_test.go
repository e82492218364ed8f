package articles

import (
	"context"
	"testing"

	"github.com/hitoshi/articles/internal/model"
)

func TestSingleArticleLookup_FindsById(t *testing.T) {
	fetcher := &stubFetcher{responses: []*FetchResponse{{Body: []byte(feedXMLWithTwoItems())}}}
	o := newTestOrchestrator(fetcher, newMemoryCacheStore())
	l := newSingleArticleLookup(o)

	article, err := l.FetchFeedArticle(context.Background(), "https://example.com/feed", "b", FetchArticlesOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if article == nil || article.Id() != "b" {
		t.Fatalf("article = %+v, want id=b", article)
	}
}

func TestSingleArticleLookup_NotFound(t *testing.T) {
	fetcher := &stubFetcher{responses: []*FetchResponse{{Body: []byte(feedXMLWithTwoItems())}}}
	o := newTestOrchestrator(fetcher, newMemoryCacheStore())
	l := newSingleArticleLookup(o)

	_, err := l.FetchFeedArticle(context.Background(), "https://example.com/feed", "missing", FetchArticlesOptions{})
	if !model.IsKind(err, model.ErrKindFeedArticleNotFound) {
		t.Fatalf("err = %v, want ErrKindFeedArticleNotFound", err)
	}
}

func TestSingleArticleLookup_PendingRequestOnNilOutput(t *testing.T) {
	fetcher := &stubFetcher{responses: []*FetchResponse{{Body: nil}}}
	o := newTestOrchestrator(fetcher, newMemoryCacheStore())
	l := newSingleArticleLookup(o)

	_, err := l.FetchFeedArticle(context.Background(), "https://example.com/feed", "a", FetchArticlesOptions{})
	if !model.IsKind(err, model.ErrKindPendingRequest) {
		t.Fatalf("err = %v, want ErrKindPendingRequest", err)
	}
}

func TestSingleArticleLookup_RandomReturnsNilOnEmptyFeed(t *testing.T) {
	fetcher := &stubFetcher{responses: []*FetchResponse{{Body: []byte(`<rss version="2.0"><channel></channel></rss>`)}}}
	o := newTestOrchestrator(fetcher, newMemoryCacheStore())
	l := newSingleArticleLookup(o)

	article, err := l.FetchRandomFeedArticle(context.Background(), "https://example.com/feed", FetchArticlesOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if article != nil {
		t.Errorf("article = %+v, want nil", article)
	}
}

func TestSingleArticleLookup_RandomReturnsOneOfTheArticles(t *testing.T) {
	fetcher := &stubFetcher{responses: []*FetchResponse{{Body: []byte(feedXMLWithTwoItems())}}}
	o := newTestOrchestrator(fetcher, newMemoryCacheStore())
	l := newSingleArticleLookup(o)

	article, err := l.FetchRandomFeedArticle(context.Background(), "https://example.com/feed", FetchArticlesOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if article == nil || (article.Id() != "a" && article.Id() != "b") {
		t.Fatalf("article = %+v, want id a or b", article)
	}
}

func feedXMLWithTwoItems() string {
	return `<rss version="2.0"><channel>` +
		`<item><guid>a</guid><title>A</title><link>https://example.com/a</link></item>` +
		`<item><guid>b</guid><title>B</title><link>https://example.com/b</link></item>` +
		`</channel></rss>`
}
