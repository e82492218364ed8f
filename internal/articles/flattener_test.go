package articles

import (
	"context"
	"testing"
)

// stubSanitizer is a hand-rolled ContentSanitizerService test double that
// wraps input in a marker so tests can assert it ran.
type stubSanitizer struct{}

func (stubSanitizer) Sanitize(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	return "sanitized:" + rawHTML
}

func TestSanitizingFlattener_SanitizesHtmlFields(t *testing.T) {
	f := NewSanitizingFlattener(stubSanitizer{}, nil)
	item := rawItem(map[string]string{"guid": "a", "description": "<script>bad</script>hello"})

	result, err := f.Flatten(context.Background(), item, FlattenOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := result.Flattened["description"].(string)
	if got != "sanitized:<script>bad</script>hello" {
		t.Errorf("description = %q, want sanitized", got)
	}
}

func TestSanitizingFlattener_NoInjectionWithoutParserRules(t *testing.T) {
	f := NewSanitizingFlattener(stubSanitizer{}, &stubFetcher{})
	item := rawItem(map[string]string{"guid": "a", "link": "https://example.com/a"})

	result, err := f.Flatten(context.Background(), item, FlattenOptions{UseParserRules: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.HasArticleContentInjection {
		t.Error("expected no injection without UseParserRules")
	}
}

func TestSanitizingFlattener_InjectsContentFromLinkWhenSummaryOnly(t *testing.T) {
	fetcher := &stubFetcher{responses: []*FetchResponse{{Body: []byte("<p>full body</p>")}}}
	f := NewSanitizingFlattener(stubSanitizer{}, fetcher)
	item := rawItem(map[string]string{"guid": "a", "link": "https://example.com/a"})

	result, err := f.Flatten(context.Background(), item, FlattenOptions{UseParserRules: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.HasArticleContentInjection || result.InjectArticleContent == nil {
		t.Fatal("expected injection to be offered")
	}
	extra, err := result.InjectArticleContent()
	if err != nil {
		t.Fatalf("InjectArticleContent: %v", err)
	}
	if extra["content"] != "sanitized:<p>full body</p>" {
		t.Errorf("content = %v, want sanitized fetched body", extra["content"])
	}
	if len(fetcher.calls) != 1 || fetcher.calls[0] != "https://example.com/a" {
		t.Errorf("fetcher.calls = %v, want one call to the item link", fetcher.calls)
	}
}

func TestSanitizingFlattener_NoInjectionWhenContentAlreadyPresent(t *testing.T) {
	f := NewSanitizingFlattener(stubSanitizer{}, &stubFetcher{})
	item := rawItem(map[string]string{"guid": "a", "link": "https://example.com/a", "content": "already here"})

	result, err := f.Flatten(context.Background(), item, FlattenOptions{UseParserRules: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.HasArticleContentInjection {
		t.Error("expected no injection when content already present")
	}
}
