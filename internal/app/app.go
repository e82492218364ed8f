package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/articles/internal/articles"
	"github.com/hitoshi/articles/internal/config"
	"github.com/hitoshi/articles/internal/database"
	"github.com/hitoshi/articles/internal/handler"
	"github.com/hitoshi/articles/internal/logger"
	"github.com/hitoshi/articles/internal/metrics"
	"github.com/hitoshi/articles/internal/model"
	"github.com/hitoshi/articles/internal/repository"
	"github.com/hitoshi/articles/internal/security"
	"github.com/prometheus/client_golang/prometheus"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はアンビエントなHTTPサーフェス（/health, /metrics）のみを提供する
// 軽量プロセスとして起動する。記事の配信自体はライブラリ呼び出し
// （internal/articles）であり、ワイヤーレベルのHTTPエンドポイントにはしない。
func runServe(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	registry := prometheus.NewRegistry()
	metrics.NewCollector(registry)

	router := handler.NewRouter(&handler.RouterDeps{
		DB:       db,
		Registry: registry,
		Logger:   slog.Default(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		slog.Info("shutting down API server...")
		cancel()
	}()

	return serveHTTP(ctx, router, cfg.ServerPort)
}

// runWorker はDeliveryPlanner/FetchOrchestratorのポーリングループを起動する。
// どのフィードをいつポーリングするかのスケジューリング自体はこのモジュールの
// スコープ外のため、cfg.PollFeedsに列挙されたフィードをFetchIntervalごとに
// 巡回するだけの単純な実装とする。/health, /metricsも同じプロセスで提供し、
// ポーリング中に記録されたメトリクスをスクレイプできるようにする。
func runWorker(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established (worker)")

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()
	fetcher := articles.NewHttpFetcher(ssrfGuard, "")

	cacheStore, err := articles.NewBoltCacheStore(cfg.CacheDBPath)
	if err != nil {
		return fmt.Errorf("failed to open cache database: %w", err)
	}
	defer cacheStore.Close()

	svc := articles.NewService(articles.Config{
		Fetcher:              fetcher,
		Flattener:            articles.NewSanitizingFlattener(sanitizer, fetcher),
		CacheStore:           cacheStore,
		FieldStore:           repository.NewPostgresFieldStore(db),
		ComparisonRegistry:   repository.NewPostgresComparisonRegistry(db),
		TxBeginner:           db,
		ParseTimeout:         cfg.ParseTimeout,
		MaxInjectionArticles: cfg.MaxInjectionArticles,
		CacheTTLSeconds:      cfg.CacheTTLSeconds,
		Logger:               slog.Default(),
		Metrics:              collector,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	router := handler.NewRouter(&handler.RouterDeps{
		DB:       db,
		Registry: registry,
		Logger:   slog.Default(),
	})
	go func() {
		if err := serveHTTP(ctx, router, cfg.ServerPort); err != nil {
			slog.Error("ambient http server error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("fetch_interval", cfg.FetchInterval),
		slog.Int("feed_count", len(cfg.PollFeeds)),
	)

	if len(cfg.PollFeeds) == 0 {
		slog.Warn("no feeds configured via ARTICLES_POLL_FEEDS, worker is idle")
	}

	pollAllFeeds(ctx, svc, fetcher, cfg.PollFeeds, collector)

	ticker := time.NewTicker(cfg.FetchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped gracefully")
			return nil
		case <-ticker.C:
			pollAllFeeds(ctx, svc, fetcher, cfg.PollFeeds, collector)
		}
	}
}

// pollAllFeeds はcfg.PollFeedsの各フィードについて1回のポーリングサイクルを
// 実行する。1フィードの失敗が他のフィードの処理を止めないよう、エラーは
// ログに記録して次のフィードへ進む。
func pollAllFeeds(ctx context.Context, svc *articles.Service, fetcher *articles.HttpFetcher, feedURLs []string, collector *metrics.Collector) {
	for _, feedURL := range feedURLs {
		if err := pollFeed(ctx, svc, fetcher, feedURL, collector); err != nil {
			slog.Error("feed poll failed", slog.String("feed_url", feedURL), slog.String("error", err.Error()))
		}
	}
}

// pollFeed はフィードの生バイト列を取得し、GetArticlesToDeliverFromXmlで
// 配信対象の記事を算出する。フィードIDにはURLそのものを用いる。
func pollFeed(ctx context.Context, svc *articles.Service, fetcher *articles.HttpFetcher, feedURL string, collector *metrics.Collector) error {
	start := time.Now()
	resp, err := fetcher.Fetch(ctx, feedURL, articles.FetchOptions{ExecuteFetch: true})
	collector.RecordFetchLatency(time.Since(start))
	if err != nil {
		collector.RecordFetchFailure(feedURL, err.Error())
		return fmt.Errorf("fetch feed: %w", err)
	}
	if resp == nil || resp.Body == nil {
		slog.Info("feed fetch pending, skipping this cycle", slog.String("feed_url", feedURL))
		return nil
	}
	collector.RecordFetchSuccess(feedURL)

	feedID := model.FeedId(feedURL)
	out, err := svc.GetArticlesToDeliverFromXml(ctx, articles.DeliveryInput{
		FeedID:  feedID,
		FeedXML: resp.Body,
	})
	if err != nil {
		if model.IsKind(err, model.ErrKindInvalidFeed) || model.IsKind(err, model.ErrKindFeedParseTimeout) {
			collector.RecordParseFailure(feedURL)
		}
		return fmt.Errorf("compute delivery: %w", err)
	}

	collector.RecordArticlesDelivered(feedURL, len(out.ArticlesToDeliver))
	slog.Info("feed polled",
		slog.String("feed_url", feedURL),
		slog.Int("total_articles", len(out.AllArticles)),
		slog.Int("delivered", len(out.ArticlesToDeliver)),
	)
	return nil
}

// serveHTTP はrouterをportにバインドし、ctxがキャンセルされたら
// グレースフルシャットダウンする。
func serveHTTP(ctx context.Context, router http.Handler, port string) error {
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("http server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down http server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	slog.Info("http server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
