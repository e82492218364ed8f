// Package handler exposes the process's ambient HTTP surface: liveness and
// metrics. Article delivery itself is a library call (internal/articles),
// never a wire endpoint.
package handler

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/articles/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	DB       *sql.DB
	Registry prometheus.Gatherer
	Logger   *slog.Logger
}

// NewRouter は/healthと/metricsのみを提供するchi.Routerを返す。
// ミドルウェアスタックの実行順序: Recovery → Logging。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	r.Get("/health", newHealthHandler(deps.DB))
	r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))

	return r
}

// newHealthHandler はデータベースへのPingが成功する限り200を返す
// 生存確認ハンドラーを返す。
func newHealthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}
