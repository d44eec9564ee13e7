package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/incrustwerush/rwaf/internal/bans"
	"github.com/incrustwerush/rwaf/internal/journal"
	"github.com/incrustwerush/rwaf/internal/runtime"
	"github.com/incrustwerush/rwaf/internal/runtime/cache"
	"github.com/incrustwerush/rwaf/internal/runtime/pipeline"
	"github.com/incrustwerush/rwaf/internal/templates"
)

// fallbackBannedPage is served when the configured page cannot be rendered.
const fallbackBannedPage = "<h1>Access Denied</h1><p>Blocked by WAF</p>"

// Checker is the surface the router needs from the runtime pipeline.
type Checker interface {
	Check(ctx context.Context, d runtime.Descriptor) pipeline.Decision
	Reload(ctx context.Context) error
	CacheStats(ctx context.Context) (cache.Stats, error)
	CacheClear(ctx context.Context) error
}

// Toggles is the subset of configuration reported by GET /config.
type Toggles struct {
	EnableRequestBodyCheck  bool `json:"enable_request_body_check"`
	EnableResponseBodyCheck bool `json:"enable_response_body_check"`
	EnableResponseFilter    bool `json:"enable_response_filter"`
}

// RouterOptions carries the admin surface collaborators.
type RouterOptions struct {
	APIKey     string
	Pipeline   Checker
	Bans       *bans.Store
	Alerts     *journal.Journal[journal.Alert]
	BannedPage *templates.BannedPage
	Metrics    http.Handler
	Toggles    Toggles
	BanTTL     time.Duration
}

// Router dispatches the admin endpoints and the check endpoint.
type Router struct {
	log  *slog.Logger
	opts RouterOptions
}

// NewRouter builds the HTTP handler for the whole service surface.
func NewRouter(opts RouterOptions, log *slog.Logger) *Router {
	return &Router{log: log, opts: opts}
}

// Handler returns the routing table. Method mismatches yield 405 via the mux
// method patterns.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /check", rt.handleCheck)
	mux.HandleFunc("GET /reload", rt.handleReload)
	mux.HandleFunc("GET /config", rt.withAPIKey(rt.handleConfig))
	mux.HandleFunc("GET /ban/list", rt.withAPIKey(rt.handleBanList))
	mux.HandleFunc("GET /ban/add", rt.withAPIKey(rt.handleBanAdd))
	mux.HandleFunc("GET /ban/delete", rt.withAPIKey(rt.handleBanDelete))
	mux.HandleFunc("GET /banned_page", rt.handleBannedPage)
	mux.HandleFunc("POST /banned_page", rt.handleBannedPage)
	mux.HandleFunc("GET /cache/stats", rt.withAPIKey(rt.handleCacheStats))
	mux.HandleFunc("POST /cache/clear", rt.withAPIKey(rt.handleCacheClear))
	mux.HandleFunc("GET /alerts", rt.withAPIKey(rt.handleAlerts))
	mux.HandleFunc("POST /alerts/clear", rt.withAPIKey(rt.handleAlertsClear))
	if rt.opts.Metrics != nil {
		mux.Handle("GET /metrics", rt.opts.Metrics)
	}
	return mux
}

// withAPIKey guards an endpoint behind the shared X-API-Key secret.
func (rt *Router) withAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != rt.opts.APIKey {
			rt.log.Warn("unauthorized admin access attempt", slog.String("path", r.URL.Path), slog.String("remote", r.RemoteAddr))
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (rt *Router) handleCheck(w http.ResponseWriter, r *http.Request) {
	var d runtime.Descriptor
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	writeJSON(w, http.StatusOK, rt.opts.Pipeline.Check(r.Context(), d))
}

func (rt *Router) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := rt.opts.Pipeline.Reload(r.Context()); err != nil {
		rt.log.Error("reload failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "reload failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (rt *Router) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.opts.Toggles)
}

// banEntry is the wire form of one active ban in /ban/list.
type banEntry struct {
	Until  string `json:"until"`
	Reason string `json:"reason"`
}

func (rt *Router) handleBanList(w http.ResponseWriter, _ *http.Request) {
	active := rt.opts.Bans.ListActive()
	out := make(map[string]banEntry, len(active))
	for ip, ban := range active {
		out[ip] = banEntry{Until: ban.Until.UTC().Format(time.RFC3339Nano), Reason: ban.Reason}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bans": out})
}

func (rt *Router) handleBanAdd(w http.ResponseWriter, r *http.Request) {
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ip param required"})
		return
	}
	ttl := time.Duration(0)
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		minutes, err := strconv.ParseFloat(raw, 64)
		if err != nil || minutes <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "minutes param invalid"})
			return
		}
		ttl = time.Duration(minutes * float64(time.Minute))
	}
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "manual ban"
	}
	until, ok := rt.opts.Bans.Add(ip, ttl, reason)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "IP in whitelist"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "banned",
		"ip":     ip,
		"until":  until.UTC().Format(time.RFC3339Nano),
	})
}

func (rt *Router) handleBanDelete(w http.ResponseWriter, r *http.Request) {
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ip param required"})
		return
	}
	if !rt.opts.Bans.Delete(ip) {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "not found", "ip": ip})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "ip": ip})
}

func (rt *Router) handleBannedPage(w http.ResponseWriter, r *http.Request) {
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		} else {
			ip = r.RemoteAddr
		}
	}
	ban, found := rt.opts.Bans.ListActive()[ip]
	page, err := rt.opts.BannedPage.Render(ip, ban.Reason, ban.Until, found)
	if err != nil {
		rt.log.Error("banned page render failed", slog.Any("error", err))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(fallbackBannedPage))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(page))
}

func (rt *Router) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.opts.Pipeline.CacheStats(r.Context())
	if err != nil {
		rt.log.Error("cache stats failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cache stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if err := rt.opts.Pipeline.CacheClear(r.Context()); err != nil {
		rt.log.Error("cache clear failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cache clear failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (rt *Router) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit param invalid"})
			return
		}
		limit = parsed
	}
	var keep func(journal.Alert) bool
	if ip := r.URL.Query().Get("ip"); ip != "" {
		keep = func(a journal.Alert) bool { return a.IP == ip }
	}
	alerts := rt.opts.Alerts.RecentMatching(limit, keep)
	if alerts == nil {
		alerts = []journal.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

func (rt *Router) handleAlertsClear(w http.ResponseWriter, _ *http.Request) {
	if err := rt.opts.Alerts.ClearToday(); err != nil {
		rt.log.Error("alerts clear failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "alerts clear failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
