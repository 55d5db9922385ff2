// Package server exposes the session over HTTP/JSON and mounts the
// WebSocket event stream.
package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/danhigham/telecharm-web/internal/domain"
	"github.com/danhigham/telecharm-web/internal/relay"
	"github.com/danhigham/telecharm-web/internal/state"
)

type Authenticator interface {
	RequestCode(ctx context.Context, phone string) error
	Verify(ctx context.Context, code, password string) error
}

type Retriever interface {
	ListDialogs(ctx context.Context, limit int) ([]domain.Dialog, error)
	ListMessages(ctx context.Context, chatID int64, limit, beforeID int) ([]domain.Message, error)
	SendMessage(ctx context.Context, chatID int64, text string) (string, error)
	Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error)
	ProfilePhoto(ctx context.Context, chatID int64) (uri string, ok bool, err error)
}

type SessionController interface {
	Logout(ctx context.Context)
}

type Options struct {
	Logger *zap.Logger
	// BasePath prefixes the JSON API routes. Default "/api".
	BasePath string
	// Events serves the WebSocket stream at /ws when set.
	Events http.Handler
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
}

type Server struct {
	store    *state.Store
	auth     Authenticator
	data     Retriever
	sessions SessionController
	log      *zap.Logger
	opts     Options

	handler http.Handler
}

func New(store *state.Store, auth Authenticator, data Retriever, sessions SessionController, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	opts.BasePath = "/" + strings.Trim(opts.BasePath, "/")
	if opts.BasePath == "/" {
		opts.BasePath = "/api"
	}

	s := &Server{
		store:    store,
		auth:     auth,
		data:     data,
		sessions: sessions,
		log:      opts.Logger,
		opts:     opts,
	}

	mux := http.NewServeMux()
	s.register(mux)
	s.handler = withRequestLogging(withRecover(mux, s.log), s.log)
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) register(mux *http.ServeMux) {
	api := func(method, path string) string {
		return method + " " + s.opts.BasePath + "/" + path
	}

	mux.HandleFunc(api(http.MethodGet, "status"), s.handleStatus)
	mux.HandleFunc(api(http.MethodGet, "check_login"), s.handleCheckLogin)
	mux.HandleFunc(api(http.MethodGet, "user_info"), s.handleUserInfo)
	mux.HandleFunc(api(http.MethodPost, "send_code"), s.handleSendCode)
	mux.HandleFunc(api(http.MethodPost, "verify_code"), s.handleVerifyCode)
	mux.HandleFunc(api(http.MethodGet, "dialogs"), s.authed(s.handleDialogs))
	mux.HandleFunc(api(http.MethodGet, "messages/{chatId}"), s.authed(s.handleMessages))
	mux.HandleFunc(api(http.MethodPost, "send_message"), s.authed(s.handleSendMessage))
	mux.HandleFunc(api(http.MethodGet, "search"), s.authed(s.handleSearch))
	mux.HandleFunc(api(http.MethodGet, "photo/{chatId}"), s.authed(s.handlePhoto))
	mux.HandleFunc(api(http.MethodPost, "logout"), s.handleLogout)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if s.opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.opts.Events != nil {
		mux.Handle("GET /ws", s.opts.Events)
	}
	mux.HandleFunc("/", notFound)
}

// StatusEvent builds the status event pushed to WebSocket observers.
func StatusEvent(st domain.SessionStatus) relay.Event {
	return relay.Event{Name: relay.EventStatus, Data: newStatusView(st)}
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
}

type result map[string]any

func success(w http.ResponseWriter, fields result) {
	if fields == nil {
		fields = result{}
	}
	fields["success"] = true
	writeJSON(w, http.StatusOK, fields)
}

func failure(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, result{"success": false, "error": msg})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Warn("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
	failure(w, userMessage(err))
}

// authed rejects requests while the session is not signed in.
func (s *Server) authed(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.store.Authenticated() {
			failure(w, msgNotAuthenticated)
			return
		}
		h(w, r)
	}
}

// queryInt reads an integer query parameter, falling back to def when it is
// absent or malformed.
func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}

func pathChatID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("chatId"), 10, 64)
	return id, err == nil
}
