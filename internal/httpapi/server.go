package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meshmonitor/internal/persistence"
	"meshmonitor/internal/poll"
	"meshmonitor/internal/router"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownGrace     = 5 * time.Second
)

// Server exposes the operator API: poll snapshots, message and request
// submission, node flag toggles and cascading deletes. Auth and CSRF live in
// an upstream layer; handlers only emit tagged JSON errors.
type Server struct {
	logger *slog.Logger
	addr   string
	poll   *poll.Service
	router *router.Router
	store  *persistence.Store
	gather prometheus.Gatherer
}

func NewServer(logger *slog.Logger, addr string, pollSvc *poll.Service, rt *router.Router, store *persistence.Store, gather prometheus.Gatherer) *Server {
	return &Server{
		logger: logger,
		addr:   addr,
		poll:   pollSvc,
		router: rt,
		store:  store,
		gather: gather,
	}
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/poll", s.handlePoll)
	mux.HandleFunc("GET /api/connection", s.handleConnection)

	mux.HandleFunc("POST /api/messages/send", s.handleSendMessage)
	mux.HandleFunc("POST /api/messages/mark-read", s.handleMarkRead)
	mux.HandleFunc("DELETE /api/messages/{id}", s.handleDeleteMessage)
	mux.HandleFunc("DELETE /api/messages/channels/{ch}", s.handleDeleteChannel)
	mux.HandleFunc("DELETE /api/messages/direct-messages/{node}", s.handleDeleteDirect)
	mux.HandleFunc("DELETE /api/messages/nodes/{node}", s.handleDeleteNodeMessages)
	mux.HandleFunc("POST /api/messages/nodes/{node}/purge-from-device", s.handlePurgeNode)

	mux.HandleFunc("POST /api/traceroute", s.handleTraceroute)
	mux.HandleFunc("POST /api/position/request", s.handlePositionRequest)

	mux.HandleFunc("POST /api/nodes/{node}/favorite", s.handleFavorite)
	mux.HandleFunc("POST /api/nodes/{node}/ignored", s.handleIgnored)
	mux.HandleFunc("POST /api/nodes/refresh", s.handleNodesRefresh)

	if s.gather != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
	}

	return mux
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	}
}
