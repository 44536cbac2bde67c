package panel

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tagcal/internal/session"
	"tagcal/internal/store"
)

// UserHeader carries the calling user's identity.
const UserHeader = "X-Tagcal-User"

// Server exposes a Controller over HTTP/JSON.
type Server struct {
	logger      *slog.Logger
	controller  *Controller
	backend     store.Backend
	defaultUser string
	apiKey      string
}

// NewServer creates a Server. Requests without a user header act as
// defaultUser. A non-empty apiKey must be sent as a bearer token.
func NewServer(logger *slog.Logger, controller *Controller, backend store.Backend, defaultUser, apiKey string) *Server {
	return &Server{
		logger:      logger,
		controller:  controller,
		backend:     backend,
		defaultUser: defaultUser,
		apiKey:      apiKey,
	}
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("POST /panel/open", s.authMiddleware(handle[Open](s)))
	mux.HandleFunc("POST /panel/toggle", s.authMiddleware(handle[Toggle](s)))
	mux.HandleFunc("POST /panel/config", s.authMiddleware(handle[SaveConfig](s)))
	mux.HandleFunc("POST /panel/refresh", s.authMiddleware(handle[Refresh](s)))
	return mux
}

// ListenAndServe serves on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Starting panel server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) session(r *http.Request) *session.Session {
	user := strings.TrimSpace(r.Header.Get(UserHeader))
	if user == "" {
		user = s.defaultUser
	}
	return session.FromBackend(user, s.backend)
}

type errorBody struct {
	Error  string `json:"error"`
	Notice string `json:"notice,omitempty"`
}

func handle[C Command](s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cmd C
		if r.ContentLength != 0 {
			err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&cmd)
			if err != nil && !errors.Is(err, io.EOF) {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
				return
			}
		}

		sess := s.session(r)
		state, err := s.controller.Dispatch(r.Context(), sess, cmd)
		if err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError {
				s.logger.Error("Panel command failed", "user", sess.User, "command", cmd.Kind(), "error", err)
			}
			writeJSON(w, status, errorBody{Error: err.Error(), Notice: state.Notice})
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrKeyMissing):
		return http.StatusNotFound
	case errors.Is(err, ErrContextMissing), errors.Is(err, ErrInvalidTag), errors.Is(err, ErrUnknownCommand):
		return http.StatusBadRequest
	case errors.Is(err, ErrConfigSave):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
