package control

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/chatwatch/chatwatch/internal/engine"
	"github.com/hazyhaar/chatwatch/kit"
)

// Auth is HTTP basic-auth configuration. Empty User disables auth.
type Auth struct {
	User         string
	PasswordHash string // bcrypt
}

// Router returns the chi router serving eps.
func Router(eps Endpoints, auth Auth, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		if auth.User != "" {
			r.Use(basicAuth(auth))
		}
		none := func(*http.Request) (any, error) { return nil, nil }

		r.Post("/activate", serve(eps.Activate, none, logger))
		r.Post("/deactivate", serve(eps.Deactivate, none, logger))
		r.Post("/toggle", serve(eps.Toggle, none, logger))
		r.Post("/clear", serve(eps.Clear, none, logger))
		r.Post("/rescan", serve(eps.Rescan, none, logger))
		r.Get("/stats", serve(eps.Stats, none, logger))
		r.Get("/prefs", serve(eps.Prefs, none, logger))

		r.Get("/history", serve(eps.History, func(r *http.Request) (any, error) {
			return HistoryRequest{Format: r.URL.Query().Get("format")}, nil
		}, logger))

		r.Get("/logs", serve(eps.Logs, func(r *http.Request) (any, error) {
			req := LogsRequest{Format: r.URL.Query().Get("format")}
			if s := r.URL.Query().Get("since"); s != "" {
				v, err := strconv.ParseInt(s, 10, 64)
				if err != nil {
					return nil, errors.Join(ErrBadRequest, err)
				}
				req.Since = v
			}
			return req, nil
		}, logger))

		r.Put("/prefs/{category}", serve(eps.SetPref, func(r *http.Request) (any, error) {
			var body struct {
				Enabled *bool `json:"enabled"`
			}
			if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil {
				return nil, errors.Join(ErrBadRequest, err)
			}
			if body.Enabled == nil {
				return nil, errors.Join(ErrBadRequest, errors.New("enabled is required"))
			}
			return PrefRequest{Category: chi.URLParam(r, "category"), Enabled: *body.Enabled}, nil
		}, logger))
	})
	return r
}

func serve(e kit.Endpoint, decode func(*http.Request) (any, error), logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decode(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		ctx := kit.WithTransport(r.Context(), "http")
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = kit.WithRequestID(ctx, id)
		}
		if user, _, ok := r.BasicAuth(); ok {
			ctx = kit.WithOperator(ctx, user)
		}

		resp, err := e(ctx, req)
		if err != nil {
			writeError(w, statusOf(err), err)
			return
		}
		if s, ok := resp.(string); ok {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, s)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrInactive), errors.Is(err, engine.ErrDisposed):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// basicAuth checks the user name in constant time and the password
// against its bcrypt hash.
func basicAuth(a Auth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(a.User)) != 1 ||
				bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="chatwatch"`)
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
