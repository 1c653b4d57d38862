package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"voice-interaction-engine/internal/app"
	"voice-interaction-engine/internal/observability/logging"
	"voice-interaction-engine/internal/quizbank"
	"voice-interaction-engine/internal/service/session"
	"voice-interaction-engine/internal/voice"
	"voice-interaction-engine/internal/voice/turn"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Devices are browser pages served from other origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !application.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/quizzes", listQuizzes(application.Quizzes))
		r.Get("/quizzes/{id}", getQuiz(application.Quizzes))
		r.Get("/sessions/ws", serveSession(application))
	})

	return r
}

type quizSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Questions int    `json:"questions"`
}

func listQuizzes(bank *quizbank.Bank) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		quizzes := bank.List()
		out := make([]quizSummary, 0, len(quizzes))
		for _, q := range quizzes {
			out = append(out, quizSummary{ID: q.ID, Title: q.Title, Questions: len(q.Questions)})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// getQuiz returns prompts only; expected answers stay on the server.
func getQuiz(bank *quizbank.Bank) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := bank.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		prompts := make([]string, len(q.Questions))
		for i, qq := range q.Questions {
			prompts[i] = qq.Prompt
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": q.ID, "title": q.Title, "prompts": prompts})
	}
}

func serveSession(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := sessionParams(r, application)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, quizbank.ErrQuizNotFound) {
				status = http.StatusNotFound
			}
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		if !application.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}

		logger := logging.WithDevice(r.RemoteAddr)
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		if err := application.Sessions.Serve(application.Context(), ws, params); err != nil {
			logger.Debug().Err(err).Msg("Session ended with error")
		}
	}
}

func sessionParams(r *http.Request, application *app.Application) (session.Params, error) {
	q := r.URL.Query()
	cfg := application.Cfg

	params := session.Params{
		Email:      q.Get("email"),
		Prompt:     q.Get("prompt"),
		Continuous: cfg.Voice.ContinuousDictation,
		PromptRate: cfg.Voice.PromptRate,
		Options: voice.Options{
			Locale: cfg.Voice.Locale,
			Rate:   cfg.Voice.Rate,
		},
	}

	mode := q.Get("mode")
	if mode == "" {
		mode = turn.ModeDictation.String()
	}
	m, err := turn.ParseMode(mode)
	if err != nil {
		return params, err
	}
	params.Mode = m

	if m == turn.ModeQuiz {
		quiz, err := application.Quizzes.Get(q.Get("quiz"))
		if err != nil {
			return params, err
		}
		params.Quiz = quiz
	}
	if v := q.Get("locale"); v != "" {
		params.Options.Locale = v
	}
	if v := q.Get("rate"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return params, errors.Join(voice.ErrInvalidOption, err)
		}
		params.Options.Rate = rate
	}
	if v := q.Get("prompt_rate"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return params, errors.Join(voice.ErrInvalidOption, err)
		}
		params.PromptRate = rate
	}
	if v := q.Get("continuous"); v != "" {
		c, err := strconv.ParseBool(v)
		if err != nil {
			return params, errors.Join(voice.ErrInvalidOption, err)
		}
		params.Continuous = c
	}
	params.Options = params.Options.WithDefaults()
	if err := params.Options.Validate(); err != nil {
		return params, err
	}
	if params.PromptRate != 0 && (params.PromptRate < voice.MinRate || params.PromptRate > voice.MaxRate) {
		return params, fmt.Errorf("%w: prompt rate %.2f", voice.ErrInvalidOption, params.PromptRate)
	}
	return params, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
