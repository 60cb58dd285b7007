package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tg-content-pipeline/internal/adapters/embedder"
	"tg-content-pipeline/internal/adapters/index"
	"tg-content-pipeline/internal/domain"
	"tg-content-pipeline/internal/infra/config"
	"tg-content-pipeline/internal/infra/db"
	httpinfra "tg-content-pipeline/internal/infra/http"
	applog "tg-content-pipeline/internal/infra/log"
	"tg-content-pipeline/internal/infra/metrics"
	"tg-content-pipeline/internal/usecase/retrieval"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	pool, err := db.Connect(cfg.PGDSN, index.RegisterVectorTypes)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	vectorIndex := index.NewPgvector(pool, domain.SystemClock())

	emb, err := embedder.NewOpenAI(cfg.Embedding.BaseURL, cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Timeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось создать эмбеддер")
	}

	service := retrieval.NewService(
		emb,
		vectorIndex,
		retrieval.NewDenylistFilter(),
		domain.SystemClock(),
		logger.With().Str("component", "retrieval").Logger(),
		cfg.Retrieval.TopK,
		cfg.Index.MinSimilarity,
		cfg.Index.FreshnessCap,
	)

	server := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	server.Router.Post("/v1/query", queryHandler(service))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("api: ошибка остановки сервера")
		}
	}()

	if err := server.Start(":" + strconv.Itoa(cfg.Port)); err != nil {
		logger.Fatal().Err(err).Msg("api: сервер остановлен с ошибкой")
	}
}

type queryRequest struct {
	Text     string `json:"text"`
	Category string `json:"category,omitempty"`
	TopK     int    `json:"top_k,omitempty"`
}

type snippetResponse struct {
	Text         string  `json:"text"`
	SectionTitle string  `json:"section_title,omitempty"`
	Category     string  `json:"category,omitempty"`
	ChannelID    int64   `json:"channel_id"`
	MsgID        int64   `json:"msg_id"`
	Similarity   float64 `json:"similarity"`
	Freshness    string  `json:"freshness"`
}

func queryHandler(service *retrieval.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
			http.Error(w, "требуется поле text", http.StatusBadRequest)
			return
		}

		snippets, err := service.Query(r.Context(), req.Text, req.Category, req.TopK)
		if err != nil {
			// недоступность индекса не должна выглядеть как пустая выдача
			if errors.Is(err, domain.ErrIndexUnavailable) {
				http.Error(w, "сервис поиска временно недоступен", http.StatusServiceUnavailable)
				return
			}
			http.Error(w, "ошибка обработки запроса", http.StatusInternalServerError)
			return
		}

		resp := make([]snippetResponse, 0, len(snippets))
		for _, s := range snippets {
			resp = append(resp, snippetResponse{
				Text:         s.Text,
				SectionTitle: s.SectionTitle,
				Category:     s.Category,
				ChannelID:    s.ChannelID,
				MsgID:        s.TGMsgID,
				Similarity:   s.Similarity,
				Freshness:    s.Freshness,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"snippets": resp})
	}
}
