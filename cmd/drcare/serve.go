package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"drcare/internal/agent"
	"drcare/internal/config"
	"drcare/internal/consultation"
	"drcare/internal/history"
	"drcare/internal/voice"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the consultation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	repo, err := openRepository()
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	reports := newReports()
	gateway := history.NewGateway(repo, reports, logger)
	defer func() {
		if err := gateway.Close(); err != nil {
			logger.Error().Err(err).Msg("close history")
		}
	}()

	backend, err := newBackend(ctx)
	if err != nil {
		return err
	}

	feed := consultation.NewFeed(logger)

	var (
		mic        *voice.PushSource
		recognizer voice.Recognizer
		synth      voice.Synthesizer
	)
	if cfg.STTURL != "" {
		mic = voice.NewPushSource()
		recognizer = voice.NewWhisperRecognizer(cfg.STTURL, mic, cfg.CaptureTimeout, logger)
	}
	if cfg.ElevenLabsKey != "" {
		tts := voice.NewElevenLabsSynthesizer(cfg.ElevenLabsKey, feed, logger)
		if err := tts.LoadVoices(ctx); err != nil {
			logger.Warn().Err(err).Msg("could not load voices, using the default voice")
		}
		synth = tts
	} else {
		logger.Warn().Msg("ELEVENLABS_API_KEY is not set; speech output disabled")
	}

	policy := consultation.RouteAtIssue
	if cfg.RoutingPolicy == config.RoutingAtArrival {
		policy = consultation.RouteAtArrival
	}
	svc := consultation.NewService(consultation.Deps{
		Backend:     backend,
		History:     gateway,
		Reports:     reports,
		Recognizer:  recognizer,
		Synthesizer: synth,
		Surface:     feed,
	}, consultation.Options{
		Policy:          policy,
		Locale:          cfg.VoiceLocale,
		PreferredVoices: cfg.PreferredVoices,
		RequestTimeout:  cfg.BackendTimeout,
		Logger:          logger,
	})

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go svc.Run(runCtx)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		consultation.RegisterRoutes(r, consultation.NewHandler(svc, feed, mic, logger))
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("backend", cfg.BackendDriver).
			Str("history", cfg.HistoryStore).Str("routing", string(policy)).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func newBackend(ctx context.Context) (consultation.Backend, error) {
	if cfg.BackendDriver == "gemini" {
		return agent.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
	}
	return agent.NewHTTPClient(cfg.BackendURL, cfg.BackendTimeout), nil
}

// cors lets the browser UI call the API from another origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}
