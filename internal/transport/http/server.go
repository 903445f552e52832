package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

type Server struct {
	srv *http.Server
	log zerolog.Logger
}

func NewServer(addr string, h *Handler, allowedOrigins []string, log zerolog.Logger) *Server {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", headerIdempotencyKey},
		AllowCredentials: true,
		MaxAge:           300,
	})

	return &Server{
		srv: &http.Server{
			Addr:        addr,
			Handler:     c.Handler(h.Routes()),
			ReadTimeout: 5 * time.Second,
			// Feature calls wait on the tutor LLM.
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		log: log.With().Str("component", "http").Logger(),
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
