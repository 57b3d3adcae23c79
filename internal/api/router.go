// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/arkivist/internal/logging"
)

// Routes builds the chi router for the handler.
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(10 * time.Minute))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/status", h.Status)

		r.Post("/backups/{operation}", h.TriggerBackup)
		r.Get("/artifacts", h.ListArtifacts)
		r.Get("/artifacts/{id}", h.GetArtifact)
		r.Post("/verify", h.VerifyAll)

		r.Post("/retention/prune", h.RetentionPrune)
		r.Get("/retention/preview", h.RetentionPreview)

		r.Route("/recovery", func(r chi.Router) {
			r.Post("/", h.StartRecovery)
			r.Get("/", h.RecoveryStatus)
			r.Post("/step", h.RecoveryStep)
			r.Post("/abort", h.AbortRecovery)
		})

		r.Post("/harness/{tier}", h.RunSuite)
		r.Get("/harness/history", h.SuiteHistory)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Server runs the HTTP listener as a supervised service.
type Server struct {
	addr    string
	handler http.Handler
}

// NewServer creates a supervised HTTP server for the handler.
func NewServer(addr string, h *Handler) *Server {
	return &Server{addr: addr, handler: Routes(h)}
}

// Serve runs the listener until ctx is cancelled. It implements
// suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("HTTP server shutdown failed")
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) String() string { return "http-server" }
