// Package metrics exposes conversation activity as Prometheus series.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"chatbot/internal/domain"
)

// Metrics implements ports.ConversationMetrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	StatesTotal       *prometheus.CounterVec
	RecognitionErrors *prometheus.CounterVec
	SendsTotal        *prometheus.CounterVec
	ConversationsOpen prometheus.Gauge
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "chatbot"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		StatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversation_states_total",
				Help:      "Conversation state transitions by entered state",
			},
			[]string{"state"},
		),
		RecognitionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recognition_errors_total",
				Help:      "Speech recognition failures by recognizer code",
			},
			[]string{"code"},
		),
		SendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_sends_total",
				Help:      "Chat message sends by outcome",
			},
			[]string{"status"},
		),
		ConversationsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "conversations_open",
				Help:      "Number of open conversation screens",
			},
		),
	}
	m.registry.MustRegister(m.StatesTotal, m.RecognitionErrors, m.SendsTotal, m.ConversationsOpen)
	return m
}

func (m *Metrics) StateEntered(kind domain.StateKind) {
	m.StatesTotal.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) RecognitionFailed(code domain.RecognitionErrorCode) {
	m.RecognitionErrors.WithLabelValues(strconv.Itoa(int(code))).Inc()
}

func (m *Metrics) SendCompleted(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SendsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ConversationOpened() { m.ConversationsOpen.Inc() }

func (m *Metrics) ConversationClosed() { m.ConversationsOpen.Dec() }

// Registry returns the registry the series are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled. An empty addr disables the listener.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics listener started")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
