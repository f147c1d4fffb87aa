package speech

import (
	"context"
	"log/slog"

	"github.com/lox/nwsannounce/internal/metrics"
)

const queueSize = 16

// Announcer speaks queued announcements one item at a time, in order. A
// failed item is logged and the next item is still spoken.
type Announcer struct {
	speaker Speaker
	logger  *slog.Logger
	queue   chan []string
}

func NewAnnouncer(speaker Speaker, logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{
		speaker: speaker,
		logger:  logger.With("component", "announcer"),
		queue:   make(chan []string, queueSize),
	}
}

// Enqueue schedules texts to be spoken. It never blocks; when the queue is
// full the announcement is dropped and false is returned.
func (a *Announcer) Enqueue(texts []string) bool {
	if len(texts) == 0 {
		return true
	}
	select {
	case a.queue <- texts:
		return true
	default:
		a.logger.Warn("announcement queue full, dropping", "items", len(texts))
		metrics.AnnouncementsTotal.WithLabelValues("dropped").Add(float64(len(texts)))
		return false
	}
}

func (a *Announcer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case texts := <-a.queue:
			a.Announce(ctx, texts)
		}
	}
}

// Announce speaks texts synchronously and returns how many succeeded.
func (a *Announcer) Announce(ctx context.Context, texts []string) int {
	spoken := 0
	for _, text := range texts {
		if ctx.Err() != nil {
			return spoken
		}
		if err := a.speaker.Speak(ctx, text); err != nil {
			a.logger.Error("speech failed", "error", err)
			metrics.AnnouncementsTotal.WithLabelValues("failed").Inc()
			continue
		}
		metrics.AnnouncementsTotal.WithLabelValues("spoken").Inc()
		spoken++
	}
	return spoken
}
