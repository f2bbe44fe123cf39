package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"

	"github.com/pinggolf/gestima/internal/queue"
)

// syncProgressUpdate mirrors the progressEvent JSON the scheduler
// publishes for each step, with the step name folded back in so the
// frontend doesn't have to track which subject it arrived on.
type syncProgressUpdate struct {
	Step    string `json:"step"`
	Status  string `json:"status"`
	Created int    `json:"created,omitempty"`
	Updated int    `json:"updated,omitempty"`
	Errors  int    `json:"errors,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleSyncProgressSSE streams one sync step's start/progress/complete/
// error events as they're published to NATS.
func (s *Server) handleSyncProgressSSE(w http.ResponseWriter, r *http.Request) {
	stepName := mux.Vars(r)["name"]
	if stepName == "" {
		http.Error(w, "step name is required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)
	ctx := r.Context()

	rc.SetWriteDeadline(time.Now().Add(30 * time.Second))
	fmt.Fprintf(w, "event: connected\ndata: {\"message\": \"connected to sync progress stream\"}\n\n")
	flusher.Flush()

	if s.natsManager == nil {
		sendSSEEvent(w, flusher, rc, "error", map[string]string{"error": "progress stream unavailable"})
		return
	}

	msgChan := make(chan *nats.Msg, 10)
	subscribe := func(subject string) (*nats.Subscription, error) {
		return s.natsManager.Subscribe(subject, func(msg *nats.Msg) {
			select {
			case msgChan <- msg:
			case <-ctx.Done():
			}
		})
	}

	startSub, err := subscribe(queue.GetSyncStepStartSubject(stepName))
	if err != nil {
		slog.Warn("api: sync progress subscribe failed", "subject", "start", "error", err)
		sendSSEEvent(w, flusher, rc, "error", map[string]string{"error": "failed to subscribe to start events"})
		return
	}
	defer startSub.Unsubscribe()

	progressSub, err := subscribe(queue.GetSyncStepProgressSubject(stepName))
	if err != nil {
		slog.Warn("api: sync progress subscribe failed", "subject", "progress", "error", err)
		sendSSEEvent(w, flusher, rc, "error", map[string]string{"error": "failed to subscribe to progress events"})
		return
	}
	defer progressSub.Unsubscribe()

	completeSub, err := subscribe(queue.GetSyncStepCompleteSubject(stepName))
	if err != nil {
		slog.Warn("api: sync progress subscribe failed", "subject", "complete", "error", err)
		sendSSEEvent(w, flusher, rc, "error", map[string]string{"error": "failed to subscribe to completion events"})
		return
	}
	defer completeSub.Unsubscribe()

	errorSub, err := subscribe(queue.GetSyncStepErrorSubject(stepName))
	if err != nil {
		slog.Warn("api: sync progress subscribe failed", "subject", "error", "error", err)
		sendSSEEvent(w, flusher, rc, "error", map[string]string{"error": "failed to subscribe to error events"})
		return
	}
	defer errorSub.Unsubscribe()

	heartbeat := time.NewTicker(5 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-msgChan:
			var update syncProgressUpdate
			if err := json.Unmarshal(msg.Data, &update); err != nil {
				slog.Warn("api: failed to parse sync progress event", "error", err)
				continue
			}

			eventType := "progress"
			switch update.Status {
			case "complete", "success":
				eventType = "complete"
			case "error":
				eventType = "error"
			}

			sendSSEEvent(w, flusher, rc, eventType, update)

			if eventType == "complete" || eventType == "error" {
				time.Sleep(500 * time.Millisecond)
				return
			}

		case <-heartbeat.C:
			rc.SetWriteDeadline(time.Now().Add(30 * time.Second))
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// sendSSEEvent marshals data and writes it as one SSE frame, extending
// the write deadline first so a long-lived connection doesn't time out.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, rc *http.ResponseController, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		slog.Warn("api: failed to marshal SSE data", "error", err)
		return
	}

	rc.SetWriteDeadline(time.Now().Add(30 * time.Second))
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, jsonData)
	flusher.Flush()
}
