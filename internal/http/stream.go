package httpx

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/broadcast"
)

// parseTopics resolves the topics query parameter against the subscriber
// role. An empty parameter selects every topic the role may see.
func (r *Router) parseTopics(w http.ResponseWriter, req *http.Request, role string) ([]broadcast.Topic, bool) {
	raw := strings.TrimSpace(req.URL.Query().Get("topics"))
	if raw == "" {
		topics := broadcast.AuthorizedTopics(role)
		if len(topics) == 0 {
			r.auditDenied(req, "no topics permitted for role")
			writeError(w, http.StatusForbidden, "role has no stream access")
			return nil, false
		}
		return topics, true
	}
	var topics []broadcast.Topic
	for _, part := range strings.Split(raw, ",") {
		topic := broadcast.Topic(strings.TrimSpace(part))
		if topic == "" {
			continue
		}
		if !broadcast.KnownTopic(topic) {
			writeError(w, http.StatusBadRequest, "unknown topic: "+string(topic))
			return nil, false
		}
		if !broadcast.Authorized(role, topic) {
			r.auditDenied(req, "unauthorized topic subscription: "+string(topic))
			writeError(w, http.StatusForbidden, "topic not permitted for role: "+string(topic))
			return nil, false
		}
		topics = append(topics, topic)
	}
	if len(topics) == 0 {
		writeError(w, http.StatusBadRequest, "topics parameter is empty")
		return nil, false
	}
	return topics, true
}

func (r *Router) handleStreamWS(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for stream websocket", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	topics, ok := r.parseTopics(w, req, info.Role)
	if !ok {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := broadcast.NewWSClient(conn, r.logger)
	if err := r.hub.Subscribe(client, info.Role, topics); err != nil {
		r.logger.Warn("stream subscription rejected", "error", err, "user_id", info.UserID)
		client.Close()
		return
	}
	go func() {
		defer func() {
			r.hub.Unsubscribe(client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleStreamSSE(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for stream sse", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	topics, ok := r.parseTopics(w, req, info.Role)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported by connection")
		return
	}
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := broadcast.NewSSEClient(w, flusher, r.logger)
	if err := r.hub.Subscribe(client, info.Role, topics); err != nil {
		r.logger.Warn("stream subscription rejected", "error", err, "user_id", info.UserID)
		return
	}
	defer r.hub.Unsubscribe(client)

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-heartbeat.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

// handleStreamSnapshot is the poll fallback for clients whose push channel
// is down. Each topic entry carries the exact payload a push subscriber
// would have received last, so nothing is lost by degrading to polling.
func (r *Router) handleStreamSnapshot(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	topics, ok := r.parseTopics(w, req, info.Role)
	if !ok {
		return
	}
	payloads := make(map[string]json.RawMessage, len(topics))
	for _, topic := range topics {
		if payload, found := r.hub.Snapshot(topic); found {
			payloads[string(topic)] = json.RawMessage(payload)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"generated_at": time.Now().UTC(),
		"topics":       payloads,
	})
}
