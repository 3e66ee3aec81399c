package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/moltlabs/tradegate/internal/admission"
	"github.com/moltlabs/tradegate/internal/approval"
	"github.com/moltlabs/tradegate/internal/intent"
	"github.com/moltlabs/tradegate/internal/observ"
	"github.com/moltlabs/tradegate/internal/signal"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// handleWebhook is the signal intake. Authentication rides in the payload
// itself, matching what alerting platforms can send. A gate rejection
// answers 400 with the rejecting reason; duplicates answer 200 so retrying
// senders stop retrying.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, errorBody("rate limited"))
		return
	}

	var p signal.Payload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		observ.SignalsReceived.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, errorBody("malformed payload"))
		return
	}

	if !secretEqual(p.Secret, s.cfg.WebhookSecret) {
		observ.SignalsReceived.WithLabelValues("unauthorized").Inc()
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
		return
	}

	sig, err := p.Normalize(time.Now())
	if err != nil {
		observ.SignalsReceived.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	out, err := s.cfg.Pipeline.Admit(r.Context(), sig)
	if err != nil {
		s.log.Error().Err(err).Str("symbol", sig.Symbol).Msg("admission storage failure")
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	observ.SignalsReceived.WithLabelValues(string(out.Status)).Inc()

	code := http.StatusOK
	if out.Status == admission.StatusRejected {
		code = http.StatusBadRequest
	}
	body := map[string]any{"status": string(out.Status)}
	if out.Reason != "" {
		body["reason"] = out.Reason
	}
	if len(out.Warnings) > 0 {
		body["warnings"] = out.Warnings
	}
	if out.Intent != nil {
		body["intent_id"] = out.Intent.ID
		if out.Status == admission.StatusPending {
			// The token goes back to the caller exactly once, here.
			body["token"] = out.Intent.Token
		}
	}
	writeJSON(w, code, body)
}

// handleAct resolves the approval link embedded in notifications:
// GET /act?op=approve&token=...
func (s *Server) handleAct(w http.ResponseWriter, r *http.Request) {
	op, err := approval.ParseOp(r.URL.Query().Get("op"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	s.decide(w, r, r.URL.Query().Get("token"), op)
}

// handleDecision serves POST /approve and POST /reject with a JSON body.
func (s *Server) handleDecision(op approval.Op) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
			writeJSON(w, http.StatusBadRequest, errorBody("token required"))
			return
		}
		s.decide(w, r, body.Token, op)
	}
}

func (s *Server) decide(w http.ResponseWriter, r *http.Request, token string, op approval.Op) {
	out, err := s.cfg.Approvals.Decide(r.Context(), token, op)
	switch err {
	case nil:
	case intent.ErrNotFound:
		writeJSON(w, http.StatusNotFound, errorBody("unknown or spent token"))
		return
	case intent.ErrConflict:
		writeJSON(w, http.StatusConflict, errorBody("intent already decided"))
		return
	default:
		s.log.Error().Err(err).Msg("decision failure")
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    string(out.Status),
		"intent_id": out.Intent.ID,
		"symbol":    out.Intent.Signal.Symbol,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := s.cfg.Store.ListPending(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	reg := s.cfg.Regimes.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"pending_intents":  len(pending),
		"paused":           s.cfg.Pipeline.Paused(),
		"broker_connected": s.cfg.Conn.Connected(),
		"regime_band":      string(reg.Band),
		"regime_score":     reg.Score,
		"uptime_seconds":   int(time.Since(s.started).Seconds()),
	})
}

// handlePending lists intents awaiting a decision. Tokens are never
// included; the digest is enough to match a notification.
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.cfg.Store.ListPending(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	type row struct {
		ID          string    `json:"id"`
		TokenDigest string    `json:"token_digest"`
		Symbol      string    `json:"symbol"`
		Side        string    `json:"side"`
		Quantity    int       `json:"quantity"`
		Warnings    []string  `json:"warnings,omitempty"`
		CreatedAt   time.Time `json:"created_at"`
	}
	rows := make([]row, 0, len(pending))
	for _, in := range pending {
		rows = append(rows, row{
			ID:          in.ID,
			TokenDigest: in.TokenDigest(),
			Symbol:      in.Signal.Symbol,
			Side:        string(in.Signal.Side),
			Quantity:    in.Quantity,
			Warnings:    in.Warnings,
			CreatedAt:   in.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": rows})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.cfg.Pipeline.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.cfg.Pipeline.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
