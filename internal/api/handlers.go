package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/blockedby/tg-forwarder/internal/repository"
	"github.com/blockedby/tg-forwarder/internal/scan"
	"github.com/blockedby/tg-forwarder/internal/session"
	"github.com/blockedby/tg-forwarder/internal/telegram"
	"github.com/blockedby/tg-forwarder/internal/timerange"
)

// qrURLTimeout bounds how long the start endpoint waits for the first
// login token.
const qrURLTimeout = 15 * time.Second

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter, fields map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func queryUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("user_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		fail(w, http.StatusBadRequest, "user_id query parameter required")
		return 0, false
	}
	return id, true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending, pendingErr := s.deps.Queue.PendingDepth(r.Context())
	queueStatus := map[string]any{
		"connected": s.deps.Queue.IsConnected(),
		"pending":   pending,
	}
	if pendingErr != nil {
		queueStatus["error"] = pendingErr.Error()
	}

	ok(w, map[string]any{
		"telegram": map[string]any{
			"status":         s.deps.Telegram.GetStatus(),
			"qr_in_progress": s.deps.Telegram.IsQRInProgress(),
		},
		"dedup":    s.deps.Dedup.Statistics(),
		"queue":    queueStatus,
		"pipeline": s.deps.Pipeline.Statistics(),
	})
}

func (s *Server) handleStartQR(w http.ResponseWriter, r *http.Request) {
	if s.deps.Telegram.IsQRInProgress() {
		fail(w, http.StatusConflict, "QR login already in progress")
		return
	}

	urlCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		// detach from the request context, the flow outlives it
		errCh <- s.deps.Telegram.StartQR(context.WithoutCancel(r.Context()), func(url string) {
			select {
			case urlCh <- url:
			default:
			}
		})
	}()

	select {
	case url := <-urlCh:
		ok(w, map[string]any{"url": url})
	case err := <-errCh:
		if err != nil {
			fail(w, http.StatusInternalServerError, err.Error())
			return
		}
		ok(w, map[string]any{"logged_in": true})
	case <-time.After(qrURLTimeout):
		fail(w, http.StatusGatewayTimeout, "timed out waiting for QR token")
	}
}

func (s *Server) handleCancelQR(w http.ResponseWriter, _ *http.Request) {
	s.deps.Telegram.CancelQR()
	ok(w, nil)
}

type historyStartRequest struct {
	UserID int64            `json:"user_id"`
	RuleID uint             `json:"rule_id"`
	DryRun bool             `json:"dry_run"`
	Range  *timerange.Range `json:"range,omitempty"`
}

func (s *Server) handleHistoryStart(w http.ResponseWriter, r *http.Request) {
	var req historyStartRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == 0 || req.RuleID == 0 {
		fail(w, http.StatusBadRequest, "user_id and rule_id are required")
		return
	}

	tr := s.deps.Sessions.TimeRange(req.UserID)
	if req.Range != nil {
		tr = *req.Range
		s.deps.Sessions.SetTimeRange(req.UserID, tr)
	}

	err := s.deps.History.Start(r.Context(), req.UserID, req.RuleID, tr, req.DryRun)
	switch {
	case errors.Is(err, session.ErrTaskRunning):
		fail(w, http.StatusConflict, err.Error())
	case err != nil:
		fail(w, http.StatusInternalServerError, err.Error())
	default:
		ok(w, map[string]any{"range": timerange.FormatDisplay(tr)})
	}
}

type userRequest struct {
	UserID int64 `json:"user_id"`
}

func (s *Server) handleHistoryStop(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decode(w, r, &req) {
		return
	}
	ok(w, map[string]any{"stopped": s.deps.History.Stop(req.UserID)})
}

func (s *Server) handleHistoryProgress(w http.ResponseWriter, r *http.Request) {
	userID, valid := queryUserID(w, r)
	if !valid {
		return
	}
	task, found := s.deps.Sessions.HistoryProgress(userID)
	if !found {
		fail(w, http.StatusNotFound, "no history task for user")
		return
	}
	ok(w, map[string]any{"task": task})
}

func (s *Server) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	userID, valid := queryUserID(w, r)
	if !valid {
		return
	}
	ruleID, err := strconv.ParseUint(r.URL.Query().Get("rule_id"), 10, 32)
	if err != nil || ruleID == 0 {
		fail(w, http.StatusBadRequest, "rule_id query parameter required")
		return
	}

	stats, err := s.deps.History.Stats(r.Context(), uint(ruleID), s.deps.Sessions.TimeRange(userID))
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	ok(w, map[string]any{"stats": stats})
}

type scanRequest struct {
	UserID int64            `json:"user_id"`
	ChatID int64            `json:"chat_id"`
	Range  *timerange.Range `json:"range,omitempty"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == 0 || req.ChatID == 0 {
		fail(w, http.StatusBadRequest, "user_id and chat_id are required")
		return
	}

	tr := s.deps.Sessions.TimeRange(req.UserID)
	if req.Range != nil {
		tr = *req.Range
	}

	global, err := s.deps.Settings.Get(r.Context())
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	cfg := repository.EffectiveDedupConfig(global, nil)

	groups, err := s.deps.Scan.Scan(r.Context(), req.UserID, req.ChatID, tr, cfg, nil)
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}

	total := 0
	for _, ids := range groups {
		total += len(ids)
	}
	ok(w, map[string]any{"groups": groups, "group_count": len(groups), "message_count": total})
}

type scanSelectRequest struct {
	UserID    int64  `json:"user_id"`
	Signature string `json:"signature"`
}

func (s *Server) handleScanSelect(w http.ResponseWriter, r *http.Request) {
	var req scanSelectRequest
	if !decode(w, r, &req) {
		return
	}
	selected, found := s.deps.Sessions.ToggleSelectSignature(req.UserID, req.Signature)
	if !found {
		fail(w, http.StatusNotFound, "unknown signature")
		return
	}
	ok(w, map[string]any{"selected": selected})
}

type scanDeleteRequest struct {
	UserID int64  `json:"user_id"`
	ChatID int64  `json:"chat_id"`
	Mode   string `json:"mode"`
}

func (s *Server) handleScanDelete(w http.ResponseWriter, r *http.Request) {
	var req scanDeleteRequest
	if !decode(w, r, &req) {
		return
	}

	count, err := s.deps.Scan.Delete(r.Context(), req.UserID, req.ChatID, req.Mode)
	switch {
	case errors.Is(err, scan.ErrNoScanResults):
		fail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrTaskRunning):
		fail(w, http.StatusConflict, err.Error())
	case err != nil:
		fail(w, http.StatusInternalServerError, err.Error())
	default:
		ok(w, map[string]any{"scheduled": count})
	}
}

func (s *Server) handleScanDeleteStop(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decode(w, r, &req) {
		return
	}
	ok(w, map[string]any{"stopped": s.deps.Scan.StopDelete(req.UserID)})
}

func (s *Server) handleScanProgress(w http.ResponseWriter, r *http.Request) {
	userID, valid := queryUserID(w, r)
	if !valid {
		return
	}
	task, found := s.deps.Sessions.DeleteProgress(userID)
	if !found {
		fail(w, http.StatusNotFound, "no delete task for user")
		return
	}
	ok(w, map[string]any{"task": task})
}

type timeRangeRequest struct {
	UserID int64           `json:"user_id"`
	Range  timerange.Range `json:"range"`
}

func (s *Server) handleSetTimeRange(w http.ResponseWriter, r *http.Request) {
	var req timeRangeRequest
	if !decode(w, r, &req) {
		return
	}
	s.deps.Sessions.SetTimeRange(req.UserID, req.Range)
	ok(w, map[string]any{"display": timerange.FormatDisplay(req.Range)})
}

type delayRequest struct {
	UserID  int64 `json:"user_id"`
	Seconds int   `json:"seconds"`
}

func (s *Server) handleSetDelay(w http.ResponseWriter, r *http.Request) {
	var req delayRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.deps.Sessions.SetDelay(req.UserID, req.Seconds); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	ok(w, nil)
}

type flowInputRequest struct {
	UserID int64  `json:"user_id"`
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

func (s *Server) handleFlowInput(w http.ResponseWriter, r *http.Request) {
	var req flowInputRequest
	if !decode(w, r, &req) {
		return
	}
	handled, reply, err := s.deps.Flow.HandleText(r.Context(), req.UserID, req.ChatID, req.Text)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	ok(w, map[string]any{"handled": handled, "reply": reply})
}

type pickerRequest struct {
	UserID int64  `json:"user_id"`
	Picker string `json:"picker"`
}

func (s *Server) handleSetPicker(w http.ResponseWriter, r *http.Request) {
	var req pickerRequest
	if !decode(w, r, &req) {
		return
	}
	s.deps.Sessions.SetPickerContext(req.UserID, req.Picker)
	ok(w, nil)
}

func (s *Server) handleGetPicker(w http.ResponseWriter, r *http.Request) {
	userID, valid := queryUserID(w, r)
	if !valid {
		return
	}
	ok(w, map[string]any{"picker": s.deps.Sessions.PickerContext(userID)})
}

type digestRequest struct {
	RuleID uint `json:"rule_id"`
	Limit  int  `json:"limit"`
}

const (
	digestDefaultLimit = 20
	digestMaxLimit     = 100
)

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Summarizer == nil {
		fail(w, http.StatusBadRequest, "ai is not configured")
		return
	}

	var req digestRequest
	if !decode(w, r, &req) {
		return
	}
	if req.RuleID == 0 {
		fail(w, http.StatusBadRequest, "rule_id is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = digestDefaultLimit
	}
	if req.Limit > digestMaxLimit {
		req.Limit = digestMaxLimit
	}

	rule, err := s.deps.Rules.GetByID(r.Context(), req.RuleID)
	if err != nil {
		fail(w, http.StatusNotFound, err.Error())
		return
	}
	if rule.SourceChat == nil {
		fail(w, http.StatusInternalServerError, "rule has no source chat")
		return
	}

	msgs, err := s.deps.Messages.GetMessages(r.Context(), rule.SourceChat.TelegramChatID, telegram.IterOptions{Limit: req.Limit})
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}

	// newest-first window, summarized in chronological order
	var texts []string
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Text != "" {
			texts = append(texts, msgs[i].Text)
		}
	}
	if len(texts) == 0 {
		fail(w, http.StatusBadRequest, "no text messages to summarize")
		return
	}

	summary, err := s.deps.Summarizer.Summarize(r.Context(), rule.SummaryPrompt, texts)
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	ok(w, map[string]any{"summary": summary, "messages": len(texts)})
}

func (s *Server) handleFreeze(w http.ResponseWriter, _ *http.Request) {
	if err := s.deps.Tomb.Freeze(); err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	ok(w, nil)
}
