package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/betbot/stockledger/internal/services"
)

const cronRunTimeout = 5 * time.Minute

// authorizedCron 校验 Authorization: Bearer <CRON_SECRET>；未配置密钥时一律拒绝
func (s *Server) authorizedCron(r *http.Request) bool {
	if s.cfg.CronSecret == "" {
		return false
	}
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.cfg.CronSecret)) == 1
}

func (s *Server) handleCronUpdateHistory(w http.ResponseWriter, r *http.Request) {
	if !s.authorizedCron(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	// 调用方断开不应中断正在写入的快照
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), cronRunTimeout)
	defer cancel()

	run, err := s.history.RunForAllUsers(ctx, services.TriggerCron)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Portfolio history updated",
		Data: map[string]any{
			"runId":  run.RunID,
			"users":  run.Users,
			"ok":     run.OK,
			"failed": run.Failed,
		},
	})
}

func (s *Server) handleJobRunsList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	runs, err := s.store.ListJobRuns(ctx, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db list job runs failed")
		apiLog.Errorf("list job runs: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleJobSnapshotNow(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot scheduler not running")
		return
	}
	queued := s.scheduler.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "queued": queued})
}
