package api

import (
	"context"
	"net/http"
	"time"

	"github.com/betbot/stockledger/internal/common"
	"github.com/betbot/stockledger/internal/events"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsMinPushGap = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type leaderboardFrame struct {
	Type    string                `json:"type"`
	At      time.Time             `json:"at"`
	Entries []leaderboardEntryDTO `json:"entries"`
}

// handleLeaderboardStream 连接建立后立即推送一次，之后按固定间隔推送排行榜
func (s *Server) handleLeaderboardStream(w http.ResponseWriter, r *http.Request) {
	top, ok := queryInt(r, "top", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "top must be a non-negative integer")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		apiLog.Warnf("ws upgrade: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	// 读循环只处理 pong/close；客户端断开即结束推送
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	push := time.NewTicker(s.cfg.LeaderboardPushInterval)
	defer push.Stop()
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	// 交易/快照事件触发提前推送，同一连接两次推送至少间隔 minPushGap
	var evCh <-chan events.Event
	if s.events != nil {
		ch, unsubscribe := s.events.Subscribe(8)
		defer unsubscribe()
		evCh = ch
		apiLog.Debugf("ws leaderboard subscribed, subscribers=%d", s.events.Subscribers())
	}
	gate := common.NewDebouncer(s.minPushGap)

	// 闸门内到达的事件不丢弃，推迟到闸门打开时补推一次
	var deferred *time.Timer
	var deferredC <-chan time.Time
	stopDeferred := func() {
		if deferred != nil {
			deferred.Stop()
			deferred, deferredC = nil, nil
		}
	}
	defer stopDeferred()

	gate.Mark(time.Now())
	if err := s.pushLeaderboard(ctx, conn, top); err != nil {
		apiLog.Debugf("ws push: %v", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-push.C:
			stopDeferred()
			gate.Mark(time.Now())
			if err := s.pushLeaderboard(ctx, conn, top); err != nil {
				apiLog.Debugf("ws push: %v", err)
				return
			}
		case ev, ok := <-evCh:
			if !ok {
				evCh = nil
				continue
			}
			now := time.Now()
			if !gate.TryMark(now) {
				if deferred == nil {
					deferred = time.NewTimer(gate.Remaining(now))
					deferredC = deferred.C
				}
				continue
			}
			apiLog.Debugf("ws push on %s", ev.EventName())
			if err := s.pushLeaderboard(ctx, conn, top); err != nil {
				apiLog.Debugf("ws push: %v", err)
				return
			}
		case <-deferredC:
			deferred, deferredC = nil, nil
			gate.Mark(time.Now())
			if err := s.pushLeaderboard(ctx, conn, top); err != nil {
				apiLog.Debugf("ws push: %v", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) pushLeaderboard(ctx context.Context, conn *websocket.Conn, top int) error {
	entries, err := s.ranking.Leaderboard(ctx, top)
	if err != nil {
		apiLog.Warnf("ws leaderboard: %v", err)
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(leaderboardFrame{Type: "leaderboard", At: time.Now().UTC(), Entries: toLeaderboardDTO(entries)})
}
