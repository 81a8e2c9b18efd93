package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const pingInterval = 15 * time.Second

// session - серверная сторона одного WebSocket соединения терминала.
// Реализует relay.Sender: роутер и реестр шлют через нее сообщения.
type session struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex // Одновременная запись в gorilla соединение запрещена

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(conn *websocket.Conn, logger *slog.Logger) *session {
	s := &session{
		conn:   conn,
		logger: logger,
		done:   make(chan struct{}),
	}

	go s.sendPings()

	return s
}

// Send пишет JSON сообщение в соединение. Дедлайн берется из ctx:
// медленный получатель получает ошибку, а не вечную блокировку.
func (s *session) Send(ctx context.Context, msg any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}

	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	return s.conn.WriteJSON(msg)
}

// Close закрывает соединение с причиной. Повторные вызовы безопасны.
func (s *session) Close(reason string) {
	s.closeOnce.Do(func() {
		close(s.done)

		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		)
		s.conn.Close()
	})
}

func (s *session) sendPings() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()

			if err != nil {
				s.logger.Debug("WebSocket ping error", slog.Any("error", err))
				return
			}
		}
	}
}
