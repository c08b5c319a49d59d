package httpapi

import (
	"context"
	"log"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const wsWriteTimeout = 5 * time.Second

// handleEventsFeed streams recently tracked events to a dashboard
// client. The backlog is replayed first, then live events until the
// client goes away. Slow clients miss events rather than stall the
// trackers; the feed is advisory, the sheets are the record.
func (s *Server) handleEventsFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // read-only feed, no state changes possible
	})
	if err != nil {
		log.Printf("httpapi: websocket accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "feed closed")

	// CloseRead cancels the context when the client disconnects.
	ctx := conn.CloseRead(r.Context())

	for _, event := range s.events.Recent() {
		if err := writeEvent(ctx, conn, event); err != nil {
			return
		}
	}

	live, cancel := s.events.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event, ok := <-live:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := writeEvent(ctx, conn, event); err != nil {
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, event any) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, event)
}
