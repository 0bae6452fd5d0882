package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/reelkit/reelkit/internal/catalog"
	"github.com/reelkit/reelkit/internal/render"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

func newUpgrader(origins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if len(origins) == 0 {
				return isLoopbackOrigin(origin)
			}
			return slices.Contains(origins, origin) || slices.Contains(origins, "*")
		},
	}
}

func snapshotEvent(j *catalog.RenderJob) render.Event {
	return render.Event{
		JobID:     j.ID,
		Status:    j.Status,
		Progress:  j.Progress,
		Error:     j.Error,
		OutputURL: j.OutputURL,
		PosterURL: j.PosterURL,
	}
}

// watchRenderHandler streams render events over a WebSocket. The first
// message is the job's current state; the stream closes after a terminal
// event or when the client goes away.
func watchRenderHandler(cfg ServerConfig) http.HandlerFunc {
	upgrader := newUpgrader(cfg.CORSOrigins)

	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		// Subscribe before taking the snapshot so no transition is lost in
		// between.
		events, unsubscribe := cfg.Renderer.Hub().Subscribe(id)
		defer unsubscribe()

		job, err := cfg.CatalogService.GetJob(r.Context(), id)
		if err != nil {
			WriteAppError(w, cfg.Logger, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			cfg.Logger.Warn("websocket upgrade failed", "job_id", id, "error", err)
			return
		}
		defer conn.Close()

		snapshot := snapshotEvent(job)
		if !writeEvent(conn, snapshot) || snapshot.Terminal() {
			closeStream(conn)
			return
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			conn.SetReadDeadline(time.Now().Add(wsPongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(wsPongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()

		for {
			select {
			case <-done:
				return
			case e, ok := <-events:
				if !ok {
					closeStream(conn)
					return
				}
				if !writeEvent(conn, e) {
					return
				}
				if e.Terminal() {
					closeStream(conn)
					return
				}
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, e render.Event) bool {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(e) == nil
}

func closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
