package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/gridlens/internal/modules/dashboard"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	streamBuffer       = 16
	streamWriteTimeout = 5 * time.Second
)

// HandleForecastStream handles GET /api/dashboard/forecast/stream.
// It upgrades to a websocket and pushes the forecast status of the view on
// connect and on every transition until the client goes away.
func (h *Handler) HandleForecastStream(w http.ResponseWriter, r *http.Request) {
	view, ok := h.registeredView(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles their close frame
	ctx := conn.CloseRead(r.Context())

	updates := make(chan dashboard.ForecastStatus, streamBuffer)
	stop := view.WatchForecast(func(st dashboard.ForecastStatus) {
		select {
		case updates <- st:
		default:
			h.log.Warn().
				Str("status", string(st.Status)).
				Msg("Forecast stream buffer full, dropping update")
		}
	})
	defer stop()

	h.log.Debug().Str("view", view.ID()).Msg("Client connected to forecast stream")

	if err := h.writeStatus(ctx, conn, view.ForecastStatus()); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			h.log.Debug().Msg("Client disconnected from forecast stream")
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case st := <-updates:
			if err := h.writeStatus(ctx, conn, st); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeStatus(ctx context.Context, conn *websocket.Conn, st dashboard.ForecastStatus) error {
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()

	err := wsjson.Write(writeCtx, conn, st)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.log.Warn().Err(err).Msg("Failed to write forecast status")
	}
	return err
}
