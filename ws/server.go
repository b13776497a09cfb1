// Resolver announcement hub. Resolvers keep a websocket open; the bid
// engine pushes newly open orders and revealed secrets through it.
// Message framing is line-oriented text: "ORDER <json>" and
// "SECRET <orderId> <secretHex>".
package ws

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"

	"github.com/fusionswap/orchestrator-go/reporter"
	"github.com/fusionswap/orchestrator-go/state"
)

const writeTimeout = 10 * time.Millisecond

type WSServer struct {
	broadcaster *Broadcaster
}

func NewWSServer() *WSServer {
	return &WSServer{broadcaster: NewBroadcaster()}
}

// AnnounceOrder pushes a bidding invitation to every connected
// resolver. Implements the bid engine's Announcer.
func (ws *WSServer) AnnounceOrder(o *state.SwapOrder, deadline time.Time) {
	view := struct {
		*reporter.OrderView
		BiddingDeadline int64 `json:"biddingDeadline"`
	}{
		OrderView:       reporter.NewOrderView(o),
		BiddingDeadline: deadline.Unix(),
	}

	encoded, err := json.Marshal(view)
	if err != nil {
		logger.WithField("orderId", o.OrderId.String()).Errorf("failed to encode order announcement: %v", err)
		return
	}
	ws.broadcaster.Broadcast(append([]byte("ORDER "), encoded...))
}

// AnnounceSecret forwards a revealed secret to the winning resolver's
// side, so it can sweep its escrow without watching the other chain.
func (ws *WSServer) AnnounceSecret(orderId ethcommon.Hash, secret []byte) {
	msg := fmt.Sprintf("SECRET %s 0x%s", orderId.Hex(), hex.EncodeToString(secret))
	ws.broadcaster.Broadcast([]byte(msg))
}

func (ws *WSServer) Serve() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", ws.MainHandler)
	return ws.corsMiddleware(mux)
}

func (ws *WSServer) Close() {
	ws.broadcaster.Close()
}

func (ws *WSServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Credentials", "false")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (ws *WSServer) MainHandler(w http.ResponseWriter, r *http.Request) {
	logger.WithField("remote", r.RemoteAddr).Info("resolver websocket connected")

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		http.Error(w, "WebSocket connection failed", http.StatusInternalServerError)
		return
	}
	defer c.CloseNow()

	msgChan := make(chan []byte, 16)
	id := ws.broadcaster.RegisterReceiver(msgChan)
	defer ws.broadcaster.UnregisterReceiver(id)

	for {
		select {
		case m, ok := <-msgChan:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
			err := c.Write(ctx, websocket.MessageText, m)
			cancel()
			if err != nil {
				logger.WithField("remote", r.RemoteAddr).Debugf("failed to write message: %v", err)
				return
			}
		case <-r.Context().Done():
			// client disconnected
			return
		}
	}
}
