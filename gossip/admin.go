package gossip

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Status is the body of GET /status on the admin listener.
type Status struct {
	ID         NodeID     `json:"id"`
	Addr       string     `json:"addr"`
	RelayLimit int        `json:"relay_limit"`
	Peers      []PeerInfo `json:"peers"`
	Messages   int        `json:"messages"`
}

func (n *Node) Status() Status {
	return Status{
		ID:         n.cfg.ID,
		Addr:       n.Addr(),
		RelayLimit: n.store.RelayLimit(),
		Peers:      n.Peers(),
		Messages:   n.store.Len(),
	}
}

// AdminHandler exposes metrics and status over HTTP. It never touches read
// state, so it is safe to poll.
func (n *Node) AdminHandler() http.Handler {
	r := mux.NewRouter()
	r.Handle(`/metrics`, promhttp.HandlerFor(n.cfg.Registry, promhttp.HandlerOpts{})).Methods(`GET`)
	r.HandleFunc(`/status`, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(`Content-Type`, `application/json`)
		_ = json.NewEncoder(w).Encode(n.Status())
	}).Methods(`GET`)
	r.HandleFunc(`/healthz`, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(`GET`)
	return cors.New(cors.Options{
		AllowedOrigins: []string{`*`},
		AllowedMethods: []string{`GET`},
	}).Handler(r)
}

type adminServer struct {
	srv *http.Server
}

func startAdmin(n *Node, addr string) (*adminServer, error) {
	ln, err := net.Listen(`tcp`, addr)
	if err != nil {
		return nil, fmt.Errorf(`admin listen on %s: %w`, addr, err)
	}
	srv := &http.Server{Handler: n.AdminHandler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.WithError(err).Warn(`admin server stopped`)
		}
	}()
	n.log.WithField(`admin`, ln.Addr().String()).Info(`admin listening`)
	return &adminServer{srv: srv}, nil
}

func (a *adminServer) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = a.srv.Shutdown(ctx)
}
