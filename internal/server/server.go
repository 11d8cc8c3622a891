// Package server hosts the reflex HTTP/WebSocket process: it serves the
// initial page render, upgrades channel connections, and feeds invocation
// frames to the dispatcher.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	rferrors "github.com/louisbranch/reflex/internal/errors"
	"github.com/louisbranch/reflex/internal/platform/id"
	"github.com/louisbranch/reflex/internal/protocol"
	"github.com/louisbranch/reflex/internal/reflex"
	"github.com/louisbranch/reflex/internal/render"
	"github.com/louisbranch/reflex/internal/session"
	"github.com/louisbranch/reflex/internal/session/token"
)

const (
	// SessionCookieName carries the signed session token across handshakes.
	SessionCookieName = "reflex_session"

	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
)

// Config defines the inputs for the reflex transport boundary.
type Config struct {
	HTTPAddr          string
	SessionTokenKey   []byte
	SessionTokenTTL   time.Duration
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the reflex HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
}

// NewHandler builds the reflex routes: "/" renders the initial page and
// issues the session cookie, "/ws" carries the channel, "/up" reports
// health.
func NewHandler(dispatcher *reflex.Dispatcher, renderer render.Renderer, store session.Store, minter *token.Minter) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		servePage(w, r, renderer, store, minter)
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleConn(conn, dispatcher, minter)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

// servePage renders the current view for the request's session, minting a
// fresh session when the cookie is absent or invalid.
func servePage(w http.ResponseWriter, r *http.Request, renderer render.Renderer, store session.Store, minter *token.Minter) {
	sessionID, minted := resolveSession(r, minter)
	if minted != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookieName,
			Value:    minted,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	view, err := session.NewView(store, sessionID)
	if err != nil {
		http.Error(w, "session is unavailable", http.StatusInternalServerError)
		return
	}
	page, err := renderer.Render(r.Context(), view)
	if err != nil {
		log.Printf("reflex: render page session=%q err=%v", sessionID, err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(page))
}

// resolveSession returns the request's session id and, when a new session
// was created, the freshly minted token.
func resolveSession(r *http.Request, minter *token.Minter) (sessionID, minted string) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if verified, err := minter.Verify(cookie.Value); err == nil {
			return verified, ""
		}
	}

	fresh := freshSessionID()
	signed, err := minter.Mint(fresh)
	if err != nil {
		log.Printf("reflex: mint session token err=%v", err)
		return fresh, ""
	}
	return fresh, signed
}

func freshSessionID() string {
	fresh, err := id.NewID()
	if err != nil {
		// crypto/rand failing leaves no good options; a time-derived id
		// keeps the page serving.
		return fmt.Sprintf("s_%d", time.Now().UnixNano())
	}
	return fresh
}

// peer serializes frame writes to one connection.
type peer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newPeer(encoder *json.Encoder) *peer {
	return &peer{encoder: encoder}
}

func (p *peer) write(frame protocol.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

func handleConn(conn *websocket.Conn, dispatcher *reflex.Dispatcher, minter *token.Minter) {
	defer func() {
		_ = conn.Close()
	}()

	sessionID := connSessionID(conn, minter)
	decoder := json.NewDecoder(conn)
	peer := newPeer(json.NewEncoder(conn))

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame protocol.Frame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = peer.write(protocol.ErrorFrame("", rferrors.CodeInvalidArgument, "invalid frame payload"))
			if decodeErrors >= protocol.MaxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > protocol.MaxFramePayloadBytes {
			_ = peer.write(protocol.ErrorFrame(frame.RequestID, rferrors.CodeInvalidArgument, "payload too large"))
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > protocol.MaxFramesPerSecond {
			_ = peer.write(protocol.ErrorFrame(frame.RequestID, rferrors.CodeResourceExhausted, "rate limit exceeded"))
			return
		}

		switch frame.Type {
		case protocol.FrameInvoke:
			handleInvokeFrame(conn.Request().Context(), peer, dispatcher, sessionID, frame)
		default:
			_ = peer.write(protocol.ErrorFrame(frame.RequestID, rferrors.CodeInvalidArgument, "unsupported frame type"))
		}
	}
}

func handleInvokeFrame(ctx context.Context, peer *peer, dispatcher *reflex.Dispatcher, sessionID string, frame protocol.Frame) {
	var payload protocol.InvokePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = peer.write(protocol.ErrorFrame(frame.RequestID, rferrors.CodeInvalidArgument, "invalid invoke payload"))
		return
	}

	response := dispatcher.Dispatch(ctx, sessionID, frame.RequestID, payload)
	_ = peer.write(response)
}

// connSessionID recovers the session id from the handshake cookie, or mints
// an anonymous id for cookieless peers.
func connSessionID(conn *websocket.Conn, minter *token.Minter) string {
	if request := conn.Request(); request != nil {
		if cookie, err := request.Cookie(SessionCookieName); err == nil {
			if verified, err := minter.Verify(cookie.Value); err == nil {
				return verified
			}
		}
	}
	return freshSessionID()
}

// NewServer builds a configured reflex server.
func NewServer(config Config, dispatcher *reflex.Dispatcher, renderer render.Renderer, store session.Store) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if len(config.SessionTokenKey) == 0 {
		return nil, errors.New("session token key is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}

	minter, err := token.NewMinter(config.SessionTokenKey, config.SessionTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("init session minter: %w", err)
	}

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           NewHandler(dispatcher, renderer, store, minter),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
	}, nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("reflex server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("reflex server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
