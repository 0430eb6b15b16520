// Package fakeapi provides a fake Voltstream API server for testing
// purposes. It serves the GraphQL HTTP endpoint and the
// graphql-transport-ws subscription endpoint on one httptest server, with
// failure injection hooks for connection-loss scenarios.
package fakeapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	gorilla "github.com/gorilla/websocket"
)

// GraphQLRequest is the decoded body of an HTTP query request.
type GraphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// QueryHandler produces the response for one HTTP query request. It
// returns the HTTP status, the Content-Type, and the raw body.
type QueryHandler func(req GraphQLRequest, header http.Header) (int, string, []byte)

// wsMessage mirrors the graphql-transport-ws frame layout.
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// session is one live websocket connection.
type session struct {
	conn *gorilla.Conn

	writeMu sync.Mutex

	subsMu sync.Mutex
	subs   map[string]bool
}

func (s *session) write(msg wsMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(gorilla.TextMessage, data)
}

// Server is the fake API. Configure it, then drive the client against
// URL() and WebsocketURL().
type Server struct {
	// AccessToken is the token required by both endpoints.
	AccessToken string

	// OnQuery handles HTTP query requests. The default answers every
	// query with an empty data object.
	OnQuery QueryHandler

	// RejectInit makes the websocket endpoint close the connection
	// instead of acknowledging connection_init.
	RejectInit atomic.Bool

	httpSrv  *httptest.Server
	upgrader gorilla.Upgrader

	sessionMu sync.Mutex
	sessions  []*session

	connects   atomic.Int64
	pings      atomic.Int64
	httpCalls  atomic.Int64
	subscribes atomic.Int64
}

// NewServer starts a fake API accepting the given access token.
func NewServer(accessToken string) *Server {
	s := &Server{
		AccessToken: accessToken,
		upgrader: gorilla.Upgrader{
			Subprotocols: []string{"graphql-transport-ws"},
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/v1/graphql", s.handleQuery).Methods(http.MethodPost)
	r.HandleFunc("/v1/subscriptions", s.handleSubscriptions)

	s.httpSrv = httptest.NewServer(r)

	return s
}

// URL returns the HTTP GraphQL endpoint.
func (s *Server) URL() string {
	return s.httpSrv.URL + "/v1/graphql"
}

// WebsocketURL returns the subscription endpoint in ws scheme.
func (s *Server) WebsocketURL() string {
	return strings.Replace(s.httpSrv.URL, "http", "ws", 1) + "/v1/subscriptions"
}

// Close shuts the server down, dropping all live connections.
func (s *Server) Close() {
	s.DropConnections()
	s.httpSrv.Close()
}

// Connects returns how many websocket sessions completed the handshake.
func (s *Server) Connects() int64 { return s.connects.Load() }

// Pings returns how many protocol pings the server received.
func (s *Server) Pings() int64 { return s.pings.Load() }

// HTTPCalls returns how many HTTP query requests arrived.
func (s *Server) HTTPCalls() int64 { return s.httpCalls.Load() }

// Subscribes returns how many subscribe frames the server received.
func (s *Server) Subscribes() int64 { return s.subscribes.Load() }

// DropConnections abruptly closes every live websocket without a close
// frame, simulating a network failure.
func (s *Server) DropConnections() {
	s.sessionMu.Lock()
	sessions := s.sessions
	s.sessions = nil
	s.sessionMu.Unlock()

	for _, sess := range sessions {
		if tcp := sess.conn.UnderlyingConn(); tcp != nil {
			tcp.Close()
		}
	}
}

// Publish sends one execution result to every session subscribed under any
// id, wrapped in a next frame as {"data": <data>}.
func (s *Server) Publish(data any) error {
	raw, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		return err
	}

	s.sessionMu.Lock()
	sessions := append([]*session(nil), s.sessions...)
	s.sessionMu.Unlock()

	for _, sess := range sessions {
		sess.subsMu.Lock()
		ids := make([]string, 0, len(sess.subs))
		for id := range sess.subs {
			ids = append(ids, id)
		}
		sess.subsMu.Unlock()

		for _, id := range ids {
			if err := sess.write(wsMessage{ID: id, Type: "next", Payload: raw}); err != nil {
				return err
			}
		}
	}

	return nil
}

// CompleteAll sends a complete frame for every live subscription.
func (s *Server) CompleteAll() error {
	s.sessionMu.Lock()
	sessions := append([]*session(nil), s.sessions...)
	s.sessionMu.Unlock()

	for _, sess := range sessions {
		sess.subsMu.Lock()
		ids := make([]string, 0, len(sess.subs))
		for id := range sess.subs {
			ids = append(ids, id)
			delete(sess.subs, id)
		}
		sess.subsMu.Unlock()

		for _, id := range ids {
			if err := sess.write(wsMessage{ID: id, Type: "complete"}); err != nil {
				return err
			}
		}
	}

	return nil
}

// FailAll sends an error frame for every live subscription.
func (s *Server) FailAll(message string) error {
	payload, err := json.Marshal([]map[string]any{{"message": message}})
	if err != nil {
		return err
	}

	s.sessionMu.Lock()
	sessions := append([]*session(nil), s.sessions...)
	s.sessionMu.Unlock()

	for _, sess := range sessions {
		sess.subsMu.Lock()
		ids := make([]string, 0, len(sess.subs))
		for id := range sess.subs {
			ids = append(ids, id)
			delete(sess.subs, id)
		}
		sess.subsMu.Unlock()

		for _, id := range ids {
			if err := sess.write(wsMessage{ID: id, Type: "error", Payload: payload}); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	s.httpCalls.Add(1)

	if r.Header.Get("Authorization") != "Bearer "+s.AccessToken {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"errors": [{"message": "invalid token", "extensions": {"code": "UNAUTHENTICATED"}}]}`)
		return
	}

	var req GraphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"errors": [{"message": "malformed request body"}]}`)
		return
	}

	handler := s.OnQuery
	if handler == nil {
		handler = func(GraphQLRequest, http.Header) (int, string, []byte) {
			return http.StatusOK, "application/json", []byte(`{"data": {}}`)
		}
	}

	status, contentType, body := handler(req, r.Header)
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	w.Write(body)
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sess := &session{conn: conn, subs: make(map[string]bool)}

	if !s.acceptInit(sess) {
		conn.Close()
		return
	}

	s.connects.Add(1)
	s.sessionMu.Lock()
	s.sessions = append(s.sessions, sess)
	s.sessionMu.Unlock()

	s.serve(sess)
}

// acceptInit waits for connection_init, validates the token, and answers
// with connection_ack.
func (s *Server) acceptInit(sess *session) bool {
	_, data, err := sess.conn.ReadMessage()
	if err != nil {
		return false
	}

	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "connection_init" {
		return false
	}

	if s.RejectInit.Load() {
		return false
	}

	var init struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(msg.Payload, &init); err != nil || init.Token != s.AccessToken {
		return false
	}

	return sess.write(wsMessage{Type: "connection_ack"}) == nil
}

func (s *Server) serve(sess *session) {
	defer sess.conn.Close()

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "ping":
			s.pings.Add(1)
			sess.write(wsMessage{Type: "pong"})
		case "pong":
		case "subscribe":
			s.subscribes.Add(1)
			sess.subsMu.Lock()
			sess.subs[msg.ID] = true
			sess.subsMu.Unlock()
		case "complete":
			sess.subsMu.Lock()
			delete(sess.subs, msg.ID)
			sess.subsMu.Unlock()
		}
	}
}
