// Cloud-bridge relay: the teacher's cloud-bridge speaks gRPC-over-yamux
// using a generated proto.BridgeService that this retrieval pack does not
// carry (no .proto file, no generated package anywhere in it — see
// DESIGN.md). BridgeClient/BridgeServer below keep the teacher's transport
// shape (websocket dial, yamux session, one stream per logical call) and
// replace the wire codec with newline-delimited JSON frames, so the same
// Transport interface that telegram.go/discord.go satisfy can be driven
// through a relay when the Bus runs behind a cloud endpoint instead of
// talking to Telegram/Discord directly.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/yamux"
)

// bridgeFrame is the single wire message exchanged over a yamux stream, in
// both directions: a request frame going out, a response frame (or an
// unsolicited callback frame) coming back.
type bridgeFrame struct {
	Kind string `json:"kind"` // "send" | "edit" | "delete" | "ack" | "callback"

	ChatID    string    `json:"chat_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Text      string    `json:"text,omitempty"`
	Keyboard  *Keyboard `json:"keyboard,omitempty"`

	Error string `json:"error,omitempty"`

	Callback *CallbackEvent `json:"callback,omitempty"`
}

// BridgeClient is the Transport implementation run by the Bus when it
// connects out to a relay endpoint instead of hosting Telegram/Discord
// polling itself. One yamux stream per outbound call; a dedicated stream
// opened by the remote side delivers inbound callback events.
type BridgeClient struct {
	session *yamux.Session
	dialect Dialect
	inbound chan CallbackEvent
}

// DialBridge opens a websocket to cloudURL, establishes a yamux client
// session over it, and starts accepting inbound callback streams. dialect
// lets the relay carry either Telegram or Discord markup depending on what
// sits on the other end.
func DialBridge(ctx context.Context, cloudURL string, dialect Dialect) (*BridgeClient, error) {
	u, err := url.Parse(cloudURL)
	if err != nil {
		return nil, fmt.Errorf("transport/bridge: parse url: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("transport/bridge: websocket dial: %w", err)
	}

	session, err := yamux.Client(newWebsocketRWC(conn), nil)
	if err != nil {
		return nil, fmt.Errorf("transport/bridge: yamux client: %w", err)
	}

	c := &BridgeClient{
		session: session,
		dialect: dialect,
		inbound: make(chan CallbackEvent, 100),
	}
	go c.acceptInboundStreams()
	return c, nil
}

func (c *BridgeClient) acceptInboundStreams() {
	for {
		stream, err := c.session.Accept()
		if err != nil {
			log.Printf("transport/bridge: session closed: %v", err)
			return
		}
		go c.readCallback(stream)
	}
}

func (c *BridgeClient) readCallback(rwc interface {
	Read([]byte) (int, error)
	Close() error
}) {
	defer rwc.Close()
	dec := json.NewDecoder(bufio.NewReader(rwc))
	var frame bridgeFrame
	if err := dec.Decode(&frame); err != nil {
		return
	}
	if frame.Kind == "callback" && frame.Callback != nil {
		c.inbound <- *frame.Callback
	}
}

func (c *BridgeClient) call(req bridgeFrame) (bridgeFrame, error) {
	stream, err := c.session.Open()
	if err != nil {
		return bridgeFrame{}, fmt.Errorf("transport/bridge: open stream: %w", err)
	}
	defer stream.Close()

	if err := json.NewEncoder(stream).Encode(req); err != nil {
		return bridgeFrame{}, fmt.Errorf("transport/bridge: encode request: %w", err)
	}

	var resp bridgeFrame
	if err := json.NewDecoder(bufio.NewReader(stream)).Decode(&resp); err != nil {
		return bridgeFrame{}, fmt.Errorf("transport/bridge: decode response: %w", err)
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("transport/bridge: remote error: %s", resp.Error)
	}
	return resp, nil
}

// Send implements Transport.
func (c *BridgeClient) Send(_ context.Context, chatID, text string, kb *Keyboard) (string, error) {
	resp, err := c.call(bridgeFrame{Kind: "send", ChatID: chatID, Text: text, Keyboard: kb})
	if err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

// Edit implements Transport.
func (c *BridgeClient) Edit(_ context.Context, chatID, messageID, text string) error {
	_, err := c.call(bridgeFrame{Kind: "edit", ChatID: chatID, MessageID: messageID, Text: text})
	return err
}

// Delete implements Transport.
func (c *BridgeClient) Delete(_ context.Context, chatID, messageID string) error {
	_, err := c.call(bridgeFrame{Kind: "delete", ChatID: chatID, MessageID: messageID})
	return err
}

// Inbound implements Transport.
func (c *BridgeClient) Inbound() <-chan CallbackEvent { return c.inbound }

// Dialect implements Transport.
func (c *BridgeClient) Dialect() Dialect { return c.dialect }

// Close tears down the yamux session and underlying websocket.
func (c *BridgeClient) Close() error {
	return c.session.Close()
}

// BridgeServer is a development/test relay endpoint: it accepts websocket
// connections, establishes a yamux server session per connection, and
// forwards each inbound request frame to the wrapped Transport, writing
// back an ack frame. Grounded on the teacher's bridge.Server, which plays
// the same "mockup of the cloud side" role for the gRPC version.
type BridgeServer struct {
	port      int
	upgrader  websocket.Upgrader
	transport Transport
}

// NewBridgeServer wraps an existing Transport (e.g. a Telegram transport
// running in the same process) and relays it to whatever yamux clients
// connect.
func NewBridgeServer(port int, wrapped Transport) *BridgeServer {
	return &BridgeServer{
		port:      port,
		transport: wrapped,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start serves the relay endpoint until ctx is cancelled.
func (s *BridgeServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/bridge", s.handleWebSocket)
	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", s.port), Handler: mux}

	go func() {
		<-ctx.Done()
		httpServer.Close()
	}()

	log.Printf("transport/bridge: relay listening on :%d", s.port)
	return httpServer.ListenAndServe()
}

func (s *BridgeServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("transport/bridge: upgrade: %v", err)
		return
	}

	session, err := yamux.Server(newWebsocketRWC(conn), nil)
	if err != nil {
		log.Printf("transport/bridge: yamux server: %v", err)
		return
	}

	go s.forwardCallbacks(r.Context(), session)

	for {
		stream, err := session.Accept()
		if err != nil {
			log.Printf("transport/bridge: session closed: %v", err)
			return
		}
		go s.handleStream(stream)
	}
}

func (s *BridgeServer) forwardCallbacks(ctx context.Context, session *yamux.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.transport.Inbound():
			if !ok {
				return
			}
			stream, err := session.Open()
			if err != nil {
				log.Printf("transport/bridge: open callback stream: %v", err)
				return
			}
			if err := json.NewEncoder(stream).Encode(bridgeFrame{Kind: "callback", Callback: &ev}); err != nil {
				log.Printf("transport/bridge: encode callback: %v", err)
			}
			stream.Close()
		}
	}
}

func (s *BridgeServer) handleStream(stream interface {
	Read([]byte) (int, error)
	Write([]byte) (int, error)
	Close() error
}) {
	defer stream.Close()

	var req bridgeFrame
	if err := json.NewDecoder(bufio.NewReader(stream)).Decode(&req); err != nil {
		return
	}

	resp := bridgeFrame{Kind: "ack"}
	ctx := context.Background()
	switch req.Kind {
	case "send":
		id, err := s.transport.Send(ctx, req.ChatID, req.Text, req.Keyboard)
		if err != nil {
			resp.Error = err.Error()
		}
		resp.MessageID = id
	case "edit":
		if err := s.transport.Edit(ctx, req.ChatID, req.MessageID, req.Text); err != nil {
			resp.Error = err.Error()
		}
	case "delete":
		if err := s.transport.Delete(ctx, req.ChatID, req.MessageID); err != nil {
			resp.Error = err.Error()
		}
	default:
		resp.Error = fmt.Sprintf("unknown frame kind %q", req.Kind)
	}

	if err := json.NewEncoder(stream).Encode(resp); err != nil {
		log.Printf("transport/bridge: encode response: %v", err)
	}
}
