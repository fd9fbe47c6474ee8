package p2p

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HandlerFunc processes one decoded message. A returned error is reported back to the sender.
type HandlerFunc func(ctx context.Context, msg Message) error

// ErrUnknownPeer is returned when sending to a node missing from the peer directory.
var ErrUnknownPeer = errors.New("peer not found in directory")

// Node is a party's endpoint for direct messages.
type Node struct {
	ID      string
	Address string

	log    *zap.Logger
	client *http.Client
	server *http.Server

	mu       sync.RWMutex
	peers    map[string]string
	handlers map[string]HandlerFunc
}

// NewNode creates a node listening on address. peers maps node ids to host:port or base URLs.
func NewNode(id, address string, peers map[string]string, timeout time.Duration, log *zap.Logger) *Node {
	dir := make(map[string]string, len(peers))
	for k, v := range peers {
		dir[k] = v
	}
	n := &Node{
		ID:       id,
		Address:  address,
		log:      log.Named("p2p").With(zap.String("node", id)),
		client:   &http.Client{Timeout: timeout},
		peers:    dir,
		handlers: make(map[string]HandlerFunc),
	}
	n.RegisterHandler(TypeText, func(_ context.Context, msg Message) error {
		var text SimpleTextMessage
		if err := json.Unmarshal(msg.Payload, &text); err != nil {
			return err
		}
		n.log.Info("text message", zap.String("from", msg.SenderID), zap.String("content", text.Content))
		return nil
	})
	return n
}

// RegisterHandler sets the handler for messages of type msgType, replacing any previous one.
func (n *Node) RegisterHandler(msgType string, h HandlerFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[msgType] = h
}

// AddPeer adds or replaces a directory entry.
func (n *Node) AddPeer(id, address string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[id] = address
}

// Handler serves POST /message.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /message", n.messageHandler)
	return mux
}

func (n *Node) messageHandler(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&msg); err != nil {
		n.log.Warn("bad message", zap.Error(err))
		writeReply(w, http.StatusBadRequest, Reply{Error: "invalid request body"})
		return
	}

	n.mu.RLock()
	h, ok := n.handlers[msg.Type]
	n.mu.RUnlock()
	if !ok {
		n.log.Warn("unknown message type", zap.String("type", msg.Type), zap.String("from", msg.SenderID))
		writeReply(w, http.StatusNotImplemented, Reply{Error: "unknown message type " + msg.Type})
		return
	}

	n.log.Debug("message received", zap.String("type", msg.Type), zap.String("from", msg.SenderID))
	if err := h(r.Context(), msg); err != nil {
		n.log.Warn("message rejected", zap.String("type", msg.Type), zap.String("from", msg.SenderID), zap.Error(err))
		writeReply(w, http.StatusUnprocessableEntity, Reply{Error: err.Error()})
		return
	}
	writeReply(w, http.StatusOK, Reply{OK: true})
}

// StartServer binds the node's address and serves in a goroutine.
func (n *Node) StartServer() error {
	listener, err := net.Listen("tcp", n.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", n.Address, err)
	}
	n.server = &http.Server{
		Handler:           n.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		n.log.Info("p2p server starting", zap.String("addr", listener.Addr().String()))
		if err := n.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Error("p2p server failed", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops the server started by StartServer.
func (n *Node) Shutdown(ctx context.Context) error {
	if n.server == nil {
		return nil
	}
	return n.server.Shutdown(ctx)
}

// SendMessage delivers payload to targetID and waits for its reply.
func (n *Node) SendMessage(ctx context.Context, targetID, messageType string, payload any) error {
	n.mu.RLock()
	target, ok := n.peers[targetID]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPeer, targetID)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	body, err := json.Marshal(Message{Type: messageType, Payload: payloadBytes, SenderID: n.ID})
	if err != nil {
		return fmt.Errorf("failed to marshal message envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, messageURL(target), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	n.log.Debug("sending message", zap.String("type", messageType), zap.String("to", targetID))
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	var reply Reply
	_ = json.NewDecoder(resp.Body).Decode(&reply)
	if resp.StatusCode != http.StatusOK {
		if reply.Error != "" {
			return fmt.Errorf("peer %s rejected %s: %s", targetID, messageType, reply.Error)
		}
		return fmt.Errorf("peer returned non-OK status: %s", resp.Status)
	}
	return nil
}

func messageURL(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target + "/message"
	}
	return "http://" + target + "/message"
}

func writeReply(w http.ResponseWriter, status int, r Reply) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(r)
}
