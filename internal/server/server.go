package server

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"go-converse/internal/database"
	"go-converse/internal/stats"
	"go-converse/internal/types"
)

// ChatServer routes client messages to conversation loops and owns the
// connection registry. Conversation loading and unloading both happen on the
// Run goroutine, so a conversation cannot be unloaded while a message is
// being routed to it.
type ChatServer struct {
	log           *log.Logger
	db            database.ChatRepository
	stats         stats.StatsProvider
	registry      *Registry
	routeChan     chan *ClientMessage
	unloadChan    chan string
	conversations map[string]*Conversation
	stop          chan stopRequest
}

type stopRequest struct {
	done chan struct{}
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, statsProvider stats.StatsProvider) (*ChatServer, error) {
	cs := &ChatServer{
		log:           logger,
		db:            db,
		stats:         statsProvider,
		registry:      NewRegistry(),
		routeChan:     make(chan *ClientMessage, 256),
		unloadChan:    make(chan string, 32),
		conversations: make(map[string]*Conversation),
		stop:          make(chan stopRequest),
	}

	for _, metric := range []string{
		"NumConnections",
		"NumActiveConversations",
		"NumMessagesSent",
		"NumDeliveryFailures",
	} {
		cs.stats.RegisterMetric(metric)
	}

	return cs, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case msg := <-cs.routeChan:
			cs.routeMessage(msg)
		case id := <-cs.unloadChan:
			cs.unloadConversation(id)
		case req := <-cs.stop:
			cs.log.Println("shutting down conversations")
			for _, conv := range cs.conversations {
				cs.unloadConversation(conv.externalId)
			}

			for _, c := range cs.registry.AllClients() {
				c.stopClient()
			}

			close(req.done)
			return
		}
	}
}

// route hands a client message to the server's run loop without blocking the
// client's read pump.
func (cs *ChatServer) route(msg *ClientMessage) {
	select {
	case cs.routeChan <- msg:
	default:
		cs.log.Println("route channel full, rejecting message")
		msg.client.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (cs *ChatServer) routeMessage(msg *ClientMessage) {
	externalId := msg.conversationId()
	if externalId == "" {
		msg.client.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	conv, ok := cs.conversations[externalId]
	if !ok {
		dbConv, err := cs.db.GetConversationWithMembers(context.Background(), externalId)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				msg.client.queueMessage(ErrConversationNotFound(msg.Id))
			} else {
				cs.log.Println("GetConversationWithMembers:", err)
				msg.client.queueMessage(ErrInternalError(msg.Id))
			}
			return
		}

		conv = newConversation(dbConv, cs)
		cs.conversations[externalId] = conv
		cs.stats.Incr("NumActiveConversations")

		go conv.run()
	}

	select {
	case conv.msgChan <- msg:
	default:
		cs.log.Printf("message channel full for conversation %q", conv.externalId)
		msg.client.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (cs *ChatServer) unloadConversation(externalId string) {
	conv, ok := cs.conversations[externalId]
	if !ok {
		return
	}

	delete(cs.conversations, externalId)

	done := make(chan string, 1)
	conv.exit <- exitReq{done: done}
	<-done

	cs.stats.Decr("NumActiveConversations")
	cs.log.Printf("unloaded conversation %q", externalId)
}

// RegisterClient adds an authenticated connection to the registry. The
// caller must have verified the connection's credential first; no
// unauthenticated connection is ever registered.
func (cs *ChatServer) RegisterClient(c *Client) {
	if cs.registry.Add(c) {
		cs.stats.Incr("NumConnections")
		cs.log.Printf("registered session %s for user %q", c.sessionId, c.user.Username)
	}
}

// UnregisterClient removes a connection. Safe to call any number of times
// for the same connection.
func (cs *ChatServer) UnregisterClient(c *Client) {
	if cs.registry.Remove(c) {
		cs.stats.Decr("NumConnections")
		cs.log.Printf("unregistered session %s for user %q", c.sessionId, c.user.Username)
	}
}

// NotifyConversationCreated pushes a notification to every online member of
// a newly created conversation. Called from the API layer's goroutine; the
// registry lookup and the queue are both safe for concurrent use.
func (cs *ChatServer) NotifyConversationCreated(conv types.Conversation, memberIds []int) {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			Conversation: &conv,
		},
	}

	for _, memberId := range memberIds {
		for _, client := range cs.registry.ClientsForUser(memberId) {
			client.queueMessage(msg)
		}
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	done := make(chan struct{})
	select {
	case cs.stop <- stopRequest{done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
