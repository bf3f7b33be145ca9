package server

import (
	"context"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"go-converse/internal/database"
	"go-converse/internal/types"
)

const (
	idleConversationTimeout = 30 * time.Second
	maxContentLength        = 1000
)

type exitReq struct {
	done chan string
}

// Conversation is the loaded runtime for one conversation. All publish and
// history events for the conversation flow through its single goroutine, so
// appends are serialized: message N's fan-out is enqueued to every recipient
// before message N+1's append begins. Separate conversations proceed
// independently.
//
// Membership is fixed at creation time, so the member set loaded with the
// conversation stays authoritative for the loop's lifetime.
type Conversation struct {
	id         int
	externalId string
	name       string
	memberIds  map[int]struct{}
	seq        int
	lastMsgAt  time.Time
	cs         *ChatServer
	msgChan    chan *ClientMessage
	killTimer  *time.Timer
	exit       chan exitReq
	log        *log.Logger
}

func newConversation(dbConv *database.Conversation, cs *ChatServer) *Conversation {
	memberIds := make(map[int]struct{}, len(dbConv.Members))
	for _, m := range dbConv.Members {
		memberIds[m.AccountId] = struct{}{}
	}

	return &Conversation{
		id:         dbConv.Id,
		externalId: dbConv.ExternalId,
		name:       dbConv.Name,
		memberIds:  memberIds,
		seq:        dbConv.Seq,
		cs:         cs,
		msgChan:    make(chan *ClientMessage, 256),
		exit:       make(chan exitReq),
		log:        cs.log,
	}
}

func (c *Conversation) run() {
	c.log.Printf("starting conversation %q", c.externalId)
	c.killTimer = time.NewTimer(idleConversationTimeout)

	for {
		select {
		case msg := <-c.msgChan:
			c.killTimer.Stop()
			c.dispatch(msg)
			c.killTimer.Reset(idleConversationTimeout)
		case <-c.killTimer.C:
			c.handleIdleTimeout()
		case e := <-c.exit:
			c.handleExit(e)
			return
		}
	}
}

func (c *Conversation) dispatch(msg *ClientMessage) {
	switch {
	case msg.Publish != nil:
		c.handlePublish(msg)
	case msg.History != nil:
		c.handleHistory(msg)
	}
}

func (c *Conversation) handleIdleTimeout() {
	c.log.Printf("conversation %q timed out", c.externalId)
	select {
	case c.cs.unloadChan <- c.externalId:
	default:
		// unload queue is busy, try again next interval
		c.killTimer.Reset(idleConversationTimeout)
	}
}

// handleExit drains any events routed before the unload was processed, so a
// publish never disappears between routing and teardown.
func (c *Conversation) handleExit(e exitReq) {
	c.log.Printf("conversation %q is exiting", c.externalId)
	for {
		select {
		case msg := <-c.msgChan:
			c.dispatch(msg)
		default:
			if e.done != nil {
				e.done <- c.externalId
			}
			return
		}
	}
}

// handlePublish runs one send end to end: authorize, validate, persist, fan
// out, acknowledge. Authorization and validation failures are resolved here
// and answered to the sender only; nothing is persisted or broadcast for
// them.
func (c *Conversation) handlePublish(msg *ClientMessage) {
	if _, ok := c.memberIds[msg.UserId]; !ok {
		c.log.Printf("user %d is not a member of conversation %q", msg.UserId, c.externalId)
		msg.client.queueMessage(ErrNotAMember(msg.Id))
		return
	}

	content := strings.TrimSpace(msg.Publish.Content)
	if content == "" || utf8.RuneCountInString(content) > maxContentLength {
		msg.client.queueMessage(ErrInvalidContent(msg.Id))
		return
	}

	// timestamps within a conversation never run backwards, even if the
	// wall clock does
	createdAt := msg.Timestamp
	if createdAt.Before(c.lastMsgAt) {
		createdAt = c.lastMsgAt
	}

	dbMsg, err := c.cs.db.CreateMessage(context.Background(), database.CreateMessageParams{
		ConversationId: c.id,
		SenderId:       msg.UserId,
		Seq:            c.seq + 1,
		Content:        content,
		CreatedAt:      createdAt,
	})
	if err != nil {
		c.log.Println("error saving message:", err)
		msg.client.queueMessage(ErrPersistenceFailure(msg.Id))
		return
	}

	c.seq = dbMsg.Seq
	c.lastMsgAt = dbMsg.CreatedAt

	c.fanout(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: dbMsg.CreatedAt,
		},
		Message: &types.Message{
			Id:             dbMsg.Id,
			Seq:            dbMsg.Seq,
			ConversationId: c.externalId,
			SenderId:       dbMsg.SenderId,
			Content:        dbMsg.Content,
			CreatedAt:      dbMsg.CreatedAt,
		},
	})
	c.cs.stats.Incr("NumMessagesSent")

	msg.client.queueMessage(NoErrOK(msg.Id, map[string]any{
		"message_id": dbMsg.Id,
		"seq":        dbMsg.Seq,
		"created_at": dbMsg.CreatedAt,
	}))
}

// fanout pushes the persisted message to every live connection of every
// member, the sender's other devices included. Each member appears once in
// the member set and each connection under one user id, so no connection
// receives the message twice. A failed push is counted and skipped; it never
// unwinds the persisted message or blocks the remaining recipients.
func (c *Conversation) fanout(msg *ServerMessage) {
	for memberId := range c.memberIds {
		for _, client := range c.cs.registry.ClientsForUser(memberId) {
			if !client.queueMessage(msg) {
				c.log.Printf("delivery to user %d session %s failed for conversation %q",
					memberId, client.sessionId, c.externalId)
				c.cs.stats.Incr("NumDeliveryFailures")
			}
		}
	}
}

// handleHistory serves the ordered message log to a member. The read shares
// the loop with appends, so history reads observe a consistent prefix of the
// conversation's sequence.
func (c *Conversation) handleHistory(msg *ClientMessage) {
	if _, ok := c.memberIds[msg.UserId]; !ok {
		msg.client.queueMessage(ErrNotAMember(msg.Id))
		return
	}

	dbMsgs, err := c.cs.db.GetMessages(context.Background(), c.id, 0, msg.History.Before, msg.History.Limit)
	if err != nil {
		c.log.Println("error fetching messages:", err)
		msg.client.queueMessage(ErrInternalError(msg.Id))
		return
	}

	// the store returns the newest page first; deliver in insertion order
	messages := make([]types.Message, 0, len(dbMsgs))
	for i := len(dbMsgs) - 1; i >= 0; i-- {
		m := dbMsgs[i]
		messages = append(messages, types.Message{
			Id:             m.Id,
			Seq:            m.Seq,
			ConversationId: c.externalId,
			SenderId:       m.SenderId,
			Content:        m.Content,
			CreatedAt:      m.CreatedAt,
		})
	}

	msg.client.queueMessage(NoErrOK(msg.Id, map[string]any{"messages": messages}))
}
