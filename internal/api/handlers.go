package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"

	"go-converse/internal/database"
	"go-converse/internal/server"
	"go-converse/internal/types"
)

type CreateConversationRequest struct {
	Name       string `json:"name" validate:"omitempty,max=64"`
	Recipients []int  `json:"recipients" validate:"required,min=1,dive,gt=0"`
}

func (a *App) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Printf("json encode: %v", err)
	}
}

// createConversation creates a conversation with a fixed member set: the
// authenticated creator plus at least one recipient. Membership never
// changes afterwards.
func (a *App) createConversation(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := a.validate.Struct(req); err != nil {
		errResp := NewBadRequestError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	memberIds := []int{userId}
	for _, recipientId := range req.Recipients {
		if !slices.Contains(memberIds, recipientId) {
			memberIds = append(memberIds, recipientId)
		}
	}

	members := make([]types.User, 0, len(memberIds))
	for _, memberId := range memberIds {
		account, err := a.db.GetAccountById(r.Context(), memberId)
		if err != nil {
			var errResp *ApiError
			if errors.Is(err, sql.ErrNoRows) {
				errResp = NewNotFoundError()
			} else {
				errResp = NewInternalServerError(err)
			}
			a.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		members = append(members, types.User{
			Id:       account.Id,
			Username: account.Username,
		})
	}

	sid, err := a.generateShortId()
	if err != nil {
		a.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.CreateConversationParams{
		Name:       req.Name,
		ExternalId: sid,
		MemberIds:  memberIds,
	}

	newConv, err := a.db.CreateConversation(r.Context(), params)
	if err != nil {
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conv := types.Conversation{
		Id:        newConv.ExternalId,
		Name:      newConv.Name,
		Seq:       newConv.Seq,
		Members:   members,
		CreatedAt: newConv.CreatedAt,
		UpdatedAt: newConv.UpdatedAt,
	}

	// let online members know immediately
	a.cs.NotifyConversationCreated(conv, memberIds)

	a.writeJson(w, http.StatusCreated, conv)
}

func (a *App) listConversations(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbConvs, err := a.db.ListConversationsForAccount(r.Context(), userId)
	if err != nil {
		a.log.Println("list conversations:", err)
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var conversations []types.Conversation
	for _, dbConv := range dbConvs {
		conversations = append(conversations, types.Conversation{
			Id:        dbConv.ExternalId,
			Name:      dbConv.Name,
			Seq:       dbConv.Seq,
			CreatedAt: dbConv.CreatedAt,
			UpdatedAt: dbConv.UpdatedAt,
		})
	}

	a.writeJson(w, http.StatusOK, conversations)
}

// listUsers serves the user directory: every account except the caller's,
// display attributes only. It is how a client discovers recipient ids for
// creating a conversation.
func (a *App) listUsers(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	accounts, err := a.db.ListAccounts(r.Context(), userId)
	if err != nil {
		a.log.Println("list accounts:", err)
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	users := make([]types.User, 0, len(accounts))
	for _, account := range accounts {
		users = append(users, types.User{
			Id:        account.Id,
			Username:  account.Username,
			CreatedAt: account.CreatedAt,
			UpdatedAt: account.UpdatedAt,
		})
	}

	a.writeJson(w, http.StatusOK, users)
}

// getMessages serves paginated history for a conversation the caller is a
// member of. Non-members are rejected before any messages are read.
func (a *App) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("conversation_id")
	if externalId == "" {
		errResp := NewBadRequestError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conv, err := a.db.GetConversationByExternalId(r.Context(), externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	isMember, err := a.db.IsMember(r.Context(), conv.Id, userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if !isMember {
		errResp := NewForbiddenError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var before, after, limit int

	beforeStr := r.URL.Query().Get("before")
	if beforeStr != "" {
		before, err = strconv.Atoi(beforeStr)
		if err != nil {
			errResp := NewBadRequestError()
			a.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	afterStr := r.URL.Query().Get("after")
	if afterStr != "" {
		after, err = strconv.Atoi(afterStr)
		if err != nil {
			errResp := NewBadRequestError()
			a.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	limitStr := r.URL.Query().Get("limit")
	if limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			errResp := NewBadRequestError()
			a.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	dbMessages, err := a.db.GetMessages(r.Context(), conv.Id, after, before, limit)
	if err != nil {
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// the store returns the newest page first; respond in insertion order
	messages := make([]types.Message, 0, len(dbMessages))
	for i := len(dbMessages) - 1; i >= 0; i-- {
		msg := dbMessages[i]
		messages = append(messages, types.Message{
			Id:             msg.Id,
			Seq:            msg.Seq,
			ConversationId: conv.ExternalId,
			SenderId:       msg.SenderId,
			Content:        msg.Content,
			CreatedAt:      msg.CreatedAt,
		})
	}

	a.writeJson(w, http.StatusOK, messages)
}

// serveWs authenticates, upgrades, binds the user to the new connection and
// registers it. Credential failures are rejected by the middleware before
// this handler runs, so no unauthenticated connection ever reaches the
// registry.
func (a *App) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := a.db.GetAccountById(r.Context(), id)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(a.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(types.User{
		Id:           user.Id,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}, conn, a.cs, a.log)

	a.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
