package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"go-converse/internal/database"
	"go-converse/internal/types"
)

func authedRequest(method, target, body string, userId int) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return req.WithContext(WithUserId(req.Context(), userId))
}

func Test_createConversation(t *testing.T) {
	t.Run("creates a conversation with a fixed member set", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)

		a := newTestApp(t, db)

		db.On("GetAccountById", mock.Anything, 1).Return(database.User{Id: 1, Username: "alice"}, nil).Once()
		db.On("GetAccountById", mock.Anything, 2).Return(database.User{Id: 2, Username: "bob"}, nil).Once()
		db.On("CreateConversation", mock.Anything, database.CreateConversationParams{
			Name:       "general",
			ExternalId: "abc123",
			MemberIds:  []int{1, 2},
		}).Return(database.Conversation{
			Id:         1,
			ExternalId: "abc123",
			Name:       "general",
		}, nil).Once()

		// recipient list repeats the creator and a recipient; both are
		// deduplicated
		rr := httptest.NewRecorder()
		a.createConversation(rr, authedRequest(http.MethodPost, "/api/conversations",
			`{"name":"general","recipients":[2,1,2]}`, 1))

		assert.Equal(t, http.StatusCreated, rr.Code, "expected created")

		var conv types.Conversation
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&conv), "expected a conversation in the response")
		assert.Equal(t, "abc123", conv.Id, "expected the generated conversation id")
		assert.Len(t, conv.Members, 2, "expected creator plus one recipient")
	})

	t.Run("rejects invalid requests", func(t *testing.T) {
		tcases := []struct {
			name string
			body string
		}{
			{"malformed json", `{`},
			{"no recipients", `{"name":"general","recipients":[]}`},
			{"invalid recipient id", `{"recipients":[0]}`},
			{"name too long", `{"name":"` + strings.Repeat("a", 65) + `","recipients":[2]}`},
		}

		for _, tc := range tcases {
			t.Run(tc.name, func(t *testing.T) {
				db := &database.MockChatRepository{}
				defer db.AssertExpectations(t)

				a := newTestApp(t, db)

				rr := httptest.NewRecorder()
				a.createConversation(rr, authedRequest(http.MethodPost, "/api/conversations", tc.body, 1))

				assert.Equal(t, http.StatusBadRequest, rr.Code, "expected bad request")
				db.AssertNotCalled(t, "CreateConversation", mock.Anything, mock.Anything)
			})
		}
	})

	t.Run("unknown recipient", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetAccountById", mock.Anything, 1).Return(database.User{Id: 1, Username: "alice"}, nil).Once()
		db.On("GetAccountById", mock.Anything, 99).Return(database.User{}, sql.ErrNoRows).Once()
		defer db.AssertExpectations(t)

		a := newTestApp(t, db)

		rr := httptest.NewRecorder()
		a.createConversation(rr, authedRequest(http.MethodPost, "/api/conversations",
			`{"recipients":[99]}`, 1))

		assert.Equal(t, http.StatusNotFound, rr.Code, "expected not found")
		db.AssertNotCalled(t, "CreateConversation", mock.Anything, mock.Anything)
	})
}

func Test_listConversations(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("ListConversationsForAccount", mock.Anything, 1).Return([]database.Conversation{
		{Id: 1, ExternalId: "abc123", Name: "general", Seq: 5},
		{Id: 2, ExternalId: "def456", Seq: 0},
	}, nil).Once()
	defer db.AssertExpectations(t)

	a := newTestApp(t, db)

	rr := httptest.NewRecorder()
	a.listConversations(rr, authedRequest(http.MethodGet, "/api/conversations", "", 1))

	assert.Equal(t, http.StatusOK, rr.Code, "expected ok")

	var convs []types.Conversation
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&convs), "expected conversations in the response")
	assert.Len(t, convs, 2, "expected both conversations")
	assert.Equal(t, "abc123", convs[0].Id, "expected external ids")
	assert.Equal(t, 5, convs[0].Seq, "expected the sequence high-water mark")
}

func Test_listUsers(t *testing.T) {
	t.Run("lists every account but the caller's", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("ListAccounts", mock.Anything, 1).Return([]database.User{
			{Id: 2, Username: "bob", PasswordHash: "$2a$10$secret"},
			{Id: 3, Username: "carol"},
		}, nil).Once()
		defer db.AssertExpectations(t)

		a := newTestApp(t, db)

		rr := httptest.NewRecorder()
		a.listUsers(rr, authedRequest(http.MethodGet, "/api/users", "", 1))

		assert.Equal(t, http.StatusOK, rr.Code, "expected ok")

		raw := rr.Body.String()
		assert.NotContains(t, raw, "secret", "expected no credential material in the response")

		var users []types.User
		assert.NoError(t, json.Unmarshal([]byte(raw), &users), "expected users in the response")
		assert.Len(t, users, 2, "expected both other accounts")
		assert.Equal(t, 2, users[0].Id, "expected account ids")
		assert.Equal(t, "bob", users[0].Username, "expected usernames")
	})

	t.Run("empty directory", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("ListAccounts", mock.Anything, 1).Return([]database.User(nil), nil).Once()
		defer db.AssertExpectations(t)

		a := newTestApp(t, db)

		rr := httptest.NewRecorder()
		a.listUsers(rr, authedRequest(http.MethodGet, "/api/users", "", 1))

		assert.Equal(t, http.StatusOK, rr.Code, "expected ok")
		assert.JSONEq(t, "[]", rr.Body.String(), "expected an empty list, not null")
	})
}

func Test_getMessages(t *testing.T) {
	conv := database.Conversation{Id: 1, ExternalId: "abc123", Name: "general"}

	t.Run("serves history to a member", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetConversationByExternalId", mock.Anything, "abc123").Return(conv, nil).Once()
		db.On("IsMember", mock.Anything, 1, 1).Return(true, nil).Once()
		// the repository serves the newest page first
		db.On("GetMessages", mock.Anything, 1, 2, 10, 5).Return([]database.Message{
			{Id: 9, Seq: 9, ConversationId: 1, SenderId: 2, Content: "c", CreatedAt: time.Now()},
			{Id: 8, Seq: 8, ConversationId: 1, SenderId: 1, Content: "b", CreatedAt: time.Now()},
			{Id: 7, Seq: 7, ConversationId: 1, SenderId: 2, Content: "a", CreatedAt: time.Now()},
		}, nil).Once()
		defer db.AssertExpectations(t)

		a := newTestApp(t, db)

		rr := httptest.NewRecorder()
		a.getMessages(rr, authedRequest(http.MethodGet,
			"/api/messages?conversation_id=abc123&after=2&before=10&limit=5", "", 1))

		assert.Equal(t, http.StatusOK, rr.Code, "expected ok")

		var messages []types.Message
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&messages), "expected messages in the response")
		assert.Len(t, messages, 3, "expected every message")

		seqs := make([]int, 0, len(messages))
		for _, m := range messages {
			seqs = append(seqs, m.Seq)
		}
		assert.Equal(t, []int{7, 8, 9}, seqs, "expected the page in insertion order")
		assert.Equal(t, "abc123", messages[0].ConversationId, "expected the external conversation id")
	})

	t.Run("rejects a non-member", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetConversationByExternalId", mock.Anything, "abc123").Return(conv, nil).Once()
		db.On("IsMember", mock.Anything, 1, 3).Return(false, nil).Once()
		defer db.AssertExpectations(t)

		a := newTestApp(t, db)

		rr := httptest.NewRecorder()
		a.getMessages(rr, authedRequest(http.MethodGet, "/api/messages?conversation_id=abc123", "", 3))

		assert.Equal(t, http.StatusForbidden, rr.Code, "expected forbidden")
		db.AssertNotCalled(t, "GetMessages", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing conversation id", func(t *testing.T) {
		a := newTestApp(t, &database.MockChatRepository{})

		rr := httptest.NewRecorder()
		a.getMessages(rr, authedRequest(http.MethodGet, "/api/messages", "", 1))

		assert.Equal(t, http.StatusBadRequest, rr.Code, "expected bad request")
	})

	t.Run("unknown conversation", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetConversationByExternalId", mock.Anything, "missing").
			Return(database.Conversation{}, sql.ErrNoRows).Once()
		defer db.AssertExpectations(t)

		a := newTestApp(t, db)

		rr := httptest.NewRecorder()
		a.getMessages(rr, authedRequest(http.MethodGet, "/api/messages?conversation_id=missing", "", 1))

		assert.Equal(t, http.StatusNotFound, rr.Code, "expected not found")
	})

	t.Run("invalid pagination", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetConversationByExternalId", mock.Anything, "abc123").Return(conv, nil).Once()
		db.On("IsMember", mock.Anything, 1, 1).Return(true, nil).Once()
		defer db.AssertExpectations(t)

		a := newTestApp(t, db)

		rr := httptest.NewRecorder()
		a.getMessages(rr, authedRequest(http.MethodGet,
			"/api/messages?conversation_id=abc123&limit=nope", "", 1))

		assert.Equal(t, http.StatusBadRequest, rr.Code, "expected bad request")
		db.AssertNotCalled(t, "GetMessages", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
