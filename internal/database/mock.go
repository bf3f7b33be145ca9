package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountById(ctx context.Context, accountId int) (User, error) {
	args := m.Called(ctx, accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) ListAccounts(ctx context.Context, excludeId int) ([]User, error) {
	args := m.Called(ctx, excludeId)
	if users, ok := args.Get(0).([]User); ok {
		return users, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) CreateConversation(ctx context.Context, params CreateConversationParams) (Conversation, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockChatRepository) GetConversationByExternalId(ctx context.Context, externalId string) (Conversation, error) {
	args := m.Called(ctx, externalId)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockChatRepository) GetConversationWithMembers(ctx context.Context, externalId string) (*Conversation, error) {
	args := m.Called(ctx, externalId)
	if conv, ok := args.Get(0).(*Conversation); ok {
		return conv, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) ListConversationsForAccount(ctx context.Context, accountId int) ([]Conversation, error) {
	args := m.Called(ctx, accountId)
	return args.Get(0).([]Conversation), args.Error(1)
}
func (m *MockChatRepository) IsMember(ctx context.Context, conversationId, accountId int) (bool, error) {
	args := m.Called(ctx, conversationId, accountId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetMessages(ctx context.Context, conversationId, since, before, limit int) ([]Message, error) {
	args := m.Called(ctx, conversationId, since, before, limit)
	return args.Get(0).([]Message), args.Error(1)
}
