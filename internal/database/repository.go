package database

import "context"

type ChatRepository interface {
	Ping(ctx context.Context) error
	CreateAccount(ctx context.Context, params CreateAccountParams) (User, error)
	GetAccountById(ctx context.Context, accountId int) (User, error)
	GetAccountByEmail(ctx context.Context, email string) (User, error)
	ListAccounts(ctx context.Context, excludeId int) ([]User, error)
	CreateConversation(ctx context.Context, params CreateConversationParams) (Conversation, error)
	GetConversationByExternalId(ctx context.Context, externalId string) (Conversation, error)
	GetConversationWithMembers(ctx context.Context, externalId string) (*Conversation, error)
	ListConversationsForAccount(ctx context.Context, accountId int) ([]Conversation, error)
	IsMember(ctx context.Context, conversationId, accountId int) (bool, error)
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessages(ctx context.Context, conversationId, since, before, limit int) ([]Message, error)
}
