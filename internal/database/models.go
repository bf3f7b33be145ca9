package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Conversation struct {
	Id         int
	ExternalId string
	Name       string
	Seq        int
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Members    []ConversationMember
}

type ConversationMember struct {
	Id             int
	ConversationId int
	AccountId      int
	Username       string
	CreatedAt      time.Time
}

type Message struct {
	Id             int
	Seq            int
	ConversationId int
	SenderId       int
	Content        string
	CreatedAt      time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateConversationParams struct {
	Name       string
	ExternalId string
	MemberIds  []int
}

type CreateMessageParams struct {
	ConversationId int
	SenderId       int
	Seq            int
	Content        string
	CreatedAt      time.Time
}
