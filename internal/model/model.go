// Package model holds the data types shared across the knowledge hub:
// users, organization tags, file/chunk/passage records, search documents,
// conversations, and the session handle shape. Persistence concerns live
// in the repository/kv/objectstore/searchstore packages; this package is
// plain data, matching how the teacher keeps its `*Record`/`*Data` structs
// free of storage-client references.
package model

import "time"

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// DefaultTagID is the universal-scope tag every effective tag set contains.
const DefaultTagID = "DEFAULT"

// PrivateTagPrefix marks a user's own private scope tag, e.g. PRIVATE_alice.
const PrivateTagPrefix = "PRIVATE_"

type User struct {
	ID           string
	Login        string
	PasswordHash string
	Role         Role
	AssignedTags []string
	PrimaryTag   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type OrganizationTag struct {
	ID          string
	Name        string
	Description string
	ParentID    string // empty means root
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type FileStatus string

const (
	FileStatusUploading FileStatus = "UPLOADING"
	FileStatusMerged    FileStatus = "MERGED"
)

type FileRecord struct {
	Fingerprint string
	UserID      string
	Filename    string
	TotalSize   int64
	Status      FileStatus
	ScopeTag    string
	IsPublic    bool
	CreatedAt   time.Time
	MergedAt    time.Time
}

type ChunkRecord struct {
	Fingerprint      string
	Index            int
	ChunkFingerprint string
	StoragePath      string
}

type Passage struct {
	Fingerprint string
	ChunkID     int
	Text        string
	ModelTag    string
	Owner       string
	ScopeTag    string
	IsPublic    bool
}

type SearchDocument struct {
	ID          string
	Fingerprint string
	ChunkID     int
	Text        string
	Vector      []float32
	ModelTag    string
	Owner       string
	ScopeTag    string
	IsPublic    bool
}

type SearchResult struct {
	Fingerprint string
	ChunkID     int
	Text        string
	Score       float64
	Owner       string
	ScopeTag    string
	IsPublic    bool
	Filename    string
}

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// ConversationMaxMessages is the cap enforced on every append (spec §3/§8).
const ConversationMaxMessages = 20

type Conversation struct {
	ID       string    `json:"id"`
	Owner    string    `json:"owner"`
	Messages []Message `json:"messages"`
}

// Append adds user and assistant turns and truncates to the most recent
// ConversationMaxMessages entries.
func (c *Conversation) Append(msgs ...Message) {
	c.Messages = append(c.Messages, msgs...)
	if len(c.Messages) > ConversationMaxMessages {
		c.Messages = c.Messages[len(c.Messages)-ConversationMaxMessages:]
	}
}

type SessionHandle struct {
	Handle    string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
}
