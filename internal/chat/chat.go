// Package chat implements the Chat Orchestrator (C8): per-session state
// held in a process-local map, grounded on go-chat-service's
// `s.clients map[string]*websocket.Conn` connection registry but widened
// to the richer per-session bookkeeping spec §4.8 requires (a growing
// response buffer, a completion future, a cancel flag) rather than a bare
// connection handle.
package chat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"knowledge-hub/internal/apperr"
	"knowledge-hub/internal/chatmodel"
	"knowledge-hub/internal/model"
)

type HybridSearch interface {
	SearchWithPermission(ctx context.Context, query string, userID string, topK int) ([]model.SearchResult, error)
}

type ConversationStore interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

type ModelClient interface {
	Stream(ctx context.Context, turns []chatmodel.ChatTurn, temperature, topP float64, maxTokens int, onDelta func(string)) error
}

// Frame is the uniform shape emitted over the bidirectional stream; each
// frame kind (session, chunk, error, completion, stop) populates only the
// optional fields it uses.
type Frame struct {
	Chunk     string `json:"chunk,omitempty"`
	Type      string `json:"type,omitempty"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	Token     string `json:"token,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type sessionState struct {
	mu          sync.Mutex
	buffer      strings.Builder
	cancel      bool
	cancelToken string
}

type Orchestrator struct {
	search       HybridSearch
	conversations ConversationStore
	model        ModelClient
	logger       *zap.Logger

	systemRules string
	noRefsLine  string
	temperature float64
	topP        float64
	maxTokens   int
	convTTL     time.Duration

	mu       sync.Mutex
	sessions map[string]*sessionState
}

func New(search HybridSearch, conversations ConversationStore, model ModelClient, logger *zap.Logger,
	systemRules, noRefsLine string, temperature, topP float64, maxTokens int, convTTL time.Duration) *Orchestrator {
	return &Orchestrator{
		search: search, conversations: conversations, model: model, logger: logger,
		systemRules: systemRules, noRefsLine: noRefsLine,
		temperature: temperature, topP: topP, maxTokens: maxTokens, convTTL: convTTL,
		sessions: map[string]*sessionState{},
	}
}

func conversationKey(userID string) string { return "conversation:" + userID }

func newCancelToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func (o *Orchestrator) stateFor(sessionHandle string) *sessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.sessions[sessionHandle]
	if !ok {
		st = &sessionState{}
		o.sessions[sessionHandle] = st
	}
	return st
}

func (o *Orchestrator) clearState(sessionHandle string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.sessions, sessionHandle)
}

// loadConversation obtains or creates the user's current Conversation,
// per spec §4.8 step 1-2.
func (o *Orchestrator) loadConversation(ctx context.Context, userID string) (*model.Conversation, error) {
	var conv model.Conversation
	ok, err := o.conversations.GetJSON(ctx, conversationKey(userID), &conv)
	if err != nil {
		return nil, err
	}
	if !ok {
		conv = model.Conversation{ID: userID, Owner: userID}
	}
	return &conv, nil
}

// buildContext implements spec §4.8 step 3's "[i] (filename) <text>\n"
// rendering, truncated to 300 characters per result.
func buildContext(results []model.SearchResult) string {
	var sb strings.Builder
	limit := len(results)
	if limit > 5 {
		limit = 5
	}
	for i := 0; i < limit; i++ {
		r := results[i]
		text := r.Text
		if runes := []rune(text); len(runes) > 300 {
			text = string(runes[:300])
		}
		fmt.Fprintf(&sb, "[%d] (%s) %s\n", i+1, r.Filename, text)
	}
	return sb.String()
}

func (o *Orchestrator) composeTurns(context string, history []model.Message, userMessage string) []chatmodel.ChatTurn {
	refBlock := context
	if refBlock == "" {
		refBlock = o.noRefsLine
	}
	turns := make([]chatmodel.ChatTurn, 0, len(history)+2)
	turns = append(turns, chatmodel.ChatTurn{
		Role:    "system",
		Content: o.systemRules + "\n<<REF>>\n" + refBlock + "\n<<END>>",
	})
	for _, m := range history {
		turns = append(turns, chatmodel.ChatTurn{Role: string(m.Role), Content: m.Content})
	}
	turns = append(turns, chatmodel.ChatTurn{Role: string(model.MessageRoleUser), Content: userMessage})
	return turns
}

// HandleMessage runs the full flow of spec §4.8 for one user message on
// sessionHandle (the key under which per-session buffer/cancel state is
// tracked), emitting frames to emit as they are produced. It blocks until
// the model stream has ended (or errored) and the completion detector has
// declared completion.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionHandle, userID, userMessage string, emit func(Frame)) {
	st := o.stateFor(sessionHandle)
	st.mu.Lock()
	st.buffer.Reset()
	st.cancel = false
	st.cancelToken = newCancelToken()
	token := st.cancelToken
	st.mu.Unlock()

	// Surface the server-issued cancel token so a client can actually
	// satisfy Cancel's token check; without this frame _internal_cmd_token
	// is unguessable and the stop control frame is unusable.
	emit(Frame{Type: "session", Token: token})

	conv, err := o.loadConversation(ctx, userID)
	if err != nil {
		o.logger.Error("load conversation failed", zap.Error(err))
		emit(Frame{Error: apperr.Message(err)})
		o.emitCompletion(emit, "")
		o.clearState(sessionHandle)
		return
	}

	results, err := o.search.SearchWithPermission(ctx, userMessage, userID, 5)
	if err != nil {
		o.logger.Warn("search for chat grounding failed, proceeding without references", zap.Error(err))
		results = nil
	}
	contextStr := buildContext(results)
	turns := o.composeTurns(contextStr, conv.Messages, userMessage)

	completionDone := make(chan struct{})
	go o.runCompletionDetector(st, completionDone)

	streamErr := o.model.Stream(ctx, turns, o.temperature, o.topP, o.maxTokens, func(delta string) {
		if delta == "" {
			return
		}
		st.mu.Lock()
		cancelled := st.cancel
		if !cancelled {
			st.buffer.WriteString(delta)
		}
		st.mu.Unlock()
		if !cancelled {
			emit(Frame{Chunk: delta})
		}
	})

	<-completionDone

	st.mu.Lock()
	full := st.buffer.String()
	st.mu.Unlock()

	if streamErr != nil {
		o.logger.Error("chat model stream failed", zap.Error(streamErr))
		emit(Frame{Error: apperr.Message(streamErr)})
		o.emitCompletion(emit, full)
		o.clearState(sessionHandle)
		return
	}

	now := time.Now().UTC()
	conv.Append(
		model.Message{Role: model.MessageRoleUser, Content: userMessage, Timestamp: now},
		model.Message{Role: model.MessageRoleAssistant, Content: full, Timestamp: now},
	)
	if err := o.conversations.SetJSON(ctx, conversationKey(userID), conv, o.convTTL); err != nil {
		o.logger.Error("persist conversation failed", zap.Error(err))
	}

	o.emitCompletion(emit, full)
	o.clearState(sessionHandle)
}

func (o *Orchestrator) emitCompletion(emit func(Frame), message string) {
	emit(Frame{
		Type:      "completion",
		Status:    "finished",
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// runCompletionDetector implements spec §4.8 step 6's timing: sleep 3s,
// then sample the buffer length every 2s, declaring completion on two
// consecutive matching samples, capped at five additional 5s windows
// (~28s total) after which completion is forced.
func (o *Orchestrator) runCompletionDetector(st *sessionState, done chan struct{}) {
	defer close(done)

	time.Sleep(3 * time.Second)

	lastLen := -1
	deadline := time.Now().Add(5 * 5 * time.Second)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		st.mu.Lock()
		curLen := st.buffer.Len()
		st.mu.Unlock()

		if curLen == lastLen {
			return
		}
		lastLen = curLen

		if time.Now().After(deadline) {
			return
		}
		<-ticker.C
	}
}

// Cancel implements the stop control frame of spec §4.8's Cancellation
// paragraph: it sets the cancel flag if token matches the session's
// server-issued token, then clears it again after 2s so a later message on
// the same session handle is unaffected.
func (o *Orchestrator) Cancel(sessionHandle, token string, emit func(Frame)) {
	st := o.stateFor(sessionHandle)
	st.mu.Lock()
	if st.cancelToken != "" && st.cancelToken != token {
		st.mu.Unlock()
		return
	}
	st.cancel = true
	st.mu.Unlock()

	emit(Frame{
		Type:      "stop",
		Message:   "generation stopped",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})

	go func() {
		time.Sleep(2 * time.Second)
		st.mu.Lock()
		st.cancel = false
		st.mu.Unlock()
	}()
}

// CancelToken returns the server-issued token for the stop control frame
// of the session currently in flight, or empty if none.
func (o *Orchestrator) CancelToken(sessionHandle string) string {
	st := o.stateFor(sessionHandle)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cancelToken
}
