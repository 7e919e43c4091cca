// Package turn drives the conversational turn pipeline: for each
// inbound user message it updates history, assembles context, runs the
// tool-augmented model call, streams the reply to the room, and hands
// the finalized exchange to the ingestion queue.
package turn

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/inkwell-ai/quill/internal/history"
	"github.com/inkwell-ai/quill/internal/ingest"
	"github.com/inkwell-ai/quill/internal/llm"
	"github.com/inkwell-ai/quill/internal/session"
	"github.com/inkwell-ai/quill/internal/shop"
	"github.com/inkwell-ai/quill/internal/tools"
)

// State labels a room's position in the turn pipeline.
type State string

const (
	StateIdle            State = "idle"
	StateAnalyzingIntent State = "analyzing_intent"
	StateToolExecuting   State = "tool_executing"
	StateSummarizing     State = "summarizing"
	StateResponding      State = "responding"
	StateCancelled       State = "cancelled"
)

// Broadcaster is the slice of the session registry the engine needs.
type Broadcaster interface {
	Broadcast(roomID string, event session.Event)
	OwnerOf(roomID string) (string, bool)
}

// Ingestor accepts finalized messages for background embedding.
type Ingestor interface {
	Enqueue(job ingest.Job)
}

// ContextBuilder assembles the retrieval context for a turn.
type ContextBuilder interface {
	Build(ctx context.Context, userID, message string, selectedDocs []string) string
}

// ToolRunner declares and executes tools.
type ToolRunner interface {
	Declarations() []llm.Tool
	Execute(ctx context.Context, userID, name string, raw json.RawMessage) tools.Result
}

// Inbound is one user message entering the pipeline.
type Inbound struct {
	RoomID            string
	UserID            string
	Content           string
	SelectedDocuments []string
	Cart              *shop.CartSnapshot
}

// Options tune streaming.
type Options struct {
	StreamChunkWords int           // Words per streamed chunk (default 8)
	StreamDelay      time.Duration // Pause between chunks (default 30ms)
}

func (o *Options) fill() {
	if o.StreamChunkWords <= 0 {
		o.StreamChunkWords = 8
	}
	if o.StreamDelay <= 0 {
		o.StreamDelay = 30 * time.Millisecond
	}
}

// Engine is the turn controller. Turns in the same room run strictly
// one at a time; turns in different rooms run concurrently.
type Engine struct {
	history   *history.Store
	rooms     Broadcaster
	queue     Ingestor
	retriever ContextBuilder
	model     llm.Client
	tools     ToolRunner
	opts      Options
	logger    *slog.Logger

	mu        sync.Mutex
	roomLocks map[string]*sync.Mutex
	cancels   map[string]context.CancelFunc
	states    map[string]State
}

// NewEngine creates a turn engine. retriever and queue may be nil when
// retrieval/ingestion are disabled.
func NewEngine(hist *history.Store, rooms Broadcaster, queue Ingestor, retriever ContextBuilder, model llm.Client, toolRunner ToolRunner, opts Options, logger *slog.Logger) *Engine {
	opts.fill()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		history:   hist,
		rooms:     rooms,
		queue:     queue,
		retriever: retriever,
		model:     model,
		tools:     toolRunner,
		opts:      opts,
		logger:    logger.With("component", "turn"),
		roomLocks: make(map[string]*sync.Mutex),
		cancels:   make(map[string]context.CancelFunc),
		states:    make(map[string]State),
	}
}

// RoomState reports the room's current pipeline state.
func (e *Engine) RoomState(roomID string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.states[roomID]; ok {
		return s
	}
	return StateIdle
}

func (e *Engine) setState(roomID string, s State) {
	e.mu.Lock()
	e.states[roomID] = s
	e.mu.Unlock()
}

// Stop cancels the room's in-flight model call, if any. History already
// appended for the turn stays; no further stream events are emitted for
// the cancelled attempt.
func (e *Engine) Stop(roomID string) {
	e.mu.Lock()
	cancel := e.cancels[roomID]
	e.mu.Unlock()
	if cancel != nil {
		e.logger.Info("generation stopped", "room", roomID)
		cancel()
	}
}

// roomLock returns the room's serialization mutex, creating it on
// first use.
func (e *Engine) roomLock(roomID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.roomLocks[roomID]
	if !ok {
		l = &sync.Mutex{}
		e.roomLocks[roomID] = l
	}
	return l
}

// beginTurn installs a fresh cancellation scope for the room, replacing
// any previous one.
func (e *Engine) beginTurn(ctx context.Context, roomID string) (context.Context, context.CancelFunc) {
	tctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	if prev := e.cancels[roomID]; prev != nil {
		prev()
	}
	e.cancels[roomID] = cancel
	e.mu.Unlock()
	return tctx, cancel
}

func (e *Engine) endTurn(roomID string, cancel context.CancelFunc) {
	e.mu.Lock()
	if e.cancels[roomID] != nil {
		e.cancels[roomID] = nil
	}
	e.mu.Unlock()
	cancel()
}

// HandleMessage runs one full turn for an inbound user message. It
// blocks until the turn completes, so callers typically run it in its
// own goroutine; a second message for the same room waits its turn.
func (e *Engine) HandleMessage(ctx context.Context, in Inbound) {
	if in.RoomID == "" || strings.TrimSpace(in.Content) == "" {
		return
	}

	lock := e.roomLock(in.RoomID)
	lock.Lock()
	defer lock.Unlock()

	defer e.setState(in.RoomID, StateIdle)

	userMsg := history.NewMessage(history.RoleUser, in.Content, "")
	e.history.Append(in.RoomID, userMsg)

	owner, hasOwner := e.rooms.OwnerOf(in.RoomID)
	userID := in.UserID
	if userID == "" {
		userID = owner
	}

	if hasOwner && e.queue != nil {
		e.queue.Enqueue(ingest.NewJob(owner, in.RoomID, userMsg.ID, history.RoleUser, in.Content))
	}

	system := e.buildSystemContext(ctx, in, owner, hasOwner)

	toolsEnabled := len(in.SelectedDocuments) == 0 && !isDocumentTask(in.Content)
	var decls []llm.Tool
	if toolsEnabled && e.tools != nil {
		decls = e.tools.Declarations()
	}

	tctx, cancel := e.beginTurn(ctx, in.RoomID)
	defer e.endTurn(in.RoomID, cancel)

	e.setState(in.RoomID, StateAnalyzingIntent)
	messages := e.conversation(in.RoomID, system)

	resp, err := e.model.Chat(tctx, messages, decls)
	if err != nil {
		e.finishWithFailure(tctx, in.RoomID, messages, err)
		return
	}

	if tc := resp.ToolCall(); tc != nil && toolsEnabled {
		e.runToolTurn(tctx, in.RoomID, userID, owner, hasOwner, resp, tc)
		return
	}

	e.setState(in.RoomID, StateResponding)
	e.finishNarration(tctx, in.RoomID, owner, hasOwner, resp.Message.Content)
}

// runToolTurn executes the selected tool, feeds the result back into
// the conversation, and streams the follow-up summary.
func (e *Engine) runToolTurn(ctx context.Context, roomID, userID, owner string, hasOwner bool, first *llm.ChatResponse, tc *llm.ToolCall) {
	// Narration accompanying the tool selection streams to the room
	// before the tool runs, so members see the model's intent first.
	rationale := strings.TrimSpace(first.Message.Content)
	if rationale != "" {
		e.setState(roomID, StateResponding)
		if !e.stream(ctx, roomID, rationale) {
			e.setState(roomID, StateCancelled)
			return
		}
	}

	e.setState(roomID, StateToolExecuting)

	e.rooms.Broadcast(roomID, session.Event{
		Type:    session.EventFunctionCallStart,
		Payload: map[string]any{"name": tc.Name},
	})
	e.rooms.Broadcast(roomID, session.Event{
		Type: session.EventFunctionCall,
		Payload: map[string]any{
			"name":      tc.Name,
			"arguments": tc.Arguments,
		},
	})

	result := e.tools.Execute(ctx, userID, tc.Name, tc.Arguments)

	e.rooms.Broadcast(roomID, session.Event{
		Type:    session.EventFunctionCallEnd,
		Payload: map[string]any{"name": tc.Name},
	})
	e.rooms.Broadcast(roomID, session.Event{
		Type: session.EventFunctionResult,
		Payload: map[string]any{
			"name":    result.Name,
			"summary": result.Summary,
			"error":   result.IsError,
		},
	})
	// The full tool payload bypasses the model and goes straight to the
	// room as its UI event.
	if result.Event != "" {
		e.rooms.Broadcast(roomID, session.Event{Type: result.Event, Payload: result.Payload})
	}

	if ctx.Err() != nil {
		e.setState(roomID, StateCancelled)
		return
	}

	// Record the model's rationale and the tool outcome before asking
	// for the user-facing summary.
	if rationale != "" {
		e.history.Append(roomID, history.NewMessage(history.RoleAssistant, rationale, ""))
	}
	e.history.Append(roomID, history.NewMessage(history.RoleTool, result.Summary, result.Name))

	e.setState(roomID, StateSummarizing)
	messages := e.conversation(roomID, summarizeInstructions)

	resp, err := e.model.Chat(ctx, messages, nil)
	if err != nil {
		e.finishWithFailure(ctx, roomID, messages, err)
		return
	}
	e.finishNarration(ctx, roomID, owner, hasOwner, resp.Message.Content)
}

// finishNarration streams the assistant text to the room and persists
// it as the turn's final message.
func (e *Engine) finishNarration(ctx context.Context, roomID, owner string, hasOwner bool, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		text = "I don't have a response for that."
	}

	if !e.stream(ctx, roomID, text) {
		e.setState(roomID, StateCancelled)
		return
	}

	msg := history.NewMessage(history.RoleAssistant, text, "")
	e.history.Append(roomID, msg)
	if hasOwner && e.queue != nil {
		e.queue.Enqueue(ingest.NewJob(owner, roomID, msg.ID, history.RoleAssistant, text))
	}
}

// stream delivers the text as fixed-size word chunks with a pacing
// delay, followed by the stream-end marker. Returns false if the turn
// was cancelled mid-stream; no further stream events are sent then.
func (e *Engine) stream(ctx context.Context, roomID, text string) bool {
	words := strings.Fields(text)
	for start := 0; start < len(words); start += e.opts.StreamChunkWords {
		if ctx.Err() != nil {
			return false
		}
		end := start + e.opts.StreamChunkWords
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[start:end], " ")
		if end < len(words) {
			chunk += " "
		}
		e.rooms.Broadcast(roomID, session.Event{
			Type:    session.EventTextStream,
			Payload: session.TextChunk{Content: chunk, Done: end == len(words)},
		})
		if end < len(words) {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(e.opts.StreamDelay):
			}
		}
	}
	e.rooms.Broadcast(roomID, session.Event{Type: session.EventTextStreamEnd})
	return true
}

// finishWithFailure handles a failed model call: cancellation ends the
// turn silently, anything else gets one recovery attempt before the
// generic error event.
func (e *Engine) finishWithFailure(ctx context.Context, roomID string, messages []llm.Message, err error) {
	if llm.IsCancellation(err) || ctx.Err() != nil {
		e.setState(roomID, StateCancelled)
		e.logger.Debug("turn cancelled", "room", roomID)
		return
	}

	e.logger.Warn("model call failed, attempting recovery", "room", roomID, "error", err)

	recovery := append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: "The previous attempt to respond failed. Apologize briefly and offer to try again.",
	})
	resp, rerr := e.model.Chat(ctx, recovery, nil)
	if rerr == nil {
		owner, hasOwner := e.rooms.OwnerOf(roomID)
		e.finishNarration(ctx, roomID, owner, hasOwner, resp.Message.Content)
		return
	}
	if llm.IsCancellation(rerr) {
		e.setState(roomID, StateCancelled)
		return
	}

	e.logger.Error("recovery call failed", "room", roomID, "error", rerr)
	e.rooms.Broadcast(roomID, session.Event{
		Type:    session.EventError,
		Payload: session.ErrorPayload{Message: "Something went wrong while generating a response. Please try again."},
	})
}

// conversation builds the model message list: system context followed
// by the room's history snapshot.
func (e *Engine) conversation(roomID, system string) []llm.Message {
	snapshot := e.history.Snapshot(roomID)
	messages := make([]llm.Message, 0, len(snapshot)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, m := range snapshot {
		messages = append(messages, llm.Message{
			Role:    m.Role,
			Content: m.Content,
			Name:    m.Name,
		})
	}
	return messages
}
