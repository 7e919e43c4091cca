package turn

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/inkwell-ai/quill/internal/history"
	"github.com/inkwell-ai/quill/internal/ingest"
	"github.com/inkwell-ai/quill/internal/llm"
	"github.com/inkwell-ai/quill/internal/session"
	"github.com/inkwell-ai/quill/internal/shop"
	"github.com/inkwell-ai/quill/internal/tools"
)

type fakeRooms struct {
	mu     sync.Mutex
	owner  string
	events []session.Event
}

func (r *fakeRooms) Broadcast(roomID string, ev session.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *fakeRooms) OwnerOf(roomID string) (string, bool) {
	if r.owner == "" {
		return "", false
	}
	return r.owner, true
}

func (r *fakeRooms) snapshot() []session.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *fakeRooms) count(t session.EventType) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []ingest.Job
}

func (q *fakeQueue) Enqueue(job ingest.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
}

func (q *fakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type fakeRetriever struct {
	context string
	calls   int
}

func (f *fakeRetriever) Build(ctx context.Context, userID, message string, docs []string) string {
	f.calls++
	return f.context
}

type modelCall struct {
	messages []llm.Message
	tools    []llm.Tool
}

type scripted struct {
	resp *llm.ChatResponse
	err  error
}

type fakeModel struct {
	mu     sync.Mutex
	calls  []modelCall
	script []scripted
}

func (m *fakeModel) Chat(ctx context.Context, messages []llm.Message, decls []llm.Tool) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, modelCall{messages: messages, tools: decls})
	if len(m.script) == 0 {
		return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: "ok"}}, nil
	}
	next := m.script[0]
	m.script = m.script[1:]
	return next.resp, next.err
}

func textResponse(content string) scripted {
	return scripted{resp: &llm.ChatResponse{
		Message: llm.Message{Role: llm.RoleAssistant, Content: content},
	}}
}

func toolResponse(rationale, name, args string) scripted {
	return scripted{resp: &llm.ChatResponse{
		Message: llm.Message{
			Role:    llm.RoleAssistant,
			Content: rationale,
			ToolCalls: []llm.ToolCall{
				{Name: name, Arguments: json.RawMessage(args)},
			},
		},
	}}
}

func testEngine(model llm.Client, rooms *fakeRooms, queue *fakeQueue, retriever ContextBuilder) (*Engine, *history.Store) {
	hist := history.NewStore(time.Hour, nil)
	carts := shop.NewCartService()
	reg := tools.NewRegistry(shop.NewDirectory(), carts, shop.NewPayments(carts), nil)
	e := NewEngine(hist, rooms, queue, retriever, model, reg,
		Options{StreamChunkWords: 4, StreamDelay: time.Millisecond}, nil)
	return e, hist
}

func TestNarrationStreamedAndPersisted(t *testing.T) {
	rooms := &fakeRooms{owner: "u1"}
	queue := &fakeQueue{}
	model := &fakeModel{script: []scripted{
		textResponse("It was really nice to meet you today friend"),
	}}
	e, hist := testEngine(model, rooms, queue, nil)

	e.HandleMessage(context.Background(), Inbound{RoomID: "r1", UserID: "u1", Content: "hello"})

	events := rooms.snapshot()
	var chunks []session.TextChunk
	for _, ev := range events {
		if ev.Type == session.EventTextStream {
			chunks = append(chunks, ev.Payload.(session.TextChunk))
		}
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d stream chunks, want at least 2", len(chunks))
	}
	for i, c := range chunks {
		wantDone := i == len(chunks)-1
		if c.Done != wantDone {
			t.Errorf("chunk %d done flag: got %v, want %v", i, c.Done, wantDone)
		}
	}
	if rooms.count(session.EventTextStreamEnd) != 1 {
		t.Error("expected exactly one stream-end event")
	}

	var got strings.Builder
	for _, c := range chunks {
		got.WriteString(c.Content)
	}
	if got.String() != "It was really nice to meet you today friend" {
		t.Errorf("reassembled stream: %q", got.String())
	}

	snap := hist.Snapshot("r1")
	if len(snap) != 2 || snap[0].Role != history.RoleUser || snap[1].Role != history.RoleAssistant {
		t.Errorf("history roles: %v", snap)
	}
	if queue.len() != 2 {
		t.Errorf("ingestion jobs: got %d, want 2 (user + assistant)", queue.len())
	}
}

func TestToolRoundTrip(t *testing.T) {
	rooms := &fakeRooms{owner: "u1"}
	model := &fakeModel{script: []scripted{
		toolResponse("Adding that to your cart.", tools.NameAddToCart,
			`{"itemId":"b1","title":"Go in Practice","price":29.99,"quantity":1}`),
		textResponse("Done, it's in your cart."),
	}}
	e, hist := testEngine(model, rooms, &fakeQueue{}, nil)

	e.HandleMessage(context.Background(), Inbound{RoomID: "r1", UserID: "u1", Content: "add the go book"})

	// The rationale narration streams to the room before the tool runs.
	events := rooms.snapshot()
	firstStream, firstToolStart := -1, -1
	for i, ev := range events {
		if ev.Type == session.EventTextStream && firstStream == -1 {
			firstStream = i
		}
		if ev.Type == session.EventFunctionCallStart && firstToolStart == -1 {
			firstToolStart = i
		}
	}
	if firstStream == -1 {
		t.Fatal("rationale was never streamed")
	}
	if firstToolStart == -1 {
		t.Fatal("tool execution never started")
	}
	if firstStream > firstToolStart {
		t.Errorf("rationale stream (event %d) should precede tool start (event %d)", firstStream, firstToolStart)
	}
	if chunk := events[firstStream].Payload.(session.TextChunk); !strings.HasPrefix("Adding that to your cart.", strings.TrimSpace(chunk.Content)) {
		t.Errorf("first streamed chunk: got %q", chunk.Content)
	}

	// Tool lifecycle events in order, then the UI payload event.
	wantOrder := []session.EventType{
		session.EventFunctionCallStart,
		session.EventFunctionCall,
		session.EventFunctionCallEnd,
		session.EventFunctionResult,
		session.EventCartUpdated,
	}
	idx := 0
	for _, ev := range events {
		if idx < len(wantOrder) && ev.Type == wantOrder[idx] {
			idx++
		}
	}
	if idx != len(wantOrder) {
		t.Fatalf("missing tool lifecycle events, matched %d of %d: %v", idx, len(wantOrder), eventTypes(events))
	}

	// cart_updated carries the same item fields the tool was called with.
	for _, ev := range events {
		if ev.Type != session.EventCartUpdated {
			continue
		}
		snap, ok := ev.Payload.(shop.CartSnapshot)
		if !ok {
			t.Fatalf("cart payload type: %T", ev.Payload)
		}
		if len(snap.Items) != 1 || snap.Items[0].ItemID != "b1" || snap.Items[0].Price != 29.99 {
			t.Errorf("cart snapshot: %+v", snap)
		}
	}

	// History holds user, assistant rationale, tool result, and summary.
	snap := hist.Snapshot("r1")
	roles := make([]string, len(snap))
	for i, m := range snap {
		roles[i] = m.Role
	}
	want := []string{history.RoleUser, history.RoleAssistant, history.RoleTool, history.RoleAssistant}
	if len(roles) != len(want) {
		t.Fatalf("history roles: got %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("history role %d: got %q, want %q", i, roles[i], want[i])
		}
	}
	if snap[2].Name != tools.NameAddToCart {
		t.Errorf("tool message name: got %q", snap[2].Name)
	}

	// Second model call runs with tools disabled.
	if len(model.calls) != 2 {
		t.Fatalf("model calls: got %d, want 2", len(model.calls))
	}
	if model.calls[1].tools != nil {
		t.Error("summary call should not offer tools")
	}
}

func TestDocumentPhrasingDisablesTools(t *testing.T) {
	rooms := &fakeRooms{owner: "u1"}
	model := &fakeModel{script: []scripted{textResponse("Here is the summary.")}}
	e, _ := testEngine(model, rooms, &fakeQueue{}, nil)

	e.HandleMessage(context.Background(), Inbound{
		RoomID: "r1", UserID: "u1",
		Content: "please summarize the report for me",
	})

	if model.calls[0].tools != nil {
		t.Error("document-task phrasing should disable tools")
	}
}

func TestSelectedDocumentsDisableTools(t *testing.T) {
	rooms := &fakeRooms{owner: "u1"}
	model := &fakeModel{script: []scripted{textResponse("Looking at your document.")}}
	e, _ := testEngine(model, rooms, &fakeQueue{}, nil)

	e.HandleMessage(context.Background(), Inbound{
		RoomID: "r1", UserID: "u1",
		Content:           "what does it say about pricing",
		SelectedDocuments: []string{"report"},
	})

	if model.calls[0].tools != nil {
		t.Error("selected documents should disable tools")
	}
}

func TestStopCancelsStreaming(t *testing.T) {
	rooms := &fakeRooms{owner: "u1"}
	long := strings.Repeat("word ", 100)
	model := &fakeModel{script: []scripted{textResponse(strings.TrimSpace(long))}}

	hist := history.NewStore(time.Hour, nil)
	e := NewEngine(hist, rooms, &fakeQueue{}, nil, model, nil,
		Options{StreamChunkWords: 4, StreamDelay: 20 * time.Millisecond}, nil)

	done := make(chan struct{})
	go func() {
		e.HandleMessage(context.Background(), Inbound{RoomID: "r1", UserID: "u1", Content: "go on"})
		close(done)
	}()

	// Wait for streaming to start, then stop it.
	deadline := time.After(2 * time.Second)
	for rooms.count(session.EventTextStream) == 0 {
		select {
		case <-deadline:
			t.Fatal("streaming never started")
		case <-time.After(time.Millisecond):
		}
	}
	if got := e.RoomState("r1"); got != StateResponding {
		t.Errorf("state while streaming: got %q, want %q", got, StateResponding)
	}
	e.Stop("r1")
	<-done

	if got := e.RoomState("r1"); got != StateIdle {
		t.Errorf("state after turn: got %q, want %q", got, StateIdle)
	}
	if rooms.count(session.EventTextStreamEnd) != 0 {
		t.Error("cancelled stream should not emit stream-end")
	}
	if got := rooms.count(session.EventTextStream); got >= 25 {
		t.Errorf("stream should stop early, got all %d chunks", got)
	}
	// The interrupted response is not persisted; the user message stays.
	snap := hist.Snapshot("r1")
	if len(snap) != 1 || snap[0].Role != history.RoleUser {
		t.Errorf("history after stop: %v", snap)
	}
}

func TestRecoveryAfterModelFailure(t *testing.T) {
	rooms := &fakeRooms{owner: "u1"}
	model := &fakeModel{script: []scripted{
		{err: errors.New("model unavailable")},
		textResponse("Sorry, I hit a snag. Mind trying again?"),
	}}
	e, _ := testEngine(model, rooms, &fakeQueue{}, nil)

	e.HandleMessage(context.Background(), Inbound{RoomID: "r1", UserID: "u1", Content: "hello"})

	if rooms.count(session.EventError) != 0 {
		t.Error("successful recovery should not emit an error event")
	}
	if rooms.count(session.EventTextStreamEnd) != 1 {
		t.Error("recovery response should stream to completion")
	}
	if len(model.calls) != 2 {
		t.Errorf("model calls: got %d, want 2", len(model.calls))
	}
}

func TestErrorEventWhenRecoveryFails(t *testing.T) {
	rooms := &fakeRooms{owner: "u1"}
	model := &fakeModel{script: []scripted{
		{err: errors.New("model unavailable")},
		{err: errors.New("still unavailable")},
	}}
	e, _ := testEngine(model, rooms, &fakeQueue{}, nil)

	e.HandleMessage(context.Background(), Inbound{RoomID: "r1", UserID: "u1", Content: "hello"})

	if rooms.count(session.EventError) != 1 {
		t.Errorf("error events: got %d, want 1", rooms.count(session.EventError))
	}
	if rooms.count(session.EventTextStream) != 0 {
		t.Error("no stream events expected when both calls fail")
	}
}

func TestNoOwnerSkipsIngestionAndRetrieval(t *testing.T) {
	rooms := &fakeRooms{} // no owner associated
	queue := &fakeQueue{}
	retriever := &fakeRetriever{context: "should not be used"}
	model := &fakeModel{script: []scripted{textResponse("hi there")}}
	e, _ := testEngine(model, rooms, queue, retriever)

	e.HandleMessage(context.Background(), Inbound{RoomID: "r1", Content: "hello"})

	if queue.len() != 0 {
		t.Errorf("ingestion jobs without owner: got %d, want 0", queue.len())
	}
	if retriever.calls != 0 {
		t.Errorf("retrieval calls without owner: got %d, want 0", retriever.calls)
	}
}

func TestRetrievalContextReachesModel(t *testing.T) {
	rooms := &fakeRooms{owner: "u1"}
	retriever := &fakeRetriever{context: "Relevant knowledge about this user:\n- my name is Dana"}
	model := &fakeModel{script: []scripted{textResponse("Hi Dana!")}}
	e, _ := testEngine(model, rooms, &fakeQueue{}, retriever)

	e.HandleMessage(context.Background(), Inbound{RoomID: "r1", UserID: "u1", Content: "who am i"})

	system := model.calls[0].messages[0]
	if system.Role != llm.RoleSystem {
		t.Fatalf("first message role: got %q", system.Role)
	}
	if !strings.Contains(system.Content, "my name is Dana") {
		t.Errorf("system context missing retrieval block: %q", system.Content)
	}
}

func TestCartSnapshotInSystemContext(t *testing.T) {
	rooms := &fakeRooms{owner: "u1"}
	model := &fakeModel{script: []scripted{textResponse("You have one book in there.")}}
	e, _ := testEngine(model, rooms, &fakeQueue{}, nil)

	e.HandleMessage(context.Background(), Inbound{
		RoomID: "r1", UserID: "u1", Content: "what's in my cart",
		Cart: &shop.CartSnapshot{
			Items: []shop.CartItem{{ItemID: "b1", Title: "Go in Practice", Price: 29.99, Quantity: 1}},
			Count: 1,
			Total: 29.99,
		},
	})

	system := model.calls[0].messages[0].Content
	if !strings.Contains(system, "cart currently holds 1 items") {
		t.Errorf("system context missing cart summary: %q", system)
	}
	if !strings.Contains(system, "Go in Practice") {
		t.Errorf("cart summary missing item title: %q", system)
	}
}

func TestTurnsSerializedPerRoom(t *testing.T) {
	rooms := &fakeRooms{owner: "u1"}
	model := &fakeModel{}
	e, hist := testEngine(model, rooms, &fakeQueue{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.HandleMessage(context.Background(), Inbound{RoomID: "r1", UserID: "u1", Content: "msg"})
		}()
	}
	wg.Wait()

	// Each turn appends user + assistant as an adjacent pair.
	snap := hist.Snapshot("r1")
	if len(snap) != 10 {
		t.Fatalf("history length: got %d, want 10", len(snap))
	}
	for i := 0; i < len(snap); i += 2 {
		if snap[i].Role != history.RoleUser || snap[i+1].Role != history.RoleAssistant {
			t.Errorf("pair %d: got %q/%q", i/2, snap[i].Role, snap[i+1].Role)
		}
	}
}

func eventTypes(events []session.Event) []session.EventType {
	out := make([]session.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}
