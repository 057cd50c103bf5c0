package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shinyyama/rental-backend/internal/client"
	"github.com/shinyyama/rental-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	convA = "property_1_users_2_3"
	convB = "property_4_users_2_5"
)

type manualTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
}

type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
	queue  []func()
}

func (s *manualScheduler) Every(d time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{d: d, fn: fn}
	s.timers = append(s.timers, t)
	return func() {
		s.mu.Lock()
		t.stopped = true
		s.mu.Unlock()
	}
}

func (s *manualScheduler) Go(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
}

func (s *manualScheduler) fire(d time.Duration) {
	s.mu.Lock()
	var due []func()
	for _, t := range s.timers {
		if !t.stopped && t.d == d {
			due = append(due, t.fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range due {
		fn()
	}
}

func (s *manualScheduler) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		fn()
	}
}

func (s *manualScheduler) running() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []time.Duration
	for _, t := range s.timers {
		if !t.stopped {
			out = append(out, t.d)
		}
	}
	return out
}

type fakeAPI struct {
	mu          sync.Mutex
	messages    map[string][]model.Message
	convs       []client.Conversation
	listErr     error
	sendErr     error
	markReads   []string
	listCalls   int
	convCalls   int
	sent        []client.SendRequest
	nextID      uint64
	beforeReply func(id string)
	beforeSend  func(in client.SendRequest)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{messages: map[string][]model.Message{}, nextID: 100}
}

func (f *fakeAPI) put(id string, msgs ...model.Message) {
	f.mu.Lock()
	f.messages[id] = msgs
	f.mu.Unlock()
}

func (f *fakeAPI) ListConversations(ctx context.Context) ([]client.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convCalls++
	return f.convs, nil
}

func (f *fakeAPI) ListMessages(ctx context.Context, id string) ([]model.Message, error) {
	f.mu.Lock()
	f.listCalls++
	msgs, err, hook := f.messages[id], f.listErr, f.beforeReply
	f.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	if err != nil {
		return nil, err
	}
	return append([]model.Message(nil), msgs...), nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, id string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReads = append(f.markReads, id)
	return 1, nil
}

func (f *fakeAPI) Send(ctx context.Context, in client.SendRequest) (*model.Message, error) {
	f.mu.Lock()
	hook := f.beforeSend
	f.mu.Unlock()
	if hook != nil {
		hook(in)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, in)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextID++
	return &model.Message{ID: f.nextID, PropertyID: in.PropertyID, SenderID: 2, ReceiverID: in.ReceiverID, Body: in.Body}, nil
}

func msg(id uint64, body string) model.Message {
	return model.Message{ID: id, PropertyID: 1, SenderID: 3, ReceiverID: 2, Body: body}
}

func open(t *testing.T, api *fakeAPI, opts Options) (*Poller, *manualScheduler) {
	t.Helper()
	sched := &manualScheduler{}
	opts.UserID = 2
	p := New(api, sched, opts)
	require.NoError(t, p.Open(context.Background(), convA))
	sched.drain()
	return p, sched
}

func ids(msgs []model.Message) []uint64 {
	out := make([]uint64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestOpenStartsTimersAndLoads(t *testing.T) {
	api := newFakeAPI()
	api.put(convA, msg(1, "hi"), msg(2, "still there?"))
	api.convs = []client.Conversation{{ConversationID: convA}}

	var seen []uint64
	p, sched := open(t, api, Options{OnMessages: func(id string, msgs []model.Message) {
		assert.Equal(t, convA, id)
		seen = ids(msgs)
	}})

	assert.ElementsMatch(t, []time.Duration{10 * time.Second, 30 * time.Second}, sched.running())
	assert.Equal(t, []uint64{1, 2}, ids(p.Messages()))
	assert.Equal(t, []uint64{1, 2}, seen)
	assert.Len(t, p.Conversations(), 1)
	assert.Equal(t, []string{convA}, api.markReads)
}

func TestOpenRejectsMalformedID(t *testing.T) {
	sched := &manualScheduler{}
	p := New(newFakeAPI(), sched, Options{UserID: 2})
	assert.Error(t, p.Open(context.Background(), "property_x"))
	assert.Empty(t, sched.running())
}

func TestReconcileByCount(t *testing.T) {
	api := newFakeAPI()
	api.put(convA, msg(1, "hi"))
	p, sched := open(t, api, Options{})
	require.Len(t, api.markReads, 1)

	// same count: content changes are not picked up
	api.put(convA, msg(1, "edited"))
	sched.fire(DefaultMessageInterval)
	assert.Equal(t, "hi", p.Messages()[0].Body)
	assert.Len(t, api.markReads, 1)

	// growth replaces and marks read
	api.put(convA, msg(1, "edited"), msg(2, "new"))
	sched.fire(DefaultMessageInterval)
	assert.Equal(t, []uint64{1, 2}, ids(p.Messages()))
	assert.Equal(t, "edited", p.Messages()[0].Body)
	assert.Len(t, api.markReads, 2)

	// shrink replaces without marking read
	api.put(convA, msg(2, "new"))
	sched.fire(DefaultMessageInterval)
	assert.Equal(t, []uint64{2}, ids(p.Messages()))
	assert.Len(t, api.markReads, 2)
}

func TestCloseStopsTimers(t *testing.T) {
	api := newFakeAPI()
	api.put(convA, msg(1, "hi"))
	p, sched := open(t, api, Options{})

	p.Close()
	assert.Empty(t, sched.running())
	assert.Empty(t, p.Active())
	assert.Empty(t, p.Messages())

	calls := api.listCalls
	p.Focus()
	sched.drain()
	assert.Equal(t, calls, api.listCalls)
}

func TestReopenReplacesTimers(t *testing.T) {
	api := newFakeAPI()
	p, sched := open(t, api, Options{})
	require.NoError(t, p.Open(context.Background(), convB))
	assert.Len(t, sched.running(), 2)
	assert.Equal(t, convB, p.Active())
}

func TestStaleResponseDiscarded(t *testing.T) {
	api := newFakeAPI()
	api.put(convA, msg(1, "for A"))
	api.put(convB, model.Message{ID: 7, PropertyID: 4, SenderID: 5, ReceiverID: 2, Body: "for B"})

	sched := &manualScheduler{}
	p := New(api, sched, Options{UserID: 2})
	require.NoError(t, p.Open(context.Background(), convA))

	// the user navigates to B while A's fetch is still in flight
	api.beforeReply = func(id string) {
		if id == convA {
			api.beforeReply = nil
			require.NoError(t, p.Open(context.Background(), convB))
		}
	}
	sched.drain()

	assert.Equal(t, convB, p.Active())
	assert.Equal(t, []uint64{7}, ids(p.Messages()))
	assert.Equal(t, []string{convB}, api.markReads)
}

func TestFocusRefreshesBoth(t *testing.T) {
	api := newFakeAPI()
	p, sched := open(t, api, Options{})
	list, convs := api.listCalls, api.convCalls

	p.Focus()
	sched.drain()
	assert.Equal(t, list+1, api.listCalls)
	assert.Equal(t, convs+1, api.convCalls)
}

func TestConversationTimer(t *testing.T) {
	api := newFakeAPI()
	p, sched := open(t, api, Options{})
	api.convs = []client.Conversation{{ConversationID: convA}, {ConversationID: convB}}

	sched.fire(DefaultConversationInterval)
	assert.Len(t, p.Conversations(), 2)
}

func TestFetchErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	api := newFakeAPI()
	api.put(convA, msg(1, "hi"))
	p, sched := open(t, api, Options{Log: zap.New(core)})

	api.listErr = errors.New("connection refused")
	api.put(convA, msg(1, "hi"), msg(2, "missed"))
	sched.fire(DefaultMessageInterval)

	assert.Equal(t, []uint64{1}, ids(p.Messages()))
	require.Equal(t, 1, logs.FilterMessage("message poll failed").Len())

	api.listErr = nil
	sched.fire(DefaultMessageInterval)
	assert.Equal(t, []uint64{1, 2}, ids(p.Messages()))
}

func TestSend(t *testing.T) {
	api := newFakeAPI()
	api.put(convA, msg(1, "hi"))
	p, sched := open(t, api, Options{})

	draft := Draft{Body: "is it available?", File: &client.File{Name: "a.txt", Data: []byte("x")}}
	p.SetDraft(draft)

	api.sendErr = errors.New("offline")
	_, err := p.Send(context.Background())
	require.Error(t, err)
	assert.Equal(t, draft, p.Draft())
	assert.Equal(t, []uint64{1}, ids(p.Messages()))

	api.sendErr = nil
	sent, err := p.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Draft{}, p.Draft())
	assert.Equal(t, []uint64{1, sent.ID}, ids(p.Messages()))

	last := api.sent[len(api.sent)-1]
	assert.EqualValues(t, 1, last.PropertyID)
	assert.EqualValues(t, 3, last.ReceiverID)
	assert.Equal(t, "is it available?", last.Body)

	// the server now reports the same two messages; nothing is duplicated
	api.put(convA, msg(1, "hi"), *sent)
	sched.fire(DefaultMessageInterval)
	assert.Equal(t, []uint64{1, sent.ID}, ids(p.Messages()))
}

func TestSendReportsMessages(t *testing.T) {
	api := newFakeAPI()
	api.put(convA, msg(1, "hi"))
	var reported [][]uint64
	p, _ := open(t, api, Options{OnMessages: func(id string, msgs []model.Message) {
		assert.Equal(t, convA, id)
		reported = append(reported, ids(msgs))
	}})
	require.Len(t, reported, 1)

	p.SetDraft(Draft{Body: "viewing on friday?"})
	sent, err := p.Send(context.Background())
	require.NoError(t, err)
	require.Len(t, reported, 2)
	assert.Equal(t, []uint64{1, sent.ID}, reported[1])
}

func TestSendKeepsDraftEditedInFlight(t *testing.T) {
	api := newFakeAPI()
	p, _ := open(t, api, Options{})

	next := Draft{Body: "also, is parking included?"}
	api.beforeSend = func(in client.SendRequest) {
		assert.Equal(t, "viewing on friday?", in.Body)
		p.SetDraft(next)
	}
	p.SetDraft(Draft{Body: "viewing on friday?"})
	sent, err := p.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "viewing on friday?", sent.Body)
	assert.Equal(t, next, p.Draft())
	assert.Equal(t, []uint64{sent.ID}, ids(p.Messages()))
}

func TestSendAfterSwitchDoesNotReport(t *testing.T) {
	api := newFakeAPI()
	api.put(convA, msg(1, "hi"))
	var reported []string
	p, sched := open(t, api, Options{OnMessages: func(id string, msgs []model.Message) {
		reported = append(reported, id)
	}})

	api.beforeSend = func(client.SendRequest) {
		require.NoError(t, p.Open(context.Background(), convB))
	}
	p.SetDraft(Draft{Body: "hello"})
	_, err := p.Send(context.Background())
	require.NoError(t, err)
	sched.drain()
	assert.Equal(t, []string{convA}, reported)
	assert.Empty(t, p.Messages())
}

func TestSendRequiresOpenConversationAndDraft(t *testing.T) {
	sched := &manualScheduler{}
	p := New(newFakeAPI(), sched, Options{UserID: 2})
	_, err := p.Send(context.Background())
	assert.ErrorIs(t, err, ErrNoConversation)

	require.NoError(t, p.Open(context.Background(), convA))
	_, err = p.Send(context.Background())
	assert.Error(t, err)
}
