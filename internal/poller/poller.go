// Package poller keeps an open conversation and the inbox fresh by
// re-fetching them on fixed intervals and on focus.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shinyyama/rental-backend/internal/client"
	"github.com/shinyyama/rental-backend/internal/convid"
	"github.com/shinyyama/rental-backend/internal/model"
	"go.uber.org/zap"
)

const (
	DefaultMessageInterval      = 10 * time.Second
	DefaultConversationInterval = 30 * time.Second
)

var ErrNoConversation = errors.New("no conversation is open")

// API is the subset of the HTTP client the poller needs.
type API interface {
	ListConversations(ctx context.Context) ([]client.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	MarkRead(ctx context.Context, conversationID string) (int64, error)
	Send(ctx context.Context, in client.SendRequest) (*model.Message, error)
}

type Options struct {
	// UserID is the local user; the receiver of a send is the other
	// participant of the open conversation.
	UserID               uint64
	MessageInterval      time.Duration
	ConversationInterval time.Duration
	OnMessages           func(conversationID string, msgs []model.Message)
	OnConversations      func(convs []client.Conversation)
	Log                  *zap.Logger
}

// Draft is the unsent composer state.
type Draft struct {
	Body      string
	File      *client.File
	ReplyToID *uint64
}

func (d Draft) empty() bool {
	return d.Body == "" && d.File == nil
}

type Poller struct {
	api   API
	sched Scheduler
	opts  Options
	log   *zap.Logger

	mu            sync.Mutex
	ctx           context.Context
	active        string
	gen           uint64
	stops         []func()
	messages      []model.Message
	conversations []client.Conversation
	draft         Draft
}

func New(api API, sched Scheduler, opts Options) *Poller {
	if opts.MessageInterval <= 0 {
		opts.MessageInterval = DefaultMessageInterval
	}
	if opts.ConversationInterval <= 0 {
		opts.ConversationInterval = DefaultConversationInterval
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{api: api, sched: sched, opts: opts, log: log}
}

// Open makes conversationID the active conversation. Timers of a previously
// open conversation are stopped and its local state is dropped.
func (p *Poller) Open(ctx context.Context, conversationID string) error {
	if _, err := convid.Parse(conversationID); err != nil {
		return err
	}
	p.mu.Lock()
	p.closeLocked()
	p.ctx = ctx
	p.active = conversationID
	p.stops = []func(){
		p.sched.Every(p.opts.MessageInterval, p.refreshMessages),
		p.sched.Every(p.opts.ConversationInterval, p.refreshConversations),
	}
	p.mu.Unlock()

	p.log.Debug("conversation opened", zap.String("conversation_id", conversationID))
	p.sched.Go(p.refreshMessages)
	p.sched.Go(p.refreshConversations)
	return nil
}

// Close stops polling. Fetches already in flight finish but their results
// are discarded.
func (p *Poller) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
}

func (p *Poller) closeLocked() {
	for _, stop := range p.stops {
		stop()
	}
	p.stops = nil
	p.active = ""
	p.messages = nil
	p.gen++
}

// Focus refreshes both views immediately, independent of timer phase.
func (p *Poller) Focus() {
	p.mu.Lock()
	open := p.active != ""
	p.mu.Unlock()
	if !open {
		return
	}
	p.sched.Go(p.refreshMessages)
	p.sched.Go(p.refreshConversations)
}

func (p *Poller) Active() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Poller) Messages() []model.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Message(nil), p.messages...)
}

func (p *Poller) Conversations() []client.Conversation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]client.Conversation(nil), p.conversations...)
}

func (p *Poller) SetDraft(d Draft) {
	p.mu.Lock()
	p.draft = d
	p.mu.Unlock()
}

func (p *Poller) Draft() Draft {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.draft
}

// snapshot returns what a fetch needs to later decide whether its result is
// still wanted.
func (p *Poller) snapshot() (context.Context, string, uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == "" {
		return nil, "", 0, false
	}
	return p.ctx, p.active, p.gen, true
}

func (p *Poller) current(id string, gen uint64) bool {
	return p.active == id && p.gen == gen
}

// refreshMessages replaces the local history only when the fetched count
// differs. Edits and reactions that keep the count go unnoticed until the
// count changes or the conversation is reopened.
func (p *Poller) refreshMessages() {
	ctx, id, gen, ok := p.snapshot()
	if !ok {
		return
	}
	msgs, err := p.api.ListMessages(ctx, id)
	if err != nil {
		p.log.Warn("message poll failed", zap.String("conversation_id", id), zap.Error(err))
		return
	}

	p.mu.Lock()
	if !p.current(id, gen) {
		p.mu.Unlock()
		p.log.Debug("stale message poll discarded", zap.String("conversation_id", id))
		return
	}
	if len(msgs) == len(p.messages) {
		p.mu.Unlock()
		return
	}
	grew := len(msgs) > len(p.messages)
	p.messages = msgs
	p.mu.Unlock()

	if p.opts.OnMessages != nil {
		p.opts.OnMessages(id, append([]model.Message(nil), msgs...))
	}
	if grew {
		p.markRead(ctx, id)
	}
}

func (p *Poller) markRead(ctx context.Context, id string) {
	n, err := p.api.MarkRead(ctx, id)
	if err != nil {
		p.log.Warn("mark read failed", zap.String("conversation_id", id), zap.Error(err))
		return
	}
	if n > 0 {
		p.log.Debug("messages marked read", zap.String("conversation_id", id), zap.Int64("count", n))
	}
}

func (p *Poller) refreshConversations() {
	ctx, _, gen, ok := p.snapshot()
	if !ok {
		return
	}
	convs, err := p.api.ListConversations(ctx)
	if err != nil {
		p.log.Warn("conversation poll failed", zap.Error(err))
		return
	}

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return
	}
	p.conversations = convs
	p.mu.Unlock()

	if p.opts.OnConversations != nil {
		p.opts.OnConversations(append([]client.Conversation(nil), convs...))
	}
}

// Send submits the current draft to the open conversation. Nothing is shown
// before the server confirms; on success exactly the returned message is
// appended and reported through OnMessages. The draft is cleared only if it
// is still the one that was sent; on failure it stays for a retry.
func (p *Poller) Send(ctx context.Context) (*model.Message, error) {
	p.mu.Lock()
	id, gen, draft := p.active, p.gen, p.draft
	p.mu.Unlock()
	if id == "" {
		return nil, ErrNoConversation
	}
	if draft.empty() {
		return nil, errors.New("draft is empty")
	}

	cid, err := convid.Parse(id)
	if err != nil {
		return nil, err
	}
	receiver, err := cid.Other(p.opts.UserID)
	if err != nil {
		return nil, fmt.Errorf("open conversation: %w", err)
	}

	msg, err := p.api.Send(ctx, client.SendRequest{
		PropertyID: cid.PropertyID,
		ReceiverID: receiver,
		Body:       draft.Body,
		ReplyToID:  draft.ReplyToID,
		File:       draft.File,
	})
	if err != nil {
		p.log.Warn("send failed, draft kept", zap.String("conversation_id", id), zap.Error(err))
		return nil, err
	}

	p.mu.Lock()
	// The composer may have moved on while the request was in flight.
	if p.draft == draft {
		p.draft = Draft{}
	}
	var shown []model.Message
	if p.current(id, gen) {
		p.messages = append(p.messages, *msg)
		shown = append([]model.Message(nil), p.messages...)
	}
	p.mu.Unlock()

	if shown != nil && p.opts.OnMessages != nil {
		p.opts.OnMessages(id, shown)
	}
	return msg, nil
}
