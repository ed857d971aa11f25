package store

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	convdao "github.com/vadim/dealroom/internal/domain/conversation/dao"
	conventity "github.com/vadim/dealroom/internal/domain/conversation/entity"
	dealdao "github.com/vadim/dealroom/internal/domain/deal/dao"
	dealentity "github.com/vadim/dealroom/internal/domain/deal/entity"
	"github.com/vadim/dealroom/internal/domain/identity"
	"github.com/vadim/dealroom/internal/notify"
)

// Memory is a Store kept in process memory. Transactions are serialized and run on a
// copy of the state that replaces the original only when the function succeeds.
type Memory struct {
	*memRepositories
	mu    sync.Mutex
	state *memState
}

// NewMemory creates an empty in-memory Store
func NewMemory() *Memory {
	m := &Memory{state: newMemState()}
	m.memRepositories = &memRepositories{st: m.state, lock: &m.mu}
	return m
}

// WithTx runs fn on a private copy of the state and publishes it on success
func (m *Memory) WithTx(ctx context.Context, fn func(repos Repositories) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	working := m.state.clone()
	if err := fn(&memRepositories{st: working, lock: nopLocker{}}); err != nil {
		return err
	}
	*m.state = *working
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

type memState struct {
	deals         map[string]dealentity.Deal
	events        map[string][]dealentity.LifecycleEvent
	conversations map[string]conventity.Conversation // by deal id
	convDeal      map[string]string                  // conversation id -> deal id
	messages      map[string][]conventity.Message    // by conversation id, seq order
	outbox        []notify.Event
}

func newMemState() *memState {
	return &memState{
		deals:         make(map[string]dealentity.Deal),
		events:        make(map[string][]dealentity.LifecycleEvent),
		conversations: make(map[string]conventity.Conversation),
		convDeal:      make(map[string]string),
		messages:      make(map[string][]conventity.Message),
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		deals:         maps.Clone(s.deals),
		events:        make(map[string][]dealentity.LifecycleEvent, len(s.events)),
		conversations: make(map[string]conventity.Conversation, len(s.conversations)),
		convDeal:      maps.Clone(s.convDeal),
		messages:      make(map[string][]conventity.Message, len(s.messages)),
		outbox:        slices.Clone(s.outbox),
	}
	for k, v := range s.events {
		c.events[k] = slices.Clone(v)
	}
	for k, v := range s.conversations {
		c.conversations[k] = copyConversation(v)
	}
	for k, v := range s.messages {
		c.messages[k] = slices.Clone(v)
	}
	return c
}

func copyConversation(conv conventity.Conversation) conventity.Conversation {
	if conv.LastMessage != nil {
		lm := *conv.LastMessage
		conv.LastMessage = &lm
	}
	return conv
}

// memRepositories implements every repository on one memState
type memRepositories struct {
	st   *memState
	lock sync.Locker
}

func (r *memRepositories) Deals() dealdao.DealRepository {
	return memDeals{r}
}

func (r *memRepositories) DealEvents() dealdao.EventRepository {
	return memEvents{r}
}

func (r *memRepositories) Conversations() convdao.ConversationRepository {
	return memConversations{r}
}

func (r *memRepositories) Messages() convdao.MessageRepository {
	return memMessages{r}
}

func (r *memRepositories) Outbox() notify.OutboxRepository {
	return memOutbox{r}
}

type memDeals struct{ *memRepositories }

func (r memDeals) Create(_ context.Context, d *dealentity.Deal) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.st.deals[d.ID]; ok {
		return fmt.Errorf("inserting deal: duplicate id %s", d.ID)
	}
	r.st.deals[d.ID] = *d
	return nil
}

func (r memDeals) GetByID(_ context.Context, id string) (*dealentity.Deal, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	d, ok := r.st.deals[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r memDeals) UpdateStatus(_ context.Context, d *dealentity.Deal, expectedVersion int64) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	stored, ok := r.st.deals[d.ID]
	if !ok || stored.Version != expectedVersion {
		return dealentity.ErrConflict
	}
	stored.Status = d.Status
	stored.RevisionCount = d.RevisionCount
	stored.Version = d.Version
	stored.UpdatedAt = d.UpdatedAt
	r.st.deals[d.ID] = stored
	return nil
}

func (r memDeals) List(_ context.Context, filter dealdao.DealFilter, opts dealdao.ListOptions) ([]dealentity.Deal, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var out []dealentity.Deal
	for _, d := range r.st.deals {
		if !matchesDealFilter(d, filter) {
			continue
		}
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b dealentity.Deal) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return paginate(out, opts.Offset, opts.Limit), nil
}

func matchesDealFilter(d dealentity.Deal, f dealdao.DealFilter) bool {
	if f.BrandID != "" && d.BrandID != f.BrandID {
		return false
	}
	if f.InfluencerID != "" && d.InfluencerID != f.InfluencerID {
		return false
	}
	return f.Status == nil || d.Status == *f.Status
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

type memEvents struct{ *memRepositories }

func (r memEvents) Append(_ context.Context, ev *dealentity.LifecycleEvent) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.st.events[ev.DealID] = append(r.st.events[ev.DealID], *ev)
	return nil
}

func (r memEvents) ListByDeal(_ context.Context, dealID string) ([]dealentity.LifecycleEvent, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	return slices.Clone(r.st.events[dealID]), nil
}

type memConversations struct{ *memRepositories }

func (r memConversations) EnsureForDeal(_ context.Context, conv *conventity.Conversation) (*conventity.Conversation, bool, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if existing, ok := r.st.conversations[conv.DealID]; ok {
		c := copyConversation(existing)
		return &c, false, nil
	}
	if _, ok := r.st.deals[conv.DealID]; !ok {
		return nil, false, fmt.Errorf("inserting conversation: deal %s does not exist", conv.DealID)
	}

	stored := copyConversation(*conv)
	r.st.conversations[conv.DealID] = stored
	r.st.convDeal[conv.ID] = conv.DealID
	c := copyConversation(stored)
	return &c, true, nil
}

func (r memConversations) GetByDealID(_ context.Context, dealID string) (*conventity.Conversation, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	conv, ok := r.st.conversations[dealID]
	if !ok {
		return nil, nil
	}
	c := copyConversation(conv)
	return &c, nil
}

// LockByDealID needs no row lock: transactions are already serialized
func (r memConversations) LockByDealID(ctx context.Context, dealID string) (*conventity.Conversation, error) {
	return r.GetByDealID(ctx, dealID)
}

func (r memConversations) Update(_ context.Context, conv *conventity.Conversation) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	dealID, ok := r.st.convDeal[conv.ID]
	if !ok {
		return conventity.ErrConversationNotFound
	}
	r.st.conversations[dealID] = copyConversation(*conv)
	return nil
}

func (r memConversations) ListForParticipant(_ context.Context, filter conventity.ParticipantFilter) ([]conventity.Summary, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	search := strings.ToLower(filter.Search)
	var out []conventity.Summary
	for dealID, conv := range r.st.conversations {
		d, ok := r.st.deals[dealID]
		if !ok || filter.ProfileID == "" || d.ParticipantID(filter.Role) != filter.ProfileID {
			continue
		}
		counterpart := d.CounterpartName(filter.Role)
		if search != "" &&
			!strings.Contains(strings.ToLower(counterpart), search) &&
			!strings.Contains(strings.ToLower(d.Title), search) &&
			!strings.Contains(strings.ToLower(d.CampaignTitle), search) {
			continue
		}
		c := copyConversation(conv)
		out = append(out, conventity.Summary{
			ConversationID:  c.ID,
			DealID:          d.ID,
			DealTitle:       d.Title,
			CampaignTitle:   d.CampaignTitle,
			DealStatus:      d.Status,
			CounterpartName: counterpart,
			UnreadCount:     c.UnreadFor(filter.Role),
			LastMessage:     c.LastMessage,
			CreatedAt:       c.CreatedAt,
		})
	}

	slices.SortFunc(out, func(a, b conventity.Summary) int {
		if c := cmp.Compare(lastActivity(b), lastActivity(a)); c != 0 {
			return c
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ConversationID, b.ConversationID)
	})
	return paginate(out, filter.Offset, filter.Limit), nil
}

// lastActivity orders conversations without messages last
func lastActivity(s conventity.Summary) int64 {
	if s.LastMessage == nil {
		return -1 << 63
	}
	return s.LastMessage.CreatedAt.UnixNano()
}

type memMessages struct{ *memRepositories }

func (r memMessages) Insert(_ context.Context, msg *conventity.Message) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.st.convDeal[msg.ConversationID]; !ok {
		return fmt.Errorf("inserting message: conversation %s does not exist", msg.ConversationID)
	}
	log := r.st.messages[msg.ConversationID]
	if n := len(log); n > 0 && log[n-1].Seq >= msg.Seq {
		return fmt.Errorf("inserting message: seq %d not after %d", msg.Seq, log[n-1].Seq)
	}
	r.st.messages[msg.ConversationID] = append(log, *msg)
	return nil
}

func (r memMessages) List(_ context.Context, conversationID string, q conventity.ListQuery) ([]conventity.Message, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	log := r.st.messages[conversationID]
	var out []conventity.Message
	if q.Order == conventity.OrderDesc {
		for i := len(log) - 1; i >= 0; i-- {
			if q.After == 0 || log[i].Seq < q.After {
				out = append(out, log[i])
			}
			if q.Limit > 0 && len(out) == q.Limit {
				break
			}
		}
		return out, nil
	}

	for _, m := range log {
		if m.Seq > q.After {
			out = append(out, m)
		}
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (r memMessages) MarkRead(_ context.Context, conversationID string, senderRole identity.Role, upToSeq int64, at time.Time) (int, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	log := r.st.messages[conversationID]
	stamped := 0
	for i := range log {
		m := &log[i]
		if m.SenderRole == senderRole && m.Seq <= upToSeq && m.ReadAt == nil {
			readAt := at
			m.ReadAt = &readAt
			stamped++
		}
	}
	return stamped, nil
}

func (r memMessages) CountUnread(_ context.Context, conversationID string, senderRole identity.Role) (int, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	count := 0
	for _, m := range r.st.messages[conversationID] {
		if m.SenderRole == senderRole && m.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

type memOutbox struct{ *memRepositories }

func (r memOutbox) Enqueue(_ context.Context, ev *notify.Event) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.st.outbox = append(r.st.outbox, *ev)
	return nil
}

func (r memOutbox) FetchPending(_ context.Context, limit int, now time.Time) ([]notify.Event, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var out []notify.Event
	for _, ev := range r.st.outbox {
		if ev.DispatchedAt != nil || ev.FailedAt != nil {
			continue
		}
		if ev.NextAttemptAt != nil && ev.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r memOutbox) MarkDispatched(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(ev *notify.Event) {
		ev.DispatchedAt = &at
	})
}

func (r memOutbox) MarkAttemptFailed(_ context.Context, id, lastError string, giveUp bool, at, retryAt time.Time) error {
	return r.update(id, func(ev *notify.Event) {
		ev.Attempts++
		ev.LastError = lastError
		if giveUp {
			ev.FailedAt = &at
			ev.NextAttemptAt = nil
			return
		}
		ev.NextAttemptAt = &retryAt
	})
}

func (r memOutbox) update(id string, fn func(ev *notify.Event)) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	for i := range r.st.outbox {
		if r.st.outbox[i].ID == id {
			fn(&r.st.outbox[i])
			return nil
		}
	}
	return fmt.Errorf("outbox event %s not found", id)
}
