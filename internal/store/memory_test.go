package store_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	conventity "github.com/vadim/dealroom/internal/domain/conversation/entity"
	"github.com/vadim/dealroom/internal/domain/deal/dao"
	"github.com/vadim/dealroom/internal/domain/deal/entity"
	"github.com/vadim/dealroom/internal/domain/identity"
	"github.com/vadim/dealroom/internal/notify"
	"github.com/vadim/dealroom/internal/store"
)

var _ = Describe("Memory", func() {
	var (
		ctx  context.Context
		st   *store.Memory
		now  time.Time
		deal *entity.Deal
	)

	BeforeEach(func() {
		ctx = context.Background()
		st = store.NewMemory()
		now = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
		deal = &entity.Deal{
			ID:           "deal-1",
			CampaignID:   "camp-1",
			BrandID:      "brand-1",
			InfluencerID: "inf-1",
			Type:         entity.DealTypeCash,
			Status:       entity.StatusInvited,
			Version:      1,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		Expect(st.Deals().Create(ctx, deal)).To(Succeed())
	})

	Describe("WithTx", func() {
		It("should discard every write when the function fails", func() {
			boom := errors.New("boom")
			err := st.WithTx(ctx, func(repos store.Repositories) error {
				d, err := repos.Deals().GetByID(ctx, deal.ID)
				Expect(err).NotTo(HaveOccurred())
				d.Apply(entity.StatusAccepted, now)
				Expect(repos.Deals().UpdateStatus(ctx, d, 1)).To(Succeed())

				_, _, err = repos.Conversations().EnsureForDeal(ctx, conventity.NewConversation("conv-1", deal.ID, now))
				Expect(err).NotTo(HaveOccurred())

				ev, err := notify.NewEvent(notify.TopicDealTransitioned, deal.ID, map[string]string{"to": "accepted"}, now)
				Expect(err).NotTo(HaveOccurred())
				Expect(repos.Outbox().Enqueue(ctx, ev)).To(Succeed())
				return boom
			})
			Expect(err).To(MatchError(boom))

			stored, err := st.Deals().GetByID(ctx, deal.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(entity.StatusInvited))

			conv, err := st.Conversations().GetByDealID(ctx, deal.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(conv).To(BeNil())

			pending, err := st.Outbox().FetchPending(ctx, 10, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeEmpty())
		})

		It("should publish the writes on success", func() {
			Expect(st.WithTx(ctx, func(repos store.Repositories) error {
				_, created, err := repos.Conversations().EnsureForDeal(ctx, conventity.NewConversation("conv-1", deal.ID, now))
				Expect(created).To(BeTrue())
				return err
			})).To(Succeed())

			conv, err := st.Conversations().GetByDealID(ctx, deal.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(conv.ID).To(Equal("conv-1"))
		})

		It("should refuse a cancelled context", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			Expect(st.WithTx(cancelled, func(store.Repositories) error { return nil })).To(MatchError(context.Canceled))
		})
	})

	Describe("Deals", func() {
		It("should reject an update against a stale version", func() {
			d, err := st.Deals().GetByID(ctx, deal.ID)
			Expect(err).NotTo(HaveOccurred())
			d.Apply(entity.StatusAccepted, now)
			Expect(st.Deals().UpdateStatus(ctx, d, 1)).To(Succeed())

			d.Apply(entity.StatusActive, now)
			Expect(st.Deals().UpdateStatus(ctx, d, 1)).To(MatchError(entity.ErrConflict))
		})

		It("should return nil for an unknown deal", func() {
			d, err := st.Deals().GetByID(ctx, "missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(d).To(BeNil())
		})

		It("should combine participant and status filters", func() {
			other := *deal
			other.ID = "deal-2"
			other.BrandID = "brand-2"
			other.Status = entity.StatusPending
			other.UpdatedAt = now.Add(time.Minute)
			Expect(st.Deals().Create(ctx, &other)).To(Succeed())

			all, err := st.Deals().List(ctx, dao.DealFilter{InfluencerID: "inf-1"}, dao.ListOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))
			Expect(all[0].ID).To(Equal("deal-2"))

			pending := entity.StatusPending
			filtered, err := st.Deals().List(ctx, dao.DealFilter{BrandID: "brand-1", Status: &pending}, dao.ListOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(filtered).To(BeEmpty())

			both, err := st.Deals().List(ctx, dao.DealFilter{BrandID: "brand-2", InfluencerID: "inf-1"}, dao.ListOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(both).To(HaveLen(1))
			Expect(both[0].ID).To(Equal("deal-2"))

			none, err := st.Deals().List(ctx, dao.DealFilter{BrandID: "brand-2", InfluencerID: "inf-9"}, dao.ListOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(none).To(BeEmpty())
		})
	})

	Describe("Conversations", func() {
		It("should keep one conversation per deal", func() {
			first, created, err := st.Conversations().EnsureForDeal(ctx, conventity.NewConversation("conv-1", deal.ID, now))
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())

			second, created, err := st.Conversations().EnsureForDeal(ctx, conventity.NewConversation("conv-2", deal.ID, now))
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())
			Expect(second.ID).To(Equal(first.ID))
		})

		It("should refuse a conversation for an unknown deal", func() {
			_, _, err := st.Conversations().EnsureForDeal(ctx, conventity.NewConversation("conv-x", "missing", now))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Messages", func() {
		BeforeEach(func() {
			_, _, err := st.Conversations().EnsureForDeal(ctx, conventity.NewConversation("conv-1", deal.ID, now))
			Expect(err).NotTo(HaveOccurred())
			for seq := int64(1); seq <= 4; seq++ {
				role := identity.RoleBrand
				if seq == 3 {
					role = identity.RoleInfluencer
				}
				Expect(st.Messages().Insert(ctx, &conventity.Message{
					ID:             100 + seq,
					ConversationID: "conv-1",
					Seq:            seq,
					SenderRole:     role,
					Content:        "m",
					CreatedAt:      now,
				})).To(Succeed())
			}
		})

		It("should refuse an out-of-order seq", func() {
			err := st.Messages().Insert(ctx, &conventity.Message{ID: 200, ConversationID: "conv-1", Seq: 4, SenderRole: identity.RoleBrand})
			Expect(err).To(HaveOccurred())
		})

		It("should stamp only the sender's messages up to the watermark", func() {
			n, err := st.Messages().MarkRead(ctx, "conv-1", identity.RoleBrand, 3, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))

			unread, err := st.Messages().CountUnread(ctx, "conv-1", identity.RoleBrand)
			Expect(err).NotTo(HaveOccurred())
			Expect(unread).To(Equal(1))

			n, err = st.Messages().MarkRead(ctx, "conv-1", identity.RoleBrand, 3, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})

		It("should list both directions from a cursor", func() {
			asc, err := st.Messages().List(ctx, "conv-1", conventity.ListQuery{After: 1, Limit: 2, Order: conventity.OrderAsc})
			Expect(err).NotTo(HaveOccurred())
			Expect(asc).To(HaveLen(2))
			Expect(asc[0].Seq).To(Equal(int64(2)))

			desc, err := st.Messages().List(ctx, "conv-1", conventity.ListQuery{After: 4, Limit: 5, Order: conventity.OrderDesc})
			Expect(err).NotTo(HaveOccurred())
			Expect(desc).To(HaveLen(3))
			Expect(desc[0].Seq).To(Equal(int64(3)))
		})
	})

	Describe("Outbox", func() {
		It("should hold back delivered, abandoned and not yet due events", func() {
			var ids []string
			for range 3 {
				ev, err := notify.NewEvent(notify.TopicMessageCreated, deal.ID, struct{}{}, now)
				Expect(err).NotTo(HaveOccurred())
				Expect(st.Outbox().Enqueue(ctx, ev)).To(Succeed())
				ids = append(ids, ev.ID)
			}

			Expect(st.Outbox().MarkDispatched(ctx, ids[0], now)).To(Succeed())
			retryAt := now.Add(time.Minute)
			Expect(st.Outbox().MarkAttemptFailed(ctx, ids[1], "broker down", true, now, retryAt)).To(Succeed())
			Expect(st.Outbox().MarkAttemptFailed(ctx, ids[2], "broker down", false, now, retryAt)).To(Succeed())

			pending, err := st.Outbox().FetchPending(ctx, 10, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeEmpty())

			pending, err = st.Outbox().FetchPending(ctx, 10, retryAt)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(HaveLen(1))
			Expect(pending[0].ID).To(Equal(ids[2]))
			Expect(pending[0].Attempts).To(Equal(1))
			Expect(pending[0].LastError).To(Equal("broker down"))
			Expect(pending[0].NextAttemptAt).To(HaveValue(BeTemporally("==", retryAt)))
		})
	})
})
