package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/vadim/dealroom/internal/domain/access"
	"github.com/vadim/dealroom/internal/domain/deal/entity"
	"github.com/vadim/dealroom/internal/domain/deal/service"
	"github.com/vadim/dealroom/internal/domain/identity"
	"github.com/vadim/dealroom/internal/notify"
	"github.com/vadim/dealroom/internal/store"
)

type countingWaker struct {
	mu sync.Mutex
	n  int
}

func (w *countingWaker) Notify() {
	w.mu.Lock()
	w.n++
	w.mu.Unlock()
}

func (w *countingWaker) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

var _ = Describe("Engine", func() {
	var (
		ctx        context.Context
		st         *store.Memory
		engine     *service.Engine
		waker      *countingWaker
		now        time.Time
		brand      *identity.Identity
		influencer *identity.Identity
		otherBrand *identity.Identity
		operator   *identity.Identity
	)

	newEngine := func(cfg service.Config) *service.Engine {
		guard := access.NewGuard(access.Options{AllowBrandAccess: true, RestrictToOwnProfile: true})
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		return service.New(st, guard, waker, cfg, logger).WithClock(func() time.Time { return now })
	}

	invite := func(dealType entity.DealType) *entity.Deal {
		d, err := engine.Create(ctx, brand, service.CreateInput{
			CampaignID:          "camp-1",
			InfluencerID:        "inf-1",
			Title:               "Spring launch reel",
			CampaignTitle:       "Spring launch",
			BrandName:           "Acme",
			InfluencerName:      "Jo Creator",
			Type:                dealType,
			TotalValue:          decimal.RequireFromString("1500.00"),
			ApplicationDeadline: now.Add(72 * time.Hour),
		})
		Expect(err).NotTo(HaveOccurred())
		return d
	}

	move := func(actor *identity.Identity, d *entity.Deal, target entity.DealStatus) *entity.Deal {
		updated, err := engine.Transition(ctx, actor, service.TransitionInput{DealID: d.ID, Target: target})
		Expect(err).NotTo(HaveOccurred(), "moving to %s", target)
		return updated
	}

	toUnderReview := func() *entity.Deal {
		d := invite(entity.DealTypeCash)
		d = move(influencer, d, entity.StatusAccepted)
		d = move(brand, d, entity.StatusActive)
		d = move(influencer, d, entity.StatusContentSubmitted)
		return move(brand, d, entity.StatusUnderReview)
	}

	pendingTopics := func() []string {
		events, err := st.Outbox().FetchPending(ctx, 0, time.Now())
		Expect(err).NotTo(HaveOccurred())
		topics := make([]string, len(events))
		for i, ev := range events {
			topics[i] = ev.Topic
		}
		return topics
	}

	BeforeEach(func() {
		ctx = context.Background()
		st = store.NewMemory()
		waker = &countingWaker{}
		now = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
		engine = newEngine(service.Config{MaxRevisions: 2, RequireRejectReason: true})

		brand = &identity.Identity{Role: identity.RoleBrand, AccountID: "acc-b", ProfileID: "brand-1"}
		influencer = &identity.Identity{Role: identity.RoleInfluencer, AccountID: "acc-i", ProfileID: "inf-1"}
		otherBrand = &identity.Identity{Role: identity.RoleBrand, AccountID: "acc-x", ProfileID: "brand-2"}
		operator = &identity.Identity{Role: identity.RoleOperator, AccountID: "acc-op"}
	})

	Describe("Create", func() {
		It("should open an invitation owned by the calling brand", func() {
			d, err := engine.Create(ctx, brand, service.CreateInput{
				CampaignID:          "camp-1",
				BrandID:             "brand-spoofed",
				InfluencerID:        "inf-1",
				Type:                entity.DealTypeBarter,
				ApplicationDeadline: now.Add(time.Hour),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.BrandID).To(Equal("brand-1"))
			Expect(d.Status).To(Equal(entity.StatusInvited))
			Expect(d.Currency).To(Equal("USD"))
			Expect(d.Version).To(Equal(int64(1)))
			Expect(pendingTopics()).To(Equal([]string{notify.TopicDealCreated}))
			Expect(waker.count()).To(Equal(1))
		})

		It("should file an influencer's application as pending", func() {
			d, err := engine.Create(ctx, influencer, service.CreateInput{
				CampaignID:          "camp-1",
				BrandID:             "brand-1",
				Type:                entity.DealTypeCash,
				ApplicationDeadline: now.Add(time.Hour),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.InfluencerID).To(Equal("inf-1"))
			Expect(d.Status).To(Equal(entity.StatusPending))
		})

		It("should refuse operators", func() {
			_, err := engine.Create(ctx, operator, service.CreateInput{CampaignID: "camp-1"})
			Expect(err).To(MatchError(entity.ErrForbidden))
		})

		It("should reject an elapsed deadline", func() {
			_, err := engine.Create(ctx, brand, service.CreateInput{
				CampaignID:          "camp-1",
				InfluencerID:        "inf-1",
				Type:                entity.DealTypeCash,
				ApplicationDeadline: now.Add(-time.Hour),
			})
			Expect(err).To(MatchError(entity.ErrValidation))
		})
	})

	Describe("Transition", func() {
		It("should walk a cash deal from invitation to completion", func() {
			d := toUnderReview()
			d = move(brand, d, entity.StatusApproved)
			d = move(brand, d, entity.StatusCompleted)

			Expect(d.Status).To(Equal(entity.StatusCompleted))
			Expect(d.Version).To(Equal(int64(7)))

			events, err := engine.Events(ctx, influencer, d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(7))
			Expect(events[0].To).To(Equal(entity.StatusInvited))
			Expect(events[6].From).To(Equal(entity.StatusApproved))

			_, err = engine.Transition(ctx, brand, service.TransitionInput{DealID: d.ID, Target: entity.StatusDispute, Reason: "late"})
			Expect(err).To(MatchError(entity.ErrInvalidTransition))
		})

		It("should create the conversation when the invitation is accepted", func() {
			d := invite(entity.DealTypeHybrid)
			conv, err := st.Conversations().GetByDealID(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(conv).To(BeNil())

			move(influencer, d, entity.StatusAccepted)
			conv, err = st.Conversations().GetByDealID(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(conv).NotTo(BeNil())
			Expect(conv.UnreadCountBrand).To(BeZero())
			Expect(conv.UnreadCountInfluencer).To(BeZero())
		})

		It("should queue a notification per applied transition", func() {
			d := invite(entity.DealTypeCash)
			move(influencer, d, entity.StatusAccepted)
			Expect(pendingTopics()).To(Equal([]string{notify.TopicDealCreated, notify.TopicDealTransitioned}))
		})

		It("should refuse the wrong side", func() {
			d := invite(entity.DealTypeCash)
			_, err := engine.Transition(ctx, brand, service.TransitionInput{DealID: d.ID, Target: entity.StatusAccepted})
			Expect(err).To(MatchError(entity.ErrForbidden))
		})

		It("should hide the deal from another brand", func() {
			d := invite(entity.DealTypeCash)
			_, err := engine.Transition(ctx, otherBrand, service.TransitionInput{DealID: d.ID, Target: entity.StatusCancelled})
			Expect(err).To(MatchError(entity.ErrDealNotFound))

			_, err = engine.Get(ctx, otherBrand, d.ID)
			Expect(err).To(MatchError(entity.ErrDealNotFound))
		})

		It("should refuse a cash deal entering the product stages", func() {
			d := invite(entity.DealTypeCash)
			d = move(influencer, d, entity.StatusAccepted)
			_, err := engine.Transition(ctx, brand, service.TransitionInput{DealID: d.ID, Target: entity.StatusAddressRequested})
			Expect(err).To(MatchError(entity.ErrInvalidTransition))
		})

		It("should leave the deal untouched when refused", func() {
			d := invite(entity.DealTypeCash)
			_, err := engine.Transition(ctx, influencer, service.TransitionInput{DealID: d.ID, Target: entity.StatusCompleted})
			Expect(err).To(HaveOccurred())

			stored, err := engine.Get(ctx, brand, d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(entity.StatusInvited))
			Expect(stored.Version).To(Equal(int64(1)))
			Expect(pendingTopics()).To(HaveLen(1))
		})

		Context("when the application window has closed", func() {
			It("should refuse accepting the invitation", func() {
				d := invite(entity.DealTypeCash)
				now = d.ApplicationDeadline.Add(time.Second)

				Expect(engine.ApplicationWindowExpired(d)).To(BeTrue())
				_, err := engine.Transition(ctx, influencer, service.TransitionInput{DealID: d.ID, Target: entity.StatusAccepted})
				Expect(err).To(MatchError(entity.ErrApplicationWindowClosed))
				Expect(engine.AvailableActions(influencer, d)).To(BeEmpty())
			})
		})

		Context("when a reason is required", func() {
			It("should refuse a rejection without one", func() {
				d := invite(entity.DealTypeCash)
				_, err := engine.Transition(ctx, influencer, service.TransitionInput{DealID: d.ID, Target: entity.StatusRejected, Reason: "  "})
				Expect(err).To(MatchError(entity.ErrReasonRequired))

				rejected, err := engine.Transition(ctx, influencer, service.TransitionInput{DealID: d.ID, Target: entity.StatusRejected, Reason: "Schedule is full"})
				Expect(err).NotTo(HaveOccurred())
				Expect(rejected.Status).To(Equal(entity.StatusRejected))
			})
		})

		Context("when the revision cap is reached", func() {
			It("should send the brand to a dispute instead", func() {
				d := toUnderReview()
				for range 2 {
					d = move(brand, d, entity.StatusRevisionRequested)
					d = move(influencer, d, entity.StatusContentSubmitted)
					d = move(brand, d, entity.StatusUnderReview)
				}
				Expect(d.RevisionCount).To(Equal(2))
				Expect(engine.AvailableActions(brand, d)).NotTo(ContainElement(entity.StatusRevisionRequested))

				_, err := engine.Transition(ctx, brand, service.TransitionInput{DealID: d.ID, Target: entity.StatusRevisionRequested})
				var ite *entity.InvalidTransitionError
				Expect(errors.As(err, &ite)).To(BeTrue())
				Expect(ite.UserMessage()).To(ContainSubstring("open a dispute"))

				d, err = engine.Transition(ctx, brand, service.TransitionInput{DealID: d.ID, Target: entity.StatusDispute, Reason: "third round of edits"})
				Expect(err).NotTo(HaveOccurred())
				resolved := move(operator, d, entity.StatusCompleted)
				Expect(resolved.Status).To(Equal(entity.StatusCompleted))
			})
		})

		Context("when two transitions race", func() {
			It("should apply exactly one", func() {
				d := toUnderReview()

				targets := []entity.DealStatus{entity.StatusApproved, entity.StatusRevisionRequested}
				errs := make([]error, len(targets))
				var wg sync.WaitGroup
				for i, target := range targets {
					wg.Add(1)
					go func() {
						defer GinkgoRecover()
						defer wg.Done()
						_, errs[i] = engine.Transition(ctx, brand, service.TransitionInput{DealID: d.ID, Target: target})
					}()
				}
				wg.Wait()

				failures := 0
				for _, err := range errs {
					if err == nil {
						continue
					}
					failures++
					Expect(errors.Is(err, entity.ErrInvalidTransition) || errors.Is(err, entity.ErrConflict)).To(BeTrue(), err.Error())
				}
				Expect(failures).To(Equal(1))

				stored, err := engine.Get(ctx, brand, d.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(stored.Version).To(Equal(d.Version + 1))
			})
		})
	})

	Describe("List", func() {
		It("should scope deals to the caller", func() {
			invite(entity.DealTypeCash)
			invite(entity.DealTypeBarter)

			mine, err := engine.List(ctx, brand, service.ListInput{})
			Expect(err).NotTo(HaveOccurred())
			Expect(mine).To(HaveLen(2))

			theirs, err := engine.List(ctx, otherBrand, service.ListInput{})
			Expect(err).NotTo(HaveOccurred())
			Expect(theirs).To(BeEmpty())

			all, err := engine.List(ctx, operator, service.ListInput{Limit: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
		})

		It("should list an influencer's deals visible to the caller", func() {
			invite(entity.DealTypeCash)

			deals, err := engine.ListForInfluencer(ctx, influencer, "inf-1", service.ListInput{})
			Expect(err).NotTo(HaveOccurred())
			Expect(deals).To(HaveLen(1))

			deals, err = engine.ListForInfluencer(ctx, otherBrand, "inf-1", service.ListInput{})
			Expect(err).NotTo(HaveOccurred())
			Expect(deals).To(BeEmpty())

			_, err = engine.ListForInfluencer(ctx, influencer, "inf-2", service.ListInput{})
			Expect(err).To(MatchError(entity.ErrForbidden))
		})

		It("should page an influencer's deals within the brand's own", func() {
			for i := range 6 {
				creator := brand
				if i%2 == 1 {
					creator = otherBrand
				}
				_, err := engine.Create(ctx, creator, service.CreateInput{
					CampaignID:          fmt.Sprintf("camp-%d", i),
					InfluencerID:        "inf-1",
					Title:               "Reel",
					Type:                entity.DealTypeCash,
					TotalValue:          decimal.RequireFromString("100"),
					ApplicationDeadline: now.Add(72 * time.Hour),
				})
				Expect(err).NotTo(HaveOccurred())
				now = now.Add(time.Minute)
			}

			first, err := engine.ListForInfluencer(ctx, brand, "inf-1", service.ListInput{Limit: 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(first).To(HaveLen(2))

			second, err := engine.ListForInfluencer(ctx, brand, "inf-1", service.ListInput{Limit: 2, Offset: 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(HaveLen(1))

			for _, d := range append(first, second...) {
				Expect(d.BrandID).To(Equal(brand.ProfileID))
			}
			Expect(first[0].ID).NotTo(Equal(second[0].ID))
			Expect(first[1].ID).NotTo(Equal(second[0].ID))

			everything, err := engine.ListForInfluencer(ctx, operator, "inf-1", service.ListInput{})
			Expect(err).NotTo(HaveOccurred())
			Expect(everything).To(HaveLen(6))
		})
	})
})
