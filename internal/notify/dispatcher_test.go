package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vadim/dealroom/internal/notify"
	"github.com/vadim/dealroom/internal/store"
)

type recordingPublisher struct {
	mu        sync.Mutex
	envelopes []notify.Envelope
	keys      []string
	fail      error
	failKey   string
	calls     map[string]int
}

func (p *recordingPublisher) Publish(_ context.Context, key string, env notify.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.calls == nil {
		p.calls = map[string]int{}
	}
	p.calls[env.Meta.ID]++
	if p.fail != nil && (p.failKey == "" || p.failKey == key) {
		return p.fail
	}
	p.keys = append(p.keys, key)
	p.envelopes = append(p.envelopes, env)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) setFail(err error) {
	p.mu.Lock()
	p.fail = err
	p.mu.Unlock()
}

func (p *recordingPublisher) failOnly(key string, err error) {
	p.mu.Lock()
	p.failKey = key
	p.fail = err
	p.mu.Unlock()
}

func (p *recordingPublisher) attempts(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

func (p *recordingPublisher) published() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.envelopes)
}

var _ = Describe("Dispatcher", func() {
	var (
		ctx        context.Context
		outbox     notify.OutboxRepository
		publisher  *recordingPublisher
		dispatcher *notify.Dispatcher
		now        time.Time
		clock      time.Time
	)

	enqueue := func(topic string, n int) {
		for i := range n {
			ev, err := notify.NewEvent(topic, "deal-1", map[string]int{"n": i}, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(outbox.Enqueue(ctx, ev)).To(Succeed())
		}
	}

	// pending lists every undelivered event, due or not
	pending := func() []notify.Event {
		events, err := outbox.FetchPending(ctx, 0, clock.Add(24*time.Hour))
		Expect(err).NotTo(HaveOccurred())
		return events
	}

	advance := func(d time.Duration) {
		clock = clock.Add(d)
	}

	BeforeEach(func() {
		ctx = context.Background()
		outbox = store.NewMemory().Outbox()
		publisher = &recordingPublisher{}
		now = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
		clock = now
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		dispatcher = notify.NewDispatcher(outbox, publisher, notify.Config{
			Interval:    time.Hour,
			BatchSize:   2,
			MaxAttempts: 3,
			Backoff:     time.Second,
			MaxBackoff:  4 * time.Second,
		}, logger).WithClock(func() time.Time { return clock })
	})

	Describe("Drain", func() {
		It("should publish every pending event across batches", func() {
			enqueue(notify.TopicDealTransitioned, 5)

			Expect(dispatcher.Drain(ctx)).To(Equal(5))
			Expect(pending()).To(BeEmpty())
			Expect(publisher.keys).To(HaveEach(notify.TopicDealTransitioned))
		})

		It("should wrap payloads in an envelope correlated by deal", func() {
			enqueue(notify.TopicMessageCreated, 1)
			dispatcher.Drain(ctx)

			env := publisher.envelopes[0]
			Expect(env.Meta.Producer).To(Equal(notify.Producer))
			Expect(env.Meta.Type).To(Equal(notify.TopicMessageCreated))
			Expect(env.Meta.CorrelationID).To(Equal("deal-1"))

			var data map[string]int
			Expect(json.Unmarshal(env.Data, &data)).To(Succeed())
			Expect(data).To(HaveKeyWithValue("n", 0))
		})

		It("should keep failed events for a retry", func() {
			enqueue(notify.TopicDealCreated, 1)
			publisher.setFail(errors.New("broker unavailable"))

			Expect(dispatcher.Drain(ctx)).To(BeZero())
			events := pending()
			Expect(events).To(HaveLen(1))
			Expect(events[0].Attempts).To(Equal(1))
			Expect(events[0].LastError).To(Equal("broker unavailable"))
			Expect(events[0].NextAttemptAt).To(HaveValue(BeTemporally("==", clock.Add(time.Second))))

			publisher.setFail(nil)
			Expect(dispatcher.Drain(ctx)).To(BeZero())

			advance(time.Second)
			Expect(dispatcher.Drain(ctx)).To(Equal(1))
			Expect(pending()).To(BeEmpty())
		})

		It("should give up after the configured attempts", func() {
			enqueue(notify.TopicDealCreated, 1)
			publisher.setFail(errors.New("broker unavailable"))

			for range 3 {
				dispatcher.Drain(ctx)
				advance(time.Minute)
			}
			Expect(pending()).To(BeEmpty())

			publisher.setFail(nil)
			Expect(dispatcher.Drain(ctx)).To(BeZero())
		})

		It("should retry a failing event on its backoff while the rest flows", func() {
			enqueue(notify.TopicDealCreated, 1)
			enqueue(notify.TopicMessageCreated, 39)
			stuck := pending()[0]
			publisher.failOnly(notify.TopicDealCreated, errors.New("broker unavailable"))

			Expect(dispatcher.Drain(ctx)).To(Equal(39))
			Expect(publisher.attempts(stuck.ID)).To(Equal(1))

			left := pending()
			Expect(left).To(HaveLen(1))
			Expect(left[0].ID).To(Equal(stuck.ID))
			Expect(left[0].Attempts).To(Equal(1))
			Expect(left[0].FailedAt).To(BeNil())

			By("waiting out the backoff before the next attempt")
			Expect(dispatcher.Drain(ctx)).To(BeZero())
			Expect(publisher.attempts(stuck.ID)).To(Equal(1))

			By("doubling the delay after the second failure")
			advance(time.Second)
			dispatcher.Drain(ctx)
			Expect(publisher.attempts(stuck.ID)).To(Equal(2))
			Expect(pending()[0].NextAttemptAt).To(HaveValue(BeTemporally("==", clock.Add(2*time.Second))))

			By("delivering once the broker recovers")
			publisher.setFail(nil)
			advance(2 * time.Second)
			Expect(dispatcher.Drain(ctx)).To(Equal(1))
			Expect(pending()).To(BeEmpty())
		})
	})

	Describe("Start", func() {
		It("should publish when notified without waiting for the ticker", func() {
			dispatcher.Start(ctx)
			DeferCleanup(dispatcher.Stop)

			enqueue(notify.TopicMessagesRead, 2)
			dispatcher.Notify()

			Eventually(publisher.published, time.Second, 10*time.Millisecond).Should(Equal(2))
		})

		It("should stop more than once safely", func() {
			dispatcher.Start(ctx)
			dispatcher.Stop()
			dispatcher.Stop()
		})
	})
})

var _ = Describe("LogPublisher", func() {
	It("should accept every envelope", func() {
		p := notify.NewLogPublisher(slog.New(slog.NewTextHandler(io.Discard, nil)))
		ev, err := notify.NewEvent(notify.TopicDealCreated, "deal-1", struct{}{}, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Publish(context.Background(), ev.Topic, ev.Envelope())).To(Succeed())
		Expect(p.Close()).To(Succeed())
	})
})
