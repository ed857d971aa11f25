package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	httpcontroller "github.com/vadim/dealroom/internal/controller/http"
	"github.com/vadim/dealroom/internal/domain/access"
	convpolicy "github.com/vadim/dealroom/internal/domain/conversation/policy"
	convservice "github.com/vadim/dealroom/internal/domain/conversation/service"
	dealpolicy "github.com/vadim/dealroom/internal/domain/deal/policy"
	dealservice "github.com/vadim/dealroom/internal/domain/deal/service"
	"github.com/vadim/dealroom/internal/domain/identity"
	"github.com/vadim/dealroom/internal/httpx/auth"
	"github.com/vadim/dealroom/internal/id"
	"github.com/vadim/dealroom/internal/storage"
	"github.com/vadim/dealroom/internal/store"
)

type memoryArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (a *memoryArchive) Archive(_ context.Context, dealID string, body []byte) (*storage.ArchiveOutput, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	key := storage.TranscriptKey(dealID, now)
	a.objects[key] = body
	return &storage.ArchiveOutput{Key: key, URL: "memory://" + key, Size: int64(len(body)), UploadedAt: now}, nil
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var _ = Describe("Deal API", func() {
	var (
		router  *chi.Mux
		archive *memoryArchive
		tokens  map[string]string
	)

	buildRouter := func(archiver convpolicy.TranscriptArchiver) {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		st := store.NewMemory()
		guard := access.NewGuard(access.Options{AllowBrandAccess: true, RestrictToOwnProfile: true})
		ids, err := id.NewGenerator(7)
		Expect(err).NotTo(HaveOccurred())

		engine := dealservice.New(st, guard, nil, dealservice.Config{MaxRevisions: 3, RequireRejectReason: true}, logger)
		conversations := convservice.NewConversations(st, nil, logger)
		messages := convservice.NewMessages(st, conversations, ids, nil, convservice.MessageConfig{}, logger)

		authenticator := auth.NewAuthenticator("test-secret", "dealroom-test", logger)
		tokens = map[string]string{}
		for name, who := range map[string]identity.Identity{
			"brand":       {Role: identity.RoleBrand, AccountID: "acc-b", ProfileID: "brand-1"},
			"other-brand": {Role: identity.RoleBrand, AccountID: "acc-x", ProfileID: "brand-2"},
			"influencer":  {Role: identity.RoleInfluencer, AccountID: "acc-i", ProfileID: "inf-1"},
			"operator":    {Role: identity.RoleOperator, AccountID: "acc-op"},
		} {
			token, err := authenticator.Issue(who, time.Hour)
			Expect(err).NotTo(HaveOccurred())
			tokens[name] = token
		}

		router = chi.NewRouter()
		router.Route("/api/v1", func(r chi.Router) {
			r.Use(authenticator.Middleware)
			httpcontroller.NewDealHandler(dealpolicy.New(engine), logger).RegisterRoutes(r)
			httpcontroller.NewConversationHandler(
				convpolicy.New(engine, guard, conversations, messages, archiver, logger), logger,
			).RegisterRoutes(r)
		})
	}

	do := func(method, path, who string, body any) *httptest.ResponseRecorder {
		var reader io.Reader = http.NoBody
		if body != nil {
			raw, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(raw)
		}
		req := httptest.NewRequest(method, "/api/v1"+path, reader)
		req.Header.Set("Content-Type", "application/json")
		if who != "" {
			req.Header.Set("Authorization", "Bearer "+tokens[who])
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	decode := func(rec *httptest.ResponseRecorder, v any) {
		Expect(json.Unmarshal(rec.Body.Bytes(), v)).To(Succeed(), rec.Body.String())
	}

	createDeal := func() string {
		rec := do(http.MethodPost, "/deals", "brand", map[string]any{
			"campaign_id":          "camp-1",
			"influencer_id":        "inf-1",
			"title":                "Launch reel",
			"influencer_name":      "Jo Creator",
			"deal_type":            "cash",
			"total_value":          "250.50",
			"application_deadline": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		})
		Expect(rec.Code).To(Equal(http.StatusCreated), rec.Body.String())

		var view dealpolicy.DealView
		decode(rec, &view)
		Expect(view.Deal.Status).To(BeEquivalentTo("invited"))
		Expect(view.Deal.TotalValue.String()).To(Equal("250.5"))
		Expect(view.AvailableActions).To(ConsistOf(BeEquivalentTo("cancelled")))
		return view.Deal.ID
	}

	transition := func(who, dealID, target, reason string) *httptest.ResponseRecorder {
		return do(http.MethodPost, "/deals/"+dealID+"/transition", who, map[string]string{
			"target_status": target,
			"reason":        reason,
		})
	}

	BeforeEach(func() {
		archive = &memoryArchive{objects: map[string][]byte{}}
		buildRouter(archive)
	})

	Context("without a valid token", func() {
		It("should answer 401", func() {
			rec := do(http.MethodGet, "/deals", "", nil)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/deals", nil)
			req.Header.Set("Authorization", "Bearer not-a-jwt")
			rec = httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))

			var body errorBody
			decode(rec, &body)
			Expect(body.Code).To(Equal("unauthenticated"))
		})
	})

	Context("when another brand asks for the deal", func() {
		It("should answer 404 exactly like a missing deal", func() {
			dealID := createDeal()

			foreign := do(http.MethodGet, "/deals/"+dealID, "other-brand", nil)
			missing := do(http.MethodGet, "/deals/00000000-0000-0000-0000-000000000000", "other-brand", nil)
			Expect(foreign.Code).To(Equal(http.StatusNotFound))
			Expect(missing.Code).To(Equal(http.StatusNotFound))
			Expect(foreign.Body.String()).To(Equal(missing.Body.String()))

			Expect(do(http.MethodGet, "/deals/"+dealID+"/messages", "other-brand", nil).Code).To(Equal(http.StatusNotFound))
			Expect(do(http.MethodPost, "/deals/"+dealID+"/messages", "other-brand", map[string]string{"content": "hi"}).Code).
				To(Equal(http.StatusNotFound))
		})
	})

	Describe("POST /deals/{dealId}/transition", func() {
		It("should apply a legal transition and describe an illegal one", func() {
			dealID := createDeal()

			rec := transition("influencer", dealID, "accepted", "")
			Expect(rec.Code).To(Equal(http.StatusOK), rec.Body.String())
			var view dealpolicy.DealView
			decode(rec, &view)
			Expect(view.Deal.Status).To(BeEquivalentTo("accepted"))
			Expect(view.Deal.Version).To(Equal(int64(2)))

			rec = transition("brand", dealID, "completed", "")
			Expect(rec.Code).To(Equal(http.StatusConflict))
			var body errorBody
			decode(rec, &body)
			Expect(body.Code).To(Equal("invalid_transition"))
			Expect(body.Error).To(ContainSubstring("completed"))
		})

		It("should answer 403 for the wrong side and 400 for a missing reason", func() {
			dealID := createDeal()

			Expect(transition("brand", dealID, "accepted", "").Code).To(Equal(http.StatusForbidden))
			Expect(transition("influencer", dealID, "rejected", "").Code).To(Equal(http.StatusBadRequest))
			Expect(transition("influencer", dealID, "bogus", "").Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("messaging", func() {
		It("should deliver, count and clear unread messages", func() {
			dealID := createDeal()
			Expect(transition("influencer", dealID, "accepted", "").Code).To(Equal(http.StatusOK))

			for _, content := range []string{"Welcome aboard", "Brief attached"} {
				rec := do(http.MethodPost, "/deals/"+dealID+"/messages", "brand", map[string]string{"content": content})
				Expect(rec.Code).To(Equal(http.StatusCreated), rec.Body.String())
			}

			rec := do(http.MethodGet, "/conversations", "influencer", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			var inbox struct {
				Conversations []struct {
					DealID      string `json:"deal_id"`
					UnreadCount int    `json:"unread_count"`
				} `json:"conversations"`
			}
			decode(rec, &inbox)
			Expect(inbox.Conversations).To(HaveLen(1))
			Expect(inbox.Conversations[0].UnreadCount).To(Equal(2))

			rec = do(http.MethodGet, "/deals/"+dealID+"/messages?limit=1", "influencer", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			var page struct {
				Messages []struct {
					Seq     int64  `json:"seq"`
					Content string `json:"content"`
				} `json:"messages"`
				NextCursor string `json:"next_cursor"`
				HasMore    bool   `json:"has_more"`
			}
			decode(rec, &page)
			Expect(page.Messages).To(HaveLen(1))
			Expect(page.Messages[0].Content).To(Equal("Welcome aboard"))
			Expect(page.HasMore).To(BeTrue())

			rec = do(http.MethodPost, "/deals/"+dealID+"/messages/read", "influencer", nil)
			Expect(rec.Code).To(Equal(http.StatusOK), rec.Body.String())
			var read convpolicy.MarkReadOutput
			decode(rec, &read)
			Expect(read.Cleared).To(Equal(2))
			Expect(read.Unread).To(BeZero())
		})

		It("should keep the conversation open after the deal is rejected", func() {
			dealID := createDeal()
			Expect(transition("influencer", dealID, "rejected", "Not a fit this season").Code).To(Equal(http.StatusOK))

			rec := do(http.MethodPost, "/deals/"+dealID+"/messages", "brand", map[string]string{"content": "Understood, maybe next time"})
			Expect(rec.Code).To(Equal(http.StatusCreated), rec.Body.String())

			Expect(transition("brand", dealID, "accepted", "").Code).To(Equal(http.StatusConflict))
		})

		It("should refuse empty messages and operator posts", func() {
			dealID := createDeal()

			rec := do(http.MethodPost, "/deals/"+dealID+"/messages", "brand", map[string]string{"content": "   "})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			var body errorBody
			decode(rec, &body)
			Expect(body.Code).To(Equal("empty_message"))

			Expect(do(http.MethodGet, "/deals/"+dealID+"/messages", "operator", nil).Code).To(Equal(http.StatusOK))
			Expect(do(http.MethodPost, "/deals/"+dealID+"/messages", "operator", map[string]string{"content": "hello"}).Code).
				To(Equal(http.StatusForbidden))
		})
	})

	Describe("POST /deals/{dealId}/messages/export", func() {
		It("should archive the transcript", func() {
			dealID := createDeal()
			Expect(do(http.MethodPost, "/deals/"+dealID+"/messages", "brand", map[string]string{"content": "For the record"}).Code).
				To(Equal(http.StatusCreated))

			rec := do(http.MethodPost, "/deals/"+dealID+"/messages/export", "operator", nil)
			Expect(rec.Code).To(Equal(http.StatusCreated), rec.Body.String())

			var out storage.ArchiveOutput
			decode(rec, &out)
			Expect(out.Key).To(HavePrefix("deals/" + dealID + "/transcript-"))

			var transcript convpolicy.Transcript
			Expect(json.Unmarshal(archive.objects[out.Key], &transcript)).To(Succeed())
			Expect(transcript.Messages).To(HaveLen(1))
			Expect(transcript.ExportedBy).To(Equal(identity.RoleOperator))
		})

		It("should answer 503 when no archive is configured", func() {
			buildRouter(nil)
			dealID := createDeal()
			Expect(do(http.MethodPost, "/deals/"+dealID+"/messages/export", "brand", nil).Code).
				To(Equal(http.StatusServiceUnavailable))
		})
	})
})
