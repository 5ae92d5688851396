package store_test

import (
	"errors"
	"path/filepath"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"

	"github.com/portalswap/portal/pkg/store"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Session store", func() {
	var sessions store.Store

	BeforeEach(func() {
		var err error
		sessions, err = store.NewStore(sqlite.Open(filepath.Join(GinkgoT().TempDir(), "portal.db")))
		Expect(err).To(BeNil())
	})

	newSession := func() store.Session {
		return store.Session{
			OrderID:    uuid.NewString(),
			Secret:     "deadbeef",
			SecretHash: "cafebabe",
			Phase:      store.HashlockCommitted,
			Leg1: store.Leg{
				Funder:        "alice",
				Counterparty:  "bob",
				Amount:        100,
				SafetyDeposit: 5,
				Timelocks:     "00112233445566778899aabbccddeeff",
			},
			Leg2: store.Leg{
				Funder:       "bob",
				Counterparty: "alice",
				Amount:       200,
				Deadline:     1700000045,
			},
		}
	}

	It("should round trip a session", func() {
		session := newSession()
		Expect(sessions.PutSession(session)).Should(Succeed())

		got, err := sessions.Session(session.OrderID)
		Expect(err).To(BeNil())
		Expect(got.SecretHash).Should(Equal(session.SecretHash))
		Expect(got.Leg1.Timelocks).Should(Equal(session.Leg1.Timelocks))
		Expect(got.Leg2.Deadline).Should(Equal(session.Leg2.Deadline))
		Expect(got.Phase).Should(Equal(store.HashlockCommitted))
	})

	It("should return an error for an unknown order id", func() {
		_, err := sessions.Session("no-such-order")
		Expect(err).ShouldNot(BeNil())
	})

	It("should persist updates including scrubbed fields", func() {
		session := newSession()
		Expect(sessions.PutSession(session)).Should(Succeed())

		session.Secret = ""
		session.Revealed = true
		session.Phase = store.Leg1Claimed
		session.Leg1.ClaimTx = "tx-123"
		session.Leg1.Outcome = store.LegClaimed
		Expect(sessions.UpdateSession(session)).Should(Succeed())

		got, err := sessions.Session(session.OrderID)
		Expect(err).To(BeNil())
		Expect(got.Secret).Should(BeEmpty())
		Expect(got.Revealed).Should(BeTrue())
		Expect(got.Leg1.ClaimTx).Should(Equal("tx-123"))
		Expect(got.Leg1.Outcome).Should(Equal(store.LegClaimed))
	})

	It("should update phase and error independently", func() {
		session := newSession()
		Expect(sessions.PutSession(session)).Should(Succeed())

		Expect(sessions.UpdatePhase(session.OrderID, store.Leg1Funded)).Should(Succeed())
		Expect(sessions.PutError(session.OrderID, errors.New("funding rejected"))).Should(Succeed())

		got, err := sessions.Session(session.OrderID)
		Expect(err).To(BeNil())
		Expect(got.Phase).Should(Equal(store.Leg1Funded))
		Expect(got.Error).Should(Equal("funding rejected"))
	})

	It("should list sessions", func() {
		first := newSession()
		second := newSession()
		Expect(sessions.PutSession(first)).Should(Succeed())
		Expect(sessions.PutSession(second)).Should(Succeed())

		all, err := sessions.Sessions()
		Expect(err).To(BeNil())
		Expect(len(all)).Should(Equal(2))
	})

	It("should reject duplicate order ids", func() {
		session := newSession()
		Expect(sessions.PutSession(session)).Should(Succeed())
		Expect(sessions.PutSession(session)).ShouldNot(Succeed())
	})
})

var _ = Describe("Protocol phases", func() {
	It("should name every reachable phase and mark the end states terminal", func() {
		names := map[store.Phase]string{
			store.Unknown:           "unknown",
			store.HashlockCommitted: "hashlockCommitted",
			store.Leg1Funded:        "leg1Funded",
			store.Leg2Funded:        "leg2Funded",
			store.SecretRevealed:    "secretRevealed",
			store.Leg1Claimed:       "leg1Claimed",
			store.Completed:         "completed",
			store.Aborted:           "aborted",
		}
		for phase, name := range names {
			Expect(phase.String()).Should(Equal(name))
		}
		Expect(store.Completed.Terminal()).Should(BeTrue())
		Expect(store.Aborted.Terminal()).Should(BeTrue())
		Expect(store.Leg1Claimed.Terminal()).Should(BeFalse())
	})
})

var _ = Describe("Action store", func() {
	It("should track dispatched actions", func() {
		actions := store.NewInMemStore()

		dispatched, err := actions.CheckAction(store.ActionFundLeg1, "order-1")
		Expect(err).To(BeNil())
		Expect(dispatched).Should(BeFalse())

		Expect(actions.StoreAction(store.ActionFundLeg1, "order-1")).Should(Succeed())

		dispatched, err = actions.CheckAction(store.ActionFundLeg1, "order-1")
		Expect(err).To(BeNil())
		Expect(dispatched).Should(BeTrue())

		By("Keeping other actions and orders independent")
		dispatched, err = actions.CheckAction(store.ActionFundLeg2, "order-1")
		Expect(err).To(BeNil())
		Expect(dispatched).Should(BeFalse())
		dispatched, err = actions.CheckAction(store.ActionFundLeg1, "order-2")
		Expect(err).To(BeNil())
		Expect(dispatched).Should(BeFalse())
	})

	It("should reject a malformed redis url", func() {
		_, err := store.NewRedisStore("://not-a-url")
		Expect(err).ShouldNot(BeNil())
	})
})
