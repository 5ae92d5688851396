package coordinator_test

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/lightningnetwork/lnd/clock"
	"gorm.io/driver/sqlite"

	"github.com/portalswap/portal/pkg/coordinator"
	"github.com/portalswap/portal/pkg/escrow"
	"github.com/portalswap/portal/pkg/ledger/sim"
	"github.com/portalswap/portal/pkg/secret"
	"github.com/portalswap/portal/pkg/store"
	"github.com/portalswap/portal/pkg/timelock"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// driveExecute runs Execute in the background while walking the test clock
// forward one second at a time, mimicking ledger time passing underneath the
// running session.
func driveExecute(ctx context.Context, clk *clock.TestClock, start time.Time, coord *coordinator.Coordinator, orderID string) error {
	done := make(chan error, 1)
	go func() {
		done <- coord.Execute(ctx, orderID)
	}()
	for i := 1; ; i++ {
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Millisecond):
			clk.SetTime(start.Add(time.Duration(i) * time.Second))
		}
	}
}

var _ = Describe("Swap coordinator", func() {
	var (
		start    time.Time
		clk      *clock.TestClock
		leg1     *sim.StagedLedger
		leg2     *sim.HTLCLedger
		sessions store.Store
		coord    *coordinator.Coordinator
		terms    coordinator.Terms
	)

	BeforeEach(func() {
		start = time.Unix(1700000000, 0).UTC()
		clk = clock.NewTestClock(start)

		book1 := escrow.NewBook()
		book1.Deposit("alice", 1000)
		book2 := escrow.NewBook()
		book2.Deposit("bob", 1000)

		// Bob operates the coordinator: he claims alice's escrow on
		// ledger 1 and receives the dependent leg on ledger 2.
		leg1 = sim.NewStaged(book1, clk, "bob")
		leg2 = sim.NewHTLC(book2, clk)

		var err error
		sessions, err = store.NewStore(sqlite.Open(filepath.Join(GinkgoT().TempDir(), "portal.db")))
		Expect(err).To(BeNil())

		coord = coordinator.New(coordinator.Config{
			Logger:   logger,
			Store:    sessions,
			Actions:  store.NewInMemStore(),
			Leg1:     leg1,
			Leg2:     leg2,
			Clock:    clk,
			Margin:   5 * time.Second,
			PollRate: time.Second,
		})

		terms = coordinator.Terms{
			Leg1: coordinator.LegTerms{
				Funder:        "alice",
				Counterparty:  "bob",
				Amount:        100,
				SafetyDeposit: 5,
			},
			Leg1Offsets: timelock.Offsets{
				Withdraw:       10,
				PublicWithdraw: 20,
				Cancel:         30,
			},
			Leg2: coordinator.LegTerms{
				Funder:       "bob",
				Counterparty: "alice",
				Amount:       200,
			},
			Leg2Window: 45 * time.Second,
		}
	})

	Context("when both parties cooperate", func() {
		It("should complete the swap and scrub the secret", func(ctx context.Context) {
			By("Creating the session")
			session, err := coord.CreateSession(ctx, terms)
			Expect(err).To(BeNil())
			Expect(session.Phase).Should(Equal(store.HashlockCommitted))
			Expect(session.SecretHash).ShouldNot(BeEmpty())

			By("Funding the revealing leg")
			Expect(coord.FundLeg(ctx, session.OrderID, coordinator.Leg1)).Should(Succeed())
			By("Funding the dependent leg")
			Expect(coord.FundLeg(ctx, session.OrderID, coordinator.Leg2)).Should(Succeed())
			Expect(leg1.Book().Balance("alice")).Should(Equal(uint64(895)))
			Expect(leg2.Book().Balance("bob")).Should(Equal(uint64(800)))

			By("Waiting for the private withdraw window to open")
			clk.SetTime(start.Add(12 * time.Second))

			By("Claiming the revealing leg, making the secret public")
			extracted, err := coord.RevealAndClaim(ctx, session.OrderID)
			Expect(err).To(BeNil())
			By(color.GreenString("Secret revealed on ledger 1: %v", extracted.Hex()))

			lock, err := secret.HashlockFromHex(session.SecretHash)
			Expect(err).To(BeNil())
			Expect(secret.Verify(extracted, lock)).Should(BeTrue())

			By("Claiming the dependent leg with the extracted secret")
			Expect(coord.ClaimDependentLeg(ctx, session.OrderID, extracted)).Should(Succeed())

			By("Checking final balances")
			Expect(leg1.Book().Balance("bob")).Should(Equal(uint64(105)))
			Expect(leg2.Book().Balance("alice")).Should(Equal(uint64(200)))

			By("Checking the persisted session")
			final, err := coord.Session(session.OrderID)
			Expect(err).To(BeNil())
			Expect(final.Phase).Should(Equal(store.Completed))
			Expect(final.Revealed).Should(BeTrue())
			Expect(final.Secret).Should(BeEmpty())
			Expect(final.Leg1.Outcome).Should(Equal(store.LegClaimed))
			Expect(final.Leg2.Outcome).Should(Equal(store.LegClaimed))
		})

		It("should refuse to fund legs out of order", func(ctx context.Context) {
			session, err := coord.CreateSession(ctx, terms)
			Expect(err).To(BeNil())

			err = coord.FundLeg(ctx, session.OrderID, coordinator.Leg2)
			Expect(err).Should(MatchError(coordinator.ErrWrongPhase))
		})

		It("should dispatch each escrow operation at most once", func(ctx context.Context) {
			session, err := coord.CreateSession(ctx, terms)
			Expect(err).To(BeNil())
			Expect(coord.FundLeg(ctx, session.OrderID, coordinator.Leg1)).Should(Succeed())

			By("Winding the session back as a crashed process would see it")
			session, err = coord.Session(session.OrderID)
			Expect(err).To(BeNil())
			session.Phase = store.HashlockCommitted
			Expect(sessions.UpdateSession(session)).Should(Succeed())

			err = coord.FundLeg(ctx, session.OrderID, coordinator.Leg1)
			Expect(err).Should(MatchError(coordinator.ErrOperationInFlight))
		})
	})

	Context("when the schedules leave no margin between the legs", func() {
		It("should reject the session before any funds move", func(ctx context.Context) {
			terms.Leg2Window = 20 * time.Second

			_, err := coord.CreateSession(ctx, terms)
			Expect(err).Should(MatchError(coordinator.ErrUnsafeTimelocks))
			Expect(leg1.Book().Balance("alice")).Should(Equal(uint64(1000)))
			Expect(leg2.Book().Balance("bob")).Should(Equal(uint64(1000)))
		})
	})

	Context("when the dependent leg never funds", func() {
		It("should recover the revealing leg without touching the secret", func(ctx context.Context) {
			session, err := coord.CreateSession(ctx, terms)
			Expect(err).To(BeNil())
			Expect(coord.FundLeg(ctx, session.OrderID, coordinator.Leg1)).Should(Succeed())

			By("Breaking the dependent leg's submission path")
			leg2.FailFunding = true
			err = coord.FundLeg(ctx, session.OrderID, coordinator.Leg2)
			Expect(err).ShouldNot(BeNil())
			Expect(coordinator.Retryable(err)).Should(BeTrue())

			By("Waiting out the cancel boundary")
			clk.SetTime(start.Add(31 * time.Second))

			By("Aborting the session")
			report, err := coord.AbortSession(ctx, session.OrderID)
			Expect(err).To(BeNil())
			Expect(report.SecretRevealed).Should(BeFalse())
			Expect(report.Leg1Outcome).Should(Equal(store.LegCancelled))
			Expect(report.Leg2Outcome).Should(Equal(store.LegNeverFunded))

			By("Checking the funder was made whole")
			Expect(leg1.Book().Balance("alice")).Should(Equal(uint64(995)))
			Expect(leg1.Book().Balance("bob")).Should(Equal(uint64(5)))

			final, err := coord.Session(session.OrderID)
			Expect(err).To(BeNil())
			Expect(final.Phase).Should(Equal(store.Aborted))
		})

		It("should abort idempotently", func(ctx context.Context) {
			session, err := coord.CreateSession(ctx, terms)
			Expect(err).To(BeNil())
			Expect(coord.FundLeg(ctx, session.OrderID, coordinator.Leg1)).Should(Succeed())

			clk.SetTime(start.Add(31 * time.Second))
			first, err := coord.AbortSession(ctx, session.OrderID)
			Expect(err).To(BeNil())

			second, err := coord.AbortSession(ctx, session.OrderID)
			Expect(err).To(BeNil())
			Expect(second).Should(Equal(first))
			Expect(leg1.Book().Balance("alice")).Should(Equal(uint64(995)))
		})
	})

	Context("when the extracted secret does not match the hashlock", func() {
		It("should refuse the dependent claim", func(ctx context.Context) {
			session, err := coord.CreateSession(ctx, terms)
			Expect(err).To(BeNil())
			Expect(coord.FundLeg(ctx, session.OrderID, coordinator.Leg1)).Should(Succeed())
			Expect(coord.FundLeg(ctx, session.OrderID, coordinator.Leg2)).Should(Succeed())

			clk.SetTime(start.Add(12 * time.Second))
			_, err = coord.RevealAndClaim(ctx, session.OrderID)
			Expect(err).To(BeNil())

			wrong, err := secret.New()
			Expect(err).To(BeNil())

			err = coord.ClaimDependentLeg(ctx, session.OrderID, wrong)
			Expect(err).Should(MatchError(coordinator.ErrSecretMismatch))
			Expect(coordinator.Fatal(err)).Should(BeTrue())
			Expect(leg2.Book().Balance("alice")).Should(Equal(uint64(0)))
		})
	})

	Context("when a session is driven end to end", func() {
		It("should wait out the pending stage and complete the swap", func(ctx context.Context) {
			By("Widening the windows so wall-clock stepping cannot overshoot them")
			terms.Leg1Offsets = timelock.Offsets{
				Withdraw:       10,
				PublicWithdraw: 600,
				Cancel:         1200,
			}
			terms.Leg2Window = 3600 * time.Second

			session, err := coord.CreateSession(ctx, terms)
			Expect(err).To(BeNil())

			By("Driving the session across the stage boundaries")
			Expect(driveExecute(ctx, clk, start, coord, session.OrderID)).Should(Succeed())

			final, err := coord.Session(session.OrderID)
			Expect(err).To(BeNil())
			Expect(final.Phase).Should(Equal(store.Completed))
			Expect(final.Revealed).Should(BeTrue())
			Expect(final.Secret).Should(BeEmpty())
			Expect(final.Leg1.Outcome).Should(Equal(store.LegClaimed))
			Expect(final.Leg2.Outcome).Should(Equal(store.LegClaimed))
			Expect(leg1.Book().Balance("bob")).Should(Equal(uint64(105)))
			Expect(leg2.Book().Balance("alice")).Should(Equal(uint64(200)))
		})

		It("should fall back to the abort path when the dependent leg never funds", func(ctx context.Context) {
			leg2.FailFunding = true

			session, err := coord.CreateSession(ctx, terms)
			Expect(err).To(BeNil())

			err = driveExecute(ctx, clk, start, coord, session.OrderID)
			Expect(err).ShouldNot(BeNil())

			final, err := coord.Session(session.OrderID)
			Expect(err).To(BeNil())
			Expect(final.Phase).Should(Equal(store.Aborted))
			Expect(final.Leg1.Outcome).Should(Equal(store.LegCancelled))
			Expect(final.Leg2.Outcome).Should(Equal(store.LegNeverFunded))
			Expect(leg1.Book().Balance("alice")).Should(Equal(uint64(995)))
			Expect(leg1.Book().Balance("bob")).Should(Equal(uint64(5)))
		})
	})

	Context("when claiming before the withdraw window opens", func() {
		It("should be rejected by the ledger and be retryable", func(ctx context.Context) {
			session, err := coord.CreateSession(ctx, terms)
			Expect(err).To(BeNil())
			Expect(coord.FundLeg(ctx, session.OrderID, coordinator.Leg1)).Should(Succeed())
			Expect(coord.FundLeg(ctx, session.OrderID, coordinator.Leg2)).Should(Succeed())

			_, err = coord.RevealAndClaim(ctx, session.OrderID)
			Expect(err).Should(MatchError(escrow.ErrWrongStage))
			Expect(coordinator.Retryable(err)).Should(BeTrue())
		})
	})
})
