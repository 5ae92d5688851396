package htlc_test

import (
	"time"

	"github.com/portalswap/portal/pkg/escrow"
	"github.com/portalswap/portal/pkg/escrow/htlc"
	"github.com/portalswap/portal/pkg/secret"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("single-stage htlc", func() {
	var (
		book     *escrow.Book
		sec      secret.Secret
		deadline time.Time
	)

	const (
		funder   = "bob"
		claimant = "alice"
		amount   = uint64(500)
	)

	BeforeEach(func() {
		var err error
		book = escrow.NewBook()
		book.Deposit(funder, 1000)

		sec, err = secret.New()
		Expect(err).Should(BeNil())
		deadline = time.Unix(1700000000, 0).UTC().Add(15 * time.Second)
	})

	fund := func() *htlc.HTLC {
		h, err := htlc.Fund(book, funder, claimant, sec.Hashlock(), amount, deadline)
		Expect(err).Should(BeNil())
		return h
	}

	Context("when funding", func() {
		It("should lock the principal from the funder", func() {
			h := fund()
			Expect(book.Balance(funder)).Should(Equal(uint64(500)))
			Expect(book.Balance(h.Address)).Should(Equal(amount))
			Expect(h.State()).Should(Equal(htlc.Funded))
		})

		It("should fail when the funder cannot cover the principal", func() {
			book.Deposit("mallory", 499)
			_, err := htlc.Fund(book, "mallory", claimant, sec.Hashlock(), amount, deadline)
			Expect(err).Should(MatchError(escrow.ErrInsufficientFunds))
		})
	})

	Context("strictly before the deadline", func() {
		It("should release the principal on a valid claim", func() {
			h := fund()
			Expect(h.Claim(sec, deadline.Add(-7*time.Second))).Should(Succeed())
			Expect(h.State()).Should(Equal(htlc.Claimed))
			Expect(book.Balance(claimant)).Should(Equal(amount))
		})

		It("should reject an invalid secret without moving funds", func() {
			h := fund()
			wrong, err := secret.New()
			Expect(err).Should(BeNil())

			Expect(h.Claim(wrong, deadline.Add(-7*time.Second))).Should(MatchError(escrow.ErrInvalidSecret))
			Expect(h.State()).Should(Equal(htlc.Funded))
			Expect(book.Balance(h.Address)).Should(Equal(amount))
			Expect(book.Balance(claimant)).Should(Equal(uint64(0)))
		})

		It("should reject a refund", func() {
			h := fund()
			Expect(h.Refund(deadline.Add(-time.Second))).Should(MatchError(escrow.ErrTimelockNotExpired))
			Expect(h.State()).Should(Equal(htlc.Funded))
		})
	})

	Context("at or after the deadline", func() {
		It("should reject claims", func() {
			h := fund()
			Expect(h.Claim(sec, deadline)).Should(MatchError(escrow.ErrTimelockExpired))
			Expect(h.Claim(sec, deadline.Add(time.Hour))).Should(MatchError(escrow.ErrTimelockExpired))
		})

		It("should return the principal to the funder on refund", func() {
			h := fund()
			Expect(h.Refund(deadline)).Should(Succeed())
			Expect(h.State()).Should(Equal(htlc.Refunded))
			Expect(book.Balance(funder)).Should(Equal(uint64(1000)))
		})
	})

	Context("after a terminal transition", func() {
		It("should fail every subsequent operation with ErrAlreadyTerminal", func() {
			h := fund()
			Expect(h.Claim(sec, deadline.Add(-time.Second))).Should(Succeed())

			Expect(h.Claim(sec, deadline.Add(-time.Second))).Should(MatchError(escrow.ErrAlreadyTerminal))
			Expect(h.Refund(deadline)).Should(MatchError(escrow.ErrAlreadyTerminal))
			Expect(h.State()).Should(Equal(htlc.Claimed))
		})

		It("should never allow claim after refund", func() {
			h := fund()
			Expect(h.Refund(deadline)).Should(Succeed())
			Expect(h.Claim(sec, deadline.Add(-time.Second))).Should(MatchError(escrow.ErrAlreadyTerminal))
		})
	})
})
