package timelock_test

import (
	"math"
	"math/rand"
	"time"

	"github.com/portalswap/portal/pkg/timelock"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("timelock codec", func() {
	deployedAt := time.Unix(1700000000, 0).UTC()
	offsets := timelock.Offsets{
		Withdraw:       10,
		PublicWithdraw: 20,
		Cancel:         30,
	}

	Context("when encoding a schedule", func() {
		It("should round-trip through the packed word", func() {
			for i := 0; i < 100; i++ {
				withdraw := rand.Uint32() % (math.MaxUint32 - 3000)
				offsets := timelock.Offsets{
					Withdraw:       withdraw,
					PublicWithdraw: withdraw + 1 + rand.Uint32()%1000,
				}
				offsets.Cancel = offsets.PublicWithdraw + 1 + rand.Uint32()%1000
				deployedAt := time.Unix(rand.Int63n(math.MaxUint32), 0).UTC()

				word, err := timelock.Encode(deployedAt, offsets)
				Expect(err).Should(BeNil())

				schedule := word.Decode()
				Expect(schedule.DeployedAt).Should(Equal(deployedAt))
				Expect(schedule.Offsets).Should(Equal(offsets))

				reencoded, err := schedule.Encode()
				Expect(err).Should(BeNil())
				Expect(reencoded).Should(Equal(word))
			}
		})

		It("should derive absolute checkpoints from the deployment time", func() {
			word, err := timelock.Encode(deployedAt, offsets)
			Expect(err).Should(BeNil())

			schedule := word.Decode()
			Expect(schedule.WithdrawAt()).Should(Equal(deployedAt.Add(10 * time.Second)))
			Expect(schedule.PublicWithdrawAt()).Should(Equal(deployedAt.Add(20 * time.Second)))
			Expect(schedule.CancelAt()).Should(Equal(deployedAt.Add(30 * time.Second)))
		})

		It("should reject a deployment time outside 32 bits", func() {
			_, err := timelock.Encode(time.Unix(math.MaxUint32+1, 0), offsets)
			Expect(err).Should(MatchError(timelock.ErrOffsetOverflow))
			_, err = timelock.Encode(time.Unix(-1, 0), offsets)
			Expect(err).Should(MatchError(timelock.ErrOffsetOverflow))
		})

		It("should reject offsets which are not strictly increasing", func() {
			_, err := timelock.Encode(deployedAt, timelock.Offsets{Withdraw: 10, PublicWithdraw: 10, Cancel: 30})
			Expect(err).Should(MatchError(timelock.ErrUnorderedOffsets))
			_, err = timelock.Encode(deployedAt, timelock.Offsets{Withdraw: 20, PublicWithdraw: 10, Cancel: 30})
			Expect(err).Should(MatchError(timelock.ErrUnorderedOffsets))
			_, err = timelock.Encode(deployedAt, timelock.Offsets{Withdraw: 10, PublicWithdraw: 30, Cancel: 30})
			Expect(err).Should(MatchError(timelock.ErrUnorderedOffsets))
		})

		It("should round-trip through hex", func() {
			word, err := timelock.Encode(deployedAt, offsets)
			Expect(err).Should(BeNil())

			parsed, err := timelock.FromHex(word.Hex())
			Expect(err).Should(BeNil())
			Expect(parsed).Should(Equal(word))
		})

		It("should reject malformed words", func() {
			_, err := timelock.FromBytes(make([]byte, 15))
			Expect(err).Should(MatchError(timelock.ErrMalformedWord))
		})
	})

	Context("when evaluating the active stage", func() {
		var word timelock.Word

		BeforeEach(func() {
			var err error
			word, err = timelock.Encode(deployedAt, offsets)
			Expect(err).Should(BeNil())
		})

		It("should walk through the stages in order", func() {
			Expect(word.ActiveStage(deployedAt)).Should(Equal(timelock.StagePending))
			Expect(word.ActiveStage(deployedAt.Add(9 * time.Second))).Should(Equal(timelock.StagePending))
			Expect(word.ActiveStage(deployedAt.Add(10 * time.Second))).Should(Equal(timelock.StageWithdraw))
			Expect(word.ActiveStage(deployedAt.Add(19 * time.Second))).Should(Equal(timelock.StageWithdraw))
			Expect(word.ActiveStage(deployedAt.Add(20 * time.Second))).Should(Equal(timelock.StagePublicWithdraw))
			Expect(word.ActiveStage(deployedAt.Add(29 * time.Second))).Should(Equal(timelock.StagePublicWithdraw))
			Expect(word.ActiveStage(deployedAt.Add(30 * time.Second))).Should(Equal(timelock.StageCancel))
			Expect(word.ActiveStage(deployedAt.Add(24 * time.Hour))).Should(Equal(timelock.StageCancel))
		})

		It("should never return an earlier stage for a later clock", func() {
			prev := timelock.StagePending
			for offset := time.Duration(0); offset <= 40*time.Second; offset += time.Second {
				stage := word.ActiveStage(deployedAt.Add(offset))
				Expect(stage >= prev).Should(BeTrue())
				prev = stage
			}
		})
	})
})
