package btc_test

import (
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/portalswap/portal/pkg/ledger/btc"
	"github.com/portalswap/portal/pkg/secret"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func newAddress(network *chaincfg.Params) btcutil.Address {
	key, err := btcec.NewPrivateKey()
	Expect(err).Should(BeNil())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(key.PubKey().SerializeCompressed()), network)
	Expect(err).Should(BeNil())
	return addr
}

var _ = Describe("htlc script", func() {
	network := &chaincfg.RegressionNetParams
	deadline := time.Unix(1700000000, 0).UTC().Add(24 * time.Hour)

	Context("when building the swap script", func() {
		It("should derive a deterministic p2wsh address", func() {
			funder := newAddress(network)
			claimant := newAddress(network)
			sec, err := secret.New()
			Expect(err).Should(BeNil())

			swap1, err := btc.NewSwap(network, funder, claimant, sec.Hashlock(), 100000, deadline)
			Expect(err).Should(BeNil())
			swap2, err := btc.NewSwap(network, funder, claimant, sec.Hashlock(), 100000, deadline)
			Expect(err).Should(BeNil())

			Expect(swap1.Address.EncodeAddress()).Should(Equal(swap2.Address.EncodeAddress()))
			Expect(swap1.Script).Should(Equal(swap2.Script))
		})

		It("should change the address when any term changes", func() {
			funder := newAddress(network)
			claimant := newAddress(network)
			sec1, err := secret.New()
			Expect(err).Should(BeNil())
			sec2, err := secret.New()
			Expect(err).Should(BeNil())

			swap1, err := btc.NewSwap(network, funder, claimant, sec1.Hashlock(), 100000, deadline)
			Expect(err).Should(BeNil())
			swap2, err := btc.NewSwap(network, funder, claimant, sec2.Hashlock(), 100000, deadline)
			Expect(err).Should(BeNil())
			swap3, err := btc.NewSwap(network, funder, claimant, sec1.Hashlock(), 100000, deadline.Add(time.Hour))
			Expect(err).Should(BeNil())

			Expect(swap1.Address.EncodeAddress()).ShouldNot(Equal(swap2.Address.EncodeAddress()))
			Expect(swap1.Address.EncodeAddress()).ShouldNot(Equal(swap3.Address.EncodeAddress()))
		})

		It("should contain the sha256 hashlock and the locktime", func() {
			funder := newAddress(network)
			claimant := newAddress(network)
			sec, err := secret.New()
			Expect(err).Should(BeNil())
			lock := sec.Hashlock()

			script, err := btc.HtlcScript(funder.ScriptAddress(), claimant.ScriptAddress(), lock, deadline)
			Expect(err).Should(BeNil())

			disasm, err := txscript.DisasmString(script)
			Expect(err).Should(BeNil())
			Expect(disasm).Should(ContainSubstring(hex.EncodeToString(lock[:])))
			Expect(disasm).Should(ContainSubstring("OP_CHECKLOCKTIMEVERIFY"))
			Expect(disasm).Should(ContainSubstring("OP_SHA256"))
		})

		It("should reject malformed pubkey hashes", func() {
			sec, err := secret.New()
			Expect(err).Should(BeNil())

			_, err = btc.HtlcScript(make([]byte, 19), make([]byte, 20), sec.Hashlock(), deadline)
			Expect(err).Should(HaveOccurred())
		})
	})

	Context("when reading a claim witness", func() {
		It("should recover the preimage from the witness stack", func() {
			sec, err := secret.New()
			Expect(err).Should(BeNil())

			witness := [][]byte{
				make([]byte, 72),
				make([]byte, 33),
				sec[:],
				{0x01},
				make([]byte, 90),
			}
			got, ok := btc.SecretFromWitness(witness)
			Expect(ok).Should(BeTrue())
			Expect(got).Should(Equal(sec))
		})

		It("should ignore refund spends", func() {
			_, ok := btc.SecretFromWitness([][]byte{
				make([]byte, 72),
				make([]byte, 33),
				{},
				make([]byte, 90),
			})
			Expect(ok).Should(BeFalse())
		})
	})
})
