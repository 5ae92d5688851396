package keys_test

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/portalswap/portal/pkg/keys"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Key derivation", func() {
	var seed []byte

	BeforeEach(func() {
		mnemonic, err := keys.NewMnemonic()
		Expect(err).To(BeNil())
		seed, err = keys.SeedFromMnemonic(mnemonic)
		Expect(err).To(BeNil())
	})

	It("should derive deterministic keys per chain and selector", func() {
		key1, err := keys.LoadKey(seed, keys.EthereumLocal, 0, 0)
		Expect(err).To(BeNil())
		key2, err := keys.LoadKey(seed, keys.EthereumLocal, 0, 0)
		Expect(err).To(BeNil())

		addr1, err := key1.EvmAddress()
		Expect(err).To(BeNil())
		addr2, err := key2.EvmAddress()
		Expect(err).To(BeNil())
		Expect(addr1).Should(Equal(addr2))
	})

	It("should derive different keys for different selectors", func() {
		key1, err := keys.LoadKey(seed, keys.BitcoinRegtest, 0, 0)
		Expect(err).To(BeNil())
		key2, err := keys.LoadKey(seed, keys.BitcoinRegtest, 0, 1)
		Expect(err).To(BeNil())

		addr1, err := key1.WitnessAddress(&chaincfg.RegressionNetParams)
		Expect(err).To(BeNil())
		addr2, err := key2.WitnessAddress(&chaincfg.RegressionNetParams)
		Expect(err).To(BeNil())
		Expect(addr1.EncodeAddress()).ShouldNot(Equal(addr2.EncodeAddress()))
	})

	It("should reject an invalid mnemonic", func() {
		_, err := keys.SeedFromMnemonic("definitely not a valid mnemonic phrase")
		Expect(err).ShouldNot(BeNil())
	})

	It("should reject an unknown chain", func() {
		_, err := keys.LoadKey(seed, keys.Chain("dogecoin"), 0, 0)
		Expect(err).ShouldNot(BeNil())
	})

	It("should cache derived keys", func() {
		registry := keys.NewKeys(seed)
		key1, err := registry.GetKey(keys.Ethereum, 1, 2)
		Expect(err).To(BeNil())
		key2, err := registry.GetKey(keys.Ethereum, 1, 2)
		Expect(err).To(BeNil())
		Expect(key1).Should(BeIdenticalTo(key2))
	})
})
