// Package integration assembles deterministic fake networks: every node
// started with the same validator count derives the same keys, the same
// genesis block and therefore the same nethash.
package integration

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/Fantom-foundation/lachesis-base/common/bigendian"
	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rony4d/go-asset-bft/crypto/bls"
	"github.com/rony4d/go-asset-bft/inter/validatorpk"
	"github.com/rony4d/go-asset-bft/network"
	"github.com/rony4d/go-asset-bft/network/genesis"
	"github.com/rony4d/go-asset-bft/validatorset"
)

// FakeGenesisTime is the timestamp of every fake genesis block.
const FakeGenesisTime = 1700000000

// FakeBalance is the initial balance of every fake validator wallet.
var FakeBalance = new(big.Int).Mul(big.NewInt(1e8), big.NewInt(1e8))

func seed(domain string, n int) []byte {
	return hash.Of([]byte(domain), bigendian.Uint64ToBytes(uint64(n))).Bytes()
}

// FakeKey returns the wallet key of fake validator n. Key 0 is reserved
// for the genesis minter, validators start at 1.
func FakeKey(n int) *ecdsa.PrivateKey {
	key, err := crypto.ToECDSA(seed("fakenet wallet", n))
	if err != nil {
		panic(err)
	}
	return key
}

// FakeConsensusKey returns the BLS signer of fake validator n.
func FakeConsensusKey(n int) *bls.Signer {
	s, err := bls.NewSigner(seed("fakenet consensus", n))
	if err != nil {
		panic(err)
	}
	return s
}

// FakeValidatorKeys returns the registration keys of validators 1..n.
func FakeValidatorKeys(n int) []validatorset.Keys {
	keys := make([]validatorset.Keys, n)
	for i := range keys {
		keys[i] = validatorset.Keys{
			Wallet:    validatorpk.Secp256k1(crypto.CompressPubkey(&FakeKey(i + 1).PublicKey)),
			Consensus: validatorpk.BLS(FakeConsensusKey(i + 1).PublicKey().Bytes()),
		}
	}
	return keys
}

// FakeGenesis builds a network of n validators, each funded with FakeBalance.
func FakeGenesis(n int) (*genesis.Genesis, error) {
	alloc := make([]genesis.Account, n)
	for i := range alloc {
		alloc[i] = genesis.Account{
			Address: crypto.PubkeyToAddress(FakeKey(i + 1).PublicKey),
			Balance: new(big.Int).Set(FakeBalance),
		}
	}
	return genesis.New(network.FakeNetRules(n), FakeValidatorKeys(n), alloc, FakeKey(0), FakeGenesisTime)
}

// ParseFakeNet parses "i/N": this node runs validator i (1-based) of N.
func ParseFakeNet(s string) (id, num int, err error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("fakenet: expected i/N, got %q", s)
	}
	id, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("fakenet: parse validator id: %v", err)
	}
	num, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("fakenet: parse validator count: %v", err)
	}
	if num < 1 || id < 0 || id > num {
		return 0, 0, fmt.Errorf("fakenet: validator %d out of range 0..%d", id, num)
	}
	return id, num, nil
}
