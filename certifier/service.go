// Package certifier implements the signing oracle described in spec.md
// section 4.8: it verifies a submitted PoST proof (delegating to the
// verifying package) and, on success, signs the submitter's identity
// with an Ed25519 key under bounded-concurrency admission control.
package certifier

import (
	"crypto/ed25519"
	"encoding/binary"
	"time"

	"github.com/spacemeshos/post-rs/log"
	"github.com/spacemeshos/post-rs/randomx"
	"github.com/spacemeshos/post-rs/shared"
	"github.com/spacemeshos/post-rs/verifying"
)

var logger = log.Default().Module("certifier")

// Request is the decoded form of a POST /certify body (spec.md section
// 6.2).
type Request struct {
	NodeID   [shared.IdentitySize]byte
	Nonce    uint32
	Indices  []byte // packed-bit encoding, see proving.EncodeIndices
	PowNonce uint64
	Challenge     [shared.ChallengeSize]byte
	NumUnits      uint32
	LabelsPerUnit uint64
}

// Certificate is the signed response returned on a successful
// certification (spec.md section 4.8).
type Certificate struct {
	PubKey     [32]byte
	Signature  [64]byte
	Expiration *time.Time
}

// Service ties together the Ed25519 signing key, the verification
// parameters, and a bounded-concurrency admission gate (spec.md section
// 4.8/5). The gate itself lives in the HTTP layer (see handler.go);
// Service.Certify is the CPU-bound unit that runs inside it.
type Service struct {
	signingKey ed25519.PrivateKey
	pubKey     [32]byte

	init shared.InitConfig
	post shared.PostConfig
	pow  *randomx.Engine

	ttl time.Duration
}

// NewService constructs a Service from a 32-byte Ed25519 seed.
func NewService(seed [32]byte, init shared.InitConfig, post shared.PostConfig, pow *randomx.Engine, ttl time.Duration) *Service {
	priv := ed25519.NewKeyFromSeed(seed[:])
	pub := priv.Public().(ed25519.PublicKey)
	var pk [32]byte
	copy(pk[:], pub)
	return &Service{signingKey: priv, pubKey: pk, init: init, post: post, pow: pow, ttl: ttl}
}

// PubKey returns the service's Ed25519 public key.
func (s *Service) PubKey() [32]byte { return s.pubKey }

// Certify verifies req and, if valid, signs req.NodeID (plus an
// optional expiration) under the service's signing key (spec.md section
// 4.8 step 2-3). A *shared.ProofInvalidError describes why
// certification was refused; any other error comes from the K2-PoW
// engine itself.
func (s *Service) Certify(req Request) (Certificate, error) {
	numLabels := shared.NumLabels(req.NumUnits, req.LabelsPerUnit)
	proof, err := verifying.DecodeProof(req.Nonce, req.PowNonce, req.Indices, numLabels, s.post.K2)
	if err != nil {
		return Certificate{}, err
	}

	meta := shared.Metadata{
		NodeID:        req.NodeID,
		Challenge:     req.Challenge,
		NumUnits:      req.NumUnits,
		LabelsPerUnit: req.LabelsPerUnit,
		// CommitmentAtxID is not part of the wire request (spec.md
		// section 6.2); the certifier has no independent source for it,
		// so it verifies against the zero commitment. See DESIGN.md.
	}

	if err := verifying.Verify(proof, meta, s.post, s.init, s.pow); err != nil {
		return Certificate{}, err
	}

	var expiration *time.Time
	var payload []byte
	payload = append(payload, req.NodeID[:]...)
	if s.ttl > 0 {
		exp := time.Now().Add(s.ttl)
		expiration = &exp
		var le [8]byte
		binary.LittleEndian.PutUint64(le[:], uint64(exp.Unix()))
		payload = append(payload, le[:]...)
	}

	sig := ed25519.Sign(s.signingKey, payload)
	var cert Certificate
	cert.PubKey = s.pubKey
	copy(cert.Signature[:], sig)
	cert.Expiration = expiration

	logger.Info("certified proof", "node_id_prefix", req.NodeID[:4])
	return cert, nil
}
