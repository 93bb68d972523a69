package frost

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stacks-network/gsigner/log"
)

// Signer is the per-participant protocol state machine. It answers the
// coordinator's round-driving packets and its peers' share broadcasts,
// producing outbound packets of its own.
//
// Signer methods are not safe for concurrent use; the run-loop is the
// single writer.
type Signer struct {
	Threshold    uint32
	DkgThreshold uint32
	TotalSigners uint32
	TotalKeys    uint32
	SignerID     uint32
	KeyIDs       []uint32
	PrivKey      *btcec.PrivateKey
	PublicKeys   *PublicKeys

	logger log.Logger

	// DKG round state.
	dkgID        uint64
	poly         []*secp256k1.ModNScalar
	commitments  map[uint32][]*btcec.PublicKey
	shares       map[uint32]map[uint32]*secp256k1.ModNScalar
	dkgEnded     bool
	groupKey     *btcec.PublicKey
	secretShares map[uint32]*secp256k1.ModNScalar

	// Signing round state.
	signID       uint64
	hidingNonce  *secp256k1.ModNScalar
	bindingNonce *secp256k1.ModNScalar
}

// NewSigner creates the signing-round state machine for one participant.
func NewSigner(threshold, dkgThreshold, totalSigners, totalKeys, signerID uint32, keyIDs []uint32, priv *btcec.PrivateKey, publicKeys *PublicKeys) *Signer {
	return &Signer{
		Threshold:    threshold,
		DkgThreshold: dkgThreshold,
		TotalSigners: totalSigners,
		TotalKeys:    totalKeys,
		SignerID:     signerID,
		KeyIDs:       append([]uint32(nil), keyIDs...),
		PrivKey:      priv,
		PublicKeys:   publicKeys,
		logger:       log.New("signer", signerID),
	}
}

// GroupKey returns the aggregate public key once DKG has completed.
func (s *Signer) GroupKey() *btcec.PublicKey { return s.groupKey }

// ProcessInboundMessages feeds verified packets through the state
// machine and returns the outbound packets they provoke.
func (s *Signer) ProcessInboundMessages(packets []*Packet) ([]*Packet, error) {
	var out []*Packet
	for _, p := range packets {
		msgs, err := s.processMessage(p.Msg)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			signed := &Packet{Msg: m}
			if err := signed.Sign(s.PrivKey); err != nil {
				return nil, fmt.Errorf("frost: failed to sign outbound packet: %w", err)
			}
			out = append(out, signed)
		}
	}
	return out, nil
}

func (s *Signer) processMessage(msg Message) ([]Message, error) {
	switch m := msg.(type) {
	case *DkgBegin:
		return s.handleDkgBegin(m)
	case *DkgPublicShares:
		return nil, s.handleDkgPublicShares(m)
	case *DkgPrivateBegin:
		return s.handleDkgPrivateBegin(m)
	case *DkgPrivateShares:
		return s.handleDkgPrivateShares(m)
	case *NonceRequest:
		return s.handleNonceRequest(m)
	case *SignatureShareRequest:
		return s.handleSignatureShareRequest(m)
	default:
		// DkgEnd, NonceResponse and SignatureShareResponse are consumed
		// by the coordinator role only.
		return nil, nil
	}
}

func (s *Signer) handleDkgBegin(m *DkgBegin) ([]Message, error) {
	s.dkgID = m.DkgID
	s.commitments = make(map[uint32][]*btcec.PublicKey)
	s.shares = make(map[uint32]map[uint32]*secp256k1.ModNScalar)
	s.dkgEnded = false
	s.groupKey = nil
	s.secretShares = nil

	s.poly = make([]*secp256k1.ModNScalar, s.Threshold)
	commitments := make([][]byte, s.Threshold)
	for i := range s.poly {
		coeff, err := newScalar()
		if err != nil {
			return nil, err
		}
		s.poly[i] = coeff
		commitments[i] = basePoint(coeff).SerializeCompressed()
	}
	s.logger.Debug("Started DKG round", "dkg_id", m.DkgID)
	return []Message{&DkgPublicShares{
		DkgID:       m.DkgID,
		SignerID:    s.SignerID,
		Commitments: commitments,
	}}, nil
}

func (s *Signer) handleDkgPublicShares(m *DkgPublicShares) error {
	if m.DkgID != s.dkgID || s.commitments == nil {
		s.logger.Debug("Ignoring public shares for stale DKG round", "dkg_id", m.DkgID)
		return nil
	}
	if uint32(len(m.Commitments)) != s.Threshold {
		s.logger.Warn("Peer sent a malformed commitment polynomial", "peer", m.SignerID, "len", len(m.Commitments))
		return nil
	}
	pts := make([]*btcec.PublicKey, len(m.Commitments))
	for i, c := range m.Commitments {
		pt, err := btcec.ParsePubKey(c)
		if err != nil {
			s.logger.Warn("Peer sent an invalid commitment point", "peer", m.SignerID, "err", err)
			return nil
		}
		pts[i] = pt
	}
	s.commitments[m.SignerID] = pts
	return nil
}

func (s *Signer) handleDkgPrivateBegin(m *DkgPrivateBegin) ([]Message, error) {
	if m.DkgID != s.dkgID || s.poly == nil {
		s.logger.Debug("Ignoring private begin for stale DKG round", "dkg_id", m.DkgID)
		return nil, nil
	}
	var shares []EncryptedShare
	for peerID, keyIDs := range s.PublicKeys.KeyIDs {
		peerKey, ok := s.PublicKeys.Signers[peerID]
		if !ok {
			return nil, ErrUnknownSigner
		}
		for _, keyID := range keyIDs {
			eval := evalPoly(s.poly, keyID)
			es, err := encryptShare(s.PrivKey, peerKey, s.dkgID, s.SignerID, keyID, eval)
			if err != nil {
				return nil, err
			}
			shares = append(shares, *es)
		}
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].KeyID < shares[j].KeyID })
	return []Message{&DkgPrivateShares{
		DkgID:    s.dkgID,
		SignerID: s.SignerID,
		Shares:   shares,
	}}, nil
}

func (s *Signer) handleDkgPrivateShares(m *DkgPrivateShares) ([]Message, error) {
	if m.DkgID != s.dkgID || s.shares == nil {
		s.logger.Debug("Ignoring private shares for stale DKG round", "dkg_id", m.DkgID)
		return nil, nil
	}
	senderKey, ok := s.PublicKeys.Signers[m.SignerID]
	if !ok {
		s.logger.Warn("Private shares from unknown signer", "peer", m.SignerID)
		return nil, nil
	}
	for i := range m.Shares {
		es := &m.Shares[i]
		if !s.ownsKey(es.KeyID) {
			continue
		}
		share, err := decryptShare(s.PrivKey, senderKey, m.DkgID, m.SignerID, es)
		if err != nil {
			s.logger.Warn("Failed to decrypt private share", "peer", m.SignerID, "key_id", es.KeyID, "err", err)
			continue
		}
		if s.shares[es.KeyID] == nil {
			s.shares[es.KeyID] = make(map[uint32]*secp256k1.ModNScalar)
		}
		s.shares[es.KeyID][m.SignerID] = share
	}
	return s.maybeFinishDkg()
}

// maybeFinishDkg assembles the secret shares and group key once every
// peer's contribution has arrived, and reports the terminal status.
func (s *Signer) maybeFinishDkg() ([]Message, error) {
	if s.dkgEnded {
		return nil, nil
	}
	if uint32(len(s.commitments)) < s.TotalSigners {
		return nil, nil
	}
	for _, keyID := range s.KeyIDs {
		if uint32(len(s.shares[keyID])) < s.TotalSigners {
			return nil, nil
		}
	}
	// All contributions are in: verify each share against the sender's
	// Feldman commitments before accepting it.
	secret := make(map[uint32]*secp256k1.ModNScalar, len(s.KeyIDs))
	for _, keyID := range s.KeyIDs {
		sum := new(secp256k1.ModNScalar)
		for senderID, share := range s.shares[keyID] {
			expect := evalPolyCommitment(s.commitments[senderID], keyID)
			if expect == nil || !basePoint(share).IsEqual(expect) {
				s.dkgEnded = true
				s.logger.Error("Private share failed commitment check", "peer", senderID, "key_id", keyID)
				return []Message{&DkgEnd{
					DkgID:         s.dkgID,
					SignerID:      s.SignerID,
					Status:        DkgFailure,
					FailureReason: fmt.Sprintf("bad share from signer %d for key %d", senderID, keyID),
				}}, nil
			}
			sum.Add(share)
		}
		secret[keyID] = sum
	}
	constants := make([]*btcec.PublicKey, 0, len(s.commitments))
	for _, pts := range s.commitments {
		constants = append(constants, pts[0])
	}
	groupKey := addPoints(constants...)
	if groupKey == nil {
		return nil, ErrInvalidPoint
	}
	s.secretShares = secret
	s.groupKey = groupKey
	s.dkgEnded = true
	s.logger.Info("DKG round complete", "dkg_id", s.dkgID, "group_key", fmt.Sprintf("%x", groupKey.SerializeCompressed()))
	return []Message{&DkgEnd{
		DkgID:    s.dkgID,
		SignerID: s.SignerID,
		Status:   DkgSuccess,
	}}, nil
}

func (s *Signer) handleNonceRequest(m *NonceRequest) ([]Message, error) {
	d, err := newScalar()
	if err != nil {
		return nil, err
	}
	e, err := newScalar()
	if err != nil {
		return nil, err
	}
	s.signID = m.SignID
	s.hidingNonce = d
	s.bindingNonce = e
	return []Message{&NonceResponse{
		DkgID:        m.DkgID,
		SignID:       m.SignID,
		SignerID:     s.SignerID,
		KeyIDs:       s.KeyIDs,
		HidingNonce:  basePoint(d).SerializeCompressed(),
		BindingNonce: basePoint(e).SerializeCompressed(),
		Message:      m.Message,
	}}, nil
}

func (s *Signer) handleSignatureShareRequest(m *SignatureShareRequest) ([]Message, error) {
	if s.secretShares == nil || s.groupKey == nil {
		s.logger.Warn("Dropping signature share request before DKG completion", "sign_id", m.SignID)
		return nil, nil
	}
	if m.SignID != s.signID || s.hidingNonce == nil {
		s.logger.Warn("Dropping signature share request for unknown signing round", "sign_id", m.SignID)
		return nil, nil
	}
	responses := sortedResponses(m.NonceResponses)
	key := s.groupKey
	if m.IsTaproot {
		key = TweakedKey(s.groupKey, m.MerkleRoot)
	}
	r, factors, err := groupCommitment(m.Message, responses)
	if err != nil {
		s.logger.Warn("Malformed nonce commitments in share request", "err", err)
		return nil, nil
	}
	rho, ok := factors[s.SignerID]
	if !ok {
		s.logger.Warn("We are not a participant of this signing round", "sign_id", m.SignID)
		return nil, nil
	}
	var participating []uint32
	for _, nr := range responses {
		participating = append(participating, nr.KeyIDs...)
	}
	c := challenge(r, key, m.Message)

	// z = d + rho*e + c * sum(lambda_k * x_k) over our participating keys.
	z := new(secp256k1.ModNScalar)
	*z = *s.hidingNonce
	re := new(secp256k1.ModNScalar)
	*re = *s.bindingNonce
	re.Mul(rho)
	z.Add(re)
	for _, keyID := range s.KeyIDs {
		x, ok := s.secretShares[keyID]
		if !ok {
			return nil, ErrUnknownKeyID
		}
		term := lagrangeCoeff(keyID, participating)
		term.Mul(x)
		term.Mul(c)
		z.Add(term)
	}
	// The nonce is single-use.
	s.hidingNonce = nil
	s.bindingNonce = nil

	zb := z.Bytes()
	return []Message{&SignatureShareResponse{
		DkgID:    m.DkgID,
		SignID:   m.SignID,
		SignerID: s.SignerID,
		KeyIDs:   s.KeyIDs,
		Share:    zb[:],
	}}, nil
}

func (s *Signer) ownsKey(keyID uint32) bool {
	for _, id := range s.KeyIDs {
		if id == keyID {
			return true
		}
	}
	return false
}

func sortedResponses(in []*NonceResponse) []*NonceResponse {
	out := append([]*NonceResponse(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].SignerID < out[j].SignerID })
	return out
}
