package frost

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stacks-network/gsigner/log"
)

// OperationType tags a finished coordinator operation.
type OperationType uint8

const (
	OpDkg OperationType = iota
	OpSign
	OpSignTaproot
)

// OperationResult is emitted by the coordinator when a round completes.
type OperationResult struct {
	Type OperationType
	// Point is the aggregate group key produced by a DKG round.
	Point *btcec.PublicKey
	// Signature and Message are set for signing rounds.
	Signature *Signature
	Message   []byte
}

// Config parameterizes a coordinator.
type Config struct {
	Threshold      uint32
	DkgThreshold   uint32
	NumSigners     uint32
	NumKeys        uint32
	MessagePrivKey *btcec.PrivateKey
	PublicKeys     *PublicKeys
}

// Coordinator drives DKG and signing rounds forward. The run-loop holds
// exactly one, whether or not this signer is the elected coordinator.
type Coordinator interface {
	StartDkgRound() (*Packet, error)
	StartSigningRound(msg []byte, isTaproot bool, merkleRoot []byte) (*Packet, error)
	ProcessInboundMessages(packets []*Packet) ([]*Packet, []*OperationResult, error)
	SetAggregatePublicKey(key *btcec.PublicKey)
	AggregatePublicKey() *btcec.PublicKey
	// Message returns the message bytes of the signing round in flight
	// (or last finished), the bytes the aggregate signature covers.
	Message() []byte
	Reset()
}

type coordState uint8

const (
	coordIdle coordState = iota
	coordDkgPublicGather
	coordDkgEndGather
	coordNonceGather
	coordShareGather
)

// FrostCoordinator is the concrete FROST round driver.
type FrostCoordinator struct {
	cfg    Config
	logger log.Logger

	state  coordState
	dkgID  uint64
	signID uint64

	publicShares map[uint32][]*btcec.PublicKey
	dkgEnds      map[uint32]DkgStatus

	message        []byte
	isTaproot      bool
	merkleRoot     []byte
	nonceResponses map[uint32]*NonceResponse
	sigShares      map[uint32]*SignatureShareResponse

	aggregateKey *btcec.PublicKey
}

// NewFrostCoordinator creates a coordinator from the config.
func NewFrostCoordinator(cfg Config) *FrostCoordinator {
	return &FrostCoordinator{
		cfg:    cfg,
		logger: log.New("role", "coordinator"),
	}
}

// SetAggregatePublicKey installs a previously generated group key.
func (c *FrostCoordinator) SetAggregatePublicKey(key *btcec.PublicKey) {
	c.aggregateKey = key
}

// AggregatePublicKey returns the group key, or nil before DKG.
func (c *FrostCoordinator) AggregatePublicKey() *btcec.PublicKey {
	return c.aggregateKey
}

// Message returns the message of the signing round in flight.
func (c *FrostCoordinator) Message() []byte { return c.message }

// Reset drops all round state. The aggregate key survives.
func (c *FrostCoordinator) Reset() {
	c.state = coordIdle
	c.publicShares = nil
	c.dkgEnds = nil
	c.message = nil
	c.isTaproot = false
	c.merkleRoot = nil
	c.nonceResponses = nil
	c.sigShares = nil
}

// StartDkgRound opens a new key generation round and returns the
// DkgBegin packet to broadcast.
func (c *FrostCoordinator) StartDkgRound() (*Packet, error) {
	if c.state != coordIdle {
		return nil, ErrCoordinatorState
	}
	c.dkgID++
	c.publicShares = make(map[uint32][]*btcec.PublicKey)
	c.dkgEnds = make(map[uint32]DkgStatus)
	c.state = coordDkgPublicGather
	p := &Packet{Msg: &DkgBegin{DkgID: c.dkgID}}
	if err := p.Sign(c.cfg.MessagePrivKey); err != nil {
		return nil, err
	}
	return p, nil
}

// StartSigningRound opens a new signing round over msg and returns the
// NonceRequest packet to broadcast.
func (c *FrostCoordinator) StartSigningRound(msg []byte, isTaproot bool, merkleRoot []byte) (*Packet, error) {
	if c.state != coordIdle {
		return nil, ErrCoordinatorState
	}
	if c.aggregateKey == nil {
		return nil, ErrNoAggregateKey
	}
	c.signID++
	c.message = append([]byte(nil), msg...)
	c.isTaproot = isTaproot
	c.merkleRoot = append([]byte(nil), merkleRoot...)
	c.nonceResponses = make(map[uint32]*NonceResponse)
	c.sigShares = make(map[uint32]*SignatureShareResponse)
	c.state = coordNonceGather
	p := &Packet{Msg: &NonceRequest{
		DkgID:      c.dkgID,
		SignID:     c.signID,
		Message:    c.message,
		IsTaproot:  isTaproot,
		MerkleRoot: c.merkleRoot,
	}}
	if err := p.Sign(c.cfg.MessagePrivKey); err != nil {
		return nil, err
	}
	return p, nil
}

// ProcessInboundMessages advances the round with the verified packets
// and returns outbound packets plus any finished operation results.
func (c *FrostCoordinator) ProcessInboundMessages(packets []*Packet) ([]*Packet, []*OperationResult, error) {
	var (
		out     []*Packet
		results []*OperationResult
	)
	for _, p := range packets {
		var msgs []Message
		var err error
		switch m := p.Msg.(type) {
		case *DkgBegin:
			c.adoptDkgRound(m)
		case *NonceRequest:
			c.adoptSigningRound(m)
		case *SignatureShareRequest:
			c.adoptShareRequest(m)
		case *DkgPublicShares:
			msgs, err = c.gatherPublicShares(m)
		case *DkgEnd:
			results, err = c.gatherDkgEnd(m, results)
		case *NonceResponse:
			msgs, err = c.gatherNonce(m)
		case *SignatureShareResponse:
			results, err = c.gatherShare(m, results)
		default:
			// DkgPrivateBegin and private shares concern the signer role.
		}
		if err != nil {
			return nil, nil, err
		}
		for _, m := range msgs {
			signed := &Packet{Msg: m}
			if err := signed.Sign(c.cfg.MessagePrivKey); err != nil {
				return nil, nil, fmt.Errorf("frost: failed to sign coordinator packet: %w", err)
			}
			out = append(out, signed)
		}
	}
	return out, results, nil
}

// adoptDkgRound lets a coordinator that did not drive the round track
// it passively: every signer feeds both roles, so non-elected
// coordinators follow along and report the same operation results. The
// elected coordinator sees its own echoed DkgBegin here and ignores it.
func (c *FrostCoordinator) adoptDkgRound(m *DkgBegin) {
	if m.DkgID == c.dkgID && c.state != coordIdle {
		return
	}
	c.dkgID = m.DkgID
	c.publicShares = make(map[uint32][]*btcec.PublicKey)
	c.dkgEnds = make(map[uint32]DkgStatus)
	c.state = coordDkgPublicGather
}

// adoptSigningRound is the signing-round counterpart of adoptDkgRound.
// The adopted message has already been rewritten to this signer's vote
// by the run-loop pipeline.
func (c *FrostCoordinator) adoptSigningRound(m *NonceRequest) {
	if m.SignID == c.signID && (c.state == coordNonceGather || c.state == coordShareGather) {
		return
	}
	c.signID = m.SignID
	c.message = append([]byte(nil), m.Message...)
	c.isTaproot = m.IsTaproot
	c.merkleRoot = append([]byte(nil), m.MerkleRoot...)
	c.nonceResponses = make(map[uint32]*NonceResponse)
	c.sigShares = make(map[uint32]*SignatureShareResponse)
	c.state = coordNonceGather
}

// adoptShareRequest aligns this coordinator's participant set with the
// one the round driver actually selected, so share gathering converges
// on every peer regardless of nonce arrival order.
func (c *FrostCoordinator) adoptShareRequest(m *SignatureShareRequest) {
	if c.state != coordNonceGather && c.state != coordShareGather {
		return
	}
	if m.SignID != c.signID {
		return
	}
	c.message = append([]byte(nil), m.Message...)
	c.isTaproot = m.IsTaproot
	c.merkleRoot = append([]byte(nil), m.MerkleRoot...)
	c.nonceResponses = make(map[uint32]*NonceResponse, len(m.NonceResponses))
	for _, nr := range m.NonceResponses {
		c.nonceResponses[nr.SignerID] = nr
	}
	c.sigShares = make(map[uint32]*SignatureShareResponse)
	c.state = coordShareGather
}

func (c *FrostCoordinator) gatherPublicShares(m *DkgPublicShares) ([]Message, error) {
	if c.state != coordDkgPublicGather || m.DkgID != c.dkgID {
		return nil, nil
	}
	pts := make([]*btcec.PublicKey, len(m.Commitments))
	for i, cm := range m.Commitments {
		pt, err := btcec.ParsePubKey(cm)
		if err != nil {
			c.logger.Warn("Signer sent an invalid commitment point", "signer", m.SignerID, "err", err)
			return nil, nil
		}
		pts[i] = pt
	}
	c.publicShares[m.SignerID] = pts
	if uint32(len(c.publicShares)) < c.cfg.NumSigners {
		return nil, nil
	}
	c.state = coordDkgEndGather
	return []Message{&DkgPrivateBegin{DkgID: c.dkgID}}, nil
}

func (c *FrostCoordinator) gatherDkgEnd(m *DkgEnd, results []*OperationResult) ([]*OperationResult, error) {
	if c.state != coordDkgEndGather || m.DkgID != c.dkgID {
		return results, nil
	}
	if m.Status != DkgSuccess {
		c.logger.Warn("Signer reported DKG failure", "signer", m.SignerID, "reason", m.FailureReason)
	}
	c.dkgEnds[m.SignerID] = m.Status
	var covered uint32
	for signerID, status := range c.dkgEnds {
		if status == DkgSuccess {
			covered += uint32(len(c.cfg.PublicKeys.KeyIDs[signerID]))
		}
	}
	if covered < c.cfg.DkgThreshold {
		if uint32(len(c.dkgEnds)) == c.cfg.NumSigners {
			c.logger.Error("DKG round failed to reach threshold", "covered", covered, "required", c.cfg.DkgThreshold)
			c.Reset()
		}
		return results, nil
	}
	constants := make([]*btcec.PublicKey, 0, len(c.publicShares))
	for _, pts := range c.publicShares {
		constants = append(constants, pts[0])
	}
	key := addPoints(constants...)
	if key == nil {
		return results, ErrInvalidPoint
	}
	c.aggregateKey = key
	c.state = coordIdle
	c.logger.Info("DKG complete", "dkg_id", c.dkgID, "covered_keys", covered)
	return append(results, &OperationResult{Type: OpDkg, Point: key}), nil
}

func (c *FrostCoordinator) gatherNonce(m *NonceResponse) ([]Message, error) {
	if c.state != coordNonceGather || m.SignID != c.signID {
		return nil, nil
	}
	if _, ok := c.nonceResponses[m.SignerID]; ok {
		return nil, nil
	}
	if len(c.nonceResponses) == 0 {
		// The signers vote by rewriting the request message; adopt the
		// echoed message so the share request matches what they will
		// actually sign.
		if !bytes.Equal(m.Message, c.message) {
			c.logger.Debug("Adopting rewritten round message", "sign_id", m.SignID)
			c.message = append([]byte(nil), m.Message...)
		}
	} else if !bytes.Equal(m.Message, c.message) {
		c.logger.Warn("Nonce response echoes a different message, excluding signer", "signer", m.SignerID)
		return nil, nil
	}
	c.nonceResponses[m.SignerID] = m
	var covered uint32
	for _, nr := range c.nonceResponses {
		covered += uint32(len(nr.KeyIDs))
	}
	if covered < c.cfg.Threshold {
		return nil, nil
	}
	c.state = coordShareGather
	return []Message{&SignatureShareRequest{
		DkgID:          c.dkgID,
		SignID:         c.signID,
		Message:        c.message,
		IsTaproot:      c.isTaproot,
		MerkleRoot:     c.merkleRoot,
		NonceResponses: c.participants(),
	}}, nil
}

func (c *FrostCoordinator) gatherShare(m *SignatureShareResponse, results []*OperationResult) ([]*OperationResult, error) {
	if c.state != coordShareGather || m.SignID != c.signID {
		return results, nil
	}
	if _, ok := c.nonceResponses[m.SignerID]; !ok {
		c.logger.Warn("Signature share from a non-participant", "signer", m.SignerID)
		return results, nil
	}
	c.sigShares[m.SignerID] = m
	if len(c.sigShares) < len(c.nonceResponses) {
		return results, nil
	}
	sig, err := c.aggregate()
	if err != nil {
		c.logger.Error("Failed to aggregate signature shares", "err", err)
		c.Reset()
		return results, nil
	}
	opType := OpSign
	if c.isTaproot {
		opType = OpSignTaproot
	}
	result := &OperationResult{
		Type:      opType,
		Signature: sig,
		Message:   append([]byte(nil), c.message...),
	}
	c.state = coordIdle
	return append(results, result), nil
}

// aggregate folds the collected signature shares into the final
// threshold signature.
func (c *FrostCoordinator) aggregate() (*Signature, error) {
	participants := c.participants()
	r, _, err := groupCommitment(c.message, participants)
	if err != nil {
		return nil, err
	}
	key := c.aggregateKey
	if c.isTaproot {
		key = TweakedKey(c.aggregateKey, c.merkleRoot)
	}
	z := new(secp256k1.ModNScalar)
	for _, share := range c.sigShares {
		var zi secp256k1.ModNScalar
		if overflow := zi.SetByteSlice(share.Share); overflow || len(share.Share) != 32 {
			return nil, ErrInvalidPoint
		}
		z.Add(&zi)
	}
	if c.isTaproot {
		// The tweak term is contributed once, by the aggregator.
		t := TaprootTweak(c.aggregateKey, c.merkleRoot)
		t.Mul(challenge(r, key, c.message))
		z.Add(t)
	}
	sig := &Signature{R: r, Z: *z}
	if !sig.Verify(c.message, key) {
		return nil, fmt.Errorf("frost: aggregated signature does not verify")
	}
	return sig, nil
}

// participants returns the participating nonce responses in ascending
// signer id order.
func (c *FrostCoordinator) participants() []*NonceResponse {
	out := make([]*NonceResponse, 0, len(c.nonceResponses))
	for _, nr := range c.nonceResponses {
		out = append(out, nr)
	}
	return sortedResponses(out)
}
