package signer

import (
	"github.com/stacks-network/gsigner/core/types"
)

// Command is one queued run-loop operation. Commands execute only while
// the run-loop is idle.
type Command interface {
	isCommand()
}

// DkgCommand runs a distributed key generation round.
type DkgCommand struct{}

// SignCommand runs a signing round over a block.
type SignCommand struct {
	Block      *types.NakamotoBlock
	IsTaproot  bool
	MerkleRoot []byte
}

// PingCommand publishes an RTT probe with the given payload size.
type PingCommand struct {
	PayloadSize int
}

func (DkgCommand) isCommand()  {}
func (SignCommand) isCommand() {}
func (PingCommand) isCommand() {}
