package signer

import (
	"github.com/stacks-network/gsigner/common"
	"github.com/stacks-network/gsigner/core/types"
	"github.com/stacks-network/gsigner/frost"
)

// BlockInfo is the cache entry for one observed candidate block, keyed
// by its signature hash.
type BlockInfo struct {
	Block *types.NakamotoBlock

	// Valid is nil until the chain node's verdict arrives; it is set
	// exactly once.
	Valid *bool

	// Vote is the message this signer actually signs: the signature
	// hash for an acceptance, the hash followed by 'n' for a rejection.
	// Immutable once set.
	Vote []byte

	// NonceRequest parks a verified nonce-request packet that arrived
	// before the block's validation verdict.
	NonceRequest *frost.Packet

	// SignedOver latches true when the block enters a signing round.
	SignedOver bool
}

// blockCache maps signature hashes to their BlockInfo entries. The
// run-loop is the only writer.
type blockCache struct {
	blocks map[common.Hash]*BlockInfo
}

func newBlockCache() *blockCache {
	return &blockCache{blocks: make(map[common.Hash]*BlockInfo)}
}

// ensure returns the entry for hash, inserting a fresh one recording
// the block if absent.
func (c *blockCache) ensure(hash common.Hash, block *types.NakamotoBlock) *BlockInfo {
	if info, ok := c.blocks[hash]; ok {
		return info
	}
	info := &BlockInfo{Block: block}
	c.blocks[hash] = info
	return info
}

// get returns the entry for hash if present.
func (c *blockCache) get(hash common.Hash) (*BlockInfo, bool) {
	info, ok := c.blocks[hash]
	return info, ok
}

// remove deletes and returns the entry for hash.
func (c *blockCache) remove(hash common.Hash) (*BlockInfo, bool) {
	info, ok := c.blocks[hash]
	if ok {
		delete(c.blocks, hash)
	}
	return info, ok
}

// markValid installs the validation verdict. The first verdict wins.
func (info *BlockInfo) markValid(valid bool) {
	if info.Valid != nil {
		return
	}
	info.Valid = &valid
}
