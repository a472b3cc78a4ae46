package algorithm

import (
	"encoding/binary"
	"math/bits"
)

// Murmur3 x86 32-bit mixing constants
const (
	murmurC1 uint32 = 0xcc9e2d51
	murmurC2 uint32 = 0x1b873593
	murmurN  uint32 = 0xe6546b64
)

// PartitionKeySeed is the seed used when bucketing resource paths without a
// resolved partition key range
const PartitionKeySeed uint32 = 0

// Murmur3Hash32 computes the 32-bit Murmur3 (x86 variant) hash of data
func Murmur3Hash32(data []byte, seed uint32) uint32 {
	h := seed
	length := len(data)
	nblocks := length / 4

	for i := 0; i < nblocks; i++ {
		k := binary.LittleEndian.Uint32(data[i*4:])
		k *= murmurC1
		k = bits.RotateLeft32(k, 15)
		k *= murmurC2

		h ^= k
		h = bits.RotateLeft32(h, 13)
		h = h*5 + murmurN
	}

	// Tail holds the 1-3 bytes that did not fill a block
	tail := data[nblocks*4:]
	var k uint32
	switch len(tail) {
	case 3:
		k ^= uint32(tail[2]) << 16
		fallthrough
	case 2:
		k ^= uint32(tail[1]) << 8
		fallthrough
	case 1:
		k ^= uint32(tail[0])
		k *= murmurC1
		k = bits.RotateLeft32(k, 15)
		k *= murmurC2
		h ^= k
	}

	h ^= uint32(length)
	return fmix32(h)
}

// Murmur3Hash32String hashes the UTF-8 bytes of s
func Murmur3Hash32String(s string, seed uint32) uint32 {
	return Murmur3Hash32([]byte(s), seed)
}

// PartitionKeyHash returns the routing hash of a partition key or resource path
func PartitionKeyHash(key string) uint32 {
	return Murmur3Hash32String(key, PartitionKeySeed)
}

// fmix32 is the final avalanche mix
func fmix32(h uint32) uint32 {
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}
