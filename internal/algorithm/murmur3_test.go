package algorithm

import (
	"math/rand"
	"testing"

	"github.com/spaolacci/murmur3"
	"github.com/stretchr/testify/assert"
)

func TestMurmur3Hash32_KnownVectors(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		seed     uint32
		expected uint32
	}{
		{"empty zero seed", []byte{}, 0, 0},
		{"empty seed one", []byte{}, 1, 0x514E28B7},
		{"empty max seed", []byte{}, 0xffffffff, 0x81F16F39},
		{"four zero bytes", []byte{0, 0, 0, 0}, 0, 0x2362F9DE},
		{"four ff bytes", []byte{0xff, 0xff, 0xff, 0xff}, 0, 0x76293B50},
		{"one block", []byte{0x21, 0x43, 0x65, 0x87}, 0, 0xF55B516B},
		{"one block seeded", []byte{0x21, 0x43, 0x65, 0x87}, 0x5082EDEE, 0x2362F9DE},
		{"three byte tail", []byte{0x21, 0x43, 0x65}, 0, 0x7E4A8634},
		{"two byte tail", []byte{0x21, 0x43}, 0, 0xA0F7B07A},
		{"one byte tail", []byte{0x21}, 0, 0x72661CF4},
		{"three zero bytes", []byte{0, 0, 0}, 0, 0x85F0B427},
		{"two zero bytes", []byte{0, 0}, 0, 0x30F4C306},
		{"one zero byte", []byte{0}, 0, 0x514E28B7},
		{"aaaa", []byte("aaaa"), 0x9747b28c, 0x5A97808A},
		{"aaa", []byte("aaa"), 0x9747b28c, 0x283E0130},
		{"aa", []byte("aa"), 0x9747b28c, 0x5D211726},
		{"a", []byte("a"), 0x9747b28c, 0x7FA09EA6},
		{"abcd", []byte("abcd"), 0x9747b28c, 0xF0478627},
		{"abc", []byte("abc"), 0x9747b28c, 0xC84A62DD},
		{"ab", []byte("ab"), 0x9747b28c, 0x74875592},
		{"hello world", []byte("Hello, world!"), 0x9747b28c, 0x24884CBA},
		{"quick brown fox", []byte("The quick brown fox jumps over the lazy dog"), 0x9747b28c, 0x2FA826CD},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Murmur3Hash32(tt.data, tt.seed))
		})
	}
}

func TestMurmur3Hash32_MatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for length := 0; length < 1100; length++ {
		data := make([]byte, length)
		rng.Read(data)
		seed := rng.Uint32()

		assert.Equal(t, murmur3.Sum32WithSeed(data, seed), Murmur3Hash32(data, seed),
			"length %d seed %d", length, seed)
	}
}

func TestMurmur3Hash32_RandomLengths(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 1000; i++ {
		data := make([]byte, rng.Intn(4096))
		rng.Read(data)

		assert.Equal(t, murmur3.Sum32WithSeed(data, 0), Murmur3Hash32(data, 0))
	}
}

func TestMurmur3Hash32String(t *testing.T) {
	assert.Equal(t, Murmur3Hash32([]byte("partition-1"), 0), Murmur3Hash32String("partition-1", 0))
	assert.Equal(t, Murmur3Hash32String("partition-1", PartitionKeySeed), PartitionKeyHash("partition-1"))
}

func BenchmarkMurmur3Hash32(b *testing.B) {
	data := make([]byte, 1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Murmur3Hash32(data, 0)
	}
}
