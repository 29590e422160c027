package entity

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Word lists for generating human-readable agent names.
var adjectives = []string{
	"swift", "bright", "calm", "bold", "keen", "warm", "cool", "wild", "sage", "fair", "blue",
	"red", "green", "gold", "silver", "quiet", "quick", "brave", "wise", "kind",
}

var nouns = []string{
	"fox", "owl", "wolf", "bear", "hawk", "deer", "lynx", "crow", "dove", "swan", "oak", "pine",
	"fern", "moss", "sage", "star", "moon", "wind", "rain", "snow",
}

// GenerateAgentName returns a human-readable name like "swift-fox" or
// "blue-owl". One 128-bit random draw feeds both halves: the low 64 bits
// pick the adjective, the high 64 bits the noun.
func GenerateAgentName() string {
	u := uuid.New()
	hi := binary.BigEndian.Uint64(u[:8])
	lo := binary.BigEndian.Uint64(u[8:])

	adj := adjectives[lo%uint64(len(adjectives))]
	noun := nouns[hi%uint64(len(nouns))]
	return fmt.Sprintf("%s-%s", adj, noun)
}
