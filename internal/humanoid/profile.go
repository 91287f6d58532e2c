// File: internal/humanoid/profile.go

// Package humanoid simulates human interaction cadence on a chromedp page:
// per-character typing delays with occasional corrected mistypes, pointer
// hover before clicks, and randomized inter-action pauses.
package humanoid

import (
	"math/rand"
	"sync"
	"time"
)

// band is a closed range of per-character delays.
type band struct {
	min time.Duration
	max time.Duration
}

// Profile captures the randomized characteristics of one session. It is
// chosen once per session and not renegotiated mid-flow, so a target
// observing the whole interaction sees one consistent "person".
type Profile struct {
	mu  sync.Mutex
	rng *rand.Rand

	slow        band
	fast        band
	mistypeRate float64
	actionPause band
}

// NewProfile draws a fresh profile. A nil source seeds from the clock.
func NewProfile(src rand.Source) *Profile {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	rng := rand.New(src)

	// The slow band covers the deliberate start and finish of an input,
	// the fast band the practiced middle.
	return &Profile{
		rng:         rng,
		slow:        band{120 * time.Millisecond, 200 * time.Millisecond},
		fast:        band{40 * time.Millisecond, 90 * time.Millisecond},
		mistypeRate: 0.04,
		actionPause: band{300 * time.Millisecond, 900 * time.Millisecond},
	}
}

// keyDelay returns the pause before the character at index i of an input of
// the given length. The first three and final two characters use the slow
// band; everything between uses the fast band.
func (p *Profile) keyDelay(i, length int) time.Duration {
	b := p.fast
	if i < 3 || i >= length-2 {
		b = p.slow
	}
	return p.uniform(b)
}

// shouldMistype reports whether a typo should be simulated at index i.
// Mistypes never occur within the first three characters.
func (p *Profile) shouldMistype(i int) bool {
	if i < 3 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64() < p.mistypeRate
}

// ActionPause returns a randomized inter-action dwell.
func (p *Profile) ActionPause() time.Duration {
	return p.uniform(p.actionPause)
}

func (p *Profile) uniform(b band) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b.max <= b.min {
		return b.min
	}
	return b.min + time.Duration(p.rng.Int63n(int64(b.max-b.min)))
}

// neighborOf returns a plausible adjacent key for r, or r itself when the
// keyboard map has no entry.
func (p *Profile) neighborOf(r rune) rune {
	neighbors, ok := keyboardNeighbors[r]
	if !ok || len(neighbors) == 0 {
		return r
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return rune(neighbors[p.rng.Intn(len(neighbors))])
}

// keyboardNeighbors maps each key to the keys physically adjacent on a
// standard layout, used to pick believable mistypes.
var keyboardNeighbors = map[rune]string{
	'1': "2q", '2': "13w", '3': "24e", '4': "35r", '5': "46t", '6': "57y",
	'7': "68u", '8': "79i", '9': "80o", '0': "9p",
	'q': "wa1", 'w': "qse2", 'e': "wdr3", 'r': "eft4", 't': "rgy5",
	'y': "thu6", 'u': "yji7", 'i': "uko8", 'o': "ilp9", 'p': "o0",
	'a': "qsz", 's': "awdx", 'd': "sefc", 'f': "drgv", 'g': "fthb",
	'h': "gyjn", 'j': "hukm", 'k': "jil", 'l': "kop",
	'z': "asx", 'x': "zsc", 'c': "xdv", 'v': "cfb", 'b': "vgn", 'n': "bhm", 'm': "njk",
}
