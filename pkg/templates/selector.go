package templates

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

type Mode int

const (
	ModeOriginal Mode = iota
	ModeNews
	ModeReply
	ModeThreadedReply
)

func (m Mode) String() string {
	switch m {
	case ModeNews:
		return "news"
	case ModeReply:
		return "reply"
	case ModeThreadedReply:
		return "threaded_reply"
	default:
		return "original"
	}
}

// Weighted is a template and its relative selection weight.
type Weighted struct {
	Text   string
	Weight int
}

// Pools groups the tables a Selector draws from.
type Pools struct {
	Original      []Weighted
	News          []Weighted
	Reply         []Weighted
	ThreadedReply []Weighted
	Holiday       []Weighted
}

// DefaultPools returns the built-in tables.
func DefaultPools() Pools {
	return Pools{
		Original:      Original,
		News:          NewsOriginal,
		Reply:         Reply,
		ThreadedReply: ThreadedReply,
		Holiday:       Holiday,
	}
}

type Selector struct {
	pools Pools
	mu    sync.Mutex
	rng   *rand.Rand
}

func NewSelector(pools Pools, rng *rand.Rand) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Selector{pools: pools, rng: rng}
}

// Pool returns the concatenated table Select draws from for mode.
func (s *Selector) Pool(mode Mode, holidayActive bool) []Weighted {
	var base []Weighted
	switch mode {
	case ModeNews:
		base = s.pools.News
	case ModeReply:
		base = s.pools.Reply
	case ModeThreadedReply:
		base = s.pools.ThreadedReply
	default:
		base = s.pools.Original
	}
	if !holidayActive || mode == ModeNews {
		return base
	}
	pool := make([]Weighted, 0, len(base)+len(s.pools.Holiday))
	pool = append(pool, base...)
	return append(pool, s.pools.Holiday...)
}

// Select draws one template weighted by Weight. Empty pools yield "".
func (s *Selector) Select(mode Mode, holidayActive bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Pick(s.Pool(mode, holidayActive), s.rng)
}

// Pick performs a weighted draw. Entries with non-positive weight are never chosen.
func Pick(pool []Weighted, rng *rand.Rand) string {
	total := 0
	for _, w := range pool {
		if w.Weight > 0 {
			total += w.Weight
		}
	}
	if total == 0 {
		return ""
	}
	n := rng.Intn(total)
	for _, w := range pool {
		if w.Weight <= 0 {
			continue
		}
		if n < w.Weight {
			return w.Text
		}
		n -= w.Weight
	}
	return ""
}

// Fill replaces {key} markers with values. Unknown markers are left as-is.
func Fill(template string, values map[string]string) string {
	if len(values) == 0 {
		return template
	}
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
