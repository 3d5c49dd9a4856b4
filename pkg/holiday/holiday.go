package holiday

import (
	"math/rand"
	"sync"
	"time"
)

// Window is the half-width, in days, of the "nearby" tier.
const Window = 10

type Tier int

const (
	TierFallback Tier = iota
	TierToday
	TierNearby
	TierClosest
)

func (t Tier) String() string {
	switch t {
	case TierToday:
		return "today"
	case TierNearby:
		return "nearby"
	case TierClosest:
		return "closest"
	default:
		return "fallback"
	}
}

type Holiday struct {
	Name  string
	Month time.Month
	Day   int
}

// Context is what the provider hands to template selection.
type Context struct {
	Holiday  Holiday
	Tier     Tier
	DaysAway int
	// Offset is DaysAway signed: negative when the holiday has already passed.
	Offset int
}

// Active reports whether the holiday is close enough to bias generation.
func (c Context) Active() bool {
	return c.Tier == TierToday || c.Tier == TierNearby
}

// Fallback is returned when the table is empty.
var Fallback = Holiday{Name: "an ordinary day", Month: time.January, Day: 1}

// Calendar is the built-in table. Order matters for closest-tier ties.
var Calendar = []Holiday{
	{"New Year's Day", time.January, 1},
	{"Valentine's Day", time.February, 14},
	{"St. Patrick's Day", time.March, 17},
	{"April Fools' Day", time.April, 1},
	{"Earth Day", time.April, 22},
	{"Star Wars Day", time.May, 4},
	{"Cinco de Mayo", time.May, 5},
	{"Juneteenth", time.June, 19},
	{"Independence Day", time.July, 4},
	{"International Friendship Day", time.July, 30},
	{"International Left Handers Day", time.August, 13},
	{"Labor Day", time.September, 1},
	{"International Talk Like a Pirate Day", time.September, 19},
	{"World Mental Health Day", time.October, 10},
	{"Halloween", time.October, 31},
	{"Veterans Day", time.November, 11},
	{"Thanksgiving", time.November, 27},
	{"Christmas Eve", time.December, 24},
	{"Christmas Day", time.December, 25},
	{"New Year's Eve", time.December, 31},
}

type Provider struct {
	table []Holiday
	mu    sync.Mutex
	rng   *rand.Rand
}

// NewProvider builds a provider over table. A nil rng is seeded from the clock.
func NewProvider(table []Holiday, rng *rand.Rand) *Provider {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Provider{table: table, rng: rng}
}

// Lookup resolves the holiday context for now. It never fails.
func (p *Provider) Lookup(now time.Time) Context {
	if len(p.table) == 0 {
		return Context{Holiday: Fallback, Tier: TierFallback}
	}

	for _, h := range p.table {
		if h.Month == now.Month() && h.Day == now.Day() {
			return Context{Holiday: h, Tier: TierToday}
		}
	}

	if nearby := p.Candidates(now); len(nearby) > 0 {
		p.mu.Lock()
		h := nearby[p.rng.Intn(len(nearby))]
		p.mu.Unlock()
		return Context{Holiday: h, Tier: TierNearby, DaysAway: distance(now, h), Offset: offset(now, h)}
	}

	best := p.table[0]
	bestDist := distance(now, best)
	for _, h := range p.table[1:] {
		if d := distance(now, h); d < bestDist {
			best, bestDist = h, d
		}
	}
	return Context{Holiday: best, Tier: TierClosest, DaysAway: bestDist, Offset: offset(now, best)}
}

// Candidates lists every entry within Window days of now, excluding exact matches.
func (p *Provider) Candidates(now time.Time) []Holiday {
	var out []Holiday
	for _, h := range p.table {
		if d := distance(now, h); d > 0 && d <= Window {
			out = append(out, h)
		}
	}
	return out
}

// distance is the absolute day gap ignoring year, wrapping at year end.
func distance(now time.Time, h Holiday) int {
	d := offset(now, h)
	if d < 0 {
		return -d
	}
	return d
}

// offset is the signed day gap from now to h, taking the shorter way around
// the year. Days are mapped onto a non-leap year so Feb 29 lands on Mar 1.
func offset(now time.Time, h Holiday) int {
	d := dayOfYear(h.Month, h.Day) - dayOfYear(now.Month(), now.Day())
	switch {
	case d > 182:
		d -= 365
	case d < -182:
		d += 365
	}
	return d
}

func dayOfYear(m time.Month, day int) int {
	return time.Date(2001, m, day, 0, 0, 0, 0, time.UTC).YearDay()
}
