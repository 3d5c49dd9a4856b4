package templates

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func texts(pool []Weighted) map[string]bool {
	out := make(map[string]bool, len(pool))
	for _, w := range pool {
		out[w.Text] = true
	}
	return out
}

func totalWeight(pool []Weighted) int {
	n := 0
	for _, w := range pool {
		n += w.Weight
	}
	return n
}

func TestDefaultPools_Shape(t *testing.T) {
	assert.Len(t, Holiday, 10)
	assert.Equal(t, 450, totalWeight(Holiday))
	assert.Equal(t, genericWeight, Original[0].Weight)
	assert.Equal(t, genericWeight, Reply[0].Weight)
	assert.Equal(t, genericWeight, ThreadedReply[0].Weight)
}

func TestSelect_ThreadedUsesThreadedPool(t *testing.T) {
	s := NewSelector(DefaultPools(), rand.New(rand.NewSource(7)))
	threaded := texts(ThreadedReply)
	reply := texts(Reply)

	for i := 0; i < 500; i++ {
		got := s.Select(ModeThreadedReply, false)
		assert.True(t, threaded[got], "unexpected template %q", got)
		assert.False(t, reply[got])
	}
}

func TestSelect_NoHolidayWhenInactive(t *testing.T) {
	s := NewSelector(DefaultPools(), rand.New(rand.NewSource(3)))
	holiday := texts(Holiday)

	for _, mode := range []Mode{ModeOriginal, ModeReply, ModeThreadedReply, ModeNews} {
		for i := 0; i < 200; i++ {
			assert.False(t, holiday[s.Select(mode, false)])
		}
	}
}

func TestSelect_HolidayDominatesWhenActive(t *testing.T) {
	s := NewSelector(DefaultPools(), rand.New(rand.NewSource(11)))
	holiday := texts(Holiday)

	hits, nonHoliday := 0, 0
	const draws = 2000
	for i := 0; i < draws; i++ {
		if holiday[s.Select(ModeOriginal, true)] {
			hits++
		} else {
			nonHoliday++
		}
	}
	// Expected share is 450/(450+39), about 92%
	assert.Greater(t, hits, draws*80/100)
	assert.Greater(t, nonHoliday, 0, "non-holiday content must keep a residual chance")
}

func TestPick_RespectsWeights(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	pool := []Weighted{{"a", 0}, {"b", 1}, {"c", -4}}
	for i := 0; i < 50; i++ {
		assert.Equal(t, "b", Pick(pool, rng))
	}
	assert.Equal(t, "", Pick(nil, rng))
	assert.Equal(t, "", Pick([]Weighted{{"x", 0}}, rng))
}

func TestFill(t *testing.T) {
	got := Fill("A {age}-year-old {job} who likes {likes} and {unknown}", map[string]string{
		"age":   "29",
		"job":   "baker",
		"likes": "sourdough",
	})
	assert.Equal(t, "A 29-year-old baker who likes sourdough and {unknown}", got)
	assert.Equal(t, "plain", Fill("plain", nil))
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "original", ModeOriginal.String())
	assert.Equal(t, "news", ModeNews.String())
	assert.Equal(t, "reply", ModeReply.String())
	assert.Equal(t, "threaded_reply", ModeThreadedReply.String())
}
