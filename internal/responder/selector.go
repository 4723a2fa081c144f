// Package responder picks which members of a group conversation answer a
// message.
package responder

import (
	"math"
	"math/rand/v2"
	"strings"
	"sync"

	"basegraph.app/chorus/internal/model"
	"basegraph.app/chorus/internal/tuning"
)

type Input struct {
	Members       []model.Entity
	Message       string
	LastSpeakerID int64
	// Consecutive holds consecutive-speak counts by entity id.
	Consecutive map[int64]int
}

type Selector struct {
	tuning tuning.Source

	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a Selector. A nil rng uses a randomly seeded source.
func New(src tuning.Source, rng *rand.Rand) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Selector{tuning: src, rng: rng}
}

// Select returns the entities answering this round in a shuffled order. When
// the draws pick nobody, one eligible member is chosen at random; only a
// conversation whose sole member is capped gets an empty result.
func (s *Selector) Select(in Input) []model.Entity {
	if len(in.Members) == 0 {
		return nil
	}

	t := s.tuning.Current()
	keywords := ExtractKeywords(in.Message)
	lowered := strings.ToLower(in.Message)

	s.mu.Lock()
	defer s.mu.Unlock()

	var chosen, eligible []model.Entity
	for _, member := range in.Members {
		if member.ID == in.LastSpeakerID && in.Consecutive[member.ID] >= t.MaxConsecutiveSpeaks {
			continue
		}
		eligible = append(eligible, member)

		p := t.ReplyProbability
		if hasAffinity(member, keywords, lowered) {
			p = math.Min(1, p+t.KeywordBoost)
		}
		if s.rng.Float64() < p {
			chosen = append(chosen, member)
		}
	}

	if len(chosen) == 0 {
		if len(eligible) == 0 {
			return nil
		}
		chosen = []model.Entity{eligible[s.rng.IntN(len(eligible))]}
	}

	s.rng.Shuffle(len(chosen), func(i, j int) {
		chosen[i], chosen[j] = chosen[j], chosen[i]
	})
	return chosen
}

// Probability returns the reply probability this member would get for message.
func (s *Selector) Probability(member model.Entity, message string) float64 {
	t := s.tuning.Current()
	if hasAffinity(member, ExtractKeywords(message), strings.ToLower(message)) {
		return math.Min(1, t.ReplyProbability+t.KeywordBoost)
	}
	return t.ReplyProbability
}

func hasAffinity(member model.Entity, keywords []string, loweredMessage string) bool {
	if intersects(keywords, Affinity(member)) {
		return true
	}
	for _, kw := range member.AffinityKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(loweredMessage, kw) {
			return true
		}
	}
	return false
}
