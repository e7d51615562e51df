package shuffle

import (
	"math/rand"

	"github.com/examdesk/examdesk-backend/internal/model"
)

// Perm returns a uniform Fisher–Yates permutation of [0, n) drawn from rng.
// Pure given the random source; callers own the seeding policy.
func Perm(rng *rand.Rand, n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		p[i], p[j] = p[j], p[i]
	}
	return p
}

// BuildOrder generates a fresh presentation order for a session: the question
// sequence is shuffled once, and each question's option keys are shuffled
// independently. The result is persisted with the session and reused verbatim
// on resume — re-running this for an existing session would misalign saved
// answers with the redisplayed options.
func BuildOrder(rng *rand.Rand, questions []model.QuestionForStudent) model.PresentationOrder {
	order := make(model.PresentationOrder, 0, len(questions))
	for _, qi := range Perm(rng, len(questions)) {
		q := questions[qi]
		keys := make([]string, len(q.Options))
		for ki, oi := range Perm(rng, len(q.Options)) {
			keys[ki] = q.Options[oi].Key
		}
		order = append(order, model.QuestionOrder{
			QuestionID: q.ID.String(),
			OptionKeys: keys,
		})
	}
	return order
}
