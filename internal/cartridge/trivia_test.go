package cartridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type answerMsg struct {
	Round  int `json:"round"`
	Choice int `json:"choice"`
}

func newTestTrivia(t *testing.T, questions int) Actor {
	t.Helper()
	qs := make([]Question, questions)
	for i := range qs {
		qs[i] = Question{Text: "capital?", Options: []string{"Lima", "Quito", "Bogota"}, Answer: 1}
	}
	return spawn(t, NewRegistry(Policies{}), KindTrivia, Config{
		Seed:     7,
		Duration: 15 * time.Second,
		Players:  []string{"X", "Y"},
		Params:   params(t, TriviaParams{Questions: qs}),
	})
}

func currentAnswer(t *testing.T, a Actor) (int, int) {
	t.Helper()
	snap := a.Snapshot().(TriviaSnapshot)
	q := snap.Questions[snap.Round]
	return snap.Round, q.Answer
}

func TestTriviaRewardsFasterCorrectAnswers(t *testing.T) {
	a := newTestTrivia(t, 1)
	round, right := currentAnswer(t, a)

	require.NoError(t, send(t, a, "X", "ANSWER", t0.Add(2*time.Second), answerMsg{Round: round, Choice: right}))
	require.NoError(t, send(t, a, "Y", "ANSWER", t0.Add(10*time.Second), answerMsg{Round: round, Choice: right}))
	require.True(t, a.Done())

	rewards := a.Output().SilverRewards
	assert.Equal(t, 14, rewards["X"])
	assert.Equal(t, 11, rewards["Y"])
	assert.Greater(t, rewards["X"], rewards["Y"])
	assert.Equal(t, 1, a.Output().GoldContribution)
}

func TestTriviaTimeoutScoresLikeWrongAnswer(t *testing.T) {
	a := newTestTrivia(t, 1)
	round, right := currentAnswer(t, a)
	wrong := (right + 1) % 3

	require.NoError(t, send(t, a, "X", "ANSWER", t0.Add(time.Second), answerMsg{Round: round, Choice: wrong}))
	require.Equal(t, t0.Add(15*time.Second), a.Deadline())
	a.Expire(a.Deadline())
	require.True(t, a.Done())

	snap := a.Snapshot().(TriviaSnapshot)
	missed := snap.Answers[0]["Y"]
	assert.True(t, missed.Missed)
	assert.Equal(t, -1, missed.Choice)
	assert.Equal(t, DefaultTriviaScore(false, 15*time.Second, 15*time.Second), missed.Points)
	assert.Equal(t, snap.Answers[0]["X"].Points, missed.Points)
	assert.Equal(t, map[string]int{"X": 0, "Y": 0}, a.Output().SilverRewards)
}

func TestTriviaAdvancesRounds(t *testing.T) {
	a := newTestTrivia(t, 2)
	_, right := currentAnswer(t, a)

	require.NoError(t, send(t, a, "X", "ANSWER", t0.Add(time.Second), answerMsg{Round: 0, Choice: right}))
	require.ErrorIs(t, send(t, a, "X", "ANSWER", t0.Add(2*time.Second), answerMsg{Round: 0, Choice: right}), ErrDuplicate)
	require.ErrorIs(t, send(t, a, "Y", "ANSWER", t0.Add(2*time.Second), answerMsg{Round: 1, Choice: 0}), ErrClosed)

	closed := t0.Add(4 * time.Second)
	require.NoError(t, send(t, a, "Y", "ANSWER", closed, answerMsg{Round: 0, Choice: right}))
	require.False(t, a.Done())

	snap := a.Snapshot().(TriviaSnapshot)
	assert.Equal(t, 1, snap.Round)
	assert.Equal(t, closed, snap.RoundStart)
	assert.Equal(t, closed.Add(15*time.Second), a.Deadline())

	require.ErrorIs(t, send(t, a, "X", "ANSWER", closed, answerMsg{Round: 0, Choice: right}), ErrClosed)

	a.Cancel(closed.Add(time.Second))
	require.True(t, a.Done())
	scores := a.Output().SilverRewards
	assert.Positive(t, scores["X"])
	assert.Positive(t, scores["Y"])
}

func TestTriviaSeedDecidesOrder(t *testing.T) {
	build := func(seed uint64) TriviaSnapshot {
		a := spawn(t, NewRegistry(Policies{}), KindTrivia, Config{
			Seed:     seed,
			Duration: 10 * time.Second,
			Players:  []string{"X"},
			Params: params(t, TriviaParams{Questions: []Question{
				{Text: "one", Options: []string{"a", "b", "c", "d"}, Answer: 0},
				{Text: "two", Options: []string{"a", "b", "c", "d"}, Answer: 3},
				{Text: "three", Options: []string{"a", "b", "c", "d"}, Answer: 2},
			}}),
		})
		return a.Snapshot().(TriviaSnapshot)
	}

	first, again := build(42), build(42)
	assert.Equal(t, first.Questions, again.Questions)

	for _, q := range first.Questions {
		switch q.Text {
		case "one":
			assert.Equal(t, "a", q.Options[q.Answer])
		case "two":
			assert.Equal(t, "d", q.Options[q.Answer])
		case "three":
			assert.Equal(t, "c", q.Options[q.Answer])
		}
	}
}
