package hmm

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Draw samples n pairs from the generative process of the model. Repeated
// calls return different sequences.
func (m *Model) Draw(n int) ([]Pair, error) {
	logger := log.WithFields(log.Fields{
		"function": "Model.Draw",
	})
	if n <= 0 {
		return nil, errors.Wrapf(ErrInvalidCount, "%d", n)
	}
	if err := m.Valid(); err != nil {
		return nil, err
	}
	states, obs, err := m.engine.Sample(m.tables, n, m.src)
	if err != nil {
		return nil, errors.Wrap(err, "sample")
	}
	if len(states) != n || len(obs) != n {
		return nil, errors.Errorf("engine returned %d states and %d observations, want %d", len(states), len(obs), n)
	}
	pairs := make([]Pair, n)
	for k := range pairs {
		if states[k] < 0 || states[k] >= m.states.Len() || obs[k] < 0 || obs[k] >= m.observations.Len() {
			return nil, errors.Errorf("engine returned index (%d,%d) outside the alphabets", states[k], obs[k])
		}
		pairs[k] = Pair{State: m.states.At(states[k]), Observation: m.observations.At(obs[k])}
	}
	logger.Debugf("drew %v", pairs)
	return pairs, nil
}
