package authstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memConfigStore struct {
	values map[string]string
}

func newMemConfigStore() *memConfigStore {
	return &memConfigStore{values: make(map[string]string)}
}

func (m *memConfigStore) GetConfig(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *memConfigStore) SetConfig(key, value string) error {
	m.values[key] = value
	return nil
}

func TestEnsureTokenGeneratesOnce(t *testing.T) {
	backing := newMemConfigStore()
	s := New(backing)

	tok1, err := s.EnsureToken()
	require.NoError(t, err)
	require.NotEmpty(t, tok1)

	tok2, err := s.EnsureToken()
	require.NoError(t, err)
	require.Equal(t, tok1, tok2)
}

func TestRotateInvalidatesOldToken(t *testing.T) {
	backing := newMemConfigStore()
	s := New(backing)

	old, err := s.EnsureToken()
	require.NoError(t, err)
	require.True(t, s.Validate(old))

	fresh, err := s.Rotate()
	require.NoError(t, err)
	require.NotEqual(t, old, fresh)
	require.False(t, s.Validate(old))
	require.True(t, s.Validate(fresh))
}

func TestValidateRejectsWrongToken(t *testing.T) {
	backing := newMemConfigStore()
	s := New(backing)
	_, err := s.EnsureToken()
	require.NoError(t, err)

	require.False(t, s.Validate("not-the-token"))
	require.False(t, s.Validate(""))
}

// TestValidateConstantTime is a smoke test that comparison cost does not
// scale with the number of matching prefix bytes. It is inherently noisy
// so it only flags a gross timing leak, not a precise one.
func TestValidateConstantTime(t *testing.T) {
	backing := newMemConfigStore()
	s := New(backing)
	tok, err := s.EnsureToken()
	require.NoError(t, err)

	wrongEarly := "0" + tok[1:]
	wrongLate := tok[:len(tok)-1] + "0"

	const rounds = 20000
	measure := func(candidate string) time.Duration {
		start := time.Now()
		for i := 0; i < rounds; i++ {
			s.Validate(candidate)
		}
		return time.Since(start)
	}

	require.False(t, s.Validate(wrongEarly))
	require.False(t, s.Validate(wrongLate))

	// The bound is deliberately wide: CI timing noise makes a strict one
	// flaky, while a gross leak would still exceed it.
	early := measure(wrongEarly)
	late := measure(wrongLate)
	require.Less(t, late, 10*early, "early mismatch %v, late mismatch %v", early, late)
	require.Less(t, early, 10*late, "early mismatch %v, late mismatch %v", early, late)
}
