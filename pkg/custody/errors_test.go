package custody

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpecialisedErrorsMatchGeneralForm(t *testing.T) {
	assert.ErrorIs(t, ErrMaxVaults, ErrHitLimit)
	assert.ErrorIs(t, ErrMaxAutos, ErrHitLimit)
	assert.NotErrorIs(t, ErrHitLimit, ErrMaxVaults)
	assert.NotErrorIs(t, ErrMaxVaults, ErrMaxAutos)
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("approve action 3: %w", ErrAlreadyApproved)

	assert.Equal(t, KindConsensus, KindOf(err))
	assert.Equal(t, "AlreadyApproved", CodeOf(err))
	assert.Equal(t, KindCapacity, KindOf(ErrMaxAutos))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, "", CodeOf(nil))
}
