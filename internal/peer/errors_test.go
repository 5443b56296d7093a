package peer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBindErrorIsErrBindFailed(t *testing.T) {
	cause := errors.New("address already in use")
	err := &BindError{Cause: cause}

	assert.True(t, errors.Is(err, ErrBindFailed))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrTraversalFailed))
}
