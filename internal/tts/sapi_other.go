//go:build !windows

package tts

import (
	"fmt"

	"github.com/rs/zerolog"
)

func newSAPIEngine(zerolog.Logger) (Engine, error) {
	return nil, fmt.Errorf("%w: SAPI requires windows", ErrEngineUnavailable)
}
