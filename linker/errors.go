package linker

import (
	"strings"

	"github.com/wippyai/wasm-embed/errors"
)

// instantiationError classifies an engine instantiation failure. Segment
// faults the pre-check could not predict still map to the link error kinds.
func instantiationError(name string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "data["):
		return errors.DataSegDoesNotFit(name, -1, err)
	case strings.Contains(msg, "elem["), strings.Contains(msg, "element["):
		return errors.ElemSegDoesNotFit(name, -1, err)
	case strings.Contains(msg, "not instantiated"):
		return errors.New(errors.PhaseLinking, errors.KindUnknownImport).
			Path(name).
			Detail("engine could not resolve an import").
			Cause(err).
			Build()
	}
	return errors.Instantiation(name, err)
}

func displayName(name, fallback string) string {
	if name != "" {
		return name
	}
	if fallback != "" {
		return fallback
	}
	return "<anonymous>"
}
