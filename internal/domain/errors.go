package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

// Error kinds raised by the forecasting pipeline. Every failure is wrapped
// around one of these at the point of violation, so callers match with
// errors.Is and never receive partial results.
var (
	ErrData     = errors.New("data error")
	ErrDivision = errors.New("division error")
	ErrTraining = errors.New("training error")
	ErrState    = errors.New("state error")
	ErrShape    = errors.New("shape error")
)

var errorKinds = []struct {
	err    error
	name   string
	status int
}{
	{ErrData, "DataError", http.StatusBadRequest},
	{ErrDivision, "DivisionError", http.StatusUnprocessableEntity},
	{ErrTraining, "TrainingError", http.StatusUnprocessableEntity},
	{ErrState, "StateError", http.StatusConflict},
	{ErrShape, "ShapeError", http.StatusBadRequest},
}

// ErrorKind returns the name of the error kind wrapped by err, or "" when
// err is not a pipeline error.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}

// HTTPStatus maps an error to the response status handlers report it
// with. Errors outside the pipeline kinds are internal errors.
func HTTPStatus(err error) int {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// DataErrorf wraps ErrData with a formatted message and a stack trace.
func DataErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrData, format, args...)
}

// DivisionErrorf wraps ErrDivision.
func DivisionErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrDivision, format, args...)
}

// TrainingErrorf wraps ErrTraining.
func TrainingErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrTraining, format, args...)
}

// StateErrorf wraps ErrState.
func StateErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrState, format, args...)
}

// ShapeErrorf wraps ErrShape.
func ShapeErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrShape, format, args...)
}
