// Package kakaerr defines the error kinds shared by kaka's structures.
//
// Callers match on the sentinels with errors.Is. Every error returned by the
// library wraps exactly one of them with context describing the offending
// values.
package kakaerr

import "github.com/pkg/errors"

var (
	// ErrConfig reports invalid construction or query parameters, such as a
	// zero capacity, a false positive rate outside (0, 1), a fingerprint width
	// that is not a multiple of the band count, or missing content when
	// content similarity is enabled.
	ErrConfig = errors.New("kaka: invalid configuration")

	// ErrDimensionMismatch reports that two fingerprints, or a fingerprint and
	// an index, have different widths.
	ErrDimensionMismatch = errors.New("kaka: dimension mismatch")

	// ErrIncompatibleFilter reports a merge or restore between structures
	// whose parameters differ.
	ErrIncompatibleFilter = errors.New("kaka: incompatible filter")

	// ErrNormalize reports a URL that cannot be canonicalized.
	ErrNormalize = errors.New("kaka: cannot normalize url")

	// ErrCorrupt reports a snapshot that fails structural or checksum checks.
	ErrCorrupt = errors.New("kaka: corrupt snapshot")
)

// Config wraps ErrConfig with a formatted reason.
func Config(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConfig, format, args...)
}

// Dimension wraps ErrDimensionMismatch with the two widths involved.
func Dimension(got, want int) error {
	return errors.Wrapf(ErrDimensionMismatch, "width %d, expected %d", got, want)
}

// Incompatible wraps ErrIncompatibleFilter with a formatted reason.
func Incompatible(format string, args ...interface{}) error {
	return errors.Wrapf(ErrIncompatibleFilter, format, args...)
}

// Corrupt wraps ErrCorrupt with a formatted reason.
func Corrupt(format string, args ...interface{}) error {
	return errors.Wrapf(ErrCorrupt, format, args...)
}

// Wrap attaches a formatted reason to kind.
func Wrap(kind error, format string, args ...interface{}) error {
	return errors.Wrapf(kind, format, args...)
}
