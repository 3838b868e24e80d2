package bundle

import "errors"

var (
	ErrInvalidMagic     = errors.New("invalid bundle magic")
	ErrUnsupportedMajor = errors.New("unsupported bundle major version")
	ErrCorruptFile      = errors.New("corrupt bundle file")
	ErrMissingSection   = errors.New("missing bundle section")
)
