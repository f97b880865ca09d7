package core

import (
	"errors"
)

var (
	ErrLoadInProgress    = errors.New("a scene load is already in progress")
	ErrDeviceFailure     = errors.New("gpu device failure")
	ErrNotBuilt          = errors.New("acceleration structure not built")
	ErrEmptyScene        = errors.New("scene has no geometry")
	ErrUnsupportedFormat = errors.New("unsupported asset format")
	ErrInvalidMesh       = errors.New("invalid mesh")
	ErrShutdown          = errors.New("system is shut down")
	ErrUnknown           = errors.New("unknown")
)
