package pipeline

import "errors"

// Pipeline errors. Compile and binding errors never reach the caller of
// ApplyState: they are logged and the previous pipeline stays in use.
var (
	// ErrCompile is returned when WGSL fails to parse, lower or validate.
	ErrCompile = errors.New("pipeline: shader compile failed")

	// ErrEntryPoint is returned when a configured entry point is missing
	// or belongs to another stage.
	ErrEntryPoint = errors.New("pipeline: bad entry point")

	// ErrRootSignature is returned for malformed root signature files.
	ErrRootSignature = errors.New("pipeline: bad root signature")

	// ErrDesc is returned by New for an incomplete Desc.
	ErrDesc = errors.New("pipeline: incomplete description")
)
