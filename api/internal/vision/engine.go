package vision

import "context"

// Input is a single analysis request: raw image bytes, their MIME type and the
// instruction sent alongside the image.
type Input struct {
	Image       []byte
	MIMEType    string
	Instruction string
}

// Engine produces an analysis text for an image.
type Engine interface {
	Analyze(ctx context.Context, in Input) (string, error)
}

// EngineFunc adapts a plain function to Engine.
type EngineFunc func(ctx context.Context, in Input) (string, error)

func (f EngineFunc) Analyze(ctx context.Context, in Input) (string, error) { return f(ctx, in) }
