package gemini

import "lynchvision/internal/imaging"

type TextRequest struct {
	Model       string
	Image       imaging.Reference
	Instruction string
	// JSONSchema, when set, switches the response to application/json
	// constrained by this schema.
	JSONSchema any
}

type ImageRequest struct {
	Model       string
	Prompt      string
	Image       imaging.Reference
	AspectRatio string
	ImageSize   string
}

// Payload is the binary image a model returned, independent of backend.
type Payload struct {
	Data     []byte
	MIMEType string
}
