package common

// GenerationRequest asks the image service to stylize a wardrobe subject (an
// item, outfit or lookbook).
type GenerationRequest struct {
	SubjectID string `json:"subject_id"`
	Prompt    string `json:"prompt"`
	Style     string `json:"style,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

type GenerationResult struct {
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type GenerationJob = Job[GenerationRequest, GenerationResult]
