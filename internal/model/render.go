package model

type Mode int

const (
	Image Mode = iota
	Document
)

func (m Mode) String() string {
	return [...]string{"screenshot", "html"}[m]
}

// ParseMode maps the wire value to a Mode. Anything other than the exact "html" renders an image.
func ParseMode(s string) Mode {
	if s == "html" {
		return Document
	}
	return Image
}

type NavigationOutcome int

const (
	Completed NavigationOutcome = iota
	CompletedViaFallback
	TimedOutWaitingForSignal
)

func (o NavigationOutcome) String() string {
	return [...]string{"completed", "completed via fallback", "timed out waiting for signal"}[o]
}

const (
	SuccessMessage = "Successfully processed page"
	NoTitle        = "No title found"
	TitleError     = "Error getting title"
)

type RenderRequest struct {
	URL  string `json:"url"`
	Mode string `json:"mode,omitempty"`
}

func (r *RenderRequest) ParsedMode() Mode {
	return ParseMode(r.Mode)
}

// RenderResult carries exactly one of the html pair or the screenshot pair.
type RenderResult struct {
	Message        string  `json:"message"`
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	ContentLength  *int    `json:"content_length,omitempty"`
	ScreenshotSize *int    `json:"screenshot_size,omitempty"`
	Screenshot     *string `json:"screenshot,omitempty"`
	HTML           *string `json:"html,omitempty"`
}

func (r *RenderResult) Mode() Mode {
	if r.HTML != nil {
		return Document
	}
	return Image
}

// RenderNotice is published to kafka after a render. The artifact itself lives in S3.
type RenderNotice struct {
	URL      string `json:"url"`
	Mode     string `json:"mode"`
	Title    string `json:"title"`
	Size     int    `json:"size"`
	S3Bucket string `json:"s3_bucket,omitempty"`
	S3Key    string `json:"s3_key,omitempty"`
}

type RenderMetadata struct {
	URL             string
	Mode            string
	Title           string
	Size            int
	TimeToRender    int64 // in milliseconds
	Status          string
	RendererVersion string
	S3Key           string
}
