package models

type ResolutionID string

const (
	Resolution2K ResolutionID = "2k"
	Resolution4K ResolutionID = "4k"
	Resolution8K ResolutionID = "8k"
)

type ResolutionOption struct {
	ID          ResolutionID
	Label       string
	Description string
	PromptText  string
	Width       int
}

var resolutionOptions = []ResolutionOption{
	{
		ID:          Resolution2K,
		Label:       "2K",
		Description: "Web and social media",
		PromptText:  "2K resolution (2048px wide)",
		Width:       2048,
	},
	{
		ID:          Resolution4K,
		Label:       "4K",
		Description: "Print and catalogue",
		PromptText:  "4K resolution (4096px wide)",
		Width:       4096,
	},
	{
		ID:          Resolution8K,
		Label:       "8K",
		Description: "Large format and retouching",
		PromptText:  "8K resolution (8192px wide)",
		Width:       8192,
	},
}

// ResolutionOptions returns the tiers from lowest to highest.
func ResolutionOptions() []ResolutionOption {
	out := make([]ResolutionOption, len(resolutionOptions))
	copy(out, resolutionOptions)
	return out
}

func FindResolution(id ResolutionID) (ResolutionOption, bool) {
	for _, o := range resolutionOptions {
		if o.ID == id {
			return o, true
		}
	}
	return ResolutionOption{}, false
}

// LookupResolution resolves id, falling back to the highest tier.
func LookupResolution(id ResolutionID) ResolutionOption {
	if o, ok := FindResolution(id); ok {
		return o
	}
	return resolutionOptions[len(resolutionOptions)-1]
}

type AspectRatioID string

const (
	AspectSquare AspectRatioID = "square"
	AspectReels  AspectRatioID = "reels"
)

type AspectRatioOption struct {
	ID          AspectRatioID
	Label       string
	Description string
	PromptText  string
	Ratio       float64
	APIValue    string
}

var aspectRatioOptions = []AspectRatioOption{
	{
		ID:          AspectSquare,
		Label:       "Square",
		Description: "Feed posts and catalogue tiles",
		PromptText:  "square 1:1 composition",
		Ratio:       1,
		APIValue:    "1:1",
	},
	{
		ID:          AspectReels,
		Label:       "Reels",
		Description: "Stories and vertical video covers",
		PromptText:  "vertical 9:16 composition",
		Ratio:       9.0 / 16.0,
		APIValue:    "9:16",
	},
}

func AspectRatioOptions() []AspectRatioOption {
	out := make([]AspectRatioOption, len(aspectRatioOptions))
	copy(out, aspectRatioOptions)
	return out
}

func FindAspectRatio(id AspectRatioID) (AspectRatioOption, bool) {
	for _, o := range aspectRatioOptions {
		if o.ID == id {
			return o, true
		}
	}
	return AspectRatioOption{}, false
}

// LookupAspectRatio resolves id, falling back to the first tier.
func LookupAspectRatio(id AspectRatioID) AspectRatioOption {
	if o, ok := FindAspectRatio(id); ok {
		return o
	}
	return aspectRatioOptions[0]
}

// Sizing is the resolution and aspect ratio applied to the next request.
type Sizing struct {
	Resolution  ResolutionOption
	AspectRatio AspectRatioOption
}

func NewSizing(res ResolutionID, ar AspectRatioID) Sizing {
	return Sizing{
		Resolution:  LookupResolution(res),
		AspectRatio: LookupAspectRatio(ar),
	}
}

func DefaultSizing() Sizing {
	return NewSizing(Resolution8K, AspectSquare)
}

func (s Sizing) Hint() *SizingHint {
	return &SizingHint{Resolution: s.Resolution.ID, AspectRatio: s.AspectRatio.ID}
}
