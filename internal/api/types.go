package api

// GenerateRequest is the body of POST /v1/generate. Unset fields fall back
// to the model's generation_config.json and then the built-in defaults.
type GenerateRequest struct {
	Model         string   `json:"model,omitempty"`
	Prompt        *string  `json:"prompt"`
	MaxTokens     *int     `json:"max_tokens,omitempty"`
	Seed          *uint64  `json:"seed,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	MinP          *float64 `json:"min_p,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
	RepeatLastN   *int     `json:"repeat_last_n,omitempty"`
	EndMarker     *string  `json:"end_marker,omitempty"`
	SkipEndMarker *bool    `json:"skip_end_marker,omitempty"`
	CapToPrompt   *bool    `json:"cap_to_prompt,omitempty"`
	// EchoPrompt streams the decoded prompt as the first deltas. The text
	// of a finished generation never includes it; see prompt_text.
	EchoPrompt    *bool    `json:"echo_prompt,omitempty"`
	Greedy        *bool    `json:"greedy,omitempty"`
	Stream        *bool    `json:"stream,omitempty"`
	// Store keeps the finished generation retrievable by id. Defaults to true.
	Store *bool `json:"store,omitempty"`
}

// Generation statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusIncomplete = "incomplete"
	StatusFailed     = "failed"
)

type Generation struct {
	ID                string             `json:"id"`
	Object            string             `json:"object"`
	CreatedAt         int64              `json:"created_at"`
	CompletedAt       *int64             `json:"completed_at,omitempty"`
	Model             string             `json:"model,omitempty"`
	Status            string             `json:"status"`
	Text              string             `json:"text"`
	PromptText        string             `json:"prompt_text,omitempty"`
	StopReason        string             `json:"stop_reason,omitempty"`
	Usage             *Usage             `json:"usage,omitempty"`
	Error             *APIError          `json:"error,omitempty"`
	IncompleteDetails *IncompleteDetails `json:"incomplete_details,omitempty"`
}

type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	TokensPerSecond  float64 `json:"tokens_per_second"`
}

type IncompleteDetails struct {
	Reason string `json:"reason"`
}

type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

type DeleteGenerationResp struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type streamEvent struct {
	Type           string      `json:"type"`
	Generation     *Generation `json:"generation,omitempty"`
	Delta          string      `json:"delta,omitempty"`
	SequenceNumber int         `json:"sequence_number"`
}
