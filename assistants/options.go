package assistants

import (
	"github.com/nimbus-ai/nimbus/pkg/llms"
	"github.com/nimbus-ai/nimbus/store"
)

// Option is a function that can be used to modify the behavior of the Assistant Config.
type Option func(*Config)

type Config struct {
	// Model is the model to use in an LLM call.
	Model    string
	modelSet bool

	// MaxTokens is the maximum number of tokens to generate to use in an LLM call.
	MaxTokens    int
	maxTokensSet bool

	// Temperature is the temperature for sampling to use in an LLM call, between 0 and 1.
	Temperature    float64
	temperatureSet bool

	// TopP is the cumulative probability for top-p sampling in an LLM call.
	TopP    float64
	toppSet bool

	// StopWords is a list of words to stop on to use in an LLM call.
	StopWords    []string
	stopWordsSet bool

	// MaxRounds bounds the number of model round-trips within a single chat
	// turn. Each round of tool dispatch costs one round-trip.
	MaxRounds int

	// SystemPrompt is prepended to every conversation.
	SystemPrompt string

	// CallbackHandler receives progress events during a chat turn.
	CallbackHandler Callback

	// Store persists conversation history. Defaults to an in-memory store.
	Store store.MessageStore
}

func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		MaxRounds: DefaultMaxRounds,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Apply returns a copy of the config with the given options applied.
func (c *Config) Apply(opts ...Option) *Config {
	cfg := *c
	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithModel is an option for LLM.Call.
func WithModel(model string) Option {
	return func(o *Config) {
		o.Model = model
		o.modelSet = true
	}
}

// WithMaxTokens is an option for LLM.Call.
func WithMaxTokens(maxTokens int) Option {
	return func(o *Config) {
		o.MaxTokens = maxTokens
		o.maxTokensSet = true
	}
}

// WithTemperature is an option for LLM.Call.
func WithTemperature(temperature float64) Option {
	return func(o *Config) {
		o.Temperature = temperature
		o.temperatureSet = true
	}
}

// WithTopP will add an option to use top-p sampling for LLM.Call.
func WithTopP(topP float64) Option {
	return func(o *Config) {
		o.TopP = topP
		o.toppSet = true
	}
}

// WithStopWords is an option for setting the stop words for LLM.Call.
func WithStopWords(stopWords []string) Option {
	return func(o *Config) {
		o.StopWords = stopWords
		o.stopWordsSet = true
	}
}

// WithMaxRounds bounds the model round-trips per chat turn.
func WithMaxRounds(maxRounds int) Option {
	return func(o *Config) {
		o.MaxRounds = maxRounds
	}
}

// WithSystemPrompt sets the system prompt for the conversation.
func WithSystemPrompt(prompt string) Option {
	return func(o *Config) {
		o.SystemPrompt = prompt
	}
}

// WithStore sets the conversation history store.
func WithStore(s store.MessageStore) Option {
	return func(o *Config) {
		o.Store = s
	}
}

// WithCallback allows setting a custom Callback Handler.
func WithCallback(callbackHandler Callback) Option {
	return func(o *Config) {
		o.CallbackHandler = callbackHandler
	}
}

// GetCallOptions converts the set values into per-call LLM options.
func (c *Config) GetCallOptions(extra ...llms.CallOption) []llms.CallOption {
	var callOpts []llms.CallOption
	if c.modelSet {
		callOpts = append(callOpts, llms.WithModel(c.Model))
	}
	if c.maxTokensSet {
		callOpts = append(callOpts, llms.WithMaxTokens(c.MaxTokens))
	}
	if c.temperatureSet {
		callOpts = append(callOpts, llms.WithTemperature(c.Temperature))
	}
	if c.toppSet {
		callOpts = append(callOpts, llms.WithTopP(c.TopP))
	}
	if c.stopWordsSet {
		callOpts = append(callOpts, llms.WithStopWords(c.StopWords))
	}
	callOpts = append(callOpts, extra...)
	return callOpts
}
