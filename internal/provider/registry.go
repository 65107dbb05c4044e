package provider

// Key identifies a supported vendor.
type Key string

const (
	Ollama    Key = "ollama"
	OpenAI    Key = "openai"
	Anthropic Key = "anthropic"
	Google    Key = "google"
	Custom    Key = "custom"
)

// Descriptor is the static description of one vendor. Descriptors are built
// once at package init and never mutated.
type Descriptor struct {
	DisplayName        string   `json:"name"`
	Description        string   `json:"description"`
	Models             []string `json:"models"`
	RequiresCredential bool     `json:"requiresApiKey"`
	DefaultEndpoint    string   `json:"defaultUrl,omitempty"` // empty only for custom
}

// keyOrder is the stable order used by Keys and the relay's catalog endpoint.
var keyOrder = []Key{Ollama, OpenAI, Anthropic, Google, Custom}

var registry = map[Key]Descriptor{
	Ollama: {
		DisplayName:        "Ollama (Local)",
		Description:        "Run models locally with Ollama",
		Models:             []string{"llama3.1:8b", "codellama", "llama2", "mistral", "deepseek-coder", "neural-chat", "wizard-coder"},
		RequiresCredential: false,
		DefaultEndpoint:    "http://127.0.0.1:11434",
	},
	OpenAI: {
		DisplayName:        "OpenAI",
		Description:        "GPT-4, GPT-3.5 Turbo, and more",
		Models:             []string{"gpt-4", "gpt-4-turbo", "gpt-3.5-turbo", "gpt-3.5-turbo-16k"},
		RequiresCredential: true,
		DefaultEndpoint:    "https://api.openai.com/v1",
	},
	Anthropic: {
		DisplayName:        "Anthropic",
		Description:        "Claude 3 and Claude 2",
		Models:             []string{"claude-3-opus", "claude-3-sonnet", "claude-3-haiku", "claude-2.1"},
		RequiresCredential: true,
		DefaultEndpoint:    "https://api.anthropic.com",
	},
	Google: {
		DisplayName:        "Google AI",
		Description:        "Gemini Pro and other models",
		Models:             []string{"gemini-pro", "gemini-pro-vision", "text-bison"},
		RequiresCredential: true,
		DefaultEndpoint:    "https://generativelanguage.googleapis.com",
	},
	Custom: {
		DisplayName:        "Custom API",
		Description:        "Connect to any compatible API",
		Models:             []string{"custom"},
		RequiresCredential: true,
	},
}

// Lookup returns the descriptor for key. The Models slice is a copy, so
// callers can't mutate the registry through it.
func Lookup(key Key) (Descriptor, bool) {
	d, ok := registry[key]
	if !ok {
		return Descriptor{}, false
	}
	d.Models = append([]string(nil), d.Models...)
	return d, true
}

// Keys returns every registered vendor key in display order.
func Keys() []Key {
	return append([]Key(nil), keyOrder...)
}

// ParseKey converts a user-supplied string into a Key.
func ParseKey(s string) (Key, bool) {
	k := Key(s)
	_, ok := registry[k]
	return k, ok
}

// RelayKeys are the vendors the relay process knows how to call.
var RelayKeys = []Key{Anthropic, OpenAI, Google}

// IsRelayed reports whether key is one of the relay's vendors.
func IsRelayed(key Key) bool {
	for _, k := range RelayKeys {
		if k == key {
			return true
		}
	}
	return false
}

// HasModel reports whether model is in key's catalog. Custom endpoints have
// no fixed catalog and accept any non-empty model.
func HasModel(key Key, model string) bool {
	if key == Custom {
		return model != ""
	}
	d, ok := registry[key]
	if !ok {
		return false
	}
	for _, m := range d.Models {
		if m == model {
			return true
		}
	}
	return false
}
