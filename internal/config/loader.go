package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidAdapterTypes lists the known adapter types per backend kind. Unknown
// types are validation errors because the type selects the constructor.
var ValidAdapterTypes = map[string][]string{
	"llm":        {"openai", "anyllm"},
	"stt":        {"whisperhttp", "whispercpp"},
	"tts":        {"piper", "coqui"},
	"search":     {"searxng", "openalex", "mcp"},
	"audiogen":   {"musicgen"},
	"embeddings": {"openai"},
}

// validVendors lists the upstream providers the anyllm adapter can front.
var validVendors = []string{"openai", "anthropic", "gemini", "ollama", "llamacpp"}

// capabilityNames lists the capability keys accepted in the policies map.
var capabilityNames = []string{
	"generate_text",
	"transcribe_audio",
	"synthesize_speech",
	"search_web",
	"search_scholarly",
	"generate_audio",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment variable
// references, applies defaults, and validates the result. Useful in tests
// where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in the documented default values for omitted fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.HistoryLimit == 0 {
		cfg.Server.HistoryLimit = 10
	}
	if len(cfg.Audio.Player) == 0 {
		cfg.Audio.Player = []string{"aplay", "-q"}
	}
	if cfg.Jobs.VoicesDir == "" {
		cfg.Jobs.VoicesDir = cfg.Audio.VoicesDir
	}
	if cfg.Research.WebResults == 0 {
		cfg.Research.WebResults = 8
	}
	if cfg.Research.ScholarlyResults == 0 {
		cfg.Research.ScholarlyResults = 5
	}
	if cfg.Archive.PostgresDSN != "" && cfg.Archive.EmbeddingDimensions == 0 {
		cfg.Archive.EmbeddingDimensions = 1536
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Backend entries: unique ids, known types, per-type required fields.
	// While walking, collect the set of ids per capability for policy
	// cross-validation below.
	idsSeen := make(map[string]string)
	byCapability := make(map[string][]string)

	lists := []struct {
		kind    string
		entries []BackendEntry
	}{
		{"llm", cfg.Backends.LLM},
		{"stt", cfg.Backends.STT},
		{"tts", cfg.Backends.TTS},
		{"search", cfg.Backends.Search},
		{"audiogen", cfg.Backends.AudioGen},
	}
	for _, l := range lists {
		for i, e := range l.entries {
			prefix := fmt.Sprintf("backends.%s[%d]", l.kind, i)
			errs = append(errs, validateEntry(prefix, l.kind, e)...)

			if e.ID != "" {
				if prev, ok := idsSeen[e.ID]; ok {
					errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of %s", prefix, e.ID, prev))
				}
				idsSeen[e.ID] = prefix
				c := entryCapability(l.kind, e)
				byCapability[c] = append(byCapability[c], e.ID)
			}
		}
	}
	if e := cfg.Backends.Embeddings; e != nil {
		errs = append(errs, validateEntry("backends.embeddings", "embeddings", *e)...)
	}

	// Policies: known capability keys, orders referencing configured ids.
	for name, p := range cfg.Policies {
		prefix := fmt.Sprintf("policies.%s", name)
		if !slices.Contains(capabilityNames, name) {
			errs = append(errs, fmt.Errorf("%s is not a capability; valid keys: %v", prefix, capabilityNames))
			continue
		}
		if len(p.Order) == 0 {
			errs = append(errs, fmt.Errorf("%s.order must list at least one backend id", prefix))
		}
		for _, id := range p.Order {
			if !slices.Contains(byCapability[name], id) {
				errs = append(errs, fmt.Errorf("%s.order references %q, which is not a configured %s backend", prefix, id, name))
			}
		}
	}

	// Archive needs an embedder to produce vectors.
	if cfg.Archive.PostgresDSN != "" && cfg.Backends.Embeddings == nil {
		errs = append(errs, errors.New("archive.postgres_dsn is set but backends.embeddings is not configured"))
	}

	for i, st := range cfg.Jobs.Training {
		prefix := fmt.Sprintf("jobs.training[%d]", i)
		if st.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if st.Cmd == "" {
			errs = append(errs, fmt.Errorf("%s.cmd is required", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateEntry checks one backend entry's type and type-specific fields.
func validateEntry(prefix, kind string, e BackendEntry) []error {
	var errs []error

	if kind != "embeddings" && e.ID == "" {
		errs = append(errs, fmt.Errorf("%s.id is required", prefix))
	}
	if e.Type == "" {
		errs = append(errs, fmt.Errorf("%s.type is required; valid values: %v", prefix, ValidAdapterTypes[kind]))
		return errs
	}
	if !slices.Contains(ValidAdapterTypes[kind], e.Type) {
		errs = append(errs, fmt.Errorf("%s.type %q is invalid; valid values: %v", prefix, e.Type, ValidAdapterTypes[kind]))
		return errs
	}

	switch e.Type {
	case "openai":
		if e.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s.api_key is required for type openai", prefix))
		}
		if e.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required for type openai", prefix))
		}
	case "anyllm":
		if e.Vendor == "" {
			errs = append(errs, fmt.Errorf("%s.vendor is required for type anyllm; valid values: %v", prefix, validVendors))
		} else if !slices.Contains(validVendors, e.Vendor) {
			errs = append(errs, fmt.Errorf("%s.vendor %q is invalid; valid values: %v", prefix, e.Vendor, validVendors))
		}
		if e.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required for type anyllm", prefix))
		}
	case "whisperhttp", "coqui", "searxng", "musicgen":
		if e.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required for type %s", prefix, e.Type))
		}
	case "whispercpp":
		if e.ModelPath == "" {
			errs = append(errs, fmt.Errorf("%s.model_path is required for type whispercpp", prefix))
		}
	case "mcp":
		if e.Command == "" && e.URL == "" {
			errs = append(errs, fmt.Errorf("%s: either command or url is required for type mcp", prefix))
		}
		if e.Command != "" && e.URL != "" {
			errs = append(errs, fmt.Errorf("%s: command and url are mutually exclusive for type mcp", prefix))
		}
		if e.Tool == "" {
			errs = append(errs, fmt.Errorf("%s.tool is required for type mcp", prefix))
		}
	}

	return errs
}

// entryCapability maps a backend entry to the capability it serves. Search
// entries split by adapter type: openalex serves scholarly search, the rest
// serve web search.
func entryCapability(kind string, e BackendEntry) string {
	switch kind {
	case "llm":
		return "generate_text"
	case "stt":
		return "transcribe_audio"
	case "tts":
		return "synthesize_speech"
	case "search":
		if e.Type == "openalex" {
			return "search_scholarly"
		}
		return "search_web"
	case "audiogen":
		return "generate_audio"
	}
	return kind
}
