// Package backend defines the shared vocabulary for all inference backends
// fronted by the cogate gateway: the capability taxonomy, the error
// classification used by the router to make fallback decisions, and the small
// value types exchanged between adapters and the orchestration layer.
//
// Concrete adapters live in the capability subpackages (llm, stt, tts, search,
// audiogen, embed), one narrow interface per capability. The router composes
// adapters over maps of capability → ordered backend ids; nothing in this
// package knows about routing policy.
package backend

// Capability identifies the class of work a backend performs.
type Capability string

const (
	CapGenerateText     Capability = "generate_text"
	CapTranscribeAudio  Capability = "transcribe_audio"
	CapSynthesizeSpeech Capability = "synthesize_speech"
	CapSearchWeb        Capability = "search_web"
	CapSearchScholarly  Capability = "search_scholarly"
	CapGenerateAudio    Capability = "generate_audio"
)

// IsValid reports whether c is a recognised capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapGenerateText, CapTranscribeAudio, CapSynthesizeSpeech,
		CapSearchWeb, CapSearchScholarly, CapGenerateAudio:
		return true
	}
	return false
}

// Capabilities lists every recognised capability in declaration order.
func Capabilities() []Capability {
	return []Capability{
		CapGenerateText, CapTranscribeAudio, CapSynthesizeSpeech,
		CapSearchWeb, CapSearchScholarly, CapGenerateAudio,
	}
}

// Message represents a single message in a text-generation conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// SearchResult is a single hit returned by a web search backend.
type SearchResult struct {
	// Title is the page title as reported by the search engine.
	Title string

	// URI is the canonical address of the result.
	URI string

	// Snippet is a short plain-text excerpt relevant to the query.
	Snippet string

	// Score is the backend-reported relevance score, if any (0 when absent).
	Score float64
}

// Paper is a single scholarly work returned by a scholarly search backend.
type Paper struct {
	// Title is the work's title.
	Title string

	// Authors lists author display names in citation order.
	Authors []string

	// URI is the landing page or DOI URL of the work.
	URI string

	// Abstract is the work's abstract, when the backend provides one.
	Abstract string

	// Year is the publication year (0 when unknown).
	Year int
}
