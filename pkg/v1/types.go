package v1

// Kind names the vector space a memory is embedded into.
type Kind string

const (
	KindAuto     Kind = ""
	KindImage    Kind = "image"
	KindCode     Kind = "code"
	KindDocument Kind = "document"
	KindGeneric  Kind = "generic"
)

// Memory describes content to index. Path is read when the memory is embedded.
type Memory struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	Kind     Kind   `json:"kind,omitempty"`
	Language string `json:"language,omitempty"`
}

// SearchResult represents a semantic search hit.
type SearchResult struct {
	ID        string  `json:"id"`
	Score     float32 `json:"score"`
	Rank      int     `json:"rank"`
	Namespace string  `json:"namespace"`
}

// IndexReport lists which memories became searchable and why the rest did not.
type IndexReport struct {
	Indexed  []string          `json:"indexed"`
	Failures map[string]string `json:"failures,omitempty"`
}
