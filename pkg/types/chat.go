package types

// DefaultCollection is the knowledge base queried when a request names none.
const DefaultCollection = "default"

// ChatRequest is a question asked against one or more knowledge bases.
type ChatRequest struct {
	// KnowledgeBaseID is the primary knowledge base to search.
	KnowledgeBaseID string `json:"knowledge_base_id,omitempty" yaml:"knowledge_base_id,omitempty"`

	// KnowledgeBaseIDs lists every knowledge base the answer may draw from.
	KnowledgeBaseIDs []string `json:"knowledge_base_ids,omitempty" yaml:"knowledge_base_ids,omitempty"`

	// Message is the user's question.
	Message string `json:"message" yaml:"message"`
}

// StreamPayload is the JSON body POSTed to the chat stream endpoint.
type StreamPayload struct {
	Collection    string   `json:"collection"`
	CollectionIDs []string `json:"collectionIds,omitempty"`
	Question      string   `json:"question"`
}

// Collection returns the knowledge base a request targets: the explicit
// ID, else the first listed ID, else DefaultCollection. Empty values fall
// through; a blank first listed ID is not skipped over.
func (r ChatRequest) Collection() string {
	if r.KnowledgeBaseID != "" {
		return r.KnowledgeBaseID
	}
	if len(r.KnowledgeBaseIDs) > 0 && r.KnowledgeBaseIDs[0] != "" {
		return r.KnowledgeBaseIDs[0]
	}
	return DefaultCollection
}

// Payload converts the request into the stream endpoint's wire format.
func (r ChatRequest) Payload() StreamPayload {
	return StreamPayload{
		Collection:    r.Collection(),
		CollectionIDs: r.KnowledgeBaseIDs,
		Question:      r.Message,
	}
}
