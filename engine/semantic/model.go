package semantic

// Payload keys stored on every point in the collection.
const (
	KeyQAID       = "qa_id"
	KeyQuestion   = "question"
	KeyIsVariant  = "is_variant"
	KeyOriginQAID = "origin_qa_id"
	KeyCreatedAt  = "created_at"
	KeyLanguage   = "language"
	KeyUserID     = "user_id"
)

// VectorRecord is a point to be upserted into the collection.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Payload   map[string]any
}

// SearchHit is a raw similarity search result before hydration from the
// canonical store.
type SearchHit struct {
	PointID    string
	Score      float32
	QAID       string
	Question   string
	IsVariant  bool
	OriginQAID string
	Payload    map[string]any
}

// Stats describes the collection state for health reporting.
type Stats struct {
	PointsTotal uint64 `json:"points_total"`
	Connected   bool   `json:"connected"`
}
