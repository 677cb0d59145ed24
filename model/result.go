package model

// RetrievalState is a state of the hierarchical retrieval state machine
type RetrievalState string

const (
	StateInit            RetrievalState = "INIT"
	StateTier1Routing    RetrievalState = "TIER1_ROUTING"
	StateTier2Filtering  RetrievalState = "TIER2_FILTERING"
	StateTier3Refinement RetrievalState = "TIER3_REFINEMENT"
	StateEarlyExit       RetrievalState = "EARLY_EXIT"
	StateDone            RetrievalState = "DONE"
)

// RetrievalResult is the trace of one hierarchical retrieval call
type RetrievalResult struct {
	Query           string   `json:"query"`
	SelectedKBs     []string `json:"selected_kbs"`
	FilteredDocs    []string `json:"filtered_docs"`
	RetrievedChunks []*Chunk `json:"retrieved_chunks"`

	Tier1Candidates int `json:"tier1_candidates"`
	Tier2Candidates int `json:"tier2_candidates"`
	Tier3Candidates int `json:"tier3_candidates"`

	Tier1TimeMs float64 `json:"tier1_time_ms"`
	Tier2TimeMs float64 `json:"tier2_time_ms"`
	Tier3TimeMs float64 `json:"tier3_time_ms"`
	TotalTimeMs float64 `json:"total_time_ms"`

	States []RetrievalState `json:"states"`
}

// NewRetrievalResult returns an empty, well-formed result
func NewRetrievalResult(query string) *RetrievalResult {
	return &RetrievalResult{
		Query:           query,
		SelectedKBs:     []string{},
		FilteredDocs:    []string{},
		RetrievedChunks: []*Chunk{},
		States:          []RetrievalState{StateInit},
	}
}

// Final returns the last state reached
func (r *RetrievalResult) Final() RetrievalState {
	if len(r.States) == 0 {
		return StateInit
	}
	return r.States[len(r.States)-1]
}
