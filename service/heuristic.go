package service

import "agri-inference-service/data"

// healthyShare is the probability the heuristic tier reports a healthy leaf.
const healthyShare = 0.3

// Heuristic is the terminal tier: no I/O, cannot fail.
type Heuristic struct {
	kb  *data.KnowledgeBase
	rnd Random
}

func NewHeuristic(kb *data.KnowledgeBase, rnd Random) *Heuristic {
	return &Heuristic{kb: kb, rnd: orDefault(rnd)}
}

// Detect picks healthy 30% of the time (confidence 80-100) and otherwise a
// uniformly chosen disease (confidence 70-100).
func (h *Heuristic) Detect(cropType string) DetectionResult {
	crop, _ := h.kb.Crop(cropType)

	var (
		key        string
		confidence float64
	)
	if h.rnd.Float64() > 1-healthyShare {
		key = crop.HealthyKey
		confidence = h.rnd.Float64()*20 + 80
	} else {
		diseases := crop.DiseaseKeys()
		key = diseases[h.rnd.IntN(len(diseases))]
		confidence = h.rnd.Float64()*30 + 70
	}

	rec, _ := crop.Record(key)
	res := newResult(rec, crop.Name, confidence, MethodHeuristicMock)
	res.Note = SimulatedNote
	return res
}
