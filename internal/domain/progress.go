package domain

// QuestionProgress is the per-question slice of the progress projection.
type QuestionProgress struct {
	Index      int  `json:"index"`
	IsAnswered bool `json:"is_answered"`
	IsSkipped  bool `json:"is_skipped"`
	IsVisited  bool `json:"is_visited"`
	IsCurrent  bool `json:"is_current"`
}

// ProgressProjection is the read-only navigation view consumed by the
// presentation layer. It has no mutation path of its own; it is recomputed
// from the canonical sets owned by the state machine.
type ProgressProjection struct {
	Total     int                `json:"total"`
	Answered  int                `json:"answered"`
	Skipped   int                `json:"skipped"`
	Questions []QuestionProgress `json:"questions"`
}

// ProjectProgress derives the projection from the canonical sets.
func ProjectProgress(total, current int, answered, skipped, visited map[int]bool) ProgressProjection {
	p := ProgressProjection{
		Total:     total,
		Questions: make([]QuestionProgress, total),
	}
	for i := 0; i < total; i++ {
		q := QuestionProgress{
			Index:      i,
			IsAnswered: answered[i],
			IsSkipped:  skipped[i],
			IsVisited:  visited[i],
			IsCurrent:  i == current,
		}
		if q.IsAnswered {
			p.Answered++
		}
		if q.IsSkipped {
			p.Skipped++
		}
		p.Questions[i] = q
	}
	return p
}
