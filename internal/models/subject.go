package models

// Subject is a catalog entry owned by the curriculum service.
type Subject struct {
	ID            string         `db:"id" json:"id"`
	Code          string         `db:"code" json:"code"`
	Title         string         `db:"title" json:"title"`
	Units         int            `db:"units" json:"units"`
	HasLab        bool           `db:"has_lab" json:"has_lab"`
	Prerequisites []Prerequisite `db:"-" json:"prerequisites"`
}

// Prerequisite references a subject that must be passed first.
type Prerequisite struct {
	SubjectID string `db:"prerequisite_id" json:"subject_id"`
	Code      string `db:"code" json:"code"`
}
