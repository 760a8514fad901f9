package models

// Offering is one scheduled section of a subject for a term.
type Offering struct {
	ID           string         `db:"id" json:"id"`
	SubjectID    string         `db:"subject_id" json:"subject_id"`
	SchoolYear   string         `db:"school_year" json:"school_year"`
	Semester     Semester       `db:"semester" json:"semester"`
	Section      string         `db:"section" json:"section"`
	Room         string         `db:"room" json:"room"`
	InstructorID string         `db:"instructor_id" json:"instructor_id"`
	Capacity     int            `db:"capacity" json:"capacity"`
	Occupied     int            `db:"occupied" json:"occupied"`
	IsOpen       bool           `db:"is_open" json:"is_open"`
	Schedule     []ScheduleSlot `db:"-" json:"schedule"`
}

// Term returns the academic period the offering runs in.
func (o Offering) Term() Term {
	return Term{SchoolYear: o.SchoolYear, Semester: o.Semester}
}

// SeatAvailability is the ledger's view of an offering.
type SeatAvailability struct {
	OfferingID string `db:"id" json:"offering_id"`
	Capacity   int    `db:"capacity" json:"capacity"`
	Occupied   int    `db:"occupied" json:"occupied"`
	IsOpen     bool   `db:"is_open" json:"is_open"`
}

// Remaining returns the number of free seats.
func (s SeatAvailability) Remaining() int {
	if s.Occupied >= s.Capacity {
		return 0
	}
	return s.Capacity - s.Occupied
}
