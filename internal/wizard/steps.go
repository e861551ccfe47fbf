// internal/wizard/steps.go
package wizard

import "strings"

// Step names. IDs are positional (1-based) and depend on the program because
// doctoral programs skip the exam schedule.
const (
	StepPayment      = "Payment"
	StepPersonalInfo = "Personal Info"
	StepEducation    = "Education"
	StepExamSchedule = "Exam Schedule"
	StepDocuments    = "Documents"
	StepReview       = "Review"
)

type Step struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

var doctoralKeywords = []string{"phd", "doct", "research"}

var postgraduateKeywords = []string{"master", "post", "m.tech", "mba", "mca", "pg"}

// IsExamStepDisabled reports whether the program label identifies a doctoral
// program, which replaces the entrance exam with an interview process. The
// match is a case-insensitive keyword search so labels like "phd_cse" or
// "Doctoral Research Programme" qualify.
func IsExamStepDisabled(program string) bool {
	return matchesAny(program, doctoralKeywords)
}

// IsPostgraduate reports whether the program label identifies a postgraduate
// program, which requires an undergraduate marks memo.
func IsPostgraduate(program string) bool {
	return matchesAny(program, postgraduateKeywords)
}

func matchesAny(label string, keywords []string) bool {
	lowered := strings.ToLower(label)
	for _, kw := range keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// GenerateSteps returns the ordered wizard steps for a program.
func GenerateSteps(program string) []Step {
	names := []string{StepPayment, StepPersonalInfo, StepEducation}
	if !IsExamStepDisabled(program) {
		names = append(names, StepExamSchedule)
	}
	names = append(names, StepReview)

	steps := make([]Step, len(names))
	for i, name := range names {
		steps[i] = Step{ID: i + 1, Name: name}
	}
	return steps
}

// StepIndex returns the 1-based id of the named step, or 0 when the program's
// sequence does not contain it.
func StepIndex(steps []Step, name string) int {
	for _, s := range steps {
		if s.Name == name {
			return s.ID
		}
	}
	return 0
}
