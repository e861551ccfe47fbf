// Package validate holds the per-step required-field rules of the application
// wizard. The engine is pure: it inspects the draft and returns the first
// user-facing message for the blocked transition, or "" when the step passes.
package validate

import (
	"strings"

	"admissions-wizard/internal/models"
)

func filled(v string) bool {
	return strings.TrimSpace(v) != ""
}

func digits(v string) string {
	var b strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func containsAny(label string, keywords ...string) bool {
	lowered := strings.ToLower(label)
	for _, kw := range keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// Validate checks the step at the 1-based position against the draft. An out
// of range position validates trivially.
func Validate(stepNumber int, stepNames []string, draft *models.ApplicationDraft, program string) string {
	if stepNumber < 1 || stepNumber > len(stepNames) {
		return ""
	}
	return ValidateStep(stepNames[stepNumber-1], draft, program)
}

// ValidateStep checks one named step. Rules run in a fixed order and the
// first failure wins, so the user is pointed at a single field at a time.
func ValidateStep(name string, draft *models.ApplicationDraft, program string) string {
	switch name {
	case "Payment":
		if draft.Payment.PaymentStatus == models.PaymentCompleted {
			return ""
		}
		return "Please complete the payment before proceeding."

	case "Personal Info":
		return validatePersonalInfo(draft)

	case "Education":
		return validateEducation(draft, program)

	case "Exam Schedule":
		if !filled(draft.ExamSchedule.Date) {
			return "Please select exam date."
		}
		if !filled(draft.ExamSchedule.Time) {
			return "Please select exam time slot."
		}
		return ""

	case "Documents":
		docs := draft.Documents.Files
		if _, ok := docs["ssc"]; !ok {
			return "Please upload your 10th Class marks memo."
		}
		if _, ok := docs["ug"]; !ok {
			return "Please upload your Undergraduate degree/marks memo."
		}
		if _, ok := docs["pg"]; !ok {
			return "Please upload your Postgraduate degree/marks memo."
		}
		return ""

	case "Review":
		return ""
	}
	return ""
}

func validatePersonalInfo(draft *models.ApplicationDraft) string {
	p := draft.Personal
	if !filled(p.FirstName) {
		return "Please enter your full name."
	}
	if !filled(p.ParentName) {
		return "Please enter parent/guardian name."
	}
	if !filled(p.DOB) {
		return "Please select date of birth."
	}
	if !filled(p.Gender) {
		return "Please select gender."
	}
	if !filled(p.Email) {
		return "Please enter your email address."
	}
	if len(digits(p.Phone)) != 10 {
		return "Please enter a valid 10-digit student phone number."
	}
	if !filled(p.ParentPhone) || len(digits(p.ParentPhone)) != 10 {
		return "Please enter a valid 10-digit parent/guardian phone number."
	}
	if !filled(p.Category) {
		return "Please select category."
	}

	a := draft.Address
	if !filled(a.Street) {
		return "Please enter street address."
	}
	if !filled(a.State) {
		return "Please select state."
	}
	if !filled(a.City) {
		return "Please select city."
	}
	if !filled(a.Pincode) || len(models.NormalizePincode(a.Pincode)) != 6 {
		return "Please enter a valid 6-digit pincode."
	}
	if !filled(a.Country) {
		return "Please enter country."
	}
	return ""
}

func validateEducation(draft *models.ApplicationDraft, program string) string {
	e := draft.Education
	if !filled(e.SSCName) {
		return "Please enter 10th school name."
	}
	if !filled(e.Board) {
		return "Please select 10th board."
	}
	if !filled(e.Marks) {
		return "Please enter 10th CGPA/Percentage."
	}
	if !filled(e.XYearOfPassing) {
		return "Please select 10th year of passing."
	}

	// Blank education type defaults to the intermediate branch.
	if e.EducationType == "" || e.EducationType == models.EducationIntermediate {
		if !filled(e.SchoolName) {
			return "Please enter intermediate/12th college name."
		}
		if !filled(e.InterBoard) {
			return "Please select intermediate board."
		}
		if !filled(e.InterStream) {
			return "Please select stream/group."
		}
		if !filled(e.InterMarks) {
			return "Please enter intermediate total marks."
		}
		if !filled(e.Percentage) {
			return "Please enter intermediate percentage."
		}
	} else {
		if !filled(e.PolytechnicCollege) {
			return "Please enter polytechnic college name."
		}
		if !filled(e.PolytechnicBoard) {
			return "Please enter polytechnic board/university."
		}
		if !filled(e.PolytechnicBranch) {
			return "Please select polytechnic branch."
		}
		if !filled(e.PolytechnicYearOfPassing) {
			return "Please select polytechnic year of passing."
		}
		if !filled(e.PolytechnicPercentage) {
			return "Please enter polytechnic percentage/CGPA."
		}
	}

	isDoctoral := containsAny(program, "phd", "doct", "research")
	isPostgrad := containsAny(program, "master", "post", "m.tech", "mba", "mca", "pg")

	docs := draft.Documents.Files
	if _, ok := docs["ssc"]; !ok {
		return "Please upload your 10th Class marks memo."
	}
	if isDoctoral || isPostgrad {
		if _, ok := docs["inter"]; !ok {
			return "Please upload your Intermediate/12th marks memo."
		}
	}
	return ""
}
