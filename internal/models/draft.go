// internal/models/draft.go
package models

// PaymentStatus is the draft-side payment state. It is the single source of
// truth for whether the wizard may reach the final submit action.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// DefaultFeeAmount is the base application fee in rupees.
const DefaultFeeAmount = 1200

type Personal struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	DOB         string `json:"dob"`
	Gender      string `json:"gender"`
	Category    string `json:"category"`
	ParentName  string `json:"parentName"`
	ParentPhone string `json:"parentPhone"`
}

type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Country string `json:"country"`
}

// EducationType selects which 12th-equivalent subtree is required.
type EducationType string

const (
	EducationIntermediate EducationType = "intermediate"
	EducationPolytechnic  EducationType = "polytechnic"
)

type Education struct {
	SSCName         string        `json:"sscName"`
	Board           string        `json:"Board"`
	Marks           string        `json:"Marks"`
	XYearOfPassing  string        `json:"xYearOfPassing"`
	SchoolName      string        `json:"schoolName"`
	InterBoard      string        `json:"interBoard"`
	InterStream     string        `json:"interStream"`
	InterHallTicket string        `json:"interHallTicket"`
	RollNumber      string        `json:"rollNumber"`
	InterMarks      string        `json:"interMarks"`
	Percentage      string        `json:"percentage"`
	EducationType   EducationType `json:"educationType"`

	PolytechnicCollege       string `json:"polytechnicCollege"`
	PolytechnicBoard         string `json:"polytechnicBoard"`
	PolytechnicBranch        string `json:"polytechnicBranch"`
	PolytechnicYearOfPassing string `json:"polytechnicYearOfPassing"`
	PolytechnicPercentage    string `json:"polytechnicPercentage"`
}

// DegreeEducation covers both the undergraduate and postgraduate records.
type DegreeEducation struct {
	University     string `json:"university"`
	College        string `json:"college"`
	CGPA           string `json:"cgpa"`
	Specialization string `json:"specialization"`
	YearOfPassing  string `json:"yearOfPassing"`
	DegreeType     string `json:"degreeType"`
}

type Payment struct {
	Amount            float64       `json:"amount"`
	PaymentMethod     string        `json:"paymentMethod"`
	TransactionID     string        `json:"transactionId"`
	PaymentStatus     PaymentStatus `json:"paymentStatus"`
	PaymentDate       string        `json:"paymentDate"`
	PaymentAmount     float64       `json:"paymentAmount"`
	DiscountApplied   float64       `json:"discountApplied"`
	CouponCode        string        `json:"couponCode"`
	ApplicationStatus string        `json:"applicationStatus"`
	ErrorMessage      string        `json:"errorMessage,omitempty"`
}

type ExamSchedule struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

// DocumentFile is the uploaded-document metadata kept per document key
// ("ssc", "inter", "ug", "pg").
type DocumentFile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	UploadedAt string `json:"uploadedAt"`
}

type Documents struct {
	Files map[string]DocumentFile `json:"files"`
}

// ApplicationDraft is the aggregate, mutable record of all wizard input. All
// sections except payment are independently editable at any time.
type ApplicationDraft struct {
	Personal       Personal        `json:"personal"`
	Address        Address         `json:"address"`
	Education      Education       `json:"education"`
	BtechEducation DegreeEducation `json:"btechEducation"`
	MtechEducation DegreeEducation `json:"mtechEducation"`
	Payment        Payment         `json:"payment"`
	ExamSchedule   ExamSchedule    `json:"examSchedule"`
	Documents      Documents       `json:"documents"`
}

// NewDraft returns a draft with the defaults a first wizard mount starts from.
func NewDraft() *ApplicationDraft {
	return &ApplicationDraft{
		Address: Address{
			Country: "Indian",
		},
		Education: Education{
			EducationType: EducationIntermediate,
		},
		Payment: Payment{
			Amount:        DefaultFeeAmount,
			PaymentStatus: PaymentPending,
		},
		Documents: Documents{
			Files: map[string]DocumentFile{},
		},
	}
}
