package store

import (
	"time"

	"sopflow/api/internal/workflow"
)

// Signature marks one signing slot on a header. Ref is the object key of the
// signature image in the signatures bucket; the image itself never passes
// through this service's database.
type Signature struct {
	UserID   string
	UserName string
	Ref      string
	SignedAt *time.Time
}

func (s Signature) Empty() bool {
	return s.UserID == "" && s.SignedAt == nil
}

// DocumentHeader is the aggregate root of an SOP. Section records and
// table-of-contents entries belong to it and die with it.
type DocumentHeader struct {
	ID           string
	DocCode      string
	TitleEn      string
	TitleAr      string
	Version      int
	Status       workflow.Status
	DepartmentID string
	PreparedBy   Signature
	ReviewedBy   Signature
	ApprovedBy   Signature
	CreatedAt    time.Time
	UpdatedAt    time.Time
	UpdatedBy    string
}

// SectionKinds is the fixed set of SOP content sections, in print order.
var SectionKinds = []string{
	"purpose",
	"definitions",
	"scope",
	"procedures",
	"responsibilities",
	"safety_concerns",
	"critical_control_points",
	"reference_documents",
}

func IsSectionKind(kind string) bool {
	for _, k := range SectionKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// SectionRecord is one version of one section's content. For a given
// (header, kind) at most one record has IsActive set; inactive records are
// sealed history. IsCurrent is carried for forward compatibility with
// multi-current layouts and is not enforced anywhere.
type SectionRecord struct {
	ID              string
	HeaderID        string
	Kind            string
	ContentEn       string
	ContentAr       string
	Version         int
	IsCurrent       bool
	IsActive        bool
	ReviewerComment string
	CreatedAt       time.Time
	CreatedBy       string
	ModifiedAt      *time.Time
	ModifiedBy      string
}

// Department is a node in the company/department tree.
type Department struct {
	ID        string
	ParentID  *string
	NameEn    string
	NameAr    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type DepartmentTreeNode struct {
	Department
	Children []DepartmentTreeNode
	Depth    int
}
