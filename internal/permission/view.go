package permission

import "github.com/org/datacapture/pkg/models"

// Source records which rule produced a View.
type Source string

const (
	SourceOwnerFull              Source = "owner-full"
	SourceAdminFull              Source = "admin-full"
	SourceDirectGrant            Source = "direct-grant"
	SourceInheritedAllRegistered Source = "inherited-all-registered"
	SourceInheritedAnonymous     Source = "inherited-anonymous"
	SourceNone                   Source = "none"
)

// Capability names one of the seven grant flags.
type Capability string

const (
	CapView       Capability = "view"
	CapUpdate     Capability = "update"
	CapImport     Capability = "import"
	CapExport     Capability = "export"
	CapDelete     Capability = "delete"
	CapMDRegister Capability = "md_register"
	CapRAC        Capability = "rac"
)

// View is the effective permission set for one (collection, principal) pair.
// It is computed per request and never stored.
type View struct {
	Flags  models.Flags `json:"flags"`
	Source Source       `json:"source"`
}

// Allows reports whether the view grants capability c.
func (v View) Allows(c Capability) bool {
	switch c {
	case CapView:
		return v.Flags.View
	case CapUpdate:
		return v.Flags.Update
	case CapImport:
		return v.Flags.Import
	case CapExport:
		return v.Flags.Export
	case CapDelete:
		return v.Flags.Delete
	case CapMDRegister:
		return v.Flags.MDRegister
	case CapRAC:
		return v.Flags.RAC
	}
	return false
}

// Full reports whether the view came from ownership or administration, the only
// sources allowed to manage grants.
func (v View) Full() bool {
	return v.Source == SourceOwnerFull || v.Source == SourceAdminFull
}
