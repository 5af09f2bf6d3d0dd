package models

import "time"

// Indicators are the stored 0/1 capability columns of a grant row.
// Decoding to booleans happens in one place, permission.Normalize.
type Indicators struct {
	View       int16
	Update     int16
	Import     int16
	Export     int16
	Delete     int16
	MDRegister int16
	RAC        int16
}

// Flags is the boolean form of the seven capabilities.
type Flags struct {
	View       bool `json:"view"`
	Update     bool `json:"update"`
	Import     bool `json:"import"`
	Export     bool `json:"export"`
	Delete     bool `json:"delete"`
	MDRegister bool `json:"md_register"`
	RAC        bool `json:"rac"`
}

// FullFlags has every capability set.
func FullFlags() Flags {
	return Flags{View: true, Update: true, Import: true, Export: true, Delete: true, MDRegister: true, RAC: true}
}

// Indicators encodes f for storage.
func (f Flags) Indicators() Indicators {
	return Indicators{
		View:       indicator(f.View),
		Update:     indicator(f.Update),
		Import:     indicator(f.Import),
		Export:     indicator(f.Export),
		Delete:     indicator(f.Delete),
		MDRegister: indicator(f.MDRegister),
		RAC:        indicator(f.RAC),
	}
}

func indicator(b bool) int16 {
	if b {
		return 1
	}
	return 0
}

// Grant associates a collection with one principal. At most one grant exists per
// (collection, principal) pair.
type Grant struct {
	ID            int64         `json:"id"`
	CollectionID  int64         `json:"collection_id"`
	PrincipalID   int64         `json:"principal_id"`
	PrincipalKind PrincipalKind `json:"principal_kind"`
	DisplayName   string        `json:"display_name"`
	Indicators    Indicators    `json:"-"`
	CreatedAt     time.Time     `json:"created_at"`
}

// GrantInsert adds a grant for a principal that has none on the collection.
type GrantInsert struct {
	PrincipalID int64 `json:"principal_id"`
	Flags       Flags `json:"flags"`
}

// GrantUpdate replaces the flags of an existing grant.
type GrantUpdate struct {
	GrantID int64 `json:"grant_id"`
	Flags   Flags `json:"flags"`
}

// GrantChangeSet is applied atomically to a single collection.
type GrantChangeSet struct {
	Insert []GrantInsert `json:"insert"`
	Update []GrantUpdate `json:"update"`
	Delete []int64       `json:"delete"`
}

// Empty reports whether the change set carries no operations.
func (c GrantChangeSet) Empty() bool {
	return len(c.Insert) == 0 && len(c.Update) == 0 && len(c.Delete) == 0
}
