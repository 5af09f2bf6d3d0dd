package collection

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/org/datacapture/pkg/models"
)

const briefDescriptionMaxLength = 150

// Details are the user-editable fields of a collection.
type Details struct {
	Name            string     `json:"name" validate:"required,max=80"`
	Description     string     `json:"description" validate:"required,max=4000"`
	GlobalCoverage  bool       `json:"global_coverage"`
	SpatialCoverage string     `json:"spatial_coverage" validate:"max=255"`
	CoverageStart   *time.Time `json:"coverage_start" validate:"required_with=CoverageEnd"`
	CoverageEnd     *time.Time `json:"coverage_end" validate:"required_with=CoverageStart"`
}

// CreateSpec describes a new collection. The two default grants allow nothing
// unless overridden.
type CreateSpec struct {
	Details
	AllRegistered *models.Flags `json:"all_registered,omitempty"`
	Anonymous     *models.Flags `json:"anonymous,omitempty"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// normalize trims text fields and checks them. It returns the validated copy.
func (m *Manager) normalize(d Details) (Details, error) {
	d.Name = strings.TrimSpace(d.Name)
	d.Description = strings.TrimSpace(d.Description)
	d.SpatialCoverage = strings.TrimSpace(d.SpatialCoverage)
	if err := m.validate.Struct(d); err != nil {
		return d, fromValidator(err)
	}
	if d.CoverageEnd != nil {
		end := EndOfDay(*d.CoverageEnd)
		d.CoverageEnd = &end
		if d.CoverageStart.After(end) {
			return d, invalid("coverage_start", "must not be after coverage_end")
		}
	}
	return d, nil
}

// apply copies validated details onto col, deriving the brief description and
// the spatial type.
func (d Details) apply(col *models.Collection) {
	col.Name = d.Name
	col.Description = d.Description
	col.BriefDesc = BriefDescription(d.Description)
	col.SpatialType, col.SpatialCoverage = Spatial(d.GlobalCoverage, d.SpatialCoverage)
	col.CoverageStart = d.CoverageStart
	col.CoverageEnd = d.CoverageEnd
}

// EndOfDay returns 23:59:59 of t's calendar day in t's location.
func EndOfDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 23, 59, 59, 0, t.Location())
}

// BriefDescription shortens a description for listings. Long text is cut at the
// last word boundary before the limit and marked with an ellipsis.
func BriefDescription(desc string) string {
	desc = strings.TrimSpace(desc)
	runes := []rune(desc)
	if len(runes) <= briefDescriptionMaxLength {
		return desc
	}
	cut := string(runes[:briefDescriptionMaxLength-1])
	if i := strings.LastIndex(cut, " "); i >= 0 {
		cut = cut[:i]
	}
	return cut + " ... "
}

// Spatial derives the stored coverage type and value.
func Spatial(global bool, coverage string) (string, string) {
	switch {
	case global:
		return models.SpatialGlobal, "Global"
	case strings.TrimSpace(coverage) == "":
		return models.SpatialUnknown, "Unknown"
	default:
		return models.SpatialKML, coverage
	}
}
