package types

import (
	"time"

	"github.com/eocis-portal/data-manager/go/skerr"
)

// TemporalResolution is the resolution in time of a DataSet's files.
type TemporalResolution string

const (
	TemporalDaily   TemporalResolution = "daily"
	TemporalPentad  TemporalResolution = "pentad"
	TemporalDekad   TemporalResolution = "dekad"
	TemporalMonthly TemporalResolution = "monthly"
	TemporalYearly  TemporalResolution = "yearly"
)

// ValidTemporalResolutions lists the accepted temporal resolutions.
var ValidTemporalResolutions = []TemporalResolution{
	TemporalDaily,
	TemporalPentad,
	TemporalDekad,
	TemporalMonthly,
	TemporalYearly,
}

// SpatialResolution is the resolution in degrees of a DataSet's grid,
// represented as a string exactly as it appears in catalog files.
type SpatialResolution string

// ValidSpatialResolutions lists the accepted spatial resolutions.
var ValidSpatialResolutions = []SpatialResolution{"0.05", "0.1", "0.25", "0.5", "1"}

// LocationYearPlaceholder is substituted with the task's year when building
// a task's input path from a DataSet location template. The month and day
// placeholders are optional and left for the worker.
const (
	LocationYearPlaceholder  = "{YEAR}"
	LocationMonthPlaceholder = "{MONTH}"
	LocationDayPlaceholder   = "{DAY}"
)

// Variable is a named measurement within a DataSet.
type Variable struct {
	VariableID   string
	VariableName string
	Spec         Spec
}

// Copy returns a copy of the Variable.
func (v Variable) Copy() Variable {
	return Variable{
		VariableID:   v.VariableID,
		VariableName: v.VariableName,
		Spec:         v.Spec.DeepCopy(),
	}
}

// DataSet describes a catalog of files representing one measured phenomenon
// at a fixed resolution.
type DataSet struct {
	DataSetID          string
	DataSetName        string
	TemporalResolution TemporalResolution
	SpatialResolution  SpatialResolution
	// StartDate is the date of the earliest data in the dataset.
	StartDate time.Time
	// EndDate is the date of the latest data, discovered dynamically by
	// scanning the data files. Zero when not yet known.
	EndDate time.Time
	// Location is a path template containing the {YEAR} placeholder and
	// optionally {MONTH} and {DAY}.
	Location  string
	Spec      Spec
	Variables []Variable
	Enabled   bool
}

// Copy returns a copy of the DataSet.
func (d *DataSet) Copy() *DataSet {
	var variables []Variable
	if d.Variables != nil {
		variables = make([]Variable, 0, len(d.Variables))
		for _, v := range d.Variables {
			variables = append(variables, v.Copy())
		}
	}
	return &DataSet{
		DataSetID:          d.DataSetID,
		DataSetName:        d.DataSetName,
		TemporalResolution: d.TemporalResolution,
		SpatialResolution:  d.SpatialResolution,
		StartDate:          d.StartDate,
		EndDate:            d.EndDate,
		Location:           d.Location,
		Spec:               d.Spec.DeepCopy(),
		Variables:          variables,
		Enabled:            d.Enabled,
	}
}

// Validate returns an error when the DataSet violates any of its invariants.
func (d *DataSet) Validate() error {
	valid := false
	for _, tr := range ValidTemporalResolutions {
		if d.TemporalResolution == tr {
			valid = true
			break
		}
	}
	if !valid {
		return skerr.Fmt("dataset %s: invalid temporal resolution %q", d.DataSetID, d.TemporalResolution)
	}
	valid = false
	for _, sr := range ValidSpatialResolutions {
		if d.SpatialResolution == sr {
			valid = true
			break
		}
	}
	if !valid {
		return skerr.Fmt("dataset %s: invalid spatial resolution %q", d.DataSetID, d.SpatialResolution)
	}
	if d.Location == "" {
		return skerr.Fmt("dataset %s: location must not be empty", d.DataSetID)
	}
	if !d.EndDate.IsZero() && d.EndDate.Before(d.StartDate) {
		return skerr.Fmt("dataset %s: end date %s precedes start date %s", d.DataSetID, d.EndDate.Format("2006/01/02"), d.StartDate.Format("2006/01/02"))
	}
	return nil
}

// Variable returns the variable with the given id, or nil when the dataset
// has no such variable.
func (d *DataSet) Variable(variableID string) *Variable {
	for i := range d.Variables {
		if d.Variables[i].VariableID == variableID {
			return &d.Variables[i]
		}
	}
	return nil
}

// DataSetSlice implements sort.Interface, ordering by DataSetID.
type DataSetSlice []*DataSet

func (s DataSetSlice) Len() int           { return len(s) }
func (s DataSetSlice) Less(i, j int) bool { return s[i].DataSetID < s[j].DataSetID }
func (s DataSetSlice) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
