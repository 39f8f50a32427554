package types

import "strconv"

// Keys under a Bundle's spec holding the bounding box.
const (
	SpecKeyBounds = "bounds"
	BoundsMinX    = "minx"
	BoundsMinY    = "miny"
	BoundsMaxX    = "maxx"
	BoundsMaxY    = "maxy"
)

// Whole-globe bounds, used when a bundle does not carry its own.
const (
	GlobalLonMin = -180.0
	GlobalLatMin = -90.0
	GlobalLonMax = 180.0
	GlobalLatMax = 90.0
)

// Bundle is a named, user-facing grouping of datasets with a bounding box.
type Bundle struct {
	BundleID   string
	BundleName string
	Spec       Spec
	DataSetIDs []string
	Enabled    bool
}

// Copy returns a copy of the Bundle.
func (b *Bundle) Copy() *Bundle {
	var ids []string
	if b.DataSetIDs != nil {
		ids = make([]string, len(b.DataSetIDs))
		copy(ids, b.DataSetIDs)
	}
	return &Bundle{
		BundleID:   b.BundleID,
		BundleName: b.BundleName,
		Spec:       b.Spec.DeepCopy(),
		DataSetIDs: ids,
		Enabled:    b.Enabled,
	}
}

// Bounds returns the bundle's bounding box from its spec, falling back to
// the whole globe for any missing edge.
func (b *Bundle) Bounds() (lonMin, latMin, lonMax, latMax float64) {
	lonMin, latMin, lonMax, latMax = GlobalLonMin, GlobalLatMin, GlobalLonMax, GlobalLatMax
	bounds := b.Spec.GetSub(SpecKeyBounds)
	if bounds == nil {
		return
	}
	if v, ok := boundsValue(bounds, BoundsMinX); ok {
		lonMin = v
	}
	if v, ok := boundsValue(bounds, BoundsMinY); ok {
		latMin = v
	}
	if v, ok := boundsValue(bounds, BoundsMaxX); ok {
		lonMax = v
	}
	if v, ok := boundsValue(bounds, BoundsMaxY); ok {
		latMax = v
	}
	return
}

func boundsValue(bounds Spec, key string) (float64, bool) {
	switch v := bounds[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// BundleSlice implements sort.Interface, ordering by BundleID.
type BundleSlice []*Bundle

func (s BundleSlice) Len() int           { return len(s) }
func (s BundleSlice) Less(i, j int) bool { return s[i].BundleID < s[j].BundleID }
func (s BundleSlice) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
