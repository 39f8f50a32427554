// Package catalog loads dataset and bundle definitions from a folder of
// YAML files. The id of each dataset or bundle is the stem of its file name.
package catalog

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eocis-portal/data-manager/go/skerr"
	"github.com/eocis-portal/data-manager/go/sklog"
	"github.com/eocis-portal/data-manager/go/types"
)

// DateFormat is the layout of date values in catalog files, eg. "01-09-1981".
const DateFormat = "02-01-2006"

// Sub-folders of a schema folder holding the dataset and bundle files.
const (
	DataSetsFolder = "datasets"
	BundlesFolder  = "bundles"
)

type dataSetFile struct {
	Name               string                 `yaml:"name"`
	TemporalResolution string                 `yaml:"temporal_resolution"`
	SpatialResolution  string                 `yaml:"spatial_resolution"`
	StartDate          string                 `yaml:"start_date"`
	EndDate            string                 `yaml:"end_date"`
	Location           string                 `yaml:"location"`
	Spec               map[string]interface{} `yaml:"spec"`
	Variables          map[string]struct {
		Name string                 `yaml:"name"`
		Spec map[string]interface{} `yaml:"spec"`
	} `yaml:"variables"`
	Enabled *bool `yaml:"enabled"`
}

type bundleFile struct {
	Name     string                 `yaml:"name"`
	Spec     map[string]interface{} `yaml:"spec"`
	DataSets []string               `yaml:"datasets"`
	MinX     *float64               `yaml:"minx"`
	MinY     *float64               `yaml:"miny"`
	MaxX     *float64               `yaml:"maxx"`
	MaxY     *float64               `yaml:"maxy"`
	Enabled  *bool                  `yaml:"enabled"`
}

// idFromPath derives the dataset or bundle id from the file name stem.
func idFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// LoadDataSetFromFile loads a single dataset definition.
func LoadDataSetFromFile(path string) (*types.DataSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, skerr.Wrapf(err, "reading dataset file %s", path)
	}
	var df dataSetFile
	if err := yaml.Unmarshal(b, &df); err != nil {
		return nil, skerr.Wrapf(err, "parsing dataset file %s", path)
	}
	startDate, err := time.Parse(DateFormat, df.StartDate)
	if err != nil {
		return nil, skerr.Wrapf(err, "parsing start_date in %s", path)
	}
	var endDate time.Time
	if df.EndDate != "" {
		endDate, err = time.Parse(DateFormat, df.EndDate)
		if err != nil {
			return nil, skerr.Wrapf(err, "parsing end_date in %s", path)
		}
	}
	spec := types.Spec(df.Spec)
	if spec == nil {
		spec = types.Spec{}
	}
	variables := make([]types.Variable, 0, len(df.Variables))
	for id, v := range df.Variables {
		vspec := types.Spec(v.Spec)
		if vspec == nil {
			vspec = types.Spec{}
		}
		variables = append(variables, types.Variable{
			VariableID:   id,
			VariableName: v.Name,
			Spec:         vspec,
		})
	}
	// YAML mappings carry no order; sort for a stable result.
	sort.Slice(variables, func(i, j int) bool {
		return variables[i].VariableID < variables[j].VariableID
	})
	enabled := true
	if df.Enabled != nil {
		enabled = *df.Enabled
	}
	ds := &types.DataSet{
		DataSetID:          idFromPath(path),
		DataSetName:        df.Name,
		TemporalResolution: types.TemporalResolution(df.TemporalResolution),
		SpatialResolution:  types.SpatialResolution(df.SpatialResolution),
		StartDate:          startDate,
		EndDate:            endDate,
		Location:           df.Location,
		Spec:               spec,
		Variables:          variables,
		Enabled:            enabled,
	}
	if err := ds.Validate(); err != nil {
		return nil, skerr.Wrapf(err, "validating dataset file %s", path)
	}
	return ds, nil
}

// LoadDataSets loads every *.yaml dataset definition in the given folder.
func LoadDataSets(folder string) ([]*types.DataSet, error) {
	paths, err := yamlFiles(folder)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	rv := make([]*types.DataSet, 0, len(paths))
	for _, path := range paths {
		ds, err := LoadDataSetFromFile(path)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		sklog.Debugf("loaded dataset %s from %s", ds.DataSetID, path)
		rv = append(rv, ds)
	}
	sort.Sort(types.DataSetSlice(rv))
	return rv, nil
}

// LoadBundleFromFile loads a single bundle definition. The top-level minx,
// miny, maxx and maxy keys, when present, are folded into the bundle spec's
// bounds mapping.
func LoadBundleFromFile(path string) (*types.Bundle, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, skerr.Wrapf(err, "reading bundle file %s", path)
	}
	var bf bundleFile
	if err := yaml.Unmarshal(b, &bf); err != nil {
		return nil, skerr.Wrapf(err, "parsing bundle file %s", path)
	}
	spec := types.Spec(bf.Spec)
	if spec == nil {
		spec = types.Spec{}
	}
	bounds := map[string]interface{}{}
	if existing := spec.GetSub(types.SpecKeyBounds); existing != nil {
		bounds = map[string]interface{}(existing)
	}
	if bf.MinX != nil {
		bounds[types.BoundsMinX] = *bf.MinX
	}
	if bf.MinY != nil {
		bounds[types.BoundsMinY] = *bf.MinY
	}
	if bf.MaxX != nil {
		bounds[types.BoundsMaxX] = *bf.MaxX
	}
	if bf.MaxY != nil {
		bounds[types.BoundsMaxY] = *bf.MaxY
	}
	if len(bounds) > 0 {
		spec[types.SpecKeyBounds] = bounds
	}
	enabled := true
	if bf.Enabled != nil {
		enabled = *bf.Enabled
	}
	return &types.Bundle{
		BundleID:   idFromPath(path),
		BundleName: bf.Name,
		Spec:       spec,
		DataSetIDs: bf.DataSets,
		Enabled:    enabled,
	}, nil
}

// LoadBundles loads every *.yaml bundle definition in the given folder.
func LoadBundles(folder string) ([]*types.Bundle, error) {
	paths, err := yamlFiles(folder)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	rv := make([]*types.Bundle, 0, len(paths))
	for _, path := range paths {
		b, err := LoadBundleFromFile(path)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		sklog.Debugf("loaded bundle %s from %s", b.BundleID, path)
		rv = append(rv, b)
	}
	sort.Sort(types.BundleSlice(rv))
	return rv, nil
}

func yamlFiles(folder string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, skerr.Wrapf(err, "listing folder %s", folder)
	}
	var rv []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		rv = append(rv, filepath.Join(folder, entry.Name()))
	}
	sort.Strings(rv)
	return rv, nil
}
