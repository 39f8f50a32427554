package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v4"

	"github.com/eocis-portal/data-manager/go/catalog"
	"github.com/eocis-portal/data-manager/go/skerr"
	"github.com/eocis-portal/data-manager/go/sklog"
	"github.com/eocis-portal/data-manager/go/sql/sqlutil"
	"github.com/eocis-portal/data-manager/go/types"
)

// schemaStatement is an SQL statement identifier.
type schemaStatement int

const (
	insertBundle schemaStatement = iota
	insertDataSetBundle
	insertDataSet
	insertVariable
	listBundles
	getBundleRow
	listBundleDataSets
	listDataSets
	getDataSetRow
	listVariables
	listEndDates
	updateEndDate
	deleteBundle
	clearDataSets
	clearBundles
	clearVariables
	clearDataSetBundle
)

var schemaStatements = map[schemaStatement]string{
	insertBundle: `
		INSERT INTO
			bundles (bundle_id, bundle_name, spec, minx, miny, maxx, maxy)
		VALUES
			($1, $2, $3, $4, $5, $6, $7)`,
	insertDataSetBundle: `
		INSERT INTO
			dataset_bundle (bundle_id, dataset_id)
		VALUES %s`,
	insertDataSet: `
		INSERT INTO
			datasets (dataset_id, dataset_name, temporal_resolution, spatial_resolution, start_date, end_date, location, spec)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)`,
	insertVariable: `
		INSERT INTO
			variables (variable_id, dataset_id, variable_name, spec)
		VALUES %s`,
	listBundles: `
		SELECT
			bundle_id, bundle_name, spec, minx, miny, maxx, maxy
		FROM
			bundles
		ORDER BY
			bundle_id`,
	getBundleRow: `
		SELECT
			bundle_id, bundle_name, spec, minx, miny, maxx, maxy
		FROM
			bundles
		WHERE
			bundle_id=$1`,
	listBundleDataSets: `
		SELECT
			dataset_id
		FROM
			dataset_bundle
		WHERE
			bundle_id=$1
		ORDER BY
			dataset_id`,
	listDataSets: `
		SELECT
			dataset_id, dataset_name, temporal_resolution, spatial_resolution, start_date, end_date, location, spec
		FROM
			datasets
		ORDER BY
			dataset_id`,
	getDataSetRow: `
		SELECT
			dataset_id, dataset_name, temporal_resolution, spatial_resolution, start_date, end_date, location, spec
		FROM
			datasets
		WHERE
			dataset_id=$1`,
	listVariables: `
		SELECT
			variable_id, variable_name, spec
		FROM
			variables
		WHERE
			dataset_id=$1
		ORDER BY
			variable_id`,
	listEndDates: `
		SELECT
			dataset_id, end_date
		FROM
			datasets
		WHERE
			end_date <> ''`,
	updateEndDate: `
		UPDATE
			datasets
		SET
			end_date=$1
		WHERE
			dataset_id=$2`,
	deleteBundle: `
		DELETE FROM
			bundles
		WHERE
			bundle_id=$1`,
	clearDataSets: `
		DELETE FROM datasets`,
	clearBundles: `
		DELETE FROM bundles`,
	clearVariables: `
		DELETE FROM variables`,
	clearDataSetBundle: `
		DELETE FROM dataset_bundle`,
}

// SchemaOperations bundles the catalog operations available inside a
// Transaction. Methods do not commit; the caller decides the fate of the
// whole Transaction.
type SchemaOperations struct {
	*Transaction
}

// SchemaOperations returns the catalog operations surface of the
// Transaction.
func (t *Transaction) SchemaOperations() *SchemaOperations {
	return &SchemaOperations{Transaction: t}
}

// ClearSchema deletes the whole catalog.
func (so *SchemaOperations) ClearSchema(ctx context.Context) error {
	for _, stmt := range []schemaStatement{clearDataSetBundle, clearVariables, clearDataSets, clearBundles} {
		if _, err := so.tx.Exec(ctx, schemaStatements[stmt]); err != nil {
			return skerr.Wrap(err)
		}
	}
	return nil
}

// PopulateSchema replaces the catalog with the datasets and bundles found
// under the given folder. Per-dataset end dates, which are discovered
// dynamically rather than declared in the catalog files, survive the reload
// for any dataset that still exists. Disabled datasets and bundles are
// skipped.
func (so *SchemaOperations) PopulateSchema(ctx context.Context, schemaFolder string) error {
	datasets, err := catalog.LoadDataSets(filepath.Join(schemaFolder, catalog.DataSetsFolder))
	if err != nil {
		return skerr.Wrap(err)
	}
	bundles, err := catalog.LoadBundles(filepath.Join(schemaFolder, catalog.BundlesFolder))
	if err != nil {
		return skerr.Wrap(err)
	}

	endDates, err := so.DataSetEndDates(ctx)
	if err != nil {
		return skerr.Wrap(err)
	}
	if err := so.ClearSchema(ctx); err != nil {
		return skerr.Wrap(err)
	}
	for _, ds := range datasets {
		if !ds.Enabled {
			sklog.Infof("skipping disabled dataset %s", ds.DataSetID)
			continue
		}
		if saved, ok := endDates[ds.DataSetID]; ok && ds.EndDate.IsZero() {
			ds = ds.Copy()
			ds.EndDate = saved
		}
		if err := so.CreateDataSet(ctx, ds); err != nil {
			return skerr.Wrap(err)
		}
	}
	for _, b := range bundles {
		if !b.Enabled {
			sklog.Infof("skipping disabled bundle %s", b.BundleID)
			continue
		}
		if err := so.CreateBundle(ctx, b); err != nil {
			return skerr.Wrap(err)
		}
	}
	return nil
}

// CreateBundle inserts a bundle and its dataset memberships.
func (so *SchemaOperations) CreateBundle(ctx context.Context, b *types.Bundle) error {
	specJSON, err := json.Marshal(b.Spec)
	if err != nil {
		return skerr.Wrapf(err, "encoding spec of bundle %s", b.BundleID)
	}
	lonMin, latMin, lonMax, latMax := b.Bounds()
	if _, err := so.tx.Exec(ctx, schemaStatements[insertBundle],
		b.BundleID, b.BundleName, string(specJSON), lonMin, latMin, lonMax, latMax,
	); err != nil {
		return storeError(err)
	}
	if len(b.DataSetIDs) == 0 {
		return nil
	}
	stmt := fmt.Sprintf(schemaStatements[insertDataSetBundle], sqlutil.ValuesPlaceholders(2, len(b.DataSetIDs)))
	args := make([]interface{}, 0, 2*len(b.DataSetIDs))
	for _, datasetID := range b.DataSetIDs {
		args = append(args, b.BundleID, datasetID)
	}
	if _, err := so.tx.Exec(ctx, stmt, args...); err != nil {
		return storeError(err)
	}
	return nil
}

// CreateDataSet inserts a dataset and its variables.
func (so *SchemaOperations) CreateDataSet(ctx context.Context, ds *types.DataSet) error {
	specJSON, err := json.Marshal(ds.Spec)
	if err != nil {
		return skerr.Wrapf(err, "encoding spec of dataset %s", ds.DataSetID)
	}
	if _, err := so.tx.Exec(ctx, schemaStatements[insertDataSet],
		ds.DataSetID,
		ds.DataSetName,
		ds.TemporalResolution,
		ds.SpatialResolution,
		EncodeDate(ds.StartDate),
		EncodeDate(ds.EndDate),
		ds.Location,
		string(specJSON),
	); err != nil {
		return storeError(err)
	}
	if len(ds.Variables) == 0 {
		return nil
	}
	stmt := fmt.Sprintf(schemaStatements[insertVariable], sqlutil.ValuesPlaceholders(4, len(ds.Variables)))
	args := make([]interface{}, 0, 4*len(ds.Variables))
	for _, v := range ds.Variables {
		varSpecJSON, err := json.Marshal(v.Spec)
		if err != nil {
			return skerr.Wrapf(err, "encoding spec of variable %s/%s", ds.DataSetID, v.VariableID)
		}
		args = append(args, v.VariableID, ds.DataSetID, v.VariableName, string(varSpecJSON))
	}
	if _, err := so.tx.Exec(ctx, stmt, args...); err != nil {
		return storeError(err)
	}
	return nil
}

// ListBundles lists the stored bundles with their dataset ids.
func (so *SchemaOperations) ListBundles(ctx context.Context) ([]*types.Bundle, error) {
	rows, err := so.tx.Query(ctx, schemaStatements[listBundles])
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	bundles, err := so.collectBundles(rows)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	for _, b := range bundles {
		if b.DataSetIDs, err = so.bundleDataSetIDs(ctx, b.BundleID); err != nil {
			return nil, skerr.Wrap(err)
		}
	}
	return bundles, nil
}

// GetBundle retrieves a bundle by id. Returns ErrNotFound when no such
// bundle is stored.
func (so *SchemaOperations) GetBundle(ctx context.Context, bundleID string) (*types.Bundle, error) {
	rows, err := so.tx.Query(ctx, schemaStatements[getBundleRow], bundleID)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	bundles, err := so.collectBundles(rows)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	if len(bundles) == 0 {
		return nil, skerr.Wrapf(ErrNotFound, "bundle %s", bundleID)
	}
	b := bundles[0]
	if b.DataSetIDs, err = so.bundleDataSetIDs(ctx, bundleID); err != nil {
		return nil, skerr.Wrap(err)
	}
	return b, nil
}

func (so *SchemaOperations) collectBundles(rows pgx.Rows) ([]*types.Bundle, error) {
	defer rows.Close()
	var rv []*types.Bundle
	for rows.Next() {
		var b types.Bundle
		var specJSON string
		var lonMin, latMin, lonMax, latMax float64
		if err := rows.Scan(&b.BundleID, &b.BundleName, &specJSON, &lonMin, &latMin, &lonMax, &latMax); err != nil {
			return nil, skerr.Wrap(err)
		}
		if err := json.Unmarshal([]byte(specJSON), &b.Spec); err != nil {
			return nil, skerr.Wrapf(err, "decoding spec of bundle %s", b.BundleID)
		}
		if b.Spec == nil {
			b.Spec = types.Spec{}
		}
		b.Spec[types.SpecKeyBounds] = map[string]interface{}{
			types.BoundsMinX: lonMin,
			types.BoundsMinY: latMin,
			types.BoundsMaxX: lonMax,
			types.BoundsMaxY: latMax,
		}
		b.Enabled = true
		rv = append(rv, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, skerr.Wrap(err)
	}
	return rv, nil
}

func (so *SchemaOperations) bundleDataSetIDs(ctx context.Context, bundleID string) ([]string, error) {
	rows, err := so.tx.Query(ctx, schemaStatements[listBundleDataSets], bundleID)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	defer rows.Close()
	var rv []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, skerr.Wrap(err)
		}
		rv = append(rv, id)
	}
	if err := rows.Err(); err != nil {
		return nil, skerr.Wrap(err)
	}
	return rv, nil
}

// ListDataSets lists the stored datasets with their variables.
func (so *SchemaOperations) ListDataSets(ctx context.Context) ([]*types.DataSet, error) {
	rows, err := so.tx.Query(ctx, schemaStatements[listDataSets])
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	datasets, err := collectDataSets(rows)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	for _, ds := range datasets {
		if ds.Variables, err = so.dataSetVariables(ctx, ds.DataSetID); err != nil {
			return nil, skerr.Wrap(err)
		}
	}
	return datasets, nil
}

// GetDataSet retrieves a dataset by id. Returns ErrNotFound when no such
// dataset is stored.
func (so *SchemaOperations) GetDataSet(ctx context.Context, datasetID string) (*types.DataSet, error) {
	rows, err := so.tx.Query(ctx, schemaStatements[getDataSetRow], datasetID)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	datasets, err := collectDataSets(rows)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	if len(datasets) == 0 {
		return nil, skerr.Wrapf(ErrNotFound, "dataset %s", datasetID)
	}
	ds := datasets[0]
	if ds.Variables, err = so.dataSetVariables(ctx, datasetID); err != nil {
		return nil, skerr.Wrap(err)
	}
	return ds, nil
}

func collectDataSets(rows pgx.Rows) ([]*types.DataSet, error) {
	defer rows.Close()
	var rv []*types.DataSet
	for rows.Next() {
		var ds types.DataSet
		var startDate, endDate, specJSON string
		if err := rows.Scan(&ds.DataSetID, &ds.DataSetName, &ds.TemporalResolution, &ds.SpatialResolution, &startDate, &endDate, &ds.Location, &specJSON); err != nil {
			return nil, skerr.Wrap(err)
		}
		var err error
		if ds.StartDate, err = DecodeDate(startDate); err != nil {
			return nil, skerr.Wrap(err)
		}
		if ds.EndDate, err = DecodeDate(endDate); err != nil {
			return nil, skerr.Wrap(err)
		}
		if err := json.Unmarshal([]byte(specJSON), &ds.Spec); err != nil {
			return nil, skerr.Wrapf(err, "decoding spec of dataset %s", ds.DataSetID)
		}
		if ds.Spec == nil {
			ds.Spec = types.Spec{}
		}
		ds.Enabled = true
		rv = append(rv, &ds)
	}
	if err := rows.Err(); err != nil {
		return nil, skerr.Wrap(err)
	}
	return rv, nil
}

func (so *SchemaOperations) dataSetVariables(ctx context.Context, datasetID string) ([]types.Variable, error) {
	rows, err := so.tx.Query(ctx, schemaStatements[listVariables], datasetID)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	defer rows.Close()
	var rv []types.Variable
	for rows.Next() {
		var v types.Variable
		var specJSON string
		if err := rows.Scan(&v.VariableID, &v.VariableName, &specJSON); err != nil {
			return nil, skerr.Wrap(err)
		}
		if err := json.Unmarshal([]byte(specJSON), &v.Spec); err != nil {
			return nil, skerr.Wrapf(err, "decoding spec of variable %s/%s", datasetID, v.VariableID)
		}
		if v.Spec == nil {
			v.Spec = types.Spec{}
		}
		rv = append(rv, v)
	}
	if err := rows.Err(); err != nil {
		return nil, skerr.Wrap(err)
	}
	return rv, nil
}

// DataSetEndDates returns the known end date of every dataset that has one.
func (so *SchemaOperations) DataSetEndDates(ctx context.Context) (map[string]time.Time, error) {
	rows, err := so.tx.Query(ctx, schemaStatements[listEndDates])
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	defer rows.Close()
	rv := map[string]time.Time{}
	for rows.Next() {
		var id, encoded string
		if err := rows.Scan(&id, &encoded); err != nil {
			return nil, skerr.Wrap(err)
		}
		endDate, err := DecodeDate(encoded)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		rv[id] = endDate
	}
	if err := rows.Err(); err != nil {
		return nil, skerr.Wrap(err)
	}
	return rv, nil
}

// UpdateDataSetEndDate writes the end date of one dataset. Returns
// ErrNotFound when the dataset does not exist.
func (so *SchemaOperations) UpdateDataSetEndDate(ctx context.Context, datasetID string, endDate time.Time) error {
	tag, err := so.tx.Exec(ctx, schemaStatements[updateEndDate], EncodeDate(endDate), datasetID)
	if err != nil {
		return skerr.Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return skerr.Wrapf(ErrNotFound, "dataset %s", datasetID)
	}
	return nil
}

// RemoveBundle deletes a bundle. The foreign key from dataset_bundle
// cascades the delete of its membership rows; the datasets themselves are
// untouched. Returns ErrNotFound when the bundle does not exist.
func (so *SchemaOperations) RemoveBundle(ctx context.Context, bundleID string) error {
	tag, err := so.tx.Exec(ctx, schemaStatements[deleteBundle], bundleID)
	if err != nil {
		return skerr.Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return skerr.Wrapf(ErrNotFound, "bundle %s", bundleID)
	}
	return nil
}
