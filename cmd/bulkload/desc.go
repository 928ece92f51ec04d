package main

import (
	"context"
	"encoding/json"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/pg-sharding/bulkload/pkg/filegroup"
	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
	"github.com/pg-sharding/bulkload/qdb"
)

// LoadDesc is the user facing description of one load.
type LoadDesc struct {
	DbID          int64               `yaml:"db_id"`
	Label         string              `yaml:"label"`
	TransactionID int64               `yaml:"transaction_id"`
	FileGroups    []*filegroup.Source `yaml:"file_groups"`
}

func parseLoadDesc(data []byte) (*LoadDesc, error) {
	var desc LoadDesc
	if err := yaml.UnmarshalStrict(data, &desc); err != nil {
		return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "invalid load description: %w", err)
	}
	if desc.Label == "" {
		return nil, loaderror.New(loaderror.LOAD_VALIDATION, "load description has no label")
	}
	if len(desc.FileGroups) == 0 {
		return nil, loaderror.Newf(loaderror.LOAD_VALIDATION, "load %s has no file groups", desc.Label)
	}
	return &desc, nil
}

func readLoadDesc(p string) (*LoadDesc, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	return parseLoadDesc(data)
}

type catalogFile struct {
	Databases []*qdb.Database `json:"databases"`
	Tables    []*qdb.Table    `json:"tables"`
}

// importCatalog copies the databases and tables of a catalog dump into db.
func importCatalog(ctx context.Context, db qdb.QDB, p string) error {
	data, err := os.ReadFile(p)
	if err != nil {
		return err
	}
	var cat catalogFile
	if err := json.Unmarshal(data, &cat); err != nil {
		return loaderror.Newf(loaderror.LOAD_VALIDATION, "invalid catalog file %s: %w", p, err)
	}
	// an imported database replaces whatever the store held for it
	for _, d := range cat.Databases {
		if err := db.DropDatabase(ctx, d.ID); err != nil {
			return err
		}
		if err := db.CreateDatabase(ctx, d); err != nil {
			return err
		}
	}
	for _, t := range cat.Tables {
		if err := db.PutTable(ctx, t); err != nil {
			return err
		}
	}
	return nil
}
