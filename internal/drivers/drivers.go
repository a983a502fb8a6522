// Package drivers registers every built-in locator driver.
package drivers

import (
	"github.com/tableport/tableport/internal/config"
	"github.com/tableport/tableport/internal/drivers/bigquery"
	"github.com/tableport/tableport/internal/drivers/csvfile"
	"github.com/tableport/tableport/internal/drivers/duckdb"
	"github.com/tableport/tableport/internal/drivers/gs"
	"github.com/tableport/tableport/internal/drivers/parquetfile"
	"github.com/tableport/tableport/internal/drivers/postgres"
	"github.com/tableport/tableport/internal/drivers/s3"
	"github.com/tableport/tableport/internal/drivers/schemafile"
	"github.com/tableport/tableport/internal/drivers/sqlite"
	"github.com/tableport/tableport/internal/drivers/xlsx"
)

// RegisterAll installs every built-in driver into the global registry.
// Call it once at startup, before parsing any locator.
func RegisterAll(cfg config.Config) {
	bigquery.Register(cfg)
	csvfile.Register()
	duckdb.Register()
	gs.Register(cfg)
	parquetfile.Register()
	postgres.Register()
	s3.Register(cfg)
	schemafile.Register()
	sqlite.Register()
	xlsx.Register()
}
