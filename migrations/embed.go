// Package migrations embeds SQL migration files into the binary so the
// gateway can migrate its audit database without files on disk.
package migrations

import (
	"embed"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
