// Package all registers every storage backend and the SQL Server driver.
// Import it for side effects from binaries.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "equipdb/internal/storage/mssql"
	_ "equipdb/internal/storage/mysql"
	_ "equipdb/internal/storage/postgres"
	_ "equipdb/internal/storage/sqlite"
)
