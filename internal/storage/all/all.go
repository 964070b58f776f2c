// Package all registers every storage backend. Commands import it for the
// side effect so the registry is populated before storage.New is called.
package all

import (
	_ "catcrawl/internal/storage/mssql"
	_ "catcrawl/internal/storage/postgres"
	_ "catcrawl/internal/storage/sqlite"
)
