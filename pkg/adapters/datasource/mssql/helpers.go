package mssql

import (
	"strings"
)

// mapSQLServerType maps SQL Server type names to standard type names so the
// graph carries the same vocabulary regardless of datasource.
func mapSQLServerType(sqlServerType string) string {
	sqlServerType = strings.ToUpper(sqlServerType)

	switch sqlServerType {
	case "INT":
		return "INTEGER"

	case "DECIMAL", "NUMERIC":
		return "NUMERIC"
	case "MONEY", "SMALLMONEY":
		return "MONEY"
	case "FLOAT":
		return "DOUBLE PRECISION"

	case "CHAR", "NCHAR":
		return "CHAR"
	case "VARCHAR", "NVARCHAR":
		return "VARCHAR"
	case "TEXT", "NTEXT":
		return "TEXT"

	case "BINARY", "VARBINARY":
		return "BYTEA"
	case "IMAGE":
		return "BLOB"

	case "DATETIME", "DATETIME2", "SMALLDATETIME":
		return "TIMESTAMP"
	case "DATETIMEOFFSET":
		return "TIMESTAMP WITH TIME ZONE"

	case "BIT":
		return "BOOLEAN"

	case "UNIQUEIDENTIFIER":
		return "UUID"

	// TINYINT, SMALLINT, BIGINT, REAL, DATE, TIME, JSON, XML and anything
	// unknown keep their SQL Server name.
	default:
		return sqlServerType
	}
}
