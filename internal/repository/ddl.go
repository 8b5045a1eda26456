package repository

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/stanstork/pgtransfer/internal/models"
)

// CreateTableDDL renders a CREATE TABLE for columns read from another server.
// Defaults are not carried over since the sequences they reference may not exist.
func CreateTableDDL(t TableRef, columns []models.ColumnInfo, pk []string) string {
	defs := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		def := pq.QuoteIdentifier(c.Name) + " " + ColumnType(c)
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if len(pk) > 0 {
		defs = append(defs, "PRIMARY KEY ("+quoteAll(pk)+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", t.quoted(), strings.Join(defs, ",\n\t"))
}

// ColumnType maps information_schema metadata back to a type name; anything
// that may not exist on the destination (enums, domains, composites) becomes text.
func ColumnType(c models.ColumnInfo) string {
	switch c.Type {
	case "character varying":
		if c.MaxLength != nil {
			return fmt.Sprintf("varchar(%d)", *c.MaxLength)
		}
		return "varchar"
	case "character":
		if c.MaxLength != nil {
			return fmt.Sprintf("char(%d)", *c.MaxLength)
		}
		return "char"
	case "numeric":
		if c.Precision != nil && c.Scale != nil {
			return fmt.Sprintf("numeric(%d,%d)", *c.Precision, *c.Scale)
		}
		if c.Precision != nil {
			return fmt.Sprintf("numeric(%d)", *c.Precision)
		}
		return "numeric"
	case "ARRAY":
		if elem := strings.TrimPrefix(c.UDTName, "_"); elem != c.UDTName && builtinUDT(elem) {
			return elem + "[]"
		}
		return "text[]"
	case "USER-DEFINED":
		return "text"
	case "":
		return "text"
	}
	return c.Type
}

var builtinUDTs = map[string]struct{}{
	"bool": {}, "int2": {}, "int4": {}, "int8": {}, "float4": {}, "float8": {},
	"numeric": {}, "text": {}, "varchar": {}, "bpchar": {}, "uuid": {}, "date": {},
	"timestamp": {}, "timestamptz": {}, "time": {}, "timetz": {}, "interval": {},
	"json": {}, "jsonb": {}, "bytea": {}, "inet": {}, "cidr": {},
}

func builtinUDT(name string) bool {
	_, ok := builtinUDTs[name]
	return ok
}
