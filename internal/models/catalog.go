package models

type TableKind string

const (
	TableKindTable TableKind = "table"
	TableKindView  TableKind = "view"
)

type SchemaInfo struct {
	Name        string  `json:"schema_name"`
	Description *string `json:"description,omitempty"`
}

type TableInfo struct {
	Name        string    `json:"table_name"`
	Kind        TableKind `json:"table_type"`
	RowCount    *int64    `json:"row_count,omitempty"`
	ColumnCount *int      `json:"column_count,omitempty"`
}

type ColumnInfo struct {
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Nullable  bool    `json:"nullable"`
	Default   *string `json:"default,omitempty"`
	MaxLength *int    `json:"max_length,omitempty"`

	// Used when the column is recreated on another server.
	UDTName   string `json:"-"`
	Precision *int   `json:"-"`
	Scale     *int   `json:"-"`
	Ordinal   int    `json:"-"`
}

type TableDetail struct {
	Schema    string       `json:"schema_name"`
	Name      string       `json:"table_name"`
	Kind      TableKind    `json:"table_type"`
	RowCount  *int64       `json:"row_count,omitempty"`
	Columns   []ColumnInfo `json:"columns"`
	PKColumns []string     `json:"primary_key,omitempty"`
}

type SchemasResponse struct {
	Schemas []SchemaInfo `json:"schemas"`
}

type TablesResponse struct {
	Tables []TableInfo `json:"tables"`
}
