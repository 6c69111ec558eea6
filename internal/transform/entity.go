package transform

// Entity type names.
const (
	TypeDatabase         = "DATABASE"
	TypeSchema           = "SCHEMA"
	TypeTable            = "TABLE"
	TypeView             = "VIEW"
	TypeMaterializedView = "MATERIALIZED VIEW"
	TypeColumn           = "COLUMN"
	TypeProcedure        = "PROCEDURE"
)

// Namespace identifies the model an entity belongs to.
type Namespace struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// Entity is a normalized metadata record. Type specific attributes are
// flattened into the JSON object; only one of them is set per entity.
type Entity struct {
	TypeName        string    `json:"typeName"`
	Name            string    `json:"name"`
	URI             string    `json:"URI"`
	SourceVersion   int       `json:"sourceVersion"`
	InternalVersion int       `json:"internalVersion"`
	IsSearchable    bool      `json:"isSearchable,omitempty"`
	Namespace       Namespace `json:"namespace"`
	Package         Namespace `json:"package"`

	*TableAttributes
	*ColumnAttributes
	*ProcedureAttributes

	CustomAttributes map[string]any `json:"customAttributes,omitempty"`
}

// TableAttributes apply to tables, views and materialized views.
type TableAttributes struct {
	IsPartition       bool   `json:"isPartition"`
	IsPartitioned     bool   `json:"isPartitioned"`
	PartitionStrategy string `json:"partitionStrategy,omitempty"`
	PartitionCount    int64  `json:"partitionCount,omitempty"`
	ParentTable       string `json:"parentTable,omitempty"`
	Constraint        string `json:"constraint,omitempty"`
	Definition        string `json:"definition,omitempty"`
	RowCount          *int64 `json:"rowCount,omitempty"`
	ColumnCount       int64  `json:"columnCount,omitempty"`
	Description       string `json:"description,omitempty"`
}

// ColumnConstraints are the key and nullability flags of a column.
type ColumnConstraints struct {
	NotNull       bool `json:"notNull"`
	AutoIncrement bool `json:"autoIncrement"`
	PrimaryKey    bool `json:"primaryKey"`
	ForeignKey    bool `json:"foreignKey"`
	UniqueKey     bool `json:"uniqueKey"`
}

// ColumnAttributes apply to columns.
type ColumnAttributes struct {
	Order              int64             `json:"order"`
	DataType           string            `json:"dataType"`
	TableName          string            `json:"tableName"`
	Constraints        ColumnConstraints `json:"constraints"`
	BelongsToPartition bool              `json:"belongsToPartition,omitempty"`
}

// ProcedureAttributes apply to procedures and functions.
type ProcedureAttributes struct {
	ProcedureType     string `json:"procedureType,omitempty"`
	Language          string `json:"language,omitempty"`
	Owner             string `json:"owner,omitempty"`
	RoutineDefinition string `json:"routineDefinition,omitempty"`
}
