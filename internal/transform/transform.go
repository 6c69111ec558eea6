package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nucleus/metadata-extractor/internal/source"
)

// ErrNotTransformable marks a row that lacks a required field. It is a per
// row outcome, not a failure of the extraction.
var ErrNotTransformable = errors.New("row not transformable")

type handler func(t *Transformer, rec source.Record) (*Entity, error)

var handlers = [numTypes]handler{
	Database:  (*Transformer).database,
	Schema:    (*Transformer).schema,
	Table:     (*Transformer).table,
	Column:    (*Transformer).column,
	Procedure: (*Transformer).procedure,
}

// Transformer builds entities for one source.
type Transformer struct {
	source    string
	namespace string
}

// New creates a Transformer. uriSource is the first URI segment ("postgres")
// and namespace the entity namespace id ("postgresql-internal").
func New(uriSource, namespace string) *Transformer {
	return &Transformer{source: uriSource, namespace: namespace}
}

// For returns the conversion of rows of typename into entities, resolving
// the type once. Unknown type names fall back to a minimal entity named by
// the "{typename}_name" column. A row missing a required column yields a nil
// entity and an error wrapping ErrNotTransformable.
func (t *Transformer) For(typename string) func(source.Record) (*Entity, error) {
	if mt, ok := ParseType(typename); ok {
		h := handlers[mt]
		return func(rec source.Record) (*Entity, error) { return h(t, rec) }
	}
	return func(rec source.Record) (*Entity, error) { return t.generic(typename, rec) }
}

func (t *Transformer) newEntity(typeName, name string, path ...string) *Entity {
	ns := Namespace{ID: t.namespace, Name: t.namespace, Version: 1}
	return &Entity{
		TypeName:        typeName,
		Name:            name,
		URI:             t.uri(path...),
		SourceVersion:   1,
		InternalVersion: 1,
		Namespace:       ns,
		Package:         ns,
	}
}

func (t *Transformer) uri(path ...string) string {
	return "/" + t.source + "/sql/" + strings.Join(path, "/")
}

func (t *Transformer) database(rec source.Record) (*Entity, error) {
	f, err := requireFields(rec, "datname")
	if err != nil {
		return nil, err
	}
	e := t.newEntity(TypeDatabase, f["datname"], f["datname"])
	e.CustomAttributes = custom(rec, "owner", "encoding", "datcollate", "datctype", "datallowconn", "datconnlimit")
	return e, nil
}

func (t *Transformer) schema(rec source.Record) (*Entity, error) {
	f, err := requireFields(rec, "schema_name", "catalog_name")
	if err != nil {
		return nil, err
	}
	e := t.newEntity(TypeSchema, f["schema_name"], f["catalog_name"], f["schema_name"])
	e.CustomAttributes = custom(rec, "schema_owner")
	return e, nil
}

func (t *Transformer) table(rec source.Record) (*Entity, error) {
	f, err := requireFields(rec, "table_name", "table_cat", "table_schem")
	if err != nil {
		return nil, err
	}
	name := f["table_name"]
	e := t.newEntity(TypeTable, name, f["table_cat"], f["table_schem"], name)
	e.IsSearchable = true

	attrs := &TableAttributes{
		IsPartition: boolValue(rec, "is_partition"),
		ColumnCount: intValue(rec, "column_count"),
		Description: stringValue(rec, "remarks"),
	}
	if n, ok := intField(rec, "row_count"); ok {
		attrs.RowCount = &n
	}

	tableType := strings.ToUpper(stringValue(rec, "table_type"))
	body := strings.TrimSpace(stringValue(rec, "view_definition"))
	switch tableType {
	case TypeView:
		e.TypeName = TypeView
		if body != "" {
			attrs.Definition = fmt.Sprintf("CREATE OR REPLACE VIEW %s AS %s", name, body)
		}
	case TypeMaterializedView:
		e.TypeName = TypeMaterializedView
		if body != "" {
			attrs.Definition = fmt.Sprintf("CREATE MATERIALIZED VIEW %s AS %s", name, body)
		}
	}

	if stringValue(rec, "table_kind") == "p" || tableType == "PARTITIONED TABLE" {
		attrs.IsPartitioned = true
		attrs.PartitionStrategy = partitionStrategy(stringValue(rec, "partition_strategy"))
		attrs.PartitionCount = intValue(rec, "partition_count")
	}
	if attrs.IsPartition {
		attrs.ParentTable = stringValue(rec, "parent_table_name")
		attrs.Constraint = stringValue(rec, "partition_constraint")
	}

	e.TableAttributes = attrs
	e.CustomAttributes = custom(rec, "is_insertable_into", "is_typed", "self_referencing_col_name", "ref_generation", "engine")
	return e, nil
}

func partitionStrategy(code string) string {
	switch code {
	case "r":
		return "range"
	case "l":
		return "list"
	case "h":
		return "hash"
	default:
		return code
	}
}

func (t *Transformer) column(rec source.Record) (*Entity, error) {
	f, err := requireFields(rec, "column_name", "table_cat", "table_schem", "table_name", "ordinal_position", "data_type")
	if err != nil {
		return nil, err
	}
	order, ok := intField(rec, "ordinal_position")
	if !ok {
		return nil, fmt.Errorf("%w: ordinal_position %q is not an integer", ErrNotTransformable, f["ordinal_position"])
	}

	e := t.newEntity(TypeColumn, f["column_name"], f["table_cat"], f["table_schem"], f["table_name"], f["column_name"])
	e.IsSearchable = true

	constraintType := strings.ToUpper(stringValue(rec, "constraint_type"))
	e.ColumnAttributes = &ColumnAttributes{
		Order:     order,
		DataType:  f["data_type"],
		TableName: f["table_name"],
		Constraints: ColumnConstraints{
			NotNull:       !isYes(rec, "is_nullable"),
			AutoIncrement: isYes(rec, "is_autoincrement") || isYes(rec, "is_identity"),
			PrimaryKey:    constraintType == "PRIMARY KEY",
			ForeignKey:    constraintType == "FOREIGN KEY",
			UniqueKey:     constraintType == "UNIQUE",
		},
		BelongsToPartition: boolValue(rec, "belongs_to_partition"),
	}
	e.CustomAttributes = custom(rec,
		"num_prec_radix", "is_identity", "identity_cycle",
		"numeric_precision", "numeric_scale", "character_maximum_length",
		"column_default", "udt_name", "constraint_name")
	return e, nil
}

func (t *Transformer) procedure(rec source.Record) (*Entity, error) {
	f, err := requireFields(rec, "procedure_name")
	if err != nil {
		return nil, err
	}
	name := f["procedure_name"]
	path := []string{name}
	cat, schem := stringValue(rec, "procedure_cat"), stringValue(rec, "procedure_schem")
	if cat != "" && schem != "" {
		path = []string{cat, schem, name}
	}

	e := t.newEntity(TypeProcedure, name, path...)
	e.ProcedureAttributes = &ProcedureAttributes{
		ProcedureType:     stringValue(rec, "procedure_type"),
		Language:          stringValue(rec, "language"),
		Owner:             stringValue(rec, "proc_owner"),
		RoutineDefinition: stringValue(rec, "routine_definition"),
	}
	return e, nil
}

func (t *Transformer) generic(typename string, rec source.Record) (*Entity, error) {
	key := strings.ToLower(typename) + "_name"
	f, err := requireFields(rec, key)
	if err != nil {
		return nil, err
	}
	return t.newEntity(strings.ToUpper(typename), f[key], f[key]), nil
}

// requireFields returns the string form of every named column, or
// ErrNotTransformable naming the first one that is absent or null.
func requireFields(rec source.Record, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		v, ok := rec.Get(key)
		if !ok || v == nil {
			return nil, fmt.Errorf("%w: missing %s", ErrNotTransformable, key)
		}
		out[key] = toString(v)
	}
	return out, nil
}

func custom(rec source.Record, keys ...string) map[string]any {
	var attrs map[string]any
	for _, key := range keys {
		if v, ok := rec.Get(key); ok && v != nil {
			if attrs == nil {
				attrs = make(map[string]any)
			}
			attrs[key] = v
		}
	}
	return attrs
}

func stringValue(rec source.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	return toString(v)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

func isYes(rec source.Record, key string) bool {
	return strings.EqualFold(stringValue(rec, key), "YES")
}

func boolValue(rec source.Record, key string) bool {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int32:
		return t != 0
	case int:
		return t != 0
	default:
		switch strings.ToLower(toString(v)) {
		case "true", "t", "yes", "y", "1":
			return true
		}
		return false
	}
}

func intValue(rec source.Record, key string) int64 {
	n, _ := intField(rec, key)
	return n
}

func intField(rec source.Record, key string) (int64, bool) {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint32:
		return int64(t), true
	case uint64:
		if t > math.MaxInt64 {
			return 0, false
		}
		return int64(t), true
	case float32:
		return int64(t), true
	case float64:
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	default:
		n, err := strconv.ParseInt(strings.TrimSpace(toString(v)), 10, 64)
		return n, err == nil
	}
}
