package parquet_accumulator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danthegoodman1/etlpipe/table"
)

type (
	// ParquetSchemaAccumulator builds a parquet-go JSON schema one table column at a time,
	// keeping the order columns were first written.
	ParquetSchemaAccumulator struct {
		schema ParquetSchema
		// column name -> parquet field name
		fieldNames map[string]string
		usedNames  map[string]bool
	}

	ParquetSchema struct {
		TagStructs SchemaTag        `json:"-,omitempty"`
		Fields     []*ParquetSchema `json:",omitempty"`
	}

	ParquetJSONSchema struct {
		Tag    string               `json:",omitempty"`
		Fields []*ParquetJSONSchema `json:",omitempty"`
	}

	SchemaTag struct {
		Name           string         `json:"name,omitempty"`
		Type           string         `json:"type,omitempty"`
		ConvertedType  string         `json:"convertedtype,omitempty"`
		RepetitionType RepetitionType `json:"repetitiontype,omitempty"`
		Encoding       string         `json:"encoding,omitempty"`
	}

	RepetitionType string
)

var (
	Optional RepetitionType = "OPTIONAL"
	Required RepetitionType = "REQUIRED"
)

func NewParquetAccumulator() ParquetSchemaAccumulator {
	return ParquetSchemaAccumulator{
		schema: ParquetSchema{
			TagStructs: SchemaTag{
				Name:           "parquet_go_root",
				RepetitionType: Required,
			},
		},
		fieldNames: make(map[string]string),
		usedNames:  make(map[string]bool),
	}
}

// WriteTable accumulates every column of t with its inferred kind.
func (pa *ParquetSchemaAccumulator) WriteTable(t *table.Table) {
	for _, col := range t.Columns {
		pa.WriteColumn(col, t.Kind(col))
	}
}

// WriteColumn adds a field for col unless it already exists.
func (pa *ParquetSchemaAccumulator) WriteColumn(col string, kind table.Kind) {
	if _, exists := pa.fieldNames[col]; exists {
		return
	}
	name := pa.uniqueFieldName(col)
	pa.fieldNames[col] = name
	pa.schema.Fields = append(pa.schema.Fields, getParquetSchema(name, kind))
}

// FieldName is the parquet field written for col, empty if col was never written.
func (pa *ParquetSchemaAccumulator) FieldName(col string) string {
	return pa.fieldNames[col]
}

func getParquetSchema(name string, kind table.Kind) *ParquetSchema {
	schema := &ParquetSchema{
		TagStructs: SchemaTag{
			Name:           name,
			RepetitionType: Optional,
		},
	}
	switch kind {
	case table.KindNumber:
		schema.TagStructs.Type = "DOUBLE"
	case table.KindBool:
		schema.TagStructs.Type = "BOOLEAN"
	default:
		schema.TagStructs.Type = "BYTE_ARRAY"
		schema.TagStructs.ConvertedType = "UTF8"
		schema.TagStructs.Encoding = "PLAIN"
	}
	return schema
}

// uniqueFieldName maps a column name to an exported Go identifier, since parquet-go builds
// structs from the schema. Collisions get a numeric suffix.
func (pa *ParquetSchemaAccumulator) uniqueFieldName(col string) string {
	var b strings.Builder
	for _, r := range col {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	base := b.String()
	if base == "" || !((base[0] >= 'a' && base[0] <= 'z') || (base[0] >= 'A' && base[0] <= 'Z')) {
		base = "C" + base
	}
	base = strings.ToUpper(base[:1]) + base[1:]

	name := base
	for i := 2; pa.usedNames[name]; i++ {
		name = fmt.Sprintf("%s_%d", base, i)
	}
	pa.usedNames[name] = true
	return name
}

func (pa *ParquetSchemaAccumulator) GetColumnNames() []string {
	var cols []string
	for _, field := range pa.schema.Fields {
		cols = append(cols, field.TagStructs.Name)
	}
	return cols
}

func (ps *ParquetSchema) GetType() string {
	switch ps.TagStructs.Type {
	case "BYTE_ARRAY":
		return "string"
	case "DOUBLE":
		return "float"
	case "BOOLEAN":
		return "bool"
	default:
		return "unknown"
	}
}

// GetColumnTypes returns the types of columns in the same order, one of `string`, `float` or `bool`
func (pa *ParquetSchemaAccumulator) GetColumnTypes() []string {
	var cols []string
	for _, field := range pa.schema.Fields {
		cols = append(cols, field.GetType())
	}
	return cols
}

// ToParquetJSONSchema recursively converts
func (ps *ParquetSchema) ToParquetJSONSchema() *ParquetJSONSchema {
	var tagArr []string
	if ps.TagStructs.Type != "" {
		tagArr = append(tagArr, "type="+ps.TagStructs.Type)
	}
	if ps.TagStructs.ConvertedType != "" {
		tagArr = append(tagArr, "convertedtype="+ps.TagStructs.ConvertedType)
	}
	if ps.TagStructs.Encoding != "" {
		tagArr = append(tagArr, "encoding="+ps.TagStructs.Encoding)
	}
	if ps.TagStructs.Name != "" {
		tagArr = append(tagArr, "name="+ps.TagStructs.Name)
	}
	if string(ps.TagStructs.RepetitionType) != "" {
		tagArr = append(tagArr, "repetitiontype="+string(ps.TagStructs.RepetitionType))
	}
	var fields []*ParquetJSONSchema
	for _, field := range ps.Fields {
		fields = append(fields, field.ToParquetJSONSchema())
	}
	return &ParquetJSONSchema{
		Tag:    strings.Join(tagArr, ", "),
		Fields: fields,
	}
}

// GetSchemaString returns the JSON formatted schema string
func (pa *ParquetSchemaAccumulator) GetSchemaString() (string, error) {
	b, err := json.Marshal(pa.schema.ToParquetJSONSchema())
	if err != nil {
		return "", fmt.Errorf("error in json.Marshal: %w", err)
	}
	return string(b), nil
}
