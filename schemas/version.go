package schemas

import (
	"reflect"
	"text/template"
)

// LatestMajor is the highest major schema version registered by a schema package.
var LatestMajor = 0

func RegisterSchema(major int) {
	if major > LatestMajor {
		LatestMajor = major
	}
}

// Config is passed to schema templates.
type Config struct {
	SchemaName string // name of the postgresql schema in which any database objects should be created
}

// TemplateFuncs are available to base and patch templates. default returns its first argument when the piped
// value is empty, e.g. {{ .SchemaName | default "public" }}.
var TemplateFuncs = template.FuncMap{
	"default": func(def interface{}, value interface{}) interface{} {
		if isEmpty(value) {
			return def
		}
		return value
	},
}

func isEmpty(val interface{}) bool {
	v := reflect.ValueOf(val)
	if !v.IsValid() {
		return true
	}

	switch v.Kind() {
	case reflect.Array, reflect.Slice, reflect.Map, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Struct:
		return false
	default:
		return v.IsNil()
	}
}
