// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"reflect"
	"slices"
)

// ChangeSummary lists the fields that differ between two configurations.
type ChangeSummary struct {
	ChangedFields   []string
	RestartRequired bool
}

// hotReloadable fields take effect without a restart.
var hotReloadable = map[string]struct{}{
	"LogLevel":              {},
	"Media.BulkConcurrency": {},
}

// Diff compares two configurations field by field.
func Diff(old, next AppConfig) ChangeSummary {
	var s ChangeSummary
	s.compare("", reflect.ValueOf(old), reflect.ValueOf(next))
	return s
}

func (s *ChangeSummary) compare(prefix string, ov, nv reflect.Value) {
	t := ov.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Tag.Get("yaml") == "-" {
			continue
		}
		path := f.Name
		if prefix != "" {
			path = prefix + "." + f.Name
		}
		o, n := ov.Field(i), nv.Field(i)
		if o.Kind() == reflect.Struct {
			s.compare(path, o, n)
			continue
		}
		if !reflect.DeepEqual(normalize(o), normalize(n)) {
			s.ChangedFields = append(s.ChangedFields, path)
			if _, ok := hotReloadable[path]; !ok {
				s.RestartRequired = true
			}
		}
	}
}

// normalize treats nil and empty string slices alike and ignores order.
func normalize(v reflect.Value) any {
	if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.String {
		out := slices.Clone(v.Interface().([]string))
		if out == nil {
			out = []string{}
		}
		slices.Sort(out)
		return out
	}
	return v.Interface()
}
