// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package engine

import (
	"github.com/juju/errors"
	"github.com/juju/schema"
)

// Action parameters arrive as a loose bag, typically decoded from
// JSON, so every field is coerced through a schema before the engine
// looks at it. All fields are optional here; whether a field is
// required depends on the action and is checked at confirm time.
var paramsChecker = schema.FieldMap(
	schema.Fields{
		"name":          schema.String(),
		"size":          schema.String(),
		"size_unit":     schema.String(),
		"fstype":        schema.String(),
		"mount_point":   schema.String(),
		"mount_options": schema.String(),
		"tags":          schema.List(schema.String()),
		"level":         schema.String(),
		"spares":        schema.List(schema.String()),
		"cache_mode":    schema.String(),
		"cache_set":     schema.ForceInt(),
	},
	schema.Defaults{
		"name":          schema.Omit,
		"size":          schema.Omit,
		"size_unit":     schema.Omit,
		"fstype":        schema.Omit,
		"mount_point":   schema.Omit,
		"mount_options": schema.Omit,
		"tags":          schema.Omit,
		"level":         schema.Omit,
		"spares":        schema.Omit,
		"cache_mode":    schema.Omit,
		"cache_set":     schema.Omit,
	},
)

func coerceParams(raw map[string]interface{}) (map[string]interface{}, error) {
	out, err := paramsChecker.Coerce(raw, nil)
	if err != nil {
		return nil, errors.NotValidf("action parameters: %v", err)
	}
	return out.(map[string]interface{}), nil
}

func paramString(p map[string]interface{}, key string) string {
	if v, ok := p[key]; ok {
		return v.(string)
	}
	return ""
}

func paramInt(p map[string]interface{}, key string) (int, bool) {
	if v, ok := p[key]; ok {
		return v.(int), true
	}
	return 0, false
}

func paramStringList(p map[string]interface{}, key string) []string {
	v, ok := p[key]
	if !ok {
		return nil
	}
	items := v.([]interface{})
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.(string)
	}
	return out
}
