package store

import (
	"bytes"
	"encoding/base64"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geolab/internal/layer"
	"github.com/sells-group/geolab/internal/vector"
)

// encodeProps serialises feature attributes as JSON. Geometry-typed columns
// are written as WKB, which encoding/json renders in base64.
func encodeProps(fields []layer.Field, f *layer.Feature) ([]byte, error) {
	props := make(map[string]any, len(fields))
	for _, fd := range fields {
		v := f.Get(fd.Name)
		if g, ok := v.(geom.T); ok && fd.Type == layer.Geometry {
			data, err := vector.EncodeWKB(g)
			if err != nil {
				return nil, eris.Wrapf(err, "store: column %s", fd.Name)
			}
			v = data
		}
		props[fd.Name] = v
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal properties")
	}
	return data, nil
}

// decodeProps restores attribute values to their field types.
func decodeProps(fields []layer.Field, data []byte) (map[string]any, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal properties")
	}

	props := make(map[string]any, len(fields))
	for _, fd := range fields {
		v, err := decodeValue(fd, raw[fd.Name])
		if err != nil {
			return nil, err
		}
		props[fd.Name] = v
	}
	return props, nil
}

func decodeValue(fd layer.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch fd.Type {
	case layer.Int:
		if n, ok := v.(json.Number); ok {
			i, err := n.Int64()
			if err != nil {
				return nil, eris.Wrapf(err, "store: column %s", fd.Name)
			}
			return i, nil
		}
	case layer.Float:
		if n, ok := v.(json.Number); ok {
			f, err := n.Float64()
			if err != nil {
				return nil, eris.Wrapf(err, "store: column %s", fd.Name)
			}
			return f, nil
		}
	case layer.Geometry:
		s, ok := v.(string)
		if !ok {
			return nil, eris.Errorf("store: column %s: geometry is %T", fd.Name, v)
		}
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, eris.Wrapf(err, "store: column %s", fd.Name)
		}
		return vector.DecodeWKB(data)
	}
	if n, ok := v.(json.Number); ok {
		return n.String(), nil
	}
	return v, nil
}

func encodeFields(fields []layer.Field) ([]byte, error) {
	data, err := json.Marshal(fields)
	return data, eris.Wrap(err, "store: marshal fields")
}

func decodeFields(data []byte) ([]layer.Field, error) {
	var fields []layer.Field
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal fields")
	}
	return fields, nil
}
