package logging

import "go.uber.org/zap/zapcore"

// sortedMap encodes a map with stable key order.
type sortedMap struct {
	keys   []string
	values map[string]any
}

func (m sortedMap) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for _, k := range m.keys {
		if err := enc.AddReflected(k, m.values[k]); err != nil {
			return err
		}
	}
	return nil
}
