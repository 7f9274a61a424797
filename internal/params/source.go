package params

import (
	"bytes"

	"github.com/spf13/viper"
)

// Source is a hierarchical parameter lookup. Keys are dot-separated paths
// ("motor.dc_motor.nominal_current"). The group loader and Load operate only
// on this interface so intake stays independent of the configuration backend.
type Source interface {
	Has(key string) bool
	String(key string) (string, bool)
	Int(key string) (int, bool)
	Float(key string) (float64, bool)
	Bool(key string) (bool, bool)
	StringMap(key string) (map[string]string, bool)
}

type viperSource struct {
	v *viper.Viper
}

// NewYAMLSource parses a YAML document into a Source.
func NewYAMLSource(data []byte) (Source, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return &viperSource{v: v}, nil
}

func (s *viperSource) Has(key string) bool { return s.v.IsSet(key) }

func (s *viperSource) String(key string) (string, bool) {
	if !s.v.IsSet(key) {
		return "", false
	}
	return s.v.GetString(key), true
}

func (s *viperSource) Int(key string) (int, bool) {
	if !s.v.IsSet(key) {
		return 0, false
	}
	return s.v.GetInt(key), true
}

func (s *viperSource) Float(key string) (float64, bool) {
	if !s.v.IsSet(key) {
		return 0, false
	}
	return s.v.GetFloat64(key), true
}

func (s *viperSource) Bool(key string) (bool, bool) {
	if !s.v.IsSet(key) {
		return false, false
	}
	return s.v.GetBool(key), true
}

func (s *viperSource) StringMap(key string) (map[string]string, bool) {
	if !s.v.IsSet(key) {
		return nil, false
	}
	return s.v.GetStringMapString(key), true
}
