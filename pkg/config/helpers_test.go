package config

import "gopkg.in/yaml.v3"

func yamlUnmarshal(s string, target any) error {
	return yaml.Unmarshal([]byte(s), target)
}
