package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"malloy-publisher/internal/domain"
)

// PublisherConfigName is the publisher config file expected at the server root.
const PublisherConfigName = "publisher.config.json"

// envTokenPattern matches ${VAR} tokens eligible for substitution. Tokens
// with lowercase letters, leading digits, or surrounding whitespace are
// left literal.
var envTokenPattern = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)

// LoadPublisherConfig parses <serverRoot>/publisher.config.json and
// substitutes ${VAR} environment tokens in every string value of the tree.
// Object keys are never substituted. A referenced but unset variable is a
// fatal ConfigError. An absent file yields the default empty config.
func LoadPublisherConfig(serverRoot string) (*domain.PublisherConfig, error) {
	path := filepath.Join(serverRoot, PublisherConfigName)
	data, err := os.ReadFile(path) //nolint:gosec // path derives from server root
	if err != nil {
		if os.IsNotExist(err) {
			return &domain.PublisherConfig{FrozenConfig: false, Projects: []domain.ProjectConfig{}}, nil
		}
		return nil, domain.ErrConfig("read %s: %v", path, err)
	}

	var tree interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, domain.ErrConfig("parse %s: %v", path, err)
	}

	substituted, err := substituteEnvValues(tree)
	if err != nil {
		return nil, err
	}

	normalized, err := json.Marshal(substituted)
	if err != nil {
		return nil, domain.ErrConfig("serialize substituted config: %v", err)
	}
	var cfg domain.PublisherConfig
	if err := json.Unmarshal(normalized, &cfg); err != nil {
		return nil, domain.ErrConfig("parse %s: %v", path, err)
	}
	if cfg.Projects == nil {
		cfg.Projects = []domain.ProjectConfig{}
	}
	return &cfg, nil
}

// FrozenConfig reports whether the publisher config at serverRoot freezes
// all mutating operations. Load failures are treated as not frozen; the
// subsequent full load surfaces the real error.
func FrozenConfig(serverRoot string) bool {
	cfg, err := LoadPublisherConfig(serverRoot)
	if err != nil {
		return false
	}
	return cfg.FrozenConfig
}

// substituteEnvValues walks the parsed JSON tree, replacing ${VAR} tokens
// in string values only. Keys keep their literal spelling.
func substituteEnvValues(node interface{}) (interface{}, error) {
	switch v := node.(type) {
	case string:
		return substituteString(v)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, child := range v {
			sub, err := substituteEnvValues(child)
			if err != nil {
				return nil, err
			}
			out[key] = sub
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, child := range v {
			sub, err := substituteEnvValues(child)
			if err != nil {
				return nil, err
			}
			out[i] = sub
		}
		return out, nil
	default:
		// numbers, booleans, null
		return node, nil
	}
}

func substituteString(s string) (string, error) {
	var missing string
	result := envTokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		name := envTokenPattern.FindStringSubmatch(token)[1]
		value, ok := os.LookupEnv(name)
		if !ok {
			if missing == "" {
				missing = name
			}
			return token
		}
		return value // empty string is a valid substitution
	})
	if missing != "" {
		return "", domain.ErrConfig("Environment variable '${%s}' is not set in configuration file", missing)
	}
	return result, nil
}

// WritePublisherConfig serializes the config back to the server root. Used
// by catalog mutations that persist project/package changes.
func WritePublisherConfig(serverRoot string, cfg *domain.PublisherConfig) error {
	path := filepath.Join(serverRoot, PublisherConfigName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return domain.ErrConfig("serialize config: %v", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
