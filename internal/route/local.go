package route

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/oh-yeah-zzy/Hermes/internal/logging"
)

// LocalFile is the schema of the local routes YAML file.
type LocalFile struct {
	Routes            []Definition    `yaml:"routes"`
	DefaultAuthConfig *AuthDefinition `yaml:"default_auth_config"`
}

// ParseLocalRoutes parses local route definitions from YAML. Each route's
// priority is raised by priorityBoost so local routes outrank remote ones
// declared at the same priority. Malformed entries are dropped with a
// warning; a completely unparsable file is an error.
func ParseLocalRoutes(data []byte, priorityBoost int) ([]*Route, error) {
	var file LocalFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse local routes: %w", err)
	}

	routes := make([]*Route, 0, len(file.Routes))
	for i, def := range file.Routes {
		if def.RouteID == "" {
			def.RouteID = fmt.Sprintf("local-%d", i+1)
		}
		if def.AuthConfig == nil {
			def.AuthConfig = file.DefaultAuthConfig
		}
		def.Priority += int64(priorityBoost)

		r, err := def.Compile(SourceLocal)
		if err != nil {
			logging.Warn("Dropping malformed local route",
				zap.String("route_id", def.RouteID),
				zap.Error(err),
			)
			continue
		}
		routes = append(routes, r)
	}

	return routes, nil
}

// LoadLocalRoutes reads and parses the local routes file. A missing file
// yields an empty route set, not an error.
func LoadLocalRoutes(path string, priorityBoost int) ([]*Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Debug("Local routes file not found", zap.String("path", path))
			return nil, nil
		}
		return nil, fmt.Errorf("read local routes: %w", err)
	}
	return ParseLocalRoutes(data, priorityBoost)
}
