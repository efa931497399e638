package version

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/ryabkov82/target-notion/internal/config"
)

// Name is the executable name reported by --version and /version
const Name = "target-notion"

var (
	// Version is the semantic version of the application
	Version = "dev"
	// GitCommit is the git commit hash
	GitCommit = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// Info returns version information as a map
func Info() map[string]string {
	return map[string]string{
		"name":      Name,
		"version":   Version,
		"gitCommit": GitCommit,
		"buildTime": BuildTime,
		"goVersion": runtime.Version(),
	}
}

// String returns a formatted version string
func String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", Name, Version, GitCommit, BuildTime)
}

// Capabilities lists the Singer target features this build supports
var Capabilities = []string{"about"}

// About is the --about document
type About struct {
	Name         string           `json:"name" yaml:"name"`
	Version      string           `json:"version" yaml:"version"`
	Description  string           `json:"description" yaml:"description"`
	Capabilities []string         `json:"capabilities" yaml:"capabilities"`
	Settings     []config.Setting `json:"settings" yaml:"settings"`
}

// GetAbout builds the --about document
func GetAbout() About {
	return About{
		Name:         Name,
		Version:      Version,
		Description:  "Singer target that writes records as pages of a Notion database",
		Capabilities: Capabilities,
		Settings:     config.Settings,
	}
}

// RenderAbout writes the --about document in format "json" (default) or "yaml"
func RenderAbout(w io.Writer, format string) error {
	about := GetAbout()

	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(about)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(about); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q (want json or yaml)", format)
	}
}
