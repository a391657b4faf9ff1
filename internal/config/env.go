package config

import (
	"errors"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} with the environment value. Unset variables
// expand to "". A bare $VAR is left alone so passwords with '$' survive.
func expandEnv(b []byte) []byte {
	return envRef.ReplaceAllFunc(b, func(m []byte) []byte {
		name := string(envRef.FindSubmatch(m)[1])
		return []byte(escapeJSONString(os.Getenv(name)))
	})
}

// escapeJSONString keeps quotes and backslashes in env values from breaking
// the surrounding JSON string. YAML double-quoted scalars use the same escapes.
func escapeJSONString(s string) string {
	if !strings.ContainsAny(s, "\"\\") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return r.Replace(s)
}

// LoadEnvFiles loads KEY=VALUE files into the process environment.
// Existing variables win. Missing files are skipped.
func LoadEnvFiles(paths ...string) ([]string, error) {
	var loaded []string
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return loaded, err
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}
