package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// loadEnvFiles loads environment variables from .env and .env.local next to the
// configuration file. Existing process environment variables are never overwritten.
func loadEnvFiles(dir string) error {
	var files []string
	for _, name := range []string{".env", ".env.local"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			files = append(files, p)
		}
	}
	if len(files) == 0 {
		return nil
	}
	return godotenv.Load(files...)
}
