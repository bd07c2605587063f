package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	envFileFlag   = "--env-file"
	envFileEnvVar = "ENV_FILE"
)

// LoadEnvFile loads environment variables from a file before cobra parses the
// command line. Priority: --env-file flag > ENV_FILE environment variable >
// .env in the working directory. A missing default .env is not an error.
func LoadEnvFile() error {
	if path := envFilePath(); path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("loading env file %s: %w", path, err)
		}
		return nil
	}

	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env file: %w", err)
	}
	return nil
}

// envFilePath picks the env file from the --env-file flag or the ENV_FILE
// variable. The flag is scanned by hand because cobra has not parsed anything
// at this point.
func envFilePath() string {
	path := os.Getenv(envFileEnvVar)
	for i, arg := range os.Args {
		if arg == envFileFlag && i+1 < len(os.Args) {
			path = os.Args[i+1]
			break
		}
		if strings.HasPrefix(arg, envFileFlag+"=") {
			path = strings.TrimPrefix(arg, envFileFlag+"=")
			break
		}
	}

	if path == "" || filepath.IsAbs(path) {
		return path
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}
