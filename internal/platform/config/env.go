package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"
)

// envSource layers dotenv values under the process environment under an explicit map.
type envSource struct {
	layers []map[string]string
}

func newEnvSource(options loaderOptions) (envSource, error) {
	dotenv, err := readDotEnv(options.envFile)
	if err != nil {
		return envSource{}, err
	}
	src := envSource{layers: []map[string]string{dotenv}}
	if options.useSystemEnv {
		src.layers = append(src.layers, systemEnv())
	}
	src.layers = append(src.layers, options.envMap)
	return src, nil
}

func (s envSource) lookup(key string) (string, bool) {
	for i := len(s.layers) - 1; i >= 0; i-- {
		if value, ok := s.layers[i][key]; ok {
			return value, true
		}
	}
	return "", false
}

func (s envSource) merged() map[string]string {
	out := make(map[string]string)
	for _, layer := range s.layers {
		maps.Copy(out, layer)
	}
	return out
}

func (s envSource) str(key, fallback string) string {
	if value, ok := s.lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func (s envSource) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(s.str(key, "")); err == nil {
		return d
	}
	return fallback
}

func (s envSource) integer(key string, fallback int) int {
	if n, err := strconv.Atoi(s.str(key, "")); err == nil {
		return n
	}
	return fallback
}

func (s envSource) int64(key string, fallback int64) int64 {
	if n, err := strconv.ParseInt(s.str(key, ""), 10, 64); err == nil {
		return n
	}
	return fallback
}

func (s envSource) boolean(key string, fallback bool) bool {
	switch strings.ToLower(s.str(key, "")) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

func (s envSource) list(key string) []string {
	out := []string{}
	for _, part := range strings.Split(s.str(key, ""), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// keyValues parses "a=x,b=y" with lower-cased keys.
func (s envSource) keyValues(key string) map[string]string {
	out := make(map[string]string)
	for _, entry := range s.list(key) {
		name, value, ok := strings.Cut(entry, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if ok && name != "" && value != "" {
			out[name] = value
		}
	}
	return out
}

func systemEnv() map[string]string {
	out := make(map[string]string)
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if key = strings.TrimSpace(key); ok && key != "" {
			out[key] = value
		}
	}
	return out
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !isSecretReference(trimmed) {
		return value, nil
	}
	ref := normalizeSecretReference(trimmed)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func isSecretReference(value string) bool {
	return strings.HasPrefix(value, "secret://") || strings.HasPrefix(value, "sm://")
}

func normalizeSecretReference(value string) string {
	if rest, ok := strings.CutPrefix(value, "sm://"); ok {
		return "secret://" + rest
	}
	return value
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{})
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
