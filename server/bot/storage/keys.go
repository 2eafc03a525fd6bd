package storage

import "strings"

const (
	DefaultBaseFolder = "audio"
	AudioExt          = ".mp3"
)

// KeyScheme derives canonical object keys from (guild, filename) pairs.
// All functions are pure and total: malformed input degrades to a
// best-effort sanitized result, never an error.
type KeyScheme struct {
	base string
}

func NewKeyScheme(baseFolder string) KeyScheme {
	base := strings.Trim(strings.TrimSpace(baseFolder), "/")
	if base == "" {
		base = DefaultBaseFolder
	}
	return KeyScheme{base: base}
}

func (k KeyScheme) Base() string {
	return k.base
}

// SanitizeName strips path separators so a name can never escape its
// guild prefix, and guarantees the canonical audio extension.
func SanitizeName(raw string) string {
	name := strings.TrimSpace(raw)
	name = strings.ReplaceAll(name, "/", "")
	name = strings.ReplaceAll(name, "\\", "")
	if !strings.HasSuffix(strings.ToLower(name), AudioExt) {
		name += AudioExt
	}
	return name
}

func (k KeyScheme) TenantPrefix(guildID string) string {
	return k.base + "/" + strings.TrimSpace(guildID) + "/"
}

func (k KeyScheme) ObjectKey(guildID, rawName string) string {
	return k.TenantPrefix(guildID) + SanitizeName(rawName)
}

func (k KeyScheme) NameFromKey(guildID, key string) string {
	return strings.TrimPrefix(key, k.TenantPrefix(guildID))
}
