package config

// Settings live in one per-user store named after the app: the
// com.voxbar.app UserDefaults domain on macOS and
// $XDG_CONFIG_HOME/voxbar/config.json elsewhere. Keys are the dotted names
// from specs, e.g. "improve.cooldown". Secrets are kept in the Keychain.
const (
	settingsDomain = "com.voxbar.app"
	appDir         = "voxbar"
)

// ConfigBackend is the platform settings store. ok is false for a key that
// was never written, so the built-in default or an env override applies.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	// Delete succeeds for keys that are already absent.
	Delete(key string) error
}
