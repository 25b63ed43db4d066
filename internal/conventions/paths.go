package conventions

import "path/filepath"

const (
	// DefaultDataDir is the default agentbox data directory name (relative to home).
	DefaultDataDir = ".agentbox"
	// DBFile is the record store database filename.
	DBFile = "agentbox.db"
	// ConfigFile is the optional settings filename.
	ConfigFile = "config.yaml"

	// EnvPrefix is the prefix of the agentbox environment variables.
	EnvPrefix = "AGENTBOX"
	// AgeIdentityEnv is the env var holding the age identity that seals connector credentials.
	AgeIdentityEnv = "AGENTBOX_AGE_IDENTITY"
	// GitTokenEnv is the env var with the source control token used to clone and push.
	GitTokenEnv = "GITHUB_TOKEN"

	// UserIDHeader is the HTTP header carrying the caller identity.
	UserIDHeader = "X-User-ID"

	// BranchPrefix is the prefix of the working branches created for tasks.
	BranchPrefix = "agentbox"
)

// DBPath returns the record store path inside a data directory.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFile)
}

// ConfigPath returns the settings file path inside a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, ConfigFile)
}
