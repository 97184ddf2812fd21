package sync

import "fmt"

// ConfigError is a fatal precondition failure, surfaced to the user with
// remediation steps. Nothing has been mutated when it is returned.
type ConfigError struct {
	Reason string
	Remedy string
}

func (e *ConfigError) Error() string {
	if e.Remedy == "" {
		return e.Reason
	}
	return e.Reason + "\n\n" + e.Remedy
}

func errSyncDBMissing() *ConfigError {
	return &ConfigError{
		Reason: "sync database not found or empty, please initialize the database first",
		Remedy: "Supported initialization modes are:\n" +
			"  --init=keep-remote  remove all local objects and import remote objects\n" +
			"  --init=keep-local   remove all remote objects and push local objects\n" +
			"  --init=two-way      copy local objects to the CalDAV server and vice versa",
	}
}

func errIncompatibleBinary(version int) *ConfigError {
	return &ConfigError{
		Reason: fmt.Sprintf("incompatible calcurse binary detected (version ordinal %d)", version),
		Remedy: "Version >=4.0.0 is required to synchronize with CalDAV servers.",
	}
}
