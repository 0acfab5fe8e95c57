package option

// RootOption ...
type RootOption struct {
	// ConfigFile is a yaml file whose keys mirror the long flag names.
	ConfigFile string
	// EnvPrefix of the environment variables which override the config file.
	EnvPrefix string
}

// DefaultRootOption ...
func DefaultRootOption() *RootOption {
	return &RootOption{
		EnvPrefix: "DUBBO_REGISTRY",
	}
}
