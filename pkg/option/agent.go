package option

// AgentOption options of the registry agent command.
type AgentOption struct {
	Registry *Registry

	HTTPAddress    string
	MetricsEnabled bool
	GinLogEnabled  bool
	GinLogSkipPath []string
	PprofEnabled   bool

	// Providers is a yaml file listing the urls the agent registers on behalf of local services.
	Providers string
	// Subscribe lists the queries the agent keeps subscribed, their notifications are logged.
	Subscribe []string
}

// DefaultAgentOption ...
func DefaultAgentOption() *AgentOption {
	return &AgentOption{
		Registry:       DefaultRegistryOption(),
		HTTPAddress:    ":8080",
		MetricsEnabled: true,
		GinLogEnabled:  true,
		GinLogSkipPath: []string{"/ready", "/live"},
		PprofEnabled:   true,
	}
}
