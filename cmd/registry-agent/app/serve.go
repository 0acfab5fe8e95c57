/*
Copyright 2020 The symcn authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package app

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/symcn/dubbo-registry/pkg/agent"
	"github.com/symcn/dubbo-registry/pkg/option"
	"github.com/symcn/dubbo-registry/pkg/signals"
	"github.com/symcn/dubbo-registry/pkg/version"
)

// NewServeCmd ...
func NewServeCmd() *cobra.Command {
	opt := option.DefaultAgentOption()
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"agent"},
		Short:   "Register the local providers and serve the admin endpoints until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			PrintFlags(cmd.Flags())
			fmt.Fprintf(os.Stdout, "version: %v\n", version.GetVersion().String())

			stopCh := signals.SetupSignalHandler()
			a, err := agent.New(context.Background(), opt)
			if err != nil {
				return err
			}
			return a.Start(stopCh)
		},
	}
	AddRegistryFlags(cmd.Flags(), opt.Registry)
	AddAgentFlags(cmd.Flags(), opt)
	return cmd
}

// AddRegistryFlags binds the options of a registry.
func AddRegistryFlags(fs *pflag.FlagSet, opt *option.Registry) {
	fs.StringVar(&opt.Type, "type", opt.Type, "the registry connector: zk, nacos, redis or memory")
	fs.StringSliceVar(&opt.Address, "address", opt.Address, "the registry address pool, the first one is the primary")
	fs.StringVar(&opt.Root, "root", opt.Root, "the root path of the registrations (zk, redis)")
	fs.StringVar(&opt.Group, "group", opt.Group, "the nacos group")
	fs.StringVar(&opt.Namespace, "namespace", opt.Namespace, "the nacos namespace id")
	fs.StringVar(&opt.Username, "username", opt.Username, "the registry username")
	fs.StringVar(&opt.Password, "password", opt.Password, "the registry password")
	fs.DurationVar(&opt.Timeout, "timeout", opt.Timeout, "the timeout of a single registry request")
	fs.DurationVar(&opt.SessionTimeout, "session-timeout", opt.SessionTimeout, "the session timeout after which ephemeral registrations disappear")
	fs.BoolVar(&opt.Check, "check", opt.Check, "fail to start when the registry can not be reached")
	fs.DurationVar(&opt.RetryPeriod, "retry-period", opt.RetryPeriod, "the period of the failed operations retry")
	fs.DurationVar(&opt.MaxRetryPeriod, "max-retry-period", opt.MaxRetryPeriod, "the upper bound of the retry backoff")
	fs.IntVar(&opt.RetryWorkers, "retry-workers", opt.RetryWorkers, "the number of concurrent retries")
	fs.StringVar(&opt.File, "file", opt.File, "the local snapshot of the subscribed registrations, empty disables it")
	fs.DurationVar(&opt.FileSaveDelay, "file-save-delay", opt.FileSaveDelay, "the debounce delay of the snapshot writes")
}

// AddAgentFlags binds the options of the agent itself.
func AddAgentFlags(fs *pflag.FlagSet, opt *option.AgentOption) {
	fs.StringVar(&opt.HTTPAddress, "http-address", opt.HTTPAddress, "the listen address of the admin endpoints")
	fs.BoolVar(&opt.MetricsEnabled, "metrics", opt.MetricsEnabled, "serve /metrics")
	fs.BoolVar(&opt.GinLogEnabled, "gin-log", opt.GinLogEnabled, "log the admin requests")
	fs.StringSliceVar(&opt.GinLogSkipPath, "gin-log-skip-path", opt.GinLogSkipPath, "the paths whose requests are not logged")
	fs.BoolVar(&opt.PprofEnabled, "pprof", opt.PprofEnabled, "serve /debug/pprof")
	fs.StringVar(&opt.Providers, "providers", opt.Providers, "a yaml manifest of the providers to register and the queries to subscribe")
	fs.StringArrayVar(&opt.Subscribe, "subscribe", opt.Subscribe, "a query to keep subscribed, its notifications are logged")
}
