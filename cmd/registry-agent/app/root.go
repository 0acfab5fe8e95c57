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

// Package app contains all the commands of the registry agent.
package app

import (
	"flag"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/symcn/dubbo-registry/pkg/option"
	"k8s.io/klog"
)

// GetRootCmd returns the root of the cobra command-tree.
func GetRootCmd(args []string) *cobra.Command {
	opt := option.DefaultRootOption()
	rootCmd := &cobra.Command{
		Use:               "registry-agent",
		Short:             "Registers local services in a dubbo registry and keeps subscriptions on their dependencies",
		SilenceUsage:      true,
		DisableAutoGenTag: true,
		Run:               runHelp,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd.Flags(), opt)
		},
	}

	rootCmd.SetArgs(args)
	rootCmd.PersistentFlags().StringVarP(&opt.ConfigFile, "config", "c", opt.ConfigFile, "yaml config file whose keys are the long flag names")
	rootCmd.PersistentFlags().StringVar(&opt.EnvPrefix, "env-prefix", opt.EnvPrefix, "prefix of the environment variables overriding the config file")

	// Make sure that klog logging variables are initialized so that we can
	// update them from this file.
	klog.InitFlags(nil)
	flag.Set("logtostderr", "true")

	AddFlags(rootCmd)
	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewCmdVersion())
	return rootCmd
}

// AddFlags ...
func AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
}

// loadConfig fills the flags which were not set on the command line from the environment, then
// from the config file.
func loadConfig(flags *pflag.FlagSet, opt *option.RootOption) error {
	v := viper.New()
	if opt.EnvPrefix != "" {
		v.SetEnvPrefix(opt.EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
		v.AutomaticEnv()
	}
	if opt.ConfigFile != "" {
		v.SetConfigFile(opt.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "read config file %s", opt.ConfigFile)
		}
		klog.Infof("Using config file %s", v.ConfigFileUsed())
	}

	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed || f.Name == "config" || !v.IsSet(f.Name) {
			return
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			err = sv.Replace(v.GetStringSlice(f.Name))
		} else {
			err = f.Value.Set(v.GetString(f.Name))
		}
		err = errors.Wrapf(err, "apply config %s", f.Name)
	})
	return err
}

// PrintFlags logs the flags in the flagset
func PrintFlags(flags *pflag.FlagSet) {
	flags.VisitAll(func(flag *pflag.Flag) {
		if flag.Name == "password" {
			klog.Infof("FLAG: --%s=<redacted>", flag.Name)
			return
		}
		klog.Infof("FLAG: --%s=%q", flag.Name, flag.Value)
	})
}

func runHelp(cmd *cobra.Command, args []string) {
	cmd.Help()
}
